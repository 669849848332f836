package notify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/databacker/mysql-s3-backup/pkg/config"
)

// Message is a plain text mail.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Notifier delivers a message to its recipients.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

// Recipients splits a comma or space separated address list.
func Recipients(list string) []string {
	return strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
}

// DefaultFrom is the sender used when none is configured.
func DefaultFrom() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return "mysql-s3-backup@" + host
}

// Bytes renders msg as an RFC 5322 message with CRLF line endings.
func (m Message) Bytes(date time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

// FromConfig picks the delivery method: SMTP when a host is configured, the
// local sendmail command otherwise.
func FromConfig(c config.SMTP) (Notifier, error) {
	from := c.From
	if from == "" {
		from = DefaultFrom()
	}
	if c.Host != "" {
		return &SMTP{
			Host:     c.Host,
			Port:     c.Port,
			Username: c.Username,
			Password: c.Password,
			From:     from,
		}, nil
	}
	path, err := FindSendmail()
	if err != nil {
		return nil, err
	}
	return &Command{Path: path, From: from}, nil
}
