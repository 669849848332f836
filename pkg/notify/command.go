package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

var sendmailPaths = []string{"/usr/sbin/sendmail", "/usr/lib/sendmail"}

// ErrNoSendmail is returned when no local mail command could be found.
var ErrNoSendmail = errors.New("no sendmail command found")

// FindSendmail locates a sendmail compatible command.
func FindSendmail() (string, error) {
	if p, err := exec.LookPath("sendmail"); err == nil {
		return p, nil
	}
	for _, p := range sendmailPaths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", ErrNoSendmail
}

// Command hands messages to a sendmail compatible program, which reads the
// recipients from the message headers.
type Command struct {
	Path string
	From string
}

func (c *Command) Notify(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("message has no recipients")
	}
	if msg.From == "" {
		msg.From = c.From
	}
	cmd := exec.CommandContext(ctx, c.Path, "-t", "-i")
	cmd.Stdin = bytes.NewReader(msg.Bytes(time.Now()))
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if s := strings.TrimSpace(out.String()); s != "" {
			return fmt.Errorf("%s failed: %w: %s", c.Path, err, s)
		}
		return fmt.Errorf("%s failed: %w", c.Path, err)
	}
	return nil
}
