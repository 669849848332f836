package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DefaultTimestampFormat is the timestamp layout used in every log line.
const DefaultTimestampFormat = "2006-01-02 15:04:05"

var _ log.Formatter = &LineFormatter{}

// LineFormatter renders one entry per line as
//
//	[2024-01-02 03:04:05] [INFO] message key=value ...
//
// Fields are appended in sorted order so the output is stable.
type LineFormatter struct {
	TimestampFormat string
}

// Format implements logrus.Formatter.
func (f *LineFormatter) Format(entry *log.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}
	layout := f.TimestampFormat
	if layout == "" {
		layout = DefaultTimestampFormat
	}
	fmt.Fprintf(b, "[%s] [%s] %s", entry.Time.Format(layout), levelName(entry.Level), strings.TrimRight(entry.Message, "\n"))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fieldValue(entry.Data[k]))
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelName(level log.Level) string {
	if level == log.WarnLevel {
		return "WARN"
	}
	return strings.ToUpper(level.String())
}

func fieldValue(v interface{}) string {
	s := fmt.Sprint(v)
	if strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// OpenFile opens path for appending, creating it and its directory if needed.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}

// Attach sends logger output to w in addition to standard error and switches it
// to the line format.
func Attach(logger *log.Logger, w io.Writer) {
	logger.SetFormatter(&LineFormatter{})
	if w == nil {
		logger.SetOutput(os.Stderr)
		return
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, w))
}
