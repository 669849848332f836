package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultMysqldumpPath is used when no explicit binary is configured.
const DefaultMysqldumpPath = "mysqldump"

// Mysqldump runs the external mysqldump tool and streams its output.
type Mysqldump struct {
	Path string
	Conn Connection
	// DefaultsFile is passed as --defaults-extra-file and is expected to carry
	// the [client] user and password.
	DefaultsFile string
}

// Args returns the mysqldump argument list for one schema.
func (m Mysqldump) Args(schema string) []string {
	var args []string
	// mysqldump requires --defaults-extra-file to come first
	if m.DefaultsFile != "" {
		args = append(args, "--defaults-extra-file="+m.DefaultsFile)
	}
	if m.Conn.IsSocket() {
		args = append(args, "--socket="+m.Conn.Host)
	} else {
		args = append(args, "--host="+m.Conn.Host)
		if m.Conn.Port != 0 {
			args = append(args, "--port="+strconv.Itoa(m.Conn.Port))
		}
	}
	if m.DefaultsFile == "" && m.Conn.User != "" {
		args = append(args, "--user="+m.Conn.User)
	}
	return append(args,
		"--single-transaction",
		"--skip-lock-tables",
		"--routines",
		"--triggers",
		"--events",
		schema,
	)
}

// Dump writes the logical dump of schema to out. The process is killed if ctx
// is cancelled or out stops accepting data.
func (m Mysqldump) Dump(ctx context.Context, schema string, out io.Writer) error {
	bin := m.Path
	if bin == "" {
		bin = DefaultMysqldumpPath
	}
	cmd := exec.CommandContext(ctx, bin, m.Args(schema)...)
	if m.DefaultsFile == "" && m.Conn.Pass != "" {
		cmd.Env = append(os.Environ(), "MYSQL_PWD="+m.Conn.Pass)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe for mysqldump: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start mysqldump: %w", err)
	}

	_, copyErr := io.Copy(out, stdout)
	if copyErr != nil {
		// nobody is reading anymore, so do not wait for mysqldump to finish on its own
		_ = cmd.Process.Kill()
		// drain so Wait does not block on a full pipe
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	switch {
	case copyErr != nil:
		return fmt.Errorf("failed to write mysqldump output for %s: %w", schema, copyErr)
	case ctx.Err() != nil:
		return fmt.Errorf("mysqldump of %s interrupted: %w", schema, ctx.Err())
	case waitErr != nil:
		var exitErr *exec.ExitError
		msg := strings.TrimSpace(stderr.String())
		if errors.As(waitErr, &exitErr) && msg != "" {
			return fmt.Errorf("mysqldump of %s failed: %w: %s", schema, waitErr, msg)
		}
		return fmt.Errorf("mysqldump of %s failed: %w", schema, waitErr)
	}
	return nil
}
