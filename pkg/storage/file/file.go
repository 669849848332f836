package file

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

type File struct {
	url  url.URL
	path string
}

func New(u url.URL) *File {
	return &File{u, u.Path}
}

// Push writes source to a temporary file beside the target and renames it into
// place once fully written, so a failed source leaves nothing behind.
func (f *File) Push(ctx context.Context, target string, source io.Reader, logger *log.Entry) (int64, error) {
	dst := filepath.Join(f.path, target)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".partial-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	n, err := io.Copy(tmp, &contextReader{ctx: ctx, r: source})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("failed to move %s into place: %w", dst, err)
	}
	logger.Debugf("wrote %d bytes to %s", n, dst)
	return n, nil
}

func (f *File) PushFile(ctx context.Context, target, source string, logger *log.Entry) (int64, error) {
	src, err := os.Open(source)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	return f.Push(ctx, target, src, logger)
}

func (f *File) Protocol() string {
	return "file"
}

func (f *File) URL() string {
	return f.url.String()
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
