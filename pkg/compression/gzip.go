package compression

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

var _ Compressor = &GzipCompressor{}

type GzipCompressor struct {
	Level int
}

func (g *GzipCompressor) Uncompress(in io.Reader) (io.Reader, error) {
	return gzip.NewReader(in)
}

func (g *GzipCompressor) Compress(out io.Writer) (io.WriteCloser, error) {
	level := g.Level
	if level == 0 {
		level = DefaultLevel
	}
	return gzip.NewWriterLevel(out, level)
}

func (g *GzipCompressor) Extension() string {
	return "gz"
}
