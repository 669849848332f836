package compression

import (
	"io"

	"github.com/dsnet/compress/bzip2"
)

var _ Compressor = &Bzip2Compressor{}

type Bzip2Compressor struct {
	Level int
}

func (b *Bzip2Compressor) Uncompress(in io.Reader) (io.Reader, error) {
	return bzip2.NewReader(in, nil)
}

func (b *Bzip2Compressor) Compress(out io.Writer) (io.WriteCloser, error) {
	level := b.Level
	if level == 0 {
		level = DefaultLevel
	}
	return bzip2.NewWriter(out, &bzip2.WriterConfig{Level: level})
}

func (b *Bzip2Compressor) Extension() string {
	return "bz2"
}
