package s3

import (
	"io"
)

// byteCounter counts what the uploader has read from a dump stream, so a
// failed upload still reports how far it got.
type byteCounter struct {
	source io.Reader
	n      int64
}

func (b *byteCounter) Read(p []byte) (int, error) {
	n, err := b.source.Read(p)
	b.n += int64(n)
	return n, err
}
