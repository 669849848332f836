package compression

import (
	"fmt"
	"io"
)

const (
	MinLevel     = 1
	MaxLevel     = 9
	DefaultLevel = 6
)

// Compressor wraps a dump stream in a compression format.
type Compressor interface {
	Uncompress(in io.Reader) (io.Reader, error)
	Compress(out io.Writer) (io.WriteCloser, error)
	// Extension is appended to ".sql" in object and staged file names; empty means none.
	Extension() string
}

// GetCompressor returns the named compressor at the given level.
func GetCompressor(name string, level int) (Compressor, error) {
	if name != "none" && (level < MinLevel || level > MaxLevel) {
		return nil, fmt.Errorf("invalid compression level %d, must be between %d and %d", level, MinLevel, MaxLevel)
	}
	switch name {
	case "gzip", "":
		return &GzipCompressor{Level: level}, nil
	case "bzip2":
		return &Bzip2Compressor{Level: level}, nil
	case "none":
		return &NoCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression format: %s", name)
	}
}
