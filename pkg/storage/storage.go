package storage

import (
	"context"
	"io"

	log "github.com/sirupsen/logrus"
)

// Storage is a destination for compressed dumps. Targets are keys relative to
// the storage url.
type Storage interface {
	// Push stores everything read from source under target. If reading source
	// fails, the object must not become visible at target.
	Push(ctx context.Context, target string, source io.Reader, logger *log.Entry) (int64, error)
	// PushFile stores the local file source under target.
	PushFile(ctx context.Context, target, source string, logger *log.Entry) (int64, error)
	Protocol() string
	URL() string
}
