package core

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/databacker/mysql-s3-backup/pkg/compression"
	"github.com/databacker/mysql-s3-backup/pkg/config"
	"github.com/databacker/mysql-s3-backup/pkg/notify"
	"github.com/databacker/mysql-s3-backup/pkg/storage"
)

// TimestampFormat is the layout of the run timestamp embedded in every
// object key and staged file name.
const TimestampFormat = "20060102_150405"

// SchemaLister returns the user databases on the server.
type SchemaLister func(ctx context.Context) ([]string, error)

// Dumper writes the logical dump of one database to out.
type Dumper interface {
	Dump(ctx context.Context, schema string, out io.Writer) error
}

type BackupOptions struct {
	// Databases is "ALL" or a whitespace separated list of names.
	Databases  string
	Lister     SchemaLister
	Dumper     Dumper
	Compressor compression.Compressor
	Target     storage.Storage
	Mode       config.UploadMode
	StagingDir string
	// RetentionDays applies to staged files in local mode; 0 keeps them forever.
	RetentionDays int
	// StageTimeout bounds the dump, compress and transfer of a single database; 0 means no bound.
	StageTimeout      time.Duration
	LockFile          string
	Notifier          notify.Notifier
	NotificationEmail string
	Hostname          string
	LogFile           string
	MetricsFile       string
	Run               uuid.UUID
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o BackupOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
