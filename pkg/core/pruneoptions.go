package core

import (
	"time"

	"github.com/google/uuid"
)

type PruneOptions struct {
	// StagingDir holds the files staged by local mode runs.
	StagingDir    string
	RetentionDays int
	LockFile      string
	Run           uuid.UUID
	Now           time.Time
}
