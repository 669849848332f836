package core

import (
	"time"

	"github.com/databacker/mysql-s3-backup/pkg/config"
)

// BackupResults summarises one backup run.
type BackupResults struct {
	Run       string
	Mode      config.UploadMode
	Start     time.Time
	End       time.Time
	Timestamp string
	Succeeded int
	Failed    int
	Outcomes  []UnitOutcome
	// Pruned is the number of expired staged files removed in local mode.
	Pruned int
}

// FailedUnits returns the outcomes of the databases that failed, in run order.
func (r BackupResults) FailedUnits() []UnitOutcome {
	var failed []UnitOutcome
	for _, o := range r.Outcomes {
		if !o.Success {
			failed = append(failed, o)
		}
	}
	return failed
}

func (r *BackupResults) record(o UnitOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.Success {
		r.Succeeded++
	} else {
		r.Failed++
	}
}
