package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/databacker/mysql-s3-backup/pkg/config"
	"github.com/databacker/mysql-s3-backup/pkg/lock"
	"github.com/databacker/mysql-s3-backup/pkg/metrics"
	"github.com/databacker/mysql-s3-backup/pkg/notify"
	"github.com/databacker/mysql-s3-backup/pkg/util"
)

// ErrUnitsFailed is returned by Backup when at least one database failed.
var ErrUnitsFailed = errors.New("backup finished with failures")

// notifyTimeout bounds delivery of the failure notification, which runs while
// the lock is still held.
var notifyTimeout = 2 * time.Minute

// Backup runs one backup: lock, resolve the databases, back each up in turn,
// then clean up and report. A failing database never stops the others; the
// returned error wraps ErrUnitsFailed when any did fail. Lock contention and
// resolution problems are returned before any database is touched.
func (e *Executor) Backup(ctx context.Context, opts BackupOptions) (results BackupResults, err error) {
	tracer := util.GetTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "backup")
	defer func() { util.EndSpan(span, err, "backup complete") }()

	results.Run = opts.Run.String()
	results.Mode = opts.Mode
	logger := e.runLogger(results.Run)

	l, err := lock.Acquire(opts.LockFile)
	if err != nil {
		logger.Errorf("cannot start backup: %v", err)
		return results, err
	}
	defer func() {
		if rerr := l.Release(); rerr != nil {
			logger.Warnf("failed to release lock %s: %v", l.Path(), rerr)
		}
	}()

	results.Start = opts.now()
	results.Timestamp = results.Start.Format(TimestampFormat)
	span.SetAttributes(attribute.String("timestamp", results.Timestamp), attribute.String("mode", string(opts.Mode)))
	logger.Infof("starting backup %s in %s mode to %s", results.Timestamp, opts.Mode, opts.Target.URL())

	units, err := ResolveTargets(ctx, opts.Databases, opts.Lister)
	if err != nil {
		logger.Errorf("cannot determine databases to back up: %v", err)
		return results, err
	}
	logger.Infof("backing up %d databases: %s", len(units), strings.Join(units, " "))

	for _, unit := range units {
		outcome := e.runUnit(ctx, logger, unit, results.Timestamp, opts)
		results.record(outcome)
		ulog := logger.WithField("database", unit)
		if outcome.Success {
			ulog.Infof("backed up to %s in %s", outcome.Key, outcome.Duration.Round(time.Millisecond))
			continue
		}
		ulog.Errorf("backup failed at %s after %s: %v", outcome.Stage, outcome.Duration.Round(time.Millisecond), outcome.Err)
	}

	e.finalize(ctx, logger, &results, opts)

	if results.Failed > 0 {
		logger.Errorf("backup %s finished: %d succeeded, %d failed", results.Timestamp, results.Succeeded, results.Failed)
		return results, fmt.Errorf("%w: %d of %d databases failed", ErrUnitsFailed, results.Failed, len(units))
	}
	logger.Infof("backup %s finished: %d succeeded", results.Timestamp, results.Succeeded)
	return results, nil
}

// finalize does the end of run housekeeping. Nothing here changes the outcome
// of the run; problems are logged as warnings.
func (e *Executor) finalize(ctx context.Context, logger *log.Entry, results *BackupResults, opts BackupOptions) {
	if opts.Mode == config.UploadLocal {
		pruned, err := pruneStaged(ctx, logger, opts.StagingDir, opts.RetentionDays, opts.now())
		results.Pruned = pruned
		if err != nil {
			logger.Warnf("staged file cleanup incomplete: %v", err)
		} else if pruned > 0 {
			logger.Infof("removed %d staged files older than %d days", pruned, opts.RetentionDays)
		}
	}

	results.End = opts.now()

	if opts.MetricsFile != "" {
		if err := metrics.WriteTextfile(opts.MetricsFile, metrics.Run{
			Mode:      string(results.Mode),
			Start:     results.Start,
			End:       results.End,
			Succeeded: results.Succeeded,
			Failed:    results.Failed,
			Pruned:    results.Pruned,
		}); err != nil {
			logger.Warnf("failed to write metrics: %v", err)
		}
	}

	if results.Failed == 0 || opts.NotificationEmail == "" {
		return
	}
	if opts.Notifier == nil {
		logger.Warnf("no mail transport available, not notifying %s", opts.NotificationEmail)
		return
	}
	msg := failureMessage(*results, opts)
	// a cancelled run still reports its failures
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := opts.Notifier.Notify(nctx, msg); err != nil {
		logger.Warnf("failed to send notification to %s: %v", opts.NotificationEmail, err)
		return
	}
	logger.Infof("sent failure notification to %s", opts.NotificationEmail)
}

// failureMessage builds the mail sent when databases failed.
func failureMessage(results BackupResults, opts BackupOptions) notify.Message {
	host := opts.Hostname
	if host == "" {
		host = "unknown host"
	}
	total := results.Succeeded + results.Failed
	var b strings.Builder
	fmt.Fprintf(&b, "MySQL backup on %s at %s finished with failures.\n\n", host, results.Timestamp)
	fmt.Fprintf(&b, "Succeeded: %d\n", results.Succeeded)
	fmt.Fprintf(&b, "Failed:    %d\n\n", results.Failed)
	b.WriteString("Failed databases:\n")
	for _, o := range results.FailedUnits() {
		fmt.Fprintf(&b, "  %s (%s): %v\n", o.Unit, o.Stage, o.Err)
	}
	if opts.LogFile != "" {
		fmt.Fprintf(&b, "\nDetails are in %s on %s (run %s).\n", opts.LogFile, host, results.Run)
	}
	return notify.Message{
		To:      notify.Recipients(opts.NotificationEmail),
		Subject: fmt.Sprintf("[mysql-s3-backup] %s: %d of %d databases failed", host, results.Failed, total),
		Body:    b.String(),
	}
}
