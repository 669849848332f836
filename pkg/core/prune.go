package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/databacker/mysql-s3-backup/pkg/lock"
	"github.com/databacker/mysql-s3-backup/pkg/util"
)

// stagedFileRE matches the names local mode gives staged files,
// <database>_<YYYYMMDD>_<HHMMSS>.sql[.<ext>]
var stagedFileRE = regexp.MustCompile(`^.+_\d{8}_\d{6}\.sql(\.\w+)?$`)

// Prune removes expired staged files outside of a backup run. It takes the
// run lock so it never races a local mode run.
func (e *Executor) Prune(ctx context.Context, opts PruneOptions) (pruned int, err error) {
	tracer := util.GetTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "prune")
	defer func() { util.EndSpan(span, err, fmt.Sprintf("pruned %d files", pruned)) }()

	logger := e.runLogger(opts.Run.String())
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	l, err := lock.Acquire(opts.LockFile)
	if err != nil {
		logger.Errorf("cannot prune: %v", err)
		return 0, err
	}
	defer func() {
		if rerr := l.Release(); rerr != nil {
			logger.Warnf("failed to release lock: %v", rerr)
		}
	}()

	logger.Info("beginning prune")
	return pruneStaged(ctx, logger, opts.StagingDir, opts.RetentionDays, now)
}

// pruneStaged removes staged files in dir whose modification time is strictly
// older than now minus retentionDays. A retention of 0 or less keeps
// everything. Files that are not staged dumps are never touched.
func pruneStaged(ctx context.Context, logger *log.Entry, dir string, retentionDays int, now time.Time) (int, error) {
	_, span := util.GetTracerFromContext(ctx).Start(ctx, "pruneStaged")
	if retentionDays <= 0 {
		logger.Debug("retention disabled, keeping all staged files")
		util.EndSpan(span, nil, "retention disabled")
		return 0, nil
	}
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debugf("staging directory %s does not exist, nothing to prune", dir)
			util.EndSpan(span, nil, "no staging directory")
			return 0, nil
		}
		err = fmt.Errorf("failed to read staging directory %s: %w", dir, err)
		util.EndSpan(span, err, "")
		return 0, err
	}

	var (
		pruned             int
		candidates, ignore []string
		errs               []error
	)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !stagedFileRE.MatchString(name) {
			ignore = append(ignore, name)
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed underneath us
			continue
		}
		if !info.ModTime().Before(cutoff) {
			logger.Debugf("keeping staged file %s", name)
			continue
		}
		candidates = append(candidates, name)
	}
	span.SetAttributes(attribute.StringSlice("candidates", candidates), attribute.StringSlice("ignored", ignore))

	for _, name := range candidates {
		p := filepath.Join(dir, name)
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", p, err))
			continue
		}
		logger.Debugf("removed expired staged file %s", p)
		pruned++
	}
	err = errors.Join(errs...)
	util.EndSpan(span, err, fmt.Sprintf("pruned %d files", pruned))
	return pruned, err
}
