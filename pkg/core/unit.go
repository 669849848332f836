package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/databacker/mysql-s3-backup/pkg/config"
	"github.com/databacker/mysql-s3-backup/pkg/util"
)

// Stage names a step of the per-database pipeline.
type Stage string

const (
	StageNone     Stage = "none"
	StageDump     Stage = "dump"
	StageCompress Stage = "compress"
	StageTransfer Stage = "transfer"
)

// StageResult is what one stage reported. Aborted is set when the stage only
// failed because a neighbouring stage gave up first.
type StageResult struct {
	Stage   Stage
	Err     error
	Aborted bool
}

// UnitOutcome is the result of backing up a single database.
type UnitOutcome struct {
	Unit    string
	Success bool
	// Stage is the first stage that failed on its own, or StageNone.
	Stage    Stage
	Stages   []StageResult
	Err      error
	Duration time.Duration
	// Key is the object key relative to the target.
	Key        string
	StagedFile string
	Size       int64
}

// backupName is the file name of a dump: <unit>_<timestamp>.sql[.<ext>].
func backupName(unit, timestamp, ext string) string {
	name := unit + "_" + timestamp + ".sql"
	if ext != "" {
		name += "." + ext
	}
	return name
}

// ObjectKey is where the dump of unit lands, relative to the target url.
func ObjectKey(unit, timestamp, ext string) string {
	return path.Join(unit, backupName(unit, timestamp, ext))
}

// attributeFailure picks the failing stage: the first in chain order that failed on
// its own, falling back to the first that failed at all.
func attributeFailure(stages []StageResult) (Stage, error) {
	for _, s := range stages {
		if s.Err != nil && !s.Aborted {
			return s.Stage, s.Err
		}
	}
	for _, s := range stages {
		if s.Err != nil {
			return s.Stage, s.Err
		}
	}
	return StageNone, nil
}

func (e *Executor) runUnit(ctx context.Context, logger *log.Entry, unit, timestamp string, opts BackupOptions) UnitOutcome {
	ctx, span := util.GetTracerFromContext(ctx).Start(ctx, "unit "+unit)
	span.SetAttributes(attribute.String("database", unit), attribute.String("mode", string(opts.Mode)))

	logger = logger.WithField("database", unit)
	ext := opts.Compressor.Extension()
	outcome := UnitOutcome{Unit: unit, Key: ObjectKey(unit, timestamp, ext)}

	if opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.StageTimeout)
		defer cancel()
	}

	start := time.Now()
	switch opts.Mode {
	case config.UploadLocal:
		outcome.StagedFile = filepath.Join(opts.StagingDir, backupName(unit, timestamp, ext))
		outcome.Stages, outcome.Size = e.localUnit(ctx, logger, unit, outcome.Key, outcome.StagedFile, opts)
	default:
		outcome.Stages, outcome.Size = e.streamUnit(ctx, logger, unit, outcome.Key, opts)
	}
	outcome.Duration = time.Since(start)
	outcome.Stage, outcome.Err = attributeFailure(outcome.Stages)
	outcome.Success = outcome.Err == nil

	span.SetAttributes(attribute.String("stage", string(outcome.Stage)), attribute.Int64("bytes", outcome.Size))
	util.EndSpan(span, outcome.Err, "database backed up")
	return outcome
}

// streamUnit runs dump, compress and transfer concurrently, joined by pipes,
// so nothing touches local disk.
func (e *Executor) streamUnit(ctx context.Context, logger *log.Entry, unit, key string, opts BackupOptions) ([]StageResult, int64) {
	dumpR, dumpW := io.Pipe()
	compR, compW := io.Pipe()
	results := []StageResult{{Stage: StageDump}, {Stage: StageCompress}, {Stage: StageTransfer}}
	var (
		wg   sync.WaitGroup
		sent int64
	)
	wg.Add(3)

	go func() {
		defer wg.Done()
		out := &watchedWriter{w: dumpW}
		err := opts.Dumper.Dump(ctx, unit, out)
		results[0].Err, results[0].Aborted = err, err != nil && out.aborted.Load()
		closeOutput(dumpW, err)
	}()

	go func() {
		defer wg.Done()
		in := &watchedReader{r: dumpR}
		out := &watchedWriter{w: compW}
		err := compress(opts.Compressor, out, in)
		results[1].Err, results[1].Aborted = err, err != nil && (in.aborted.Load() || out.aborted.Load())
		closeOutput(compW, err)
		closeInput(dumpR, err)
	}()

	go func() {
		defer wg.Done()
		in := &watchedReader{r: compR}
		n, err := opts.Target.Push(ctx, key, in, logger)
		sent = n
		results[2].Err, results[2].Aborted = err, err != nil && in.aborted.Load()
		closeInput(compR, err)
	}()

	wg.Wait()
	if results[2].Err == nil {
		logger.Debugf("uploaded %s to %s", humanize.Bytes(uint64(sent)), key)
	}
	return results, sent
}

// localUnit dumps and compresses into a staged file, then uploads it. The
// staged file is removed if it is incomplete, and kept otherwise so a failed
// upload can be retried by hand.
func (e *Executor) localUnit(ctx context.Context, logger *log.Entry, unit, key, staged string, opts BackupOptions) ([]StageResult, int64) {
	results := []StageResult{{Stage: StageDump}, {Stage: StageCompress}}

	// the staged file is the compress output, so failing to create it is a compress failure
	if err := os.MkdirAll(opts.StagingDir, 0o700); err != nil {
		return []StageResult{{Stage: StageCompress, Err: fmt.Errorf("failed to create staging directory %s: %w", opts.StagingDir, err)}}, 0
	}
	f, err := os.OpenFile(staged, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return []StageResult{{Stage: StageCompress, Err: fmt.Errorf("failed to create staged file %s: %w", staged, err)}}, 0
	}
	keep := false
	defer func() {
		if keep {
			return
		}
		if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("failed to remove incomplete staged file %s: %v", staged, err)
		}
	}()

	dumpR, dumpW := io.Pipe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		out := &watchedWriter{w: dumpW}
		err := opts.Dumper.Dump(ctx, unit, out)
		results[0].Err, results[0].Aborted = err, err != nil && out.aborted.Load()
		closeOutput(dumpW, err)
	}()

	in := &watchedReader{r: dumpR}
	err = compress(opts.Compressor, f, in)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close staged file %s: %w", staged, cerr)
	}
	results[1].Err, results[1].Aborted = err, err != nil && in.aborted.Load()
	closeInput(dumpR, err)
	wg.Wait()

	if results[0].Err != nil || results[1].Err != nil {
		return results, 0
	}
	keep = true

	var size int64
	if info, err := os.Stat(staged); err == nil {
		size = info.Size()
	}
	logger.Infof("staged %s (%s)", staged, humanize.Bytes(uint64(size)))

	_, err = opts.Target.PushFile(ctx, key, staged, logger)
	if err != nil {
		logger.Warnf("keeping staged file %s after failed upload", staged)
	}
	results = append(results, StageResult{Stage: StageTransfer, Err: err})
	return results, size
}
