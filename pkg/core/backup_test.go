package core

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/databacker/mysql-s3-backup/pkg/compression"
	"github.com/databacker/mysql-s3-backup/pkg/config"
	"github.com/databacker/mysql-s3-backup/pkg/lock"
	"github.com/databacker/mysql-s3-backup/pkg/notify"
	"github.com/databacker/mysql-s3-backup/pkg/storage"
	"github.com/databacker/mysql-s3-backup/pkg/storage/file"
)

var runTime = time.Date(2024, 3, 9, 4, 5, 6, 0, time.Local)

const runStamp = "20240309_040506"

type fakeDumper struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func dumpOf(schema string) string {
	return "CREATE TABLE `t` (`id` int);\n-- dump of " + schema + "\n"
}

func (f *fakeDumper) Dump(ctx context.Context, schema string, out io.Writer) error {
	f.mu.Lock()
	f.calls = append(f.calls, schema)
	f.mu.Unlock()
	if err, ok := f.fail[schema]; ok {
		_, _ = io.WriteString(out, "-- partial dump of "+schema+"\n")
		return err
	}
	_, err := io.WriteString(out, dumpOf(schema))
	return err
}

// failingStore rejects uploads for the databases in fail.
type failingStore struct {
	storage.Storage
	fail map[string]error
}

func (f *failingStore) failFor(target string) error {
	return f.fail[strings.SplitN(target, "/", 2)[0]]
}

func (f *failingStore) Push(ctx context.Context, target string, source io.Reader, logger *log.Entry) (int64, error) {
	if err := f.failFor(target); err != nil {
		// a real uploader reads some data before the server rejects it
		_, _ = io.CopyN(io.Discard, source, 4)
		return 0, err
	}
	return f.Storage.Push(ctx, target, source, logger)
}

func (f *failingStore) PushFile(ctx context.Context, target, source string, logger *log.Entry) (int64, error) {
	if err := f.failFor(target); err != nil {
		return 0, err
	}
	return f.Storage.PushFile(ctx, target, source, logger)
}

type recordingNotifier struct {
	messages []notify.Message
	err      error
}

func (r *recordingNotifier) Notify(ctx context.Context, msg notify.Message) error {
	r.messages = append(r.messages, msg)
	return r.err
}

type fixture struct {
	opts      BackupOptions
	targetDir string
	dumper    *fakeDumper
	notifier  *recordingNotifier
	store     *failingStore
	executor  *Executor
	hook      *logtest.Hook
}

func newFixture(t *testing.T, mode config.UploadMode, databases string) *fixture {
	t.Helper()
	dir := t.TempDir()
	targetDir := filepath.Join(dir, "target")
	u, err := url.Parse("file://" + targetDir)
	require.NoError(t, err)
	compressor, err := compression.GetCompressor("gzip", 6)
	require.NoError(t, err)

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(log.DebugLevel)

	f := &fixture{
		targetDir: targetDir,
		dumper:    &fakeDumper{fail: map[string]error{}},
		notifier:  &recordingNotifier{},
		store:     &failingStore{Storage: file.New(*u), fail: map[string]error{}},
		executor:  &Executor{Logger: logger},
		hook:      hook,
	}
	f.opts = BackupOptions{
		Databases: databases,
		Lister: func(ctx context.Context) ([]string, error) {
			return []string{"app", "logs"}, nil
		},
		Dumper:            f.dumper,
		Compressor:        compressor,
		Target:            f.store,
		Mode:              mode,
		StagingDir:        filepath.Join(dir, "staging"),
		RetentionDays:     3,
		LockFile:          filepath.Join(dir, "backup.lock"),
		Notifier:          f.notifier,
		NotificationEmail: "ops@example.com",
		Hostname:          "db1",
		LogFile:           "/var/log/mysql-s3-backup.log",
		Run:               uuid.New(),
		Now:               func() time.Time { return runTime },
	}
	return f
}

func (f *fixture) object(unit string) string {
	return filepath.Join(f.targetDir, unit, unit+"_"+runStamp+".sql.gz")
}

func (f *fixture) staged(unit string) string {
	return filepath.Join(f.opts.StagingDir, unit+"_"+runStamp+".sql.gz")
}

func gunzipFile(t *testing.T, path string) string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	zr, err := gzip.NewReader(fh)
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(b)
}

func TestBackupStreamAllSucceed(t *testing.T) {
	f := newFixture(t, config.UploadStream, "app logs")
	results, err := f.executor.Backup(context.Background(), f.opts)
	require.NoError(t, err)

	assert.Equal(t, 2, results.Succeeded)
	assert.Equal(t, 0, results.Failed)
	assert.Empty(t, results.FailedUnits())
	assert.Equal(t, runStamp, results.Timestamp)
	assert.Empty(t, f.notifier.messages)
	assert.Equal(t, []string{"app", "logs"}, f.dumper.calls)

	for _, unit := range []string{"app", "logs"} {
		assert.Equal(t, dumpOf(unit), gunzipFile(t, f.object(unit)))
	}
	for _, o := range results.Outcomes {
		assert.True(t, o.Success)
		assert.Equal(t, StageNone, o.Stage)
		assert.Equal(t, o.Unit+"/"+o.Unit+"_"+runStamp+".sql.gz", o.Key)
		assert.Len(t, o.Stages, 3)
	}
	// nothing is staged in stream mode
	_, err = os.Stat(f.opts.StagingDir)
	assert.True(t, os.IsNotExist(err))
}

func TestBackupStreamTransferFailure(t *testing.T) {
	f := newFixture(t, config.UploadStream, "app logs")
	f.store.fail["logs"] = errors.New("AccessDenied")

	results, err := f.executor.Backup(context.Background(), f.opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnitsFailed)
	assert.Contains(t, err.Error(), "1 of 2 databases failed")

	assert.Equal(t, 1, results.Succeeded)
	assert.Equal(t, 1, results.Failed)
	failed := results.FailedUnits()
	require.Len(t, failed, 1)
	assert.Equal(t, "logs", failed[0].Unit)
	assert.Equal(t, StageTransfer, failed[0].Stage)
	assert.ErrorContains(t, failed[0].Err, "AccessDenied")

	assert.FileExists(t, f.object("app"))
	assert.NoFileExists(t, f.object("logs"))

	require.Len(t, f.notifier.messages, 1)
	msg := f.notifier.messages[0]
	assert.Equal(t, []string{"ops@example.com"}, msg.To)
	assert.Contains(t, msg.Subject, "db1")
	assert.Contains(t, msg.Subject, "1 of 2 databases failed")
	assert.Contains(t, msg.Body, "logs (transfer): AccessDenied")
	assert.Contains(t, msg.Body, runStamp)
	assert.Contains(t, msg.Body, "/var/log/mysql-s3-backup.log")
	assert.NotContains(t, msg.Body, "app (")
}

func TestBackupStreamDumpFailure(t *testing.T) {
	f := newFixture(t, config.UploadStream, "app logs")
	f.dumper.fail["app"] = errors.New("mysqldump: Got error: 1044: Access denied")

	results, err := f.executor.Backup(context.Background(), f.opts)
	assert.ErrorIs(t, err, ErrUnitsFailed)

	failed := results.FailedUnits()
	require.Len(t, failed, 1)
	assert.Equal(t, StageDump, failed[0].Stage)
	assert.ErrorContains(t, failed[0].Err, "Access denied")
	// the stages after the dump only saw the abort
	for _, s := range failed[0].Stages[1:] {
		assert.True(t, s.Aborted, "stage %s", s.Stage)
	}
	assert.NoFileExists(t, f.object("app"))
	assert.FileExists(t, f.object("logs"))
}

func TestBackupLocalAllSucceed(t *testing.T) {
	f := newFixture(t, config.UploadLocal, "app logs")
	results, err := f.executor.Backup(context.Background(), f.opts)
	require.NoError(t, err)
	assert.Equal(t, 2, results.Succeeded)

	for _, unit := range []string{"app", "logs"} {
		assert.Equal(t, dumpOf(unit), gunzipFile(t, f.object(unit)))
		info, err := os.Stat(f.staged(unit))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
	for _, o := range results.Outcomes {
		assert.Equal(t, f.staged(o.Unit), o.StagedFile)
		assert.Greater(t, o.Size, int64(0))
	}
}

func TestBackupLocalDumpFailure(t *testing.T) {
	f := newFixture(t, config.UploadLocal, "app logs")
	f.dumper.fail["app"] = errors.New("mysqldump: Couldn't execute")

	results, err := f.executor.Backup(context.Background(), f.opts)
	assert.ErrorIs(t, err, ErrUnitsFailed)

	failed := results.FailedUnits()
	require.Len(t, failed, 1)
	assert.Equal(t, "app", failed[0].Unit)
	assert.Equal(t, StageDump, failed[0].Stage)
	// no transfer was attempted
	assert.Len(t, failed[0].Stages, 2)

	assert.NoFileExists(t, f.staged("app"))
	assert.NoFileExists(t, f.object("app"))
	assert.FileExists(t, f.staged("logs"))
	assert.FileExists(t, f.object("logs"))
}

func TestBackupLocalTransferFailureKeepsStagedFile(t *testing.T) {
	f := newFixture(t, config.UploadLocal, "app")
	f.store.fail["app"] = errors.New("connection reset")

	results, err := f.executor.Backup(context.Background(), f.opts)
	assert.ErrorIs(t, err, ErrUnitsFailed)
	require.Len(t, results.FailedUnits(), 1)
	assert.Equal(t, StageTransfer, results.FailedUnits()[0].Stage)
	assert.FileExists(t, f.staged("app"))
	assert.Equal(t, dumpOf("app"), gunzipFile(t, f.staged("app")))
}

func TestBackupLockBusy(t *testing.T) {
	f := newFixture(t, config.UploadStream, "app logs")
	held, err := lock.Acquire(f.opts.LockFile)
	require.NoError(t, err)
	defer held.Release()

	results, err := f.executor.Backup(context.Background(), f.opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, lock.ErrBusy)
	assert.Empty(t, results.Outcomes)
	assert.Empty(t, f.dumper.calls)
	assert.Empty(t, f.notifier.messages)

	var contention int
	for _, e := range f.hook.AllEntries() {
		if strings.Contains(e.Message, "another backup run is in progress") {
			contention++
		}
	}
	assert.Equal(t, 1, contention)
}

func TestBackupReleasesLock(t *testing.T) {
	f := newFixture(t, config.UploadStream, "app")
	f.store.fail["app"] = errors.New("denied")
	_, err := f.executor.Backup(context.Background(), f.opts)
	require.Error(t, err)

	l, err := lock.Acquire(f.opts.LockFile)
	require.NoError(t, err)
	assert.NoError(t, l.Release())
}

func TestBackupNoTargets(t *testing.T) {
	f := newFixture(t, config.UploadStream, "ALL")
	f.opts.Lister = func(ctx context.Context) ([]string, error) { return nil, nil }

	results, err := f.executor.Backup(context.Background(), f.opts)
	assert.ErrorIs(t, err, ErrNoTargets)
	assert.Empty(t, results.Outcomes)
	assert.Empty(t, f.notifier.messages)
}

func TestBackupListerFailure(t *testing.T) {
	f := newFixture(t, config.UploadStream, "ALL")
	f.opts.Lister = func(ctx context.Context) ([]string, error) { return nil, errors.New("connection refused") }

	_, err := f.executor.Backup(context.Background(), f.opts)
	assert.ErrorContains(t, err, "connection refused")
	assert.Empty(t, f.dumper.calls)
}

func TestBackupNotification(t *testing.T) {
	tests := []struct {
		name     string
		fail     bool
		address  string
		notifier notify.Notifier
		sent     int
		err      bool
	}{
		{"success with address", false, "ops@example.com", &recordingNotifier{}, 0, false},
		{"failure with address", true, "ops@example.com", &recordingNotifier{}, 1, true},
		{"failure without address", true, "", &recordingNotifier{}, 0, true},
		{"failure with broken transport", true, "ops@example.com", &recordingNotifier{err: errors.New("smtp down")}, 1, true},
		{"failure with no transport", true, "ops@example.com", nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, config.UploadStream, "app logs")
			if tt.fail {
				f.dumper.fail["logs"] = errors.New("boom")
			}
			f.opts.NotificationEmail = tt.address
			f.opts.Notifier = tt.notifier

			_, err := f.executor.Backup(context.Background(), f.opts)
			// notification problems never change the result
			assert.Equal(t, tt.err, err != nil)
			if rn, ok := tt.notifier.(*recordingNotifier); ok {
				assert.Len(t, rn.messages, tt.sent)
				for _, m := range rn.messages {
					assert.Contains(t, m.Body, "logs")
				}
			}
		})
	}
}

// stalledNotifier never delivers; it waits until it is given up on.
type stalledNotifier struct {
	hadDeadline bool
}

func (s *stalledNotifier) Notify(ctx context.Context, msg notify.Message) error {
	_, s.hadDeadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

func TestBackupNotificationTimeout(t *testing.T) {
	defer func(d time.Duration) { notifyTimeout = d }(notifyTimeout)
	notifyTimeout = 50 * time.Millisecond

	f := newFixture(t, config.UploadStream, "app logs")
	f.dumper.fail["logs"] = errors.New("boom")
	stalled := &stalledNotifier{}
	f.opts.Notifier = stalled

	done := make(chan error, 1)
	go func() {
		_, err := f.executor.Backup(context.Background(), f.opts)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrUnitsFailed)
	case <-time.After(10 * time.Second):
		t.Fatal("backup blocked on a stalled notification")
	}
	assert.True(t, stalled.hadDeadline)

	// the lock was released despite the stalled delivery
	l, err := lock.Acquire(f.opts.LockFile)
	require.NoError(t, err)
	require.NoError(t, l.Release())

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == log.WarnLevel && strings.Contains(e.Message, "failed to send notification") {
			warned = true
		}
	}
	assert.True(t, warned, "stalled notification not reported")
}

func TestBackupLocalRetention(t *testing.T) {
	for _, fail := range []bool{false, true} {
		f := newFixture(t, config.UploadLocal, "app")
		if fail {
			f.dumper.fail["app"] = errors.New("boom")
		}
		require.NoError(t, os.MkdirAll(f.opts.StagingDir, 0o700))
		old := filepath.Join(f.opts.StagingDir, "app_20240301_010101.sql.gz")
		recent := filepath.Join(f.opts.StagingDir, "app_20240308_010101.sql.gz")
		unrelated := filepath.Join(f.opts.StagingDir, "notes.txt")
		for _, p := range []string{old, recent, unrelated} {
			require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
		}
		require.NoError(t, os.Chtimes(old, runTime.Add(-4*24*time.Hour), runTime.Add(-4*24*time.Hour)))
		require.NoError(t, os.Chtimes(recent, runTime.Add(-1*24*time.Hour), runTime.Add(-1*24*time.Hour)))
		require.NoError(t, os.Chtimes(unrelated, runTime.Add(-30*24*time.Hour), runTime.Add(-30*24*time.Hour)))

		results, _ := f.executor.Backup(context.Background(), f.opts)
		assert.Equal(t, 1, results.Pruned, "failing run %v", fail)
		assert.NoFileExists(t, old)
		assert.FileExists(t, recent)
		assert.FileExists(t, unrelated)
	}
}

func TestBackupStageTimeout(t *testing.T) {
	f := newFixture(t, config.UploadStream, "slow")
	f.opts.Dumper = blockingDumper{}
	f.opts.StageTimeout = 50 * time.Millisecond

	results, err := f.executor.Backup(context.Background(), f.opts)
	assert.ErrorIs(t, err, ErrUnitsFailed)
	require.Len(t, results.FailedUnits(), 1)
	assert.Equal(t, StageDump, results.FailedUnits()[0].Stage)
	assert.ErrorIs(t, results.FailedUnits()[0].Err, context.DeadlineExceeded)
}

type blockingDumper struct{}

func (blockingDumper) Dump(ctx context.Context, schema string, out io.Writer) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestBackupMetricsFile(t *testing.T) {
	f := newFixture(t, config.UploadStream, "app")
	f.opts.MetricsFile = filepath.Join(t.TempDir(), "backup.prom")
	_, err := f.executor.Backup(context.Background(), f.opts)
	require.NoError(t, err)
	b, err := os.ReadFile(f.opts.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), `mysql_s3_backup_last_run_databases{result="succeeded"} 1`)
}
