package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/databacker/mysql-s3-backup/pkg/core"
)

type mockExecs struct {
	mock.Mock
	logger *log.Logger
}

func newMockExecs() *mockExecs {
	m := &mockExecs{}
	return m
}

func (m *mockExecs) SetLogger(logger *log.Logger) {
	m.logger = logger
}

func (m *mockExecs) GetLogger() *log.Logger {
	return m.logger
}

func (m *mockExecs) Backup(ctx context.Context, opts core.BackupOptions) (core.BackupResults, error) {
	args := m.Called(opts)
	return core.BackupResults{}, args.Error(0)
}

func (m *mockExecs) Prune(ctx context.Context, opts core.PruneOptions) (int, error) {
	args := m.Called(opts)
	return args.Int(0), args.Error(1)
}

func (m *mockExecs) Timer(ctx context.Context, timerOpts core.TimerOptions, cmd func() error) error {
	args := m.Called(timerOpts)
	err := args.Error(0)
	if err != nil {
		return err
	}
	return cmd()
}

// testDirs creates a credentials file and returns flags pointing every
// file the command touches into a temporary directory.
func testDirs(t *testing.T) (dir string, args []string) {
	t.Helper()
	dir = t.TempDir()
	creds := filepath.Join(dir, "credentials.cnf")
	if err := os.WriteFile(creds, []byte("[client]\nuser = backup\npassword = secret\n\n[aws]\naws_access_key_id = AKIA\naws_secret_access_key = shh\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(creds, 0o600); err != nil {
		t.Fatal(err)
	}
	return dir, []string{
		"--credentials-file", creds,
		"--log-file", filepath.Join(dir, "backup.log"),
		"--lock-file", filepath.Join(dir, "backup.lock"),
		"--temp-dir", filepath.Join(dir, "staging"),
	}
}

// withCommon appends the flag/value pairs of common to args, leaving out any
// flag that args already sets so the value in args is the one parsed.
func withCommon(args, common []string) []string {
	set := map[string]bool{}
	for _, a := range args {
		set[a] = true
	}
	out := append([]string{}, args...)
	for i := 0; i+1 < len(common); i += 2 {
		if set[common[i]] {
			continue
		}
		out = append(out, common[i], common[i+1])
	}
	return out
}
