package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/databacker/mysql-s3-backup/pkg/compression"
	"github.com/databacker/mysql-s3-backup/pkg/storage"
	"github.com/databacker/mysql-s3-backup/pkg/storage/credentials"
	"github.com/databacker/mysql-s3-backup/pkg/util"
)

// UploadMode selects how a compressed dump reaches object storage.
type UploadMode string

const (
	// UploadStream pipes the dump straight into the upload without touching disk.
	UploadStream UploadMode = "stream"
	// UploadLocal stages the compressed dump on disk before uploading it.
	UploadLocal UploadMode = "local"
)

func (m UploadMode) Valid() bool {
	return m == UploadStream || m == UploadLocal
}

const redacted = "********"

// RunConfig is the effective configuration of one backup run.
type RunConfig struct {
	Database           Database      `yaml:"database"`
	Databases          string        `yaml:"databases"`
	Target             Target        `yaml:"target"`
	UploadMode         UploadMode    `yaml:"upload-mode"`
	Compression        string        `yaml:"compression"`
	CompressionLevel   int           `yaml:"compression-level"`
	LocalRetentionDays int           `yaml:"local-retention-days"`
	NotificationEmail  string        `yaml:"notification-email,omitempty"`
	SMTP               SMTP          `yaml:"smtp,omitempty"`
	TempDir            string        `yaml:"temp-dir"`
	LogFile            string        `yaml:"log-file"`
	LockFile           string        `yaml:"lock-file"`
	CredentialsFile    string        `yaml:"credentials-file"`
	MysqldumpPath      string        `yaml:"mysqldump-path"`
	StageTimeout       time.Duration `yaml:"stage-timeout"`
	MetricsFile        string        `yaml:"metrics-file,omitempty"`
	Cron               string        `yaml:"cron,omitempty"`
}

type Database struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Target struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	PathStyle bool   `yaml:"path-style,omitempty"`
}

// SMTP configures direct mail delivery. An empty Host means the local
// sendmail command is used instead.
type SMTP struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	From     string `yaml:"from,omitempty"`
}

// URL is the destination url of the backup target, e.g. s3://bucket/prefix.
func (t Target) URL() string {
	return util.BucketURL(t.Bucket, t.Prefix)
}

// Storage converts the target into a storage.Storage, using the given AWS keys
// if they are set and the SDK default chain otherwise.
func (t Target) Storage(aws credentials.AWSCreds) (storage.Storage, error) {
	aws.Region = t.Region
	aws.Endpoint = t.Endpoint
	aws.PathStyle = t.PathStyle
	store, err := storage.ParseURL(t.URL(), credentials.Creds{AWS: aws})
	if err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}
	return store, nil
}

// Validate reports every problem with the configuration at once.
func (c RunConfig) Validate() error {
	var errs []error
	required := []struct {
		key, value string
	}{
		{KeyMySQLHost, c.Database.Host},
		{KeyDatabases, c.Databases},
		{KeyS3Bucket, c.Target.Bucket},
		{KeyS3Prefix, c.Target.Prefix},
		{KeyAWSRegion, c.Target.Region},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", EnvName(r.key)))
		}
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Errorf("%s must be between 1 and 65535, got %d", EnvName(KeyMySQLPort), c.Database.Port))
	}
	if !c.UploadMode.Valid() {
		errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", EnvName(KeyUploadMode), UploadStream, UploadLocal, c.UploadMode))
	}
	if c.CompressionLevel < compression.MinLevel || c.CompressionLevel > compression.MaxLevel {
		errs = append(errs, fmt.Errorf("%s must be between %d and %d, got %d", EnvName(KeyGzipLevel), compression.MinLevel, compression.MaxLevel, c.CompressionLevel))
	} else if _, err := compression.GetCompressor(c.Compression, c.CompressionLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LocalRetentionDays < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %d", EnvName(KeyLocalRetentionDays), c.LocalRetentionDays))
	}
	if c.StageTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %s", EnvName(KeyStageTimeout), c.StageTimeout))
	}
	if c.UploadMode == UploadLocal && c.TempDir == "" {
		errs = append(errs, fmt.Errorf("%s is required in %s mode", EnvName(KeyTempDir), UploadLocal))
	}
	if c.Cron != "" {
		if _, err := cron.ParseStandard(c.Cron); err != nil {
			errs = append(errs, fmt.Errorf("%s %q is not a valid cron expression: %w", EnvName(KeyCron), c.Cron, err))
		}
	}
	if c.LockFile == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvName(KeyLockFile)))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy that is safe to print.
func (c RunConfig) Redacted() RunConfig {
	if c.SMTP.Password != "" {
		c.SMTP.Password = redacted
	}
	return c
}
