package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/databacker/mysql-s3-backup/pkg/compression"
)

// Configuration keys. Each is read from the environment variable of the same
// name in upper case, and from the flag with "_" replaced by "-".
const (
	KeyMySQLHost          = "mysql_host"
	KeyMySQLPort          = "mysql_port"
	KeyDatabases          = "databases"
	KeyS3Bucket           = "s3_bucket"
	KeyS3Prefix           = "s3_prefix"
	KeyAWSRegion          = "aws_region"
	KeyAWSEndpointURL     = "aws_endpoint_url"
	KeyAWSPathStyle       = "aws_path_style"
	KeyUploadMode         = "upload_mode"
	KeyCompression        = "compression"
	KeyGzipLevel          = "gzip_level"
	KeyLocalRetentionDays = "local_retention_days"
	KeyTempDir            = "temp_dir"
	KeyNotificationEmail  = "notification_email"
	KeyLogFile            = "log_file"
	KeyLockFile           = "lock_file"
	KeyCredentialsFile    = "credentials_file"
	KeyMysqldumpPath      = "mysqldump_path"
	KeyStageTimeout       = "stage_timeout"
	KeyMetricsFile        = "metrics_file"
	KeyCron               = "cron"
	KeySMTPHost           = "smtp_host"
	KeySMTPPort           = "smtp_port"
	KeySMTPUser           = "smtp_user"
	KeySMTPPass           = "smtp_pass"
	KeySMTPFrom           = "smtp_from"
)

const (
	DefaultPort               = 3306
	DefaultUploadMode         = UploadStream
	DefaultCompression        = "gzip"
	DefaultLocalRetentionDays = 3
	DefaultTempDir            = "/var/tmp/mysql-s3-backup"
	DefaultLogFile            = "/var/log/mysql-s3-backup.log"
	DefaultLockFile           = "/var/lock/mysql-s3-backup.lock"
	DefaultCredentialsFile    = "/etc/mysql-s3-backup/credentials.cnf"
	DefaultMysqldumpPath      = "mysqldump"
	DefaultSMTPPort           = 25
)

// EnvName is the environment variable that carries key.
func EnvName(key string) string {
	return strings.ToUpper(key)
}

// FlagName is the command-line flag that carries key.
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// SetDefaults registers the default of every optional key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyMySQLPort, DefaultPort)
	v.SetDefault(KeyUploadMode, string(DefaultUploadMode))
	v.SetDefault(KeyCompression, DefaultCompression)
	v.SetDefault(KeyGzipLevel, compression.DefaultLevel)
	v.SetDefault(KeyLocalRetentionDays, DefaultLocalRetentionDays)
	v.SetDefault(KeyTempDir, DefaultTempDir)
	v.SetDefault(KeyLogFile, DefaultLogFile)
	v.SetDefault(KeyLockFile, DefaultLockFile)
	v.SetDefault(KeyCredentialsFile, DefaultCredentialsFile)
	v.SetDefault(KeyMysqldumpPath, DefaultMysqldumpPath)
	v.SetDefault(KeySMTPPort, DefaultSMTPPort)
	v.SetDefault(KeyStageTimeout, "0s")
}

// FromViper reads a RunConfig out of v. It does not validate.
func FromViper(v *viper.Viper) RunConfig {
	return RunConfig{
		Database: Database{
			Host: strings.TrimSpace(v.GetString(KeyMySQLHost)),
			Port: v.GetInt(KeyMySQLPort),
		},
		Databases: v.GetString(KeyDatabases),
		Target: Target{
			Bucket:    strings.TrimSpace(v.GetString(KeyS3Bucket)),
			Prefix:    strings.TrimSpace(v.GetString(KeyS3Prefix)),
			Region:    strings.TrimSpace(v.GetString(KeyAWSRegion)),
			Endpoint:  strings.TrimSpace(v.GetString(KeyAWSEndpointURL)),
			PathStyle: v.GetBool(KeyAWSPathStyle),
		},
		UploadMode:         UploadMode(strings.ToLower(strings.TrimSpace(v.GetString(KeyUploadMode)))),
		Compression:        strings.ToLower(strings.TrimSpace(v.GetString(KeyCompression))),
		CompressionLevel:   v.GetInt(KeyGzipLevel),
		LocalRetentionDays: v.GetInt(KeyLocalRetentionDays),
		NotificationEmail:  strings.TrimSpace(v.GetString(KeyNotificationEmail)),
		SMTP: SMTP{
			Host:     v.GetString(KeySMTPHost),
			Port:     v.GetInt(KeySMTPPort),
			Username: v.GetString(KeySMTPUser),
			Password: v.GetString(KeySMTPPass),
			From:     v.GetString(KeySMTPFrom),
		},
		TempDir:         v.GetString(KeyTempDir),
		LogFile:         v.GetString(KeyLogFile),
		LockFile:        v.GetString(KeyLockFile),
		CredentialsFile: v.GetString(KeyCredentialsFile),
		MysqldumpPath:   v.GetString(KeyMysqldumpPath),
		StageTimeout:    v.GetDuration(KeyStageTimeout),
		MetricsFile:     v.GetString(KeyMetricsFile),
		Cron:            v.GetString(KeyCron),
	}
}
