package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/databacker/mysql-s3-backup/pkg/compression"
	"github.com/databacker/mysql-s3-backup/pkg/config"
	"github.com/databacker/mysql-s3-backup/pkg/core"
	"github.com/databacker/mysql-s3-backup/pkg/database"
	"github.com/databacker/mysql-s3-backup/pkg/notify"
	"github.com/databacker/mysql-s3-backup/pkg/util"
)

func backupCmd(passedExecs execs, cmdConfig *cmdConfiguration) (*cobra.Command, error) {
	if cmdConfig == nil {
		return nil, fmt.Errorf("cmdConfig is nil")
	}
	var cmd = &cobra.Command{
		Use:     "backup",
		Aliases: []string{"dump"},
		Short:   "back up databases to s3",
		Long: `Back up each selected database to its own object, once or on a schedule.
		With DATABASES=ALL every database on the server is backed up except
		"information_schema", "performance_schema", "sys" and "mysql"; an explicit list
		is backed up as given. A failing database does not stop the others; the exit
		status is non-zero if any failed, and a summary is mailed to
		--notification-email if set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmdConfig.openLog(); err != nil {
				return cmdConfig.fatal(err)
			}
			cfg := cmdConfig.config
			if err := cfg.Validate(); err != nil {
				return cmdConfig.fatal(fmt.Errorf("invalid configuration: %w", err))
			}
			opts, err := backupOptions(cfg, cmdConfig)
			if err != nil {
				return cmdConfig.fatal(err)
			}
			timerOpts := core.TimerOptions{
				Once: cmdConfig.v.GetBool("once"),
				Cron: cfg.Cron,
			}

			var executor execs
			executor = &core.Executor{}
			if passedExecs != nil {
				executor = passedExecs
			}
			executor.SetLogger(cmdConfig.logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			tracer := getTracer("backup")
			ctx = util.ContextWithTracer(ctx, tracer)

			var ran bool
			if err := executor.Timer(ctx, timerOpts, func() error {
				ran = true
				runOpts := opts
				runOpts.Run = uuid.New()
				_, err := executor.Backup(ctx, runOpts)
				return err
			}); err != nil {
				// a run logs its own failures; anything before the first run has not been logged
				if !ran {
					return cmdConfig.fatal(err)
				}
				return loggedError{err}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Bool("once", false, "run a single backup now and exit, even if --cron is set")

	return cmd, nil
}

// backupOptions turns the validated configuration into what a run needs. Every
// error here is fatal for the run.
func backupOptions(cfg config.RunConfig, cmdConfig *cmdConfiguration) (core.BackupOptions, error) {
	creds, err := config.LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		return core.BackupOptions{}, err
	}
	compressor, err := compression.GetCompressor(cfg.Compression, cfg.CompressionLevel)
	if err != nil {
		return core.BackupOptions{}, fmt.Errorf("failure to get compression '%s': %w", cfg.Compression, err)
	}
	store, err := cfg.Target.Storage(creds.AWS)
	if err != nil {
		return core.BackupOptions{}, err
	}
	conn := database.Connection{
		User: creds.User,
		Pass: creds.Password,
		Host: cfg.Database.Host,
		Port: cfg.Database.Port,
	}

	var notifier notify.Notifier
	if cfg.NotificationEmail != "" {
		if notifier, err = notify.FromConfig(cfg.SMTP); err != nil {
			cmdConfig.logger.Warnf("notifications to %s cannot be sent: %v", cfg.NotificationEmail, err)
			notifier = nil
		}
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = cfg.Database.Host
	}

	return core.BackupOptions{
		Databases:  cfg.Databases,
		Lister:     schemaLister(conn),
		Dumper:     database.Mysqldump{Path: cfg.MysqldumpPath, Conn: conn, DefaultsFile: cfg.CredentialsFile},
		Compressor: compressor,
		Target:     store,
		Mode:       cfg.UploadMode,
		StagingDir: cfg.TempDir,
		// pruning only ever applies to staged files
		RetentionDays:     cfg.LocalRetentionDays,
		StageTimeout:      cfg.StageTimeout,
		LockFile:          cfg.LockFile,
		Notifier:          notifier,
		NotificationEmail: cfg.NotificationEmail,
		Hostname:          hostname,
		LogFile:           cfg.LogFile,
		MetricsFile:       cfg.MetricsFile,
	}, nil
}

func schemaLister(conn database.Connection) core.SchemaLister {
	return func(ctx context.Context) ([]string, error) {
		db, err := conn.Open()
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return database.GetSchemas(ctx, db)
	}
}
