package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/databacker/mysql-s3-backup/pkg/config"
	"github.com/databacker/mysql-s3-backup/pkg/core"
	pkglog "github.com/databacker/mysql-s3-backup/pkg/log"
)

type execs interface {
	SetLogger(logger *log.Logger)
	GetLogger() *log.Logger
	Backup(ctx context.Context, opts core.BackupOptions) (core.BackupResults, error)
	Prune(ctx context.Context, opts core.PruneOptions) (int, error)
	Timer(ctx context.Context, timerOpts core.TimerOptions, cmd func() error) error
}

type subCommand func(execs, *cmdConfiguration) (*cobra.Command, error)

var subCommands = []subCommand{pruneCmd, validateCmd}

type cmdConfiguration struct {
	v       *viper.Viper
	config  config.RunConfig
	logger  *log.Logger
	logFile io.WriteCloser
}

// loggedError is an error the executor has already written to the log, so it
// is not printed a second time on exit.
type loggedError struct {
	err error
}

func (l loggedError) Error() string { return l.err.Error() }
func (l loggedError) Unwrap() error { return l.err }

// fatal logs err and marks it as logged.
func (c *cmdConfiguration) fatal(err error) error {
	c.logger.Error(err)
	return loggedError{err}
}

// openLog sends the log to the configured file as well as standard error.
func (c *cmdConfiguration) openLog() error {
	if c.logFile != nil || c.config.LogFile == "" {
		return nil
	}
	f, err := pkglog.OpenFile(c.config.LogFile)
	if err != nil {
		return err
	}
	c.logFile = f
	pkglog.Attach(c.logger, f)
	return nil
}

func rootCmd(execs execs) (*cobra.Command, error) {
	var (
		v         *viper.Viper
		cmd       *cobra.Command
		cmdConfig = &cmdConfiguration{}
		ctx       = context.Background()
	)
	cmd = &cobra.Command{
		Use:   "mysql-s3-backup",
		Short: "back up mysql-compatible databases to s3, one object per database",
		Long: `Back up each database of a mysql-compatible server with mysqldump, compress it,
		and upload it to s3 or an s3-compatible service as
		<bucket>/<prefix>/<database>/<database>_<YYYYMMDD_HHMMSS>.sql.gz

		Every option can be given as a flag, as the environment variable of the same name
		in upper case with "_" for "-" (e.g. MYSQL_HOST for --mysql-host), or in a
		KEY=value file passed with --config-file. Flags win over the environment, which
		wins over the file.

		Database and AWS credentials are read from --credentials-file, in mysql option
		file format:

		[client]
		user = backup
		password = secret

		[aws]
		aws_access_key_id = ...
		aws_secret_access_key = ...

		The file must not be readable by group or others. Without AWS keys, the usual
		AWS credential chain is used.
		`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			// the config file has to be read before the other flags are bound,
			// or their defaults would take precedence over it
			_ = v.BindPFlag("config_file", c.Flags().Lookup("config-file"))
			if configFilePath := v.GetString("config_file"); configFilePath != "" {
				v.SetConfigFile(configFilePath)
				v.SetConfigType("env")
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("fatal error config file: %w", err)
				}
			}
			bindFlags(c, v)

			var logger = log.New()
			logger.SetFormatter(&pkglog.LineFormatter{})
			logLevel := v.GetInt("verbose")
			debugSet := v.IsSet("debug")
			if !v.IsSet("verbose") && (v.GetBool("debug") || (debugSet && v.GetString("debug") == "true")) {
				logLevel = 1
			}
			switch logLevel {
			case 0:
				logger.SetLevel(log.InfoLevel)
			case 1:
				logger.SetLevel(log.DebugLevel)
			case 2:
				logger.SetLevel(log.TraceLevel)
			}
			cmdConfig.logger = logger
			cmdConfig.v = v
			cmdConfig.config = config.FromViper(v)

			var tracerExporters []sdktrace.SpanExporter
			if endpoint := v.GetString("trace_endpoint"); endpoint != "" {
				u, err := url.Parse(endpoint)
				if err != nil || u.Host == "" {
					return fmt.Errorf("invalid trace endpoint %q", endpoint)
				}
				opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(u.Host)}
				if u.Path != "" && u.Path != "/" {
					opts = append(opts, otlptracehttp.WithURLPath(u.Path))
				}
				if u.Scheme == "http" {
					opts = append(opts, otlptracehttp.WithInsecure())
				}
				tracerExporter, err := otlptracehttp.New(ctx, opts...)
				if err != nil {
					return fmt.Errorf("unable to set up telemetry: %w", err)
				}
				tracerExporters = append(tracerExporters, tracerExporter)
			}
			if v.GetBool("trace_stderr") {
				exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
				if err != nil {
					return fmt.Errorf("failed to initialize stdouttrace exporter: %w", err)
				}
				tracerExporters = append(tracerExporters, exp)
			}
			var tracerProviderOpts []sdktrace.TracerProviderOption
			for _, exp := range tracerExporters {
				tracerProviderOpts = append(tracerProviderOpts, sdktrace.WithBatcher(exp))
			}
			otel.SetTracerProvider(sdktrace.NewTracerProvider(tracerProviderOpts...))

			return nil
		},
	}

	v = viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	config.SetDefaults(v)

	pflags := cmd.PersistentFlags()
	pflags.String("config-file", "", "file of KEY=value lines to read settings from; flags and environment variables override it")

	// database
	pflags.String(config.FlagName(config.KeyMySQLHost), "", "hostname of the database server, or the path to its unix socket. REQUIRED")
	pflags.Int(config.FlagName(config.KeyMySQLPort), config.DefaultPort, "port of the database server")
	pflags.String(config.FlagName(config.KeyDatabases), "", "databases to back up: ALL for every user database on the server, or a space separated list of names. REQUIRED")
	pflags.String(config.FlagName(config.KeyCredentialsFile), config.DefaultCredentialsFile, "mysql option file with the [client] user and password, and optionally [aws] keys")
	pflags.String(config.FlagName(config.KeyMysqldumpPath), config.DefaultMysqldumpPath, "mysqldump binary to run")

	// target
	pflags.String(config.FlagName(config.KeyS3Bucket), "", "bucket to upload backups to. REQUIRED")
	pflags.String(config.FlagName(config.KeyS3Prefix), "", "key prefix under which each database gets its own folder. REQUIRED")
	pflags.String(config.FlagName(config.KeyAWSRegion), "", "region of the bucket. REQUIRED")
	pflags.String(config.FlagName(config.KeyAWSEndpointURL), "", "endpoint of an s3-compatible service to use instead of AWS")
	pflags.Bool(config.FlagName(config.KeyAWSPathStyle), false, "use path-style bucket addressing instead of virtual-host-style")

	// pipeline
	pflags.String(config.FlagName(config.KeyUploadMode), string(config.DefaultUploadMode), "stream: pipe dumps straight to s3; local: stage compressed dumps in --temp-dir first")
	pflags.String(config.FlagName(config.KeyCompression), config.DefaultCompression, "compression to use: gzip, bzip2 or none")
	pflags.Int(config.FlagName(config.KeyGzipLevel), 6, "compression level, 1 (fastest) to 9 (smallest)")
	pflags.String(config.FlagName(config.KeyTempDir), config.DefaultTempDir, "directory for staged dumps in local mode")
	pflags.Int(config.FlagName(config.KeyLocalRetentionDays), config.DefaultLocalRetentionDays, "days to keep staged dumps in local mode; 0 keeps them forever")
	pflags.Duration(config.FlagName(config.KeyStageTimeout), 0, "longest time the backup of a single database may take, e.g. 2h; 0 for no limit")

	// run control and reporting
	pflags.String(config.FlagName(config.KeyLockFile), config.DefaultLockFile, "lock file that keeps two runs from overlapping")
	pflags.String(config.FlagName(config.KeyLogFile), config.DefaultLogFile, "file to append the log to, in addition to standard error; empty for standard error only")
	pflags.String(config.FlagName(config.KeyNotificationEmail), "", "address to mail a summary to when any database fails")
	pflags.String(config.FlagName(config.KeySMTPHost), "", "mail relay to send notifications through; the local sendmail is used if empty")
	pflags.Int(config.FlagName(config.KeySMTPPort), config.DefaultSMTPPort, "port of the mail relay")
	pflags.String(config.FlagName(config.KeySMTPUser), "", "username for the mail relay")
	pflags.String(config.FlagName(config.KeySMTPPass), "", "password for the mail relay")
	pflags.String(config.FlagName(config.KeySMTPFrom), "", "sender address of notifications")
	pflags.String(config.FlagName(config.KeyMetricsFile), "", "write run metrics to this file for the node exporter textfile collector")
	pflags.String(config.FlagName(config.KeyCron), "", "cron expression to keep running backups on, e.g. \"0 3 * * *\"; empty runs a single backup")

	// debug via CLI or env var or default
	pflags.IntP("verbose", "v", 0, "set log level, 1 is debug, 2 is trace")
	pflags.Bool("debug", false, "set log level to debug, equivalent of --verbose=1; if both set, --verbose always overrides")
	pflags.Bool("trace-stderr", false, "trace to stderr, in addition to any configured telemetry")
	pflags.String("trace-endpoint", "", "OTLP/HTTP endpoint to send traces to, e.g. http://localhost:4318")

	backup, err := backupCmd(execs, cmdConfig)
	if err != nil {
		return nil, err
	}
	cmd.AddCommand(backup)
	// backup is also what runs without a subcommand
	cmd.RunE = backup.RunE
	cmd.Flags().AddFlagSet(backup.LocalFlags())

	for _, subCmd := range subCommands {
		if sc, err := subCmd(execs, cmdConfig); err != nil {
			return nil, err
		} else {
			cmd.AddCommand(sc)
		}
	}

	return cmd, nil
}

// Bind each cobra flag to its associated viper configuration (config file and environment variable)
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// Determine the naming convention of the flags when represented in the config file
		configName := strings.ReplaceAll(f.Name, "-", "_")
		_ = v.BindPFlag(configName, f)
		// Apply the viper config value to the flag when the flag is not set and viper has a value
		if !f.Changed && v.IsSet(configName) {
			val := v.Get(configName)
			_ = cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val))
		}
	})
}

// Execute primary function for cobra
func Execute() {
	rootCmd, err := rootCmd(nil)
	if err != nil {
		log.Fatal(err)
	}
	err = rootCmd.Execute()
	shutdownTracer(context.Background())
	if err != nil {
		var logged loggedError
		if errors.As(err, &logged) {
			os.Exit(1)
		}
		log.Fatal(err)
	}
}
