package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/databacker/mysql-s3-backup/pkg/core"
	"github.com/databacker/mysql-s3-backup/pkg/util"
)

func pruneCmd(passedExecs execs, cmdConfig *cmdConfiguration) (*cobra.Command, error) {
	if cmdConfig == nil {
		return nil, fmt.Errorf("cmdConfig is nil")
	}
	var cmd = &cobra.Command{
		Use:   "prune",
		Short: "remove expired staged backups",
		Long: `Remove dumps staged by local mode runs from --temp-dir once they are older than
		--local-retention-days. Local mode runs do this themselves at the end of every run;
		this command is for cleaning up after changing the retention or the mode.
		Only files named like staged dumps are removed. Takes the run lock, so it never
		runs during a backup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmdConfig.openLog(); err != nil {
				return cmdConfig.fatal(err)
			}
			cfg := cmdConfig.config
			if cfg.TempDir == "" || cfg.LockFile == "" {
				return cmdConfig.fatal(fmt.Errorf("temp-dir and lock-file are required"))
			}
			cmdConfig.logger.Debug("starting prune")

			var executor execs
			executor = &core.Executor{}
			if passedExecs != nil {
				executor = passedExecs
			}
			executor.SetLogger(cmdConfig.logger)

			ctx := util.ContextWithTracer(cmd.Context(), getTracer("prune"))
			pruned, err := executor.Prune(ctx, core.PruneOptions{
				StagingDir:    cfg.TempDir,
				RetentionDays: cfg.LocalRetentionDays,
				LockFile:      cfg.LockFile,
				Run:           uuid.New(),
			})
			if err != nil {
				return loggedError{fmt.Errorf("error running prune: %w", err)}
			}
			executor.GetLogger().Infof("pruning complete, removed %d files", pruned)
			return nil
		},
	}
	return cmd, nil
}
