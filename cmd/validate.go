package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/databacker/mysql-s3-backup/pkg/config"
	"github.com/databacker/mysql-s3-backup/pkg/notify"
)

func validateCmd(passedExecs execs, cmdConfig *cmdConfiguration) (*cobra.Command, error) {
	if cmdConfig == nil {
		return nil, fmt.Errorf("cmdConfig is nil")
	}
	var cmd = &cobra.Command{
		Use:   "validate",
		Short: "check the configuration and print it",
		Long: `Check the configuration from flags, environment and config file the way a backup
		run would, including the credentials file, and print the effective settings as
		YAML with secrets hidden. Nothing is locked, logged to the log file, or backed up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cmdConfig.config
			out := cmd.OutOrStdout()

			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(cfg.Redacted()); err != nil {
				return fmt.Errorf("failed to print configuration: %w", err)
			}
			if err := enc.Close(); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if _, err := config.LoadCredentials(cfg.CredentialsFile); err != nil {
				return err
			}
			if cfg.NotificationEmail != "" {
				if _, err := notify.FromConfig(cfg.SMTP); err != nil {
					cmdConfig.logger.Warnf("notifications to %s cannot be sent: %v", cfg.NotificationEmail, err)
				}
			}
			fmt.Fprintln(out, "configuration is valid")
			return nil
		},
	}
	return cmd, nil
}
