package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sdejongh/fetchferry/pkg/config"
)

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View or create the fetchferry configuration file.`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigInitCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			downloadDir, err := cfg.DownloadDir()
			if err != nil {
				downloadDir = "(unavailable: " + err.Error() + ")"
			}
			storePath, err := cfg.StorePath()
			if err != nil {
				storePath = "(unavailable: " + err.Error() + ")"
			}

			fmt.Fprintf(out, "Listen: %s\n", cfg.Server.Listen)
			fmt.Fprintf(out, "Allowed Origins: %s\n", strings.Join(cfg.Server.AllowedOrigins, ", "))
			fmt.Fprintf(out, "Download Directory: %s\n", downloadDir)
			fmt.Fprintf(out, "Download Subdirectory: %s\n", cfg.Download.Subdirectory)
			fmt.Fprintf(out, "Bandwidth Limit: %s\n", bandwidthText(cfg.Download.BandwidthLimit))
			fmt.Fprintf(out, "Remote API: %s\n", cfg.Remote.BaseURL)
			fmt.Fprintf(out, "Store: %s\n", storePath)
			fmt.Fprintf(out, "History Limit: %d\n", cfg.Tasks.HistoryLimit)
			fmt.Fprintf(out, "Transfer Delay: %s\n", cfg.Tasks.TransferDelay)
			fmt.Fprintf(out, "Log Format: %s\n", cfg.Logging.Format)
			fmt.Fprintf(out, "Log Level: %s\n", cfg.Logging.Level)
			if cfg.Logging.File != "" {
				fmt.Fprintf(out, "Log File: %s\n", cfg.Logging.File)
			}

			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigFile
			if path == "" {
				var err error
				if path, err = config.DefaultConfigPath(); err != nil {
					return err
				}
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if err := config.SaveToFile(cfg, path); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created at: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing configuration file")

	return cmd
}

func bandwidthText(limit int64) string {
	if limit <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d bytes/s", limit)
}
