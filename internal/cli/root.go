package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand assembles the fetchferry command tree
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fetchferry",
		Short: "Download files and ferry them to remote servers",
		Long: `fetchferry is a local daemon and CLI that downloads files on request,
tracks every download as a task and uploads finished files to a configured
remote server. Browser extensions and the bundled commands talk to the
daemon over its local message API.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add global flags
	AddGlobalFlags(rootCmd)

	// Add commands
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewTaskCommand())
	rootCmd.AddCommand(NewServersCommand())
	rootCmd.AddCommand(NewWatchCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}
