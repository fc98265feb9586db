package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/sdejongh/fetchferry/pkg/models"
	"github.com/sdejongh/fetchferry/pkg/remote"
)

// NewServersCommand creates the servers command
func NewServersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Inspect the remote servers uploads can target",
		Long: `List the server configurations registered with the remote API.
Passwords are never printed.`,
	}

	cmd.AddCommand(newServersListCommand())
	cmd.AddCommand(newServersShowCommand())

	return cmd
}

func newServersListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List server configurations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRemoteClient()
			if err != nil {
				return err
			}
			formatter, err := newFormatter()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			servers, err := client.ListServers(ctx)
			if err != nil {
				return fmt.Errorf("failed to list servers: %w", err)
			}
			return formatter.Servers(cmd.OutOrStdout(), servers)
		},
	}
}

func newServersShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one server configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRemoteClient()
			if err != nil {
				return err
			}
			formatter, err := newFormatter()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			server, err := client.GetServerConfig(ctx, args[0])
			if err != nil {
				return fmt.Errorf("server %s: %w", args[0], err)
			}
			return formatter.Servers(cmd.OutOrStdout(), []models.ServerConfig{server})
		},
	}
}

func newRemoteClient() (*remote.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	// no cache: every CLI invocation is a single lookup
	return remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Timeout: cfg.Remote.Timeout,
	}, &http.Client{}, nil)
}
