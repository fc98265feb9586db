package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdejongh/fetchferry/pkg/output"
)

// watchTick redraws the screen so finished tasks scroll away without new events
const watchTick = 500 * time.Millisecond

// errStreamClosed is returned when the daemon ends the event stream
var errStreamClosed = errors.New("daemon closed the event stream")

// NewWatchCommand creates the watch command
func NewWatchCommand() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow task progress live",
		Long: `Show a live progress bar per active task. When output is not a terminal,
or with --plain or --output json, one line is printed per task update instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRPCClient()
			if err != nil {
				return err
			}
			formatter, err := newFormatter()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			// subscribe before listing so no update falls between the two
			events, err := client.Events(ctx)
			if err != nil {
				return err
			}

			listCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			active, err := client.ActiveTasks(listCtx)
			cancel()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if plain || formatter.Name() == "json" || !output.IsTerminal(out) {
				if err := formatter.Tasks(out, "Active tasks", active); err != nil {
					return err
				}
				for {
					select {
					case <-ctx.Done():
						return nil
					case ev, ok := <-events:
						if !ok {
							return streamEnd(ctx)
						}
						if err := formatter.Event(out, ev); err != nil {
							return err
						}
					}
				}
			}

			renderer := output.NewWatchRenderer(out)
			defer renderer.Close()
			renderer.Seed(active)

			ticker := time.NewTicker(watchTick)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					renderer.Tick()
				case ev, ok := <-events:
					if !ok {
						return streamEnd(ctx)
					}
					renderer.Update(ev)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "print one line per update instead of progress bars")

	return cmd
}

// streamEnd tells a user interrupt apart from the daemon going away
func streamEnd(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	return errStreamClosed
}
