package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdejongh/fetchferry/pkg/models"
	"github.com/sdejongh/fetchferry/pkg/rpc"
)

// requestTimeout bounds one message API call from the CLI
const requestTimeout = 15 * time.Second

// fullIDLength is the length of a canonical UUID string
const fullIDLength = 36

// StartFlags holds task start flags
type StartFlags struct {
	FileName   string
	ServerID   string
	TargetPath string
}

var startFlags StartFlags

// NewTaskCommand creates the task command
func NewTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "task",
		Aliases: []string{"tasks"},
		Short:   "Manage download tasks on a running daemon",
		Long: `Start, inspect and control download tasks on a running fetchferry daemon.
Task ids may be abbreviated to any unique suffix, such as the 8 characters
shown by "task list".`,
	}

	cmd.AddCommand(newTaskStartCommand())
	cmd.AddCommand(newTaskListCommand())
	cmd.AddCommand(newTaskHistoryCommand())
	cmd.AddCommand(newTaskShowCommand())
	cmd.AddCommand(newTaskActionCommand("cancel", "Cancel an active task", cancelTask))
	cmd.AddCommand(newTaskActionCommand("retry", "Start a new task from a finished one", retryTask))
	cmd.AddCommand(newTaskActionCommand("reupload", "Upload a completed download again", reuploadTask))
	cmd.AddCommand(newTaskActionCommand("transfer", "Start the upload of a downloaded task now", transferTask))

	return cmd
}

func newTaskStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start URL",
		Short: "Download a URL and optionally upload it to a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRPCClient()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			id, err := client.StartDownload(ctx, rpc.StartDownload{
				URL:        args[0],
				FileName:   startFlags.FileName,
				ServerID:   startFlags.ServerID,
				TargetPath: startFlags.TargetPath,
			})
			if err != nil {
				if id != "" {
					return fmt.Errorf("task %s failed: %w", id, err)
				}
				return err
			}
			return printResult(cmd, "Task started: "+id, id)
		},
	}

	cmd.Flags().StringVarP(&startFlags.FileName, "name", "n", "", "file name to save as (default: derived from the URL)")
	cmd.Flags().StringVarP(&startFlags.ServerID, "server-id", "s", "", "remote server to upload to after downloading")
	cmd.Flags().StringVarP(&startFlags.TargetPath, "path", "p", "", "target path on the remote server (default: /)")

	return cmd
}

func newTaskListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List active tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRPCClient()
			if err != nil {
				return err
			}
			formatter, err := newFormatter()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			active, err := client.ActiveTasks(ctx)
			if err != nil {
				return err
			}
			return formatter.Tasks(cmd.OutOrStdout(), "Active tasks", active)
		},
	}
}

func newTaskHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished tasks, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRPCClient()
			if err != nil {
				return err
			}
			formatter, err := newFormatter()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			history, err := client.History(ctx)
			if err != nil {
				return err
			}
			if limit > 0 && len(history) > limit {
				history = history[:limit]
			}
			return formatter.Tasks(cmd.OutOrStdout(), "History", history)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many entries (0 = all)")

	return cmd
}

func newTaskShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one task in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRPCClient()
			if err != nil {
				return err
			}
			formatter, err := newFormatter()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			task, err := findTask(ctx, client, args[0])
			if err != nil {
				return err
			}
			return formatter.Task(cmd.OutOrStdout(), task)
		},
	}
}

// taskAction runs one id-based action and returns the message to print and the resulting task id
type taskAction func(ctx context.Context, client *rpc.Client, id string) (string, string, error)

func newTaskActionCommand(use, short string, action taskAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRPCClient()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			id := args[0]
			if len(id) != fullIDLength {
				task, err := findTask(ctx, client, id)
				if err != nil {
					return err
				}
				id = task.ID
			}

			msg, taskID, err := action(ctx, client, id)
			if err != nil {
				return err
			}
			return printResult(cmd, msg, taskID)
		},
	}
}

func cancelTask(ctx context.Context, client *rpc.Client, id string) (string, string, error) {
	if err := client.Cancel(ctx, id); err != nil {
		return "", "", err
	}
	return "Task cancelled: " + id, id, nil
}

func retryTask(ctx context.Context, client *rpc.Client, id string) (string, string, error) {
	newID, err := client.Retry(ctx, id)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("Task %s retried as %s", id, newID), newID, nil
}

func reuploadTask(ctx context.Context, client *rpc.Client, id string) (string, string, error) {
	newID, err := client.Reupload(ctx, id)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("Reupload of %s started: %s", id, newID), newID, nil
}

func transferTask(ctx context.Context, client *rpc.Client, id string) (string, string, error) {
	if err := client.StartTransfer(ctx, id); err != nil {
		return "", "", err
	}
	return "Transfer started: " + id, id, nil
}

// findTask looks a task up in the active list, then in the history.
// ref is either a full id or a unique suffix of one.
func findTask(ctx context.Context, client *rpc.Client, ref string) (models.Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return models.Task{}, &models.ValidationError{Field: "id", Message: "is required"}
	}

	active, err := client.ActiveTasks(ctx)
	if err != nil {
		return models.Task{}, err
	}
	history, err := client.History(ctx)
	if err != nil {
		return models.Task{}, err
	}

	var matches []models.Task
	for _, t := range append(active, history...) {
		if t.ID == ref {
			return t, nil
		}
		if strings.HasSuffix(t.ID, ref) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return models.Task{}, fmt.Errorf("no task matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return models.Task{}, fmt.Errorf("%q matches %d tasks, use a longer id", ref, len(matches))
	}
}

// actionResult is printed for task actions in JSON mode
type actionResult struct {
	Success bool   `json:"success"`
	TaskID  string `json:"taskId,omitempty"`
	Message string `json:"message"`
}

func printResult(cmd *cobra.Command, msg, taskID string) error {
	if globalFlags.Output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(actionResult{Success: true, TaskID: taskID, Message: msg})
	}
	if globalFlags.Quiet {
		return nil
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), msg)
	return err
}

func newRPCClient() (*rpc.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return rpc.NewClient(daemonURL(cfg), &http.Client{}), nil
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, requestTimeout)
}
