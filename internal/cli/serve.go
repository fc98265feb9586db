package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sdejongh/fetchferry/internal/platform"
	"github.com/sdejongh/fetchferry/internal/server"
	"github.com/sdejongh/fetchferry/pkg/broadcast"
	"github.com/sdejongh/fetchferry/pkg/config"
	"github.com/sdejongh/fetchferry/pkg/download"
	"github.com/sdejongh/fetchferry/pkg/logging"
	"github.com/sdejongh/fetchferry/pkg/ratelimit"
	"github.com/sdejongh/fetchferry/pkg/remote"
	"github.com/sdejongh/fetchferry/pkg/rpc"
	"github.com/sdejongh/fetchferry/pkg/store"
	"github.com/sdejongh/fetchferry/pkg/tasks"
)

// subscriberBuffer is the number of updates queued per event stream listener
const subscriberBuffer = 64

// firstRunDefaults are written once to a fresh store; existing keys are left alone
var firstRunDefaults = map[string]any{
	"settings": map[string]any{
		"autoDetect":        true,
		"showNotifications": true,
		"theme":             "light",
	},
}

// ServeFlags holds serve command flags
type ServeFlags struct {
	Listen      string
	DownloadDir string
	Bandwidth   string
	RemoteURL   string
	// Logging flags
	LogFile   string
	LogFormat string
	LogLevel  string
}

var serveFlags ServeFlags

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download and transfer daemon",
		Long: `Run the fetchferry daemon. It accepts download requests on the local
message API, tracks every task, uploads finished downloads to the configured
remote server and streams task updates to connected listeners.`,
		RunE: runServe,
	}

	cmd.Flags().StringVarP(&serveFlags.Listen, "listen", "l", "", "listen address (overrides server.listen)")
	cmd.Flags().StringVar(&serveFlags.DownloadDir, "download-dir", "", "download directory (overrides download.directory)")
	cmd.Flags().StringVarP(&serveFlags.Bandwidth, "bandwidth", "b", "", "bandwidth limit (e.g., \"10M\", \"1G\")")
	cmd.Flags().StringVar(&serveFlags.RemoteURL, "remote", "", "remote API base URL (overrides remote.base_url)")

	// Logging flags
	cmd.Flags().StringVar(&serveFlags.LogFile, "log-file", "", "write logs to file instead of stderr")
	cmd.Flags().StringVar(&serveFlags.LogFormat, "log-format", "", "log format: text, json")
	cmd.Flags().StringVar(&serveFlags.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyServeFlags(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := createLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// applyServeFlags overrides config values with command-line flags
func applyServeFlags(cfg *config.Config) error {
	if serveFlags.Listen != "" {
		cfg.Server.Listen = serveFlags.Listen
	}
	if serveFlags.DownloadDir != "" {
		cfg.Download.Directory = serveFlags.DownloadDir
	}
	if serveFlags.Bandwidth != "" {
		limit, err := parseBandwidth(serveFlags.Bandwidth)
		if err != nil {
			return err
		}
		cfg.Download.BandwidthLimit = limit
	}
	if serveFlags.RemoteURL != "" {
		cfg.Remote.BaseURL = serveFlags.RemoteURL
	}
	if serveFlags.LogFile != "" {
		cfg.Logging.File = serveFlags.LogFile
	}
	if serveFlags.LogFormat != "" {
		cfg.Logging.Format = serveFlags.LogFormat
	}
	if serveFlags.LogLevel != "" {
		cfg.Logging.Level = serveFlags.LogLevel
	}
	return nil
}

// createLogger creates a file logger when a log file is configured, a stderr logger otherwise
func createLogger(cfg config.LoggingConfig) (logging.Logger, error) {
	format := logging.ParseFormat(cfg.Format)
	level := logging.ParseLevel(cfg.Level)

	if cfg.File == "" {
		return logging.NewWriterLogger(os.Stderr, format, level), nil
	}

	path, err := platform.ExpandHome(cfg.File)
	if err != nil {
		return nil, err
	}
	return logging.NewFileLogger(logging.FileLoggerConfig{
		Path:       path,
		Format:     format,
		Level:      level,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
	})
}

// serve wires every component and blocks until ctx is cancelled
func serve(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	storePath, err := cfg.StorePath()
	if err != nil {
		return err
	}
	st, err := store.Open(storePath)
	if err != nil {
		return err
	}
	if err := store.EnsureDefaults(ctx, st, firstRunDefaults); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	downloadDir, err := cfg.DownloadDir()
	if err != nil {
		return err
	}
	provider := download.NewHTTPProvider(download.HTTPConfig{
		Dir:              downloadDir,
		Limiter:          ratelimit.NewLimiter(cfg.Download.BandwidthLimit),
		ProgressInterval: cfg.Download.ProgressInterval,
		UserAgent:        cfg.Download.UserAgent,
	}, logger.WithFields(logging.Fields{"component": "download"}))
	defer provider.Close()

	remoteClient, err := remote.NewClient(remote.Config{
		BaseURL:   cfg.Remote.BaseURL,
		Timeout:   cfg.Remote.Timeout,
		CacheSize: cfg.Remote.CacheSize,
		CacheTTL:  cfg.Remote.CacheTTL,
	}, &http.Client{}, logger.WithFields(logging.Fields{"component": "remote"}))
	if err != nil {
		return err
	}

	hub := broadcast.NewHub(subscriberBuffer)
	manager := tasks.NewManager(provider, remoteClient, st, hub,
		logger.WithFields(logging.Fields{"component": "tasks"}),
		tasks.Options{
			HistoryLimit:         cfg.Tasks.HistoryLimit,
			FilenameRefreshDelay: cfg.Tasks.FilenameRefreshDelay,
			TransferDelay:        cfg.Tasks.TransferDelay,
			Subdirectory:         cfg.Download.Subdirectory,
		})
	if err := manager.Init(ctx); err != nil {
		return fmt.Errorf("failed to load task history: %w", err)
	}

	dispatcher := rpc.NewDispatcher(manager, logger.WithFields(logging.Fields{"component": "rpc"}))
	srv := server.New(server.Options{
		Listen:          cfg.Server.Listen,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, dispatcher, hub, manager.Stats, logger.WithFields(logging.Fields{"component": "http"}))

	logger.Info(ctx, "fetchferry daemon starting", logging.Fields{
		"listen":       cfg.Server.Listen,
		"download_dir": downloadDir,
		"store":        storePath,
		"remote":       cfg.Remote.BaseURL,
		"version":      Version,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		logger.Error(ctx, "fetchferry daemon stopped", err, nil)
		return err
	}
	logger.Info(context.Background(), "fetchferry daemon stopped", nil)
	return nil
}
