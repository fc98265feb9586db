package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sdejongh/fetchferry/pkg/config"
	"github.com/sdejongh/fetchferry/pkg/output"
)

// GlobalFlags holds global flag values
type GlobalFlags struct {
	ConfigFile string
	Verbose    bool
	Quiet      bool
	Server     string
	Output     string
}

var globalFlags GlobalFlags

// AddGlobalFlags adds global flags to the root command
func AddGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(
		&globalFlags.ConfigFile,
		"config",
		"",
		"config file (default is $HOME/.config/fetchferry/config.yaml)",
	)
	cmd.PersistentFlags().BoolVarP(
		&globalFlags.Verbose,
		"verbose",
		"v",
		false,
		"verbose output",
	)
	cmd.PersistentFlags().BoolVarP(
		&globalFlags.Quiet,
		"quiet",
		"q",
		false,
		"suppress non-error output",
	)
	cmd.PersistentFlags().StringVar(
		&globalFlags.Server,
		"server",
		"",
		"daemon URL (default is derived from server.listen)",
	)
	cmd.PersistentFlags().StringVarP(
		&globalFlags.Output,
		"output",
		"o",
		"human",
		"output format: human, json",
	)
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() *GlobalFlags {
	return &globalFlags
}

// loadConfig loads configuration from file or returns default
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if globalFlags.ConfigFile != "" {
		cfg, err = config.LoadFromFile(globalFlags.ConfigFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	// Quiet wins over verbose
	switch {
	case globalFlags.Quiet:
		cfg.Logging.Level = "error"
	case globalFlags.Verbose:
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newFormatter returns the formatter selected by --output
func newFormatter() (output.Formatter, error) {
	return output.NewFormatter(globalFlags.Output)
}

// daemonURL returns the base URL CLI commands talk to
func daemonURL(cfg *config.Config) string {
	if globalFlags.Server != "" {
		return strings.TrimRight(globalFlags.Server, "/")
	}
	return "http://" + dialAddress(cfg.Server.Listen)
}

// dialAddress turns a listen address into one a client can connect to
func dialAddress(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// parseBandwidth parses limits such as "512K", "10M" or "1G" into bytes per second.
// Suffixes are binary multiples; an empty string or "0" means unlimited.
func parseBandwidth(s string) (int64, error) {
	raw := s
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "/S"), "B")
	if s == "" {
		return 0, fmt.Errorf("invalid bandwidth limit %q", raw)
	}

	multiplier := int64(1)
	switch s[len(s)-1] {
	case 'K':
		multiplier = 1 << 10
	case 'M':
		multiplier = 1 << 20
	case 'G':
		multiplier = 1 << 30
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid bandwidth limit %q (e.g., \"10M\", \"1G\")", raw)
	}
	return int64(value * float64(multiplier)), nil
}
