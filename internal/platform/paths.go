package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ExpandHome replaces a leading ~ with the user's home directory and
// returns an absolute, cleaned path
func ExpandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	return abs, nil
}

// DefaultDownloadDir returns ~/Downloads
func DefaultDownloadDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, "Downloads"), nil
}

// DataDir returns the directory holding fetchferry's persistent state
func DataDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("failed to locate config directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "fetchferry"), nil
}

// BaseName returns the last element of a path written with either separator.
// Download providers may report Windows paths regardless of the host OS.
func BaseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// SanitizeFileName makes name safe to use as a single path element
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(BaseName(name))

	invalid := `/\`
	if runtime.GOOS == "windows" {
		invalid += `<>:"|?*`
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(invalid, r) {
			return '_'
		}
		return r
	}, name)

	if name == "" || name == "." || name == ".." {
		return "download_file"
	}
	return name
}
