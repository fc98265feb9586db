package platform

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBaseName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/home/u/Downloads/fetchferry/file (1).zip", "file (1).zip"},
		{`C:\Users\u\Downloads\report.pdf`, "report.pdf"},
		{"plain.txt", "plain.txt"},
		{"dir/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := BaseName(tt.input); got != tt.expected {
				t.Errorf("BaseName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"file.zip", "file.zip"},
		{"../../etc/passwd", "passwd"},
		{"  spaced.txt  ", "spaced.txt"},
		{"..", "download_file"},
		{"", "download_file"},
		{"tab\there", "tab_here"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := SanitizeFileName(tt.input); got != tt.expected {
				t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	got, err := ExpandHome("~/Downloads")
	if err != nil {
		t.Fatalf("ExpandHome() error = %v", err)
	}
	if got != filepath.Join(home, "Downloads") {
		t.Errorf("ExpandHome(~/Downloads) = %q", got)
	}

	abs, err := ExpandHome("relative/dir")
	if err != nil {
		t.Fatalf("ExpandHome() error = %v", err)
	}
	if !filepath.IsAbs(abs) {
		t.Errorf("ExpandHome should return an absolute path, got %q", abs)
	}
}
