package output

import (
	"fmt"
	"io"
	"time"

	"github.com/sdejongh/fetchferry/pkg/broadcast"
	"github.com/sdejongh/fetchferry/pkg/models"
)

const (
	idWidth   = 8
	nameWidth = 40
)

// HumanFormatter formats output in human-readable format
type HumanFormatter struct{}

// NewHumanFormatter creates a new human-readable formatter
func NewHumanFormatter() *HumanFormatter {
	return &HumanFormatter{}
}

// Tasks prints one aligned row per task
func (f *HumanFormatter) Tasks(w io.Writer, title string, tasks []models.Task) error {
	fmt.Fprintf(w, "%s (%d)\n", title, len(tasks))
	if len(tasks) == 0 {
		return nil
	}

	fmt.Fprintf(w, "%-*s  %-17s  %7s  %-*s  %s\n", idWidth, "ID", "STATUS", "DONE", nameWidth, "FILE", "DETAIL")
	for _, t := range tasks {
		fmt.Fprintf(w, "%-*s  %s %-15s  %7s  %-*s  %s\n",
			idWidth, shortID(t.ID),
			statusIcon(t.Status), t.Status,
			progressText(t),
			nameWidth, truncate(displayName(t), nameWidth),
			detail(t),
		)
	}
	return nil
}

// Task prints every field worth showing for one task
func (f *HumanFormatter) Task(w io.Writer, t models.Task) error {
	fmt.Fprintf(w, "Task %s\n", t.ID)
	fmt.Fprintf(w, "  Status:      %s %s\n", statusIcon(t.Status), t.Status)
	fmt.Fprintf(w, "  File:        %s\n", displayName(t))
	if t.OriginalFileName != "" && t.OriginalFileName != displayName(t) {
		fmt.Fprintf(w, "  Requested:   %s\n", t.OriginalFileName)
	}
	fmt.Fprintf(w, "  Source:      %s\n", t.SourceURL)
	if t.HasServer() {
		fmt.Fprintf(w, "  Upload to:   %s:%s\n", t.ServerID, t.TargetPath)
	} else {
		fmt.Fprintf(w, "  Upload to:   (download only)\n")
	}
	fmt.Fprintf(w, "  Downloaded:  %s / %s\n", formatBytes(t.DownloadedBytes), totalText(t.TotalBytes))
	if t.TransferredBytes > 0 {
		fmt.Fprintf(w, "  Uploaded:    %s\n", formatBytes(t.TransferredBytes))
	}
	printTime(w, "Started:", t.StartTime)
	printTime(w, "Fetched:", t.DownloadCompleteTime)
	printTime(w, "Upload:", t.UploadStartTime)
	printTime(w, "Finished:", t.CompleteTime)
	if t.StartTime != nil && t.CompleteTime != nil {
		fmt.Fprintf(w, "  Duration:    %s\n", formatDuration(t.CompleteTime.Sub(*t.StartTime)))
	}
	if t.IsReupload {
		fmt.Fprintf(w, "  Reupload of: %s\n", t.OriginalTaskID)
	}
	if t.Error != "" {
		stage := "download"
		if t.FailedDuringUpload() {
			stage = "upload"
		}
		fmt.Fprintf(w, "  Error:       %s (during %s)\n", t.Error, stage)
	}
	return nil
}

// Servers prints one row per server config
func (f *HumanFormatter) Servers(w io.Writer, servers []models.ServerConfig) error {
	fmt.Fprintf(w, "Servers (%d)\n", len(servers))
	if len(servers) == 0 {
		return nil
	}
	fmt.Fprintf(w, "%-20s  %-20s  %-8s  %-30s  %s\n", "ID", "NAME", "PROTOCOL", "ADDRESS", "DEFAULT PATH")
	for _, s := range servers {
		fmt.Fprintf(w, "%-20s  %-20s  %-8s  %-30s  %s\n",
			truncate(s.ID, 20), truncate(s.Name, 20), s.Protocol,
			truncate(fmt.Sprintf("%s:%d", s.Host, s.Port), 30), s.DefaultPath)
	}
	return nil
}

// Event prints one task update
func (f *HumanFormatter) Event(w io.Writer, ev broadcast.Event) error {
	t := ev.Task
	_, err := fmt.Fprintf(w, "%s %s %s %-15s %s %s\n",
		time.Now().Format("15:04:05"),
		shortID(t.ID),
		statusIcon(t.Status), t.Status,
		displayName(t),
		detail(t),
	)
	return err
}

// Name returns the formatter name
func (f *HumanFormatter) Name() string {
	return "human"
}

func printTime(w io.Writer, label string, ts *time.Time) {
	if ts == nil {
		return
	}
	fmt.Fprintf(w, "  %-12s %s\n", label, ts.Local().Format(time.DateTime))
}

func displayName(t models.Task) string {
	if t.ActualFileName != "" {
		return t.ActualFileName
	}
	return t.FileName
}

func shortID(id string) string {
	if len(id) <= idWidth {
		return id
	}
	// UUIDv7 ids share their time prefix; the tail tells tasks apart
	return id[len(id)-idWidth:]
}

func progressText(t models.Task) string {
	switch {
	case t.Status == models.StatusComplete:
		return "100%"
	case t.TotalBytes > 0:
		return fmt.Sprintf("%.0f%%", t.Progress()*100)
	case t.DownloadedBytes > 0:
		return formatBytes(t.DownloadedBytes)
	default:
		return "-"
	}
}

func detail(t models.Task) string {
	if t.Error != "" {
		return t.Error
	}
	if t.HasServer() {
		return "-> " + t.ServerID + ":" + t.TargetPath
	}
	return ""
}

func totalText(total int64) string {
	if total <= 0 {
		return "?"
	}
	return formatBytes(total)
}

func statusIcon(s models.TaskStatus) string {
	switch s {
	case models.StatusPending:
		return "…"
	case models.StatusDownloading:
		return "↓"
	case models.StatusDownloadComplete:
		return "■"
	case models.StatusTransferring:
		return "↑"
	case models.StatusComplete:
		return "✓"
	case models.StatusFailed:
		return "✗"
	case models.StatusCancelled:
		return "-"
	default:
		return "?"
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// formatBytes formats bytes in human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats duration in human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
