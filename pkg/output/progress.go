package output

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/term"

	"github.com/sdejongh/fetchferry/pkg/broadcast"
	"github.com/sdejongh/fetchferry/pkg/models"
)

const (
	// finished tasks stay on screen this long before they scroll away
	lingerTime = 3 * time.Second

	barTemplate = `{{string . "prefix"}} {{counters . }} {{bar . "[" "█" "█" "░" "]"}} {{percent . }} {{string . "suffix"}}`
)

// getMaxDisplayTasks returns maximum number of tasks to show based on OS
// Windows benefits from fewer lines to reduce flicker
func getMaxDisplayTasks() int {
	if runtime.GOOS == "windows" {
		return 5
	}
	return 10
}

// getUpdateInterval returns the redraw interval based on OS
// Windows terminals have higher latency with ANSI sequences, so we use a longer interval
func getUpdateInterval() time.Duration {
	if runtime.GOOS == "windows" {
		return 300 * time.Millisecond
	}
	return 100 * time.Millisecond
}

// taskRow is one task on screen
type taskRow struct {
	task       models.Task
	seq        uint64
	bar        *pb.ProgressBar
	finishedAt time.Time
}

// WatchRenderer draws a live progress bar per task and redraws in place
type WatchRenderer struct {
	writer    io.Writer
	termWidth int
	now       func() time.Time

	mu           sync.Mutex
	rows         map[string]*taskRow
	lastDisplay  time.Time
	displayLines int
	closed       bool
}

// NewWatchRenderer creates a renderer writing to w
func NewWatchRenderer(w io.Writer) *WatchRenderer {
	if w == nil {
		w = os.Stdout
	}
	r := &WatchRenderer{
		writer: w,
		now:    time.Now,
		rows:   make(map[string]*taskRow),
	}

	// Detect terminal width to prevent line wrapping issues
	if file, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(file.Fd())); err == nil && width > 0 {
			r.termWidth = width
		}
	}
	// Default to 120 if we couldn't detect (pipe, redirect, etc.)
	if r.termWidth == 0 {
		r.termWidth = 120
	}
	return r
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// Seed shows the tasks already running when watching starts
func (r *WatchRenderer) Seed(tasks []models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tasks {
		r.applyLocked(t, 0)
	}
	r.render()
	r.lastDisplay = r.now()
}

// Update applies one task update. Snapshots older than the one shown are ignored.
func (r *WatchRenderer) Update(ev broadcast.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	statusChanged := r.applyLocked(ev.Task, ev.Seq)

	// status changes are drawn right away, byte progress is throttled
	now := r.now()
	if statusChanged || now.Sub(r.lastDisplay) > getUpdateInterval() {
		r.render()
		r.lastDisplay = now
	}
}

// Tick redraws and drops finished tasks that lingered long enough
func (r *WatchRenderer) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.render()
	r.lastDisplay = r.now()
}

// Close draws the final frame and restores the cursor
func (r *WatchRenderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.render()
	// Show cursor again (was hidden to prevent flicker)
	fmt.Fprint(r.writer, "\033[?25h\n")
}

// applyLocked records a snapshot and reports whether the status changed
func (r *WatchRenderer) applyLocked(t models.Task, seq uint64) bool {
	row, ok := r.rows[t.ID]
	if ok && seq != 0 && seq <= row.seq {
		return false
	}
	if !ok {
		row = &taskRow{bar: newTaskBar(r.termWidth)}
		r.rows[t.ID] = row
	}

	changed := !ok || row.task.Status != t.Status
	row.task = t
	if seq > row.seq {
		row.seq = seq
	}
	if t.Status.IsTerminal() && row.finishedAt.IsZero() {
		row.finishedAt = r.now()
	}

	row.bar.SetTotal(t.TotalBytes)
	switch {
	case t.Status == models.StatusComplete && t.TotalBytes <= 0:
		row.bar.SetTotal(t.DownloadedBytes)
		row.bar.SetCurrent(t.DownloadedBytes)
	default:
		row.bar.SetCurrent(t.DownloadedBytes)
	}
	row.bar.Set("prefix", fmt.Sprintf("%s %-24s", statusIcon(t.Status), truncate(displayName(t), 24)))
	row.bar.Set("suffix", rowSuffix(t))
	return changed
}

func newTaskBar(width int) *pb.ProgressBar {
	bar := pb.New64(0)
	bar.Set(pb.Bytes, true)
	bar.Set(pb.Static, true)
	bar.Set(pb.Terminal, false)
	bar.SetWidth(width)
	bar.SetTemplateString(barTemplate)
	return bar.Start()
}

func rowSuffix(t models.Task) string {
	switch t.Status {
	case models.StatusTransferring:
		return "uploading to " + t.ServerID
	case models.StatusFailed:
		return "failed: " + t.Error
	case models.StatusDownloadComplete:
		if t.HasServer() {
			return "upload queued"
		}
	}
	return string(t.Status)
}

// render displays the current state
func (r *WatchRenderer) render() {
	// Subsequent renders move up and clear each line individually
	var escapeSeq strings.Builder
	escapeSeq.WriteString("\033[?25l") // Hide cursor
	for i := 0; i < r.displayLines; i++ {
		escapeSeq.WriteString("\033[1A") // Move up one line
		escapeSeq.WriteString("\033[2K") // Clear entire line
	}
	escapeSeq.WriteString("\r")
	fmt.Fprint(r.writer, escapeSeq.String())

	r.renderContent()
}

// renderContent writes every visible row at once to minimize flicker
func (r *WatchRenderer) renderContent() {
	now := r.now()
	for id, row := range r.rows {
		if !row.finishedAt.IsZero() && now.Sub(row.finishedAt) > lingerTime {
			delete(r.rows, id)
		}
	}

	rows := make([]*taskRow, 0, len(r.rows))
	for _, row := range r.rows {
		rows = append(rows, row)
	}
	// Oldest first, matching the daemon's ordering
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].task.StartTime, rows[j].task.StartTime
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return rows[i].task.ID < rows[j].task.ID
	})

	var content strings.Builder
	lines := 0
	active := 0
	for _, row := range rows {
		if !row.task.Status.IsTerminal() {
			active++
		}
	}

	header := fmt.Sprintf("Tasks: %d active", active)
	content.WriteString(r.truncateLine(header) + "\n")
	lines++

	maxRows := getMaxDisplayTasks()
	for i, row := range rows {
		if i >= maxRows {
			content.WriteString(fmt.Sprintf("  ... and %d more\n", len(rows)-maxRows))
			lines++
			break
		}
		content.WriteString(r.truncateLine(row.bar.String()) + "\n")
		lines++
	}

	r.displayLines = lines
	fmt.Fprint(r.writer, content.String())
}

// truncateLine ensures a line doesn't exceed terminal width
func (r *WatchRenderer) truncateLine(line string) string {
	runes := []rune(line)
	if len(runes) > r.termWidth {
		return string(runes[:r.termWidth-3]) + "..."
	}
	return line
}
