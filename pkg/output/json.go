package output

import (
	"encoding/json"
	"io"
	"time"

	"github.com/sdejongh/fetchferry/pkg/broadcast"
	"github.com/sdejongh/fetchferry/pkg/models"
)

// JSONFormatter formats output as JSON for automation and scripting
type JSONFormatter struct{}

// JSONTaskList is the document printed for a task list
type JSONTaskList struct {
	Title string        `json:"title"`
	Count int           `json:"count"`
	Tasks []models.Task `json:"tasks"`
}

// JSONServerData is a server config as printed; the password never appears
type JSONServerData struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Protocol    string `json:"protocol"`
	Username    string `json:"username,omitempty"`
	DefaultPath string `json:"default_path,omitempty"`
}

// JSONEvent represents a single event in the JSON output stream
type JSONEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Tasks prints the list as one indented document
func (f *JSONFormatter) Tasks(w io.Writer, title string, tasks []models.Task) error {
	if tasks == nil {
		tasks = []models.Task{}
	}
	return writeIndented(w, JSONTaskList{Title: title, Count: len(tasks), Tasks: tasks})
}

// Task prints one task as an indented document
func (f *JSONFormatter) Task(w io.Writer, task models.Task) error {
	return writeIndented(w, task)
}

// Servers prints server configs without credentials
func (f *JSONFormatter) Servers(w io.Writer, servers []models.ServerConfig) error {
	out := make([]JSONServerData, 0, len(servers))
	for _, s := range servers {
		out = append(out, JSONServerData{
			ID:          s.ID,
			Name:        s.Name,
			Host:        s.Host,
			Port:        s.Port,
			Protocol:    s.Protocol,
			Username:    s.Username,
			DefaultPath: s.DefaultPath,
		})
	}
	return writeIndented(w, out)
}

// Event prints one compact JSON line per update
func (f *JSONFormatter) Event(w io.Writer, ev broadcast.Event) error {
	return json.NewEncoder(w).Encode(JSONEvent{
		Timestamp: time.Now().UTC(),
		Type:      ev.Type,
		Data:      ev,
	})
}

// Name returns the formatter name
func (f *JSONFormatter) Name() string {
	return "json"
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
