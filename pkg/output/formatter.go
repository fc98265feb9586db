package output

import (
	"fmt"
	"io"

	"github.com/sdejongh/fetchferry/pkg/broadcast"
	"github.com/sdejongh/fetchferry/pkg/models"
)

// Formatter defines the interface for output formatting
// Implementations include human-readable and JSON formatters
type Formatter interface {
	// Tasks prints a list of tasks under a title
	Tasks(w io.Writer, title string, tasks []models.Task) error

	// Task prints a single task in detail
	Task(w io.Writer, task models.Task) error

	// Servers prints remote server configs (never their passwords)
	Servers(w io.Writer, servers []models.ServerConfig) error

	// Event prints one task update as a single line
	Event(w io.Writer, ev broadcast.Event) error

	// Name returns the formatter name
	Name() string
}

// NewFormatter returns the formatter registered under name
func NewFormatter(name string) (Formatter, error) {
	switch name {
	case "", "human":
		return NewHumanFormatter(), nil
	case "json":
		return NewJSONFormatter(), nil
	default:
		return nil, &models.ValidationError{
			Field:   "output",
			Message: fmt.Sprintf("unknown format %q (use 'human' or 'json')", name),
		}
	}
}
