// Package rpc is the message API UI surfaces use to drive the task manager.
// Every action is a typed request; Decode and Encode handle the
// {"action": ..., "data": ...} envelope used on the wire.
package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sdejongh/fetchferry/pkg/models"
)

// Action names a request on the wire
type Action string

const (
	ActionStartDownload  Action = "startDownload"
	ActionGetActiveTasks Action = "getActiveTasks"
	ActionGetTaskHistory Action = "getTaskHistory"
	ActionCancelTask     Action = "cancelTask"
	ActionRetryTask      Action = "retryTask"
	ActionReuploadTask   Action = "reuploadTask"
	ActionStartTransfer  Action = "startTransfer"
)

var (
	// ErrUnknownAction is returned when the envelope names no known action
	ErrUnknownAction = errors.New("unknown action")

	// ErrMalformed is returned when a message cannot be decoded
	ErrMalformed = errors.New("malformed message")
)

// Request is implemented only by the request types of this package
type Request interface {
	Action() Action
	validate() error
}

// StartDownload creates a task for a URL
type StartDownload struct {
	URL        string `json:"url"`
	FileName   string `json:"fileName,omitempty"`
	ServerID   string `json:"serverId,omitempty"`
	TargetPath string `json:"targetPath,omitempty"`
}

// GetActiveTasks lists every non-terminal task
type GetActiveTasks struct{}

// GetTaskHistory lists archived tasks, most recent first
type GetTaskHistory struct{}

// CancelTask stops a task
type CancelTask struct {
	TaskID string `json:"taskId"`
}

// RetryTask starts a fresh task from an existing one
type RetryTask struct {
	TaskID string `json:"taskId"`
}

// ReuploadTask downloads and uploads a finished task again
type ReuploadTask struct {
	TaskID string `json:"taskId"`
}

// StartTransfer uploads a download_complete task now
type StartTransfer struct {
	TaskID string `json:"taskId"`
}

func (StartDownload) Action() Action  { return ActionStartDownload }
func (GetActiveTasks) Action() Action { return ActionGetActiveTasks }
func (GetTaskHistory) Action() Action { return ActionGetTaskHistory }
func (CancelTask) Action() Action     { return ActionCancelTask }
func (RetryTask) Action() Action      { return ActionRetryTask }
func (ReuploadTask) Action() Action   { return ActionReuploadTask }
func (StartTransfer) Action() Action  { return ActionStartTransfer }

func (r StartDownload) validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return &models.ValidationError{Field: "url", Message: "is required"}
	}
	return nil
}

func (GetActiveTasks) validate() error { return nil }
func (GetTaskHistory) validate() error { return nil }
func (r CancelTask) validate() error   { return requireTaskID(r.TaskID) }
func (r RetryTask) validate() error    { return requireTaskID(r.TaskID) }
func (r ReuploadTask) validate() error { return requireTaskID(r.TaskID) }
func (r StartTransfer) validate() error {
	return requireTaskID(r.TaskID)
}

func requireTaskID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &models.ValidationError{Field: "taskId", Message: "is required"}
	}
	return nil
}

// Envelope is the wire form of a request
type Envelope struct {
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response is the answer to every action. Only the fields of the action are set.
type Response struct {
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	TaskID  string        `json:"taskId,omitempty"`
	Tasks   []models.Task `json:"tasks,omitempty"`
	History []models.Task `json:"history,omitempty"`
	Message string        `json:"message,omitempty"`
}

// MarshalJSON keeps an empty but present task list as [] instead of dropping it
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	out := struct {
		plain
		Tasks   *[]models.Task `json:"tasks,omitempty"`
		History *[]models.Task `json:"history,omitempty"`
	}{plain: plain(r)}
	if r.Tasks != nil {
		out.Tasks = &r.Tasks
	}
	if r.History != nil {
		out.History = &r.History
	}
	return json.Marshal(out)
}

// Failure builds an unsuccessful response
func Failure(err error) Response {
	return Response{Error: err.Error()}
}

// Decode parses an envelope into its typed request
func Decode(data []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.Request()
}

// Request returns the typed request the envelope carries
func (e Envelope) Request() (Request, error) {
	var req Request
	switch e.Action {
	case ActionStartDownload:
		var r StartDownload
		if err := unmarshalData(e.Data, &r); err != nil {
			return nil, err
		}
		req = r
	case ActionGetActiveTasks:
		req = GetActiveTasks{}
	case ActionGetTaskHistory:
		req = GetTaskHistory{}
	case ActionCancelTask:
		var r CancelTask
		if err := unmarshalData(e.Data, &r); err != nil {
			return nil, err
		}
		req = r
	case ActionRetryTask:
		var r RetryTask
		if err := unmarshalData(e.Data, &r); err != nil {
			return nil, err
		}
		req = r
	case ActionReuploadTask:
		var r ReuploadTask
		if err := unmarshalData(e.Data, &r); err != nil {
			return nil, err
		}
		req = r
	case ActionStartTransfer:
		var r StartTransfer
		if err := unmarshalData(e.Data, &r); err != nil {
			return nil, err
		}
		req = r
	default:
		return nil, ErrUnknownAction
	}

	if err := req.validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Encode wraps a request in its envelope
func Encode(req Request) ([]byte, error) {
	env := Envelope{Action: req.Action()}
	switch req.(type) {
	case GetActiveTasks, GetTaskHistory:
	default:
		data, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", req.Action(), err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

func unmarshalData(data json.RawMessage, out any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
