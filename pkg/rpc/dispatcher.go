package rpc

import (
	"context"
	"fmt"

	"github.com/sdejongh/fetchferry/pkg/logging"
	"github.com/sdejongh/fetchferry/pkg/models"
	"github.com/sdejongh/fetchferry/pkg/tasks"
)

const (
	messageReuploadStarted = "reupload started"
	messageTransferStarted = "transfer started"
)

// Manager is the task manager surface the dispatcher drives
type Manager interface {
	StartDownload(ctx context.Context, req tasks.StartRequest) (models.Task, error)
	ActiveTasks() []models.Task
	History() []models.Task
	CancelTask(ctx context.Context, id string) error
	RetryTask(ctx context.Context, id string) (models.Task, error)
	ReuploadTask(ctx context.Context, id string) (models.Task, error)
	StartTransfer(ctx context.Context, id string) error
}

// Dispatcher turns requests into manager calls. It never returns an error:
// every failure becomes an unsuccessful Response.
type Dispatcher struct {
	manager Manager
	logger  logging.Logger
}

// NewDispatcher creates a dispatcher over m
func NewDispatcher(m Manager, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Dispatcher{manager: m, logger: logger}
}

// HandleMessage decodes a wire message and dispatches it
func (d *Dispatcher) HandleMessage(ctx context.Context, data []byte) Response {
	req, err := Decode(data)
	if err != nil {
		d.logger.Debug(ctx, "rejected message", logging.Fields{"error": err.Error()})
		return Failure(err)
	}
	return d.Dispatch(ctx, req)
}

// Dispatch runs one request
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(ctx, "request handler panicked", fmt.Errorf("%v", r), logging.Fields{
				"action": string(req.Action()),
			})
			resp = Response{Error: "internal error"}
		}
	}()

	switch r := req.(type) {
	case StartDownload:
		task, err := d.manager.StartDownload(ctx, tasks.StartRequest{
			URL:        r.URL,
			FileName:   r.FileName,
			ServerID:   r.ServerID,
			TargetPath: r.TargetPath,
		})
		if err != nil {
			resp = Failure(err)
			resp.TaskID = task.ID
			return resp
		}
		return Response{Success: true, TaskID: task.ID}

	case GetActiveTasks:
		return Response{Success: true, Tasks: nonNil(d.manager.ActiveTasks())}

	case GetTaskHistory:
		return Response{Success: true, History: nonNil(d.manager.History())}

	case CancelTask:
		if err := d.manager.CancelTask(ctx, r.TaskID); err != nil {
			return Failure(err)
		}
		return Response{Success: true}

	case RetryTask:
		task, err := d.manager.RetryTask(ctx, r.TaskID)
		if err != nil {
			resp = Failure(err)
			resp.TaskID = task.ID
			return resp
		}
		return Response{Success: true, TaskID: task.ID}

	case ReuploadTask:
		task, err := d.manager.ReuploadTask(ctx, r.TaskID)
		if err != nil {
			resp = Failure(err)
			resp.TaskID = task.ID
			return resp
		}
		return Response{Success: true, TaskID: task.ID, Message: messageReuploadStarted}

	case StartTransfer:
		if err := d.manager.StartTransfer(ctx, r.TaskID); err != nil {
			return Failure(err)
		}
		return Response{Success: true, Message: messageTransferStarted}

	default:
		return Failure(ErrUnknownAction)
	}
}

func nonNil(list []models.Task) []models.Task {
	if list == nil {
		return []models.Task{}
	}
	return list
}
