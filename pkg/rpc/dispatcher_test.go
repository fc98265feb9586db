package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sdejongh/fetchferry/pkg/models"
	"github.com/sdejongh/fetchferry/pkg/tasks"
)

type fakeManager struct {
	started   []tasks.StartRequest
	startErr  error
	active    []models.Task
	history   []models.Task
	cancelled []string
	err       error
	panics    bool
}

func (m *fakeManager) StartDownload(ctx context.Context, req tasks.StartRequest) (models.Task, error) {
	if m.panics {
		panic("boom")
	}
	m.started = append(m.started, req)
	return models.Task{ID: fmt.Sprintf("task-%d", len(m.started))}, m.startErr
}

func (m *fakeManager) ActiveTasks() []models.Task { return m.active }
func (m *fakeManager) History() []models.Task     { return m.history }

func (m *fakeManager) CancelTask(ctx context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	m.cancelled = append(m.cancelled, id)
	return nil
}

func (m *fakeManager) RetryTask(ctx context.Context, id string) (models.Task, error) {
	if m.err != nil {
		return models.Task{}, m.err
	}
	return models.Task{ID: "retry-of-" + id}, nil
}

func (m *fakeManager) ReuploadTask(ctx context.Context, id string) (models.Task, error) {
	if m.err != nil {
		return models.Task{}, m.err
	}
	return models.Task{ID: "reupload-of-" + id}, nil
}

func (m *fakeManager) StartTransfer(ctx context.Context, id string) error {
	return m.err
}

func TestDispatch_Success(t *testing.T) {
	m := &fakeManager{
		active:  []models.Task{{ID: "a"}},
		history: []models.Task{{ID: "h"}},
	}
	d := NewDispatcher(m, nil)
	ctx := context.Background()

	resp := d.Dispatch(ctx, StartDownload{URL: "https://x/a.zip", FileName: "a.zip", ServerID: "s1", TargetPath: "/up"})
	assert.Equal(t, Response{Success: true, TaskID: "task-1"}, resp)
	assert.Equal(t, []tasks.StartRequest{{URL: "https://x/a.zip", FileName: "a.zip", ServerID: "s1", TargetPath: "/up"}}, m.started)

	resp = d.Dispatch(ctx, GetActiveTasks{})
	assert.True(t, resp.Success)
	assert.Equal(t, m.active, resp.Tasks)

	resp = d.Dispatch(ctx, GetTaskHistory{})
	assert.True(t, resp.Success)
	assert.Equal(t, m.history, resp.History)

	resp = d.Dispatch(ctx, CancelTask{TaskID: "a"})
	assert.Equal(t, Response{Success: true}, resp)
	assert.Equal(t, []string{"a"}, m.cancelled)

	resp = d.Dispatch(ctx, RetryTask{TaskID: "h"})
	assert.Equal(t, Response{Success: true, TaskID: "retry-of-h"}, resp)

	resp = d.Dispatch(ctx, ReuploadTask{TaskID: "h"})
	assert.Equal(t, Response{Success: true, TaskID: "reupload-of-h", Message: messageReuploadStarted}, resp)

	resp = d.Dispatch(ctx, StartTransfer{TaskID: "a"})
	assert.Equal(t, Response{Success: true, Message: messageTransferStarted}, resp)
}

func TestDispatch_EmptyListsAreNotNil(t *testing.T) {
	d := NewDispatcher(&fakeManager{}, nil)

	assert.NotNil(t, d.Dispatch(context.Background(), GetActiveTasks{}).Tasks)
	assert.NotNil(t, d.Dispatch(context.Background(), GetTaskHistory{}).History)
}

func TestDispatch_Failures(t *testing.T) {
	m := &fakeManager{err: tasks.ErrTaskNotFound}
	d := NewDispatcher(m, nil)
	ctx := context.Background()

	for _, req := range []Request{
		CancelTask{TaskID: "x"},
		RetryTask{TaskID: "x"},
		ReuploadTask{TaskID: "x"},
		StartTransfer{TaskID: "x"},
	} {
		resp := d.Dispatch(ctx, req)
		assert.False(t, resp.Success, "%s", req.Action())
		assert.Equal(t, "task not found", resp.Error, "%s", req.Action())
	}
	assert.Empty(t, m.cancelled)
}

func TestDispatch_StartRejectedKeepsTaskID(t *testing.T) {
	m := &fakeManager{startErr: errors.New("failed to start download: blocked")}
	d := NewDispatcher(m, nil)

	resp := d.Dispatch(context.Background(), StartDownload{URL: "https://x/a.zip"})
	assert.False(t, resp.Success)
	assert.Equal(t, "failed to start download: blocked", resp.Error)
	assert.Equal(t, "task-1", resp.TaskID)
}

func TestDispatch_PanicBecomesFailure(t *testing.T) {
	d := NewDispatcher(&fakeManager{panics: true}, nil)

	resp := d.Dispatch(context.Background(), StartDownload{URL: "https://x/a.zip"})
	assert.Equal(t, Response{Error: "internal error"}, resp)
}

func TestHandleMessage(t *testing.T) {
	d := NewDispatcher(&fakeManager{}, nil)
	ctx := context.Background()

	resp := d.HandleMessage(ctx, []byte(`{"action":"nope"}`))
	assert.Equal(t, Response{Error: "unknown action"}, resp)

	resp = d.HandleMessage(ctx, []byte(`{"action":"startDownload","data":{"url":"https://x/a"}}`))
	assert.True(t, resp.Success)
	assert.Equal(t, "task-1", resp.TaskID)

	resp = d.HandleMessage(ctx, []byte(`{"action":"cancelTask","data":{}}`))
	assert.False(t, resp.Success)
	assert.Equal(t, "taskId: is required", resp.Error)
}
