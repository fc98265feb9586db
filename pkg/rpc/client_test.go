package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/fetchferry/pkg/broadcast"
	"github.com/sdejongh/fetchferry/pkg/models"
	"github.com/sdejongh/fetchferry/pkg/tasks"
)

func newRPCServer(t *testing.T, m Manager) *httptest.Server {
	t.Helper()
	d := NewDispatcher(m, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+RPCPath, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.HandleMessage(r.Context(), body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Calls(t *testing.T) {
	m := &fakeManager{active: []models.Task{{ID: "a", Status: models.StatusDownloading}}}
	c := NewClient(newRPCServer(t, m).URL+"/", nil)
	ctx := context.Background()

	id, err := c.StartDownload(ctx, StartDownload{URL: "https://x/a.zip", ServerID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	assert.Equal(t, "s1", m.started[0].ServerID)

	active, err := c.ActiveTasks(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.StatusDownloading, active[0].Status)

	history, err := c.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, c.Cancel(ctx, "a"))
	assert.Equal(t, []string{"a"}, m.cancelled)

	id, err = c.Retry(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "retry-of-a", id)
}

func TestClient_UnsuccessfulResponse(t *testing.T) {
	m := &fakeManager{err: tasks.ErrTaskNotFound}
	c := NewClient(newRPCServer(t, m).URL, nil)

	err := c.Cancel(context.Background(), "missing")
	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, "task not found", respErr.Message)
}

func TestClient_DaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, nil).ActiveTasks(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach daemon")
}

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		": connected",
		"",
		"event: taskUpdate",
		`data: {"type":"taskUpdate","taskId":"t1","task":{"id":"t1","status":"downloading"},"seq":1}`,
		"",
		"event: other",
		`data: {"taskId":"ignored"}`,
		"",
		": heartbeat",
		"",
		"event: taskUpdate",
		`data: {"type":"taskUpdate","taskId":"t1","task":{"id":"t1","status":"complete"},"seq":2}`,
		"",
		"",
	}, "\n")

	out := make(chan broadcast.Event, 8)
	require.NoError(t, readEvents(context.Background(), strings.NewReader(stream), out))
	close(out)

	var got []broadcast.Event
	for ev := range out {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, models.StatusDownloading, got[0].Task.Status)
	assert.Equal(t, models.StatusComplete, got[1].Task.Status)
}

func TestReadEvents_UnterminatedEventDropped(t *testing.T) {
	stream := "event: taskUpdate\n" +
		`data: {"type":"taskUpdate","taskId":"t1","task":{"id":"t1","status":"downloading"},"seq":1}` + "\n\n" +
		"event: taskUpdate\n" +
		`data: {"type":"taskUpdate","taskId":"t1","task":{"id":"t1","status":"complete"},"seq":2}` + "\n"

	out := make(chan broadcast.Event, 8)
	require.NoError(t, readEvents(context.Background(), strings.NewReader(stream), out))
	close(out)

	var got []broadcast.Event
	for ev := range out {
		got = append(got, ev)
	}
	require.Len(t, got, 1, "an event without its closing blank line is never dispatched")
	assert.Equal(t, uint64(1), got[0].Seq)
}

func TestClient_Events(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		ev := broadcast.Event{Type: broadcast.EventTaskUpdate, TaskID: "t1", Task: models.Task{ID: "t1"}, Seq: 7}
		data, _ := json.Marshal(ev)
		_, _ = w.Write([]byte("event: taskUpdate\ndata: " + string(data) + "\n\n"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := NewClient(srv.URL, nil).Events(ctx)
	require.NoError(t, err)

	ev, ok := <-events
	require.True(t, ok)
	assert.Equal(t, "t1", ev.TaskID)
	assert.Equal(t, uint64(7), ev.Seq)

	_, ok = <-events
	assert.False(t, ok, "channel closes when the stream ends")
}
