package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/fetchferry/pkg/broadcast"
	"github.com/sdejongh/fetchferry/pkg/models"
	"github.com/sdejongh/fetchferry/pkg/rpc"
	"github.com/sdejongh/fetchferry/pkg/tasks"
)

type stubManager struct {
	active []models.Task
}

func (m *stubManager) StartDownload(ctx context.Context, req tasks.StartRequest) (models.Task, error) {
	return models.Task{ID: "t1", SourceURL: req.URL}, nil
}
func (m *stubManager) ActiveTasks() []models.Task { return m.active }
func (m *stubManager) History() []models.Task     { return nil }
func (m *stubManager) CancelTask(ctx context.Context, id string) error {
	return tasks.ErrTaskNotFound
}
func (m *stubManager) RetryTask(ctx context.Context, id string) (models.Task, error) {
	return models.Task{}, tasks.ErrTaskNotFound
}
func (m *stubManager) ReuploadTask(ctx context.Context, id string) (models.Task, error) {
	return models.Task{}, tasks.ErrTaskNotFound
}
func (m *stubManager) StartTransfer(ctx context.Context, id string) error {
	return tasks.ErrTaskNotFound
}

func newTestServer(t *testing.T) (*Server, *broadcast.Hub) {
	t.Helper()
	hub := broadcast.NewHub(8)
	m := &stubManager{active: []models.Task{{ID: "a", Status: models.StatusDownloading}}}
	stats := func() map[models.TaskStatus]int {
		return map[models.TaskStatus]int{models.StatusDownloading: 2, models.StatusComplete: 5}
	}
	s := New(Options{
		Listen:         "127.0.0.1:0",
		AllowedOrigins: []string{"chrome-extension://abc"},
		Heartbeat:      50 * time.Millisecond,
	}, rpc.NewDispatcher(m, nil), hub, stats, nil)
	return s, hub
}

func postRPC(t *testing.T, h http.Handler, body string) rpc.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, rpc.RPCPath, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp rpc.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRPC(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	resp := postRPC(t, h, `{"action":"startDownload","data":{"url":"https://x/a.zip"}}`)
	assert.True(t, resp.Success)
	assert.Equal(t, "t1", resp.TaskID)

	resp = postRPC(t, h, `{"action":"getActiveTasks"}`)
	assert.True(t, resp.Success)
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, "a", resp.Tasks[0].ID)

	resp = postRPC(t, h, `{"action":"cancelTask","data":{"taskId":"zzz"}}`)
	assert.False(t, resp.Success)
	assert.Equal(t, "task not found", resp.Error)

	resp = postRPC(t, h, `{"action":"launchRockets"}`)
	assert.Equal(t, rpc.Response{Error: "unknown action"}, resp)
}

func TestRPC_OversizedBody(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"action":"startDownload","data":{"url":"` + strings.Repeat("a", maxMessageSize) + `"}}`
	req := httptest.NewRequest(http.MethodPost, rpc.RPCPath, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRPC_WrongMethod(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, rpc.RPCPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.ActiveTasks)
	assert.Equal(t, 5, resp.Tasks[models.StatusComplete])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fetchferry_http_requests_total{method="GET",path="/healthz",status="200"}`)
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodOptions, rpc.RPCPath, nil)
	req.Header.Set("Origin", "chrome-extension://abc")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "chrome-extension://abc", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestEvents_StreamsTaskUpdates(t *testing.T) {
	s, hub := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := rpc.NewClient(srv.URL, nil).Events(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.Notify("t1", models.Task{ID: "t1", Status: models.StatusDownloading})
	hub.Notify("t1", models.Task{ID: "t1", Status: models.StatusComplete})

	first := <-events
	second := <-events
	assert.Equal(t, models.StatusDownloading, first.Task.Status)
	assert.Equal(t, models.StatusComplete, second.Task.Status)
	assert.Less(t, first.Seq, second.Seq)

	cancel()
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestEvents_Heartbeat(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+rpc.EventsPath, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 0, 256)
	chunk := make([]byte, 64)
	for !strings.Contains(string(buf), ": heartbeat") {
		n, err := resp.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Contains(t, string(buf), ": connected")
	assert.Contains(t, string(buf), ": heartbeat")
}

func TestServe_ShutdownEndsStreams(t *testing.T) {
	s, hub := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	events, err := rpc.NewClient("http://"+ln.Addr().String(), nil).Events(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}

	for range events {
	}
}
