package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sdejongh/fetchferry/pkg/broadcast"
	"github.com/sdejongh/fetchferry/pkg/models"
)

const (
	// RPCPath accepts one envelope per POST
	RPCPath = "/rpc"
	// EventsPath streams task updates as server-sent events
	EventsPath = "/events"
)

// maxEventLine bounds one SSE data line; a task snapshot is far smaller
const maxEventLine = 1 << 20

// ResponseError is an unsuccessful response returned by the daemon
type ResponseError struct {
	Message string
}

func (e *ResponseError) Error() string {
	return e.Message
}

// Client calls a running daemon over HTTP
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the daemon listening at baseURL
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Call sends one request. An unsuccessful response is returned together
// with a *ResponseError.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	body, err := Encode(req)
	if err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+RPCPath, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("invalid response from daemon (status %d): %w", resp.StatusCode, err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("request failed with status %d", resp.StatusCode)
		}
		return out, &ResponseError{Message: msg}
	}
	return out, nil
}

// StartDownload creates a task and returns its id
func (c *Client) StartDownload(ctx context.Context, req StartDownload) (string, error) {
	resp, err := c.Call(ctx, req)
	return resp.TaskID, err
}

// ActiveTasks lists non-terminal tasks
func (c *Client) ActiveTasks(ctx context.Context) ([]models.Task, error) {
	resp, err := c.Call(ctx, GetActiveTasks{})
	return resp.Tasks, err
}

// History lists archived tasks
func (c *Client) History(ctx context.Context) ([]models.Task, error) {
	resp, err := c.Call(ctx, GetTaskHistory{})
	return resp.History, err
}

// Cancel stops a task
func (c *Client) Cancel(ctx context.Context, taskID string) error {
	_, err := c.Call(ctx, CancelTask{TaskID: taskID})
	return err
}

// Retry starts a fresh task and returns its id
func (c *Client) Retry(ctx context.Context, taskID string) (string, error) {
	resp, err := c.Call(ctx, RetryTask{TaskID: taskID})
	return resp.TaskID, err
}

// Reupload starts a reupload task and returns its id
func (c *Client) Reupload(ctx context.Context, taskID string) (string, error) {
	resp, err := c.Call(ctx, ReuploadTask{TaskID: taskID})
	return resp.TaskID, err
}

// StartTransfer triggers the upload of a download_complete task
func (c *Client) StartTransfer(ctx context.Context, taskID string) error {
	_, err := c.Call(ctx, StartTransfer{TaskID: taskID})
	return err
}

// Events subscribes to task updates. The channel is closed when the stream
// ends or ctx is done.
func (c *Client) Events(ctx context.Context) (<-chan broadcast.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+EventsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach daemon: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream responded with status %d", resp.StatusCode)
	}

	out := make(chan broadcast.Event, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		_ = readEvents(ctx, resp.Body, out)
	}()
	return out, nil
}

// readEvents parses a server-sent event stream until it ends
func readEvents(ctx context.Context, r io.Reader, out chan<- broadcast.Event) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	var (
		name string
		data strings.Builder
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 && (name == "" || name == broadcast.EventTaskUpdate) {
				var ev broadcast.Event
				if err := json.Unmarshal([]byte(data.String()), &ev); err == nil {
					select {
					case out <- ev:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
