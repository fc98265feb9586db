package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sdejongh/fetchferry/pkg/download"
	"github.com/sdejongh/fetchferry/pkg/models"
	"github.com/sdejongh/fetchferry/pkg/remote"
)

type fakeProvider struct {
	mu        sync.Mutex
	next      int
	startErr  error
	onStart   func(id download.ID, url string)
	suggested []string
	cancelled []download.ID
	items     map[download.ID]download.Item
	events    chan download.Delta
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		items:  make(map[download.ID]download.Item),
		events: make(chan download.Delta, 64),
	}
}

func (p *fakeProvider) Start(ctx context.Context, url, suggestedPath string) (download.ID, error) {
	p.mu.Lock()
	if p.startErr != nil {
		err := p.startErr
		p.mu.Unlock()
		return "", err
	}
	p.next++
	id := download.ID(fmt.Sprintf("d%d", p.next))
	p.suggested = append(p.suggested, suggestedPath)
	p.items[id] = download.Item{
		ID:       id,
		URL:      url,
		Filename: "/dl/" + suggestedPath,
		State:    download.StateInProgress,
	}
	hook := p.onStart
	p.mu.Unlock()

	if hook != nil {
		hook(id, url)
	}
	return id, nil
}

func (p *fakeProvider) Events() <-chan download.Delta {
	return p.events
}

func (p *fakeProvider) Cancel(ctx context.Context, id download.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.items[id]; !ok {
		return download.ErrUnknownDownload
	}
	p.cancelled = append(p.cancelled, id)
	return nil
}

func (p *fakeProvider) Query(ctx context.Context, id download.ID) (download.Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[id]
	if !ok {
		return download.Item{}, download.ErrUnknownDownload
	}
	return item, nil
}

func (p *fakeProvider) setFilename(id download.ID, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item := p.items[id]
	item.Filename = path
	p.items[id] = item
}

func (p *fakeProvider) cancelledIDs() []download.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]download.ID(nil), p.cancelled...)
}

type uploadCall struct {
	localPath, serverID, targetPath string
}

type fakeRemote struct {
	mu        sync.Mutex
	configs   map[string]models.ServerConfig
	uploadErr error
	block     bool
	started   chan struct{}
	uploads   []uploadCall
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		configs: map[string]models.ServerConfig{
			"srv1": {ID: "srv1", Name: "nas", Host: "10.0.0.2", Port: 22, Protocol: "sftp"},
		},
		started: make(chan struct{}, 8),
	}
}

func (r *fakeRemote) GetServerConfig(ctx context.Context, id string) (models.ServerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[id]
	if !ok {
		return models.ServerConfig{}, remote.ErrServerNotFound
	}
	return cfg, nil
}

func (r *fakeRemote) Upload(ctx context.Context, localPath, serverID, targetPath string) error {
	r.mu.Lock()
	r.uploads = append(r.uploads, uploadCall{localPath, serverID, targetPath})
	block, err := r.block, r.uploadErr
	r.mu.Unlock()

	if block {
		r.started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (r *fakeRemote) calls() []uploadCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uploadCall(nil), r.uploads...)
}

type memStore struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
	getErr error
	setErr error
	sets   int
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]json.RawMessage)}
}

func (s *memStore) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	out := make(map[string]json.RawMessage)
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *memStore) Set(ctx context.Context, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		s.values[k] = data
	}
	return nil
}

func (s *memStore) history(t *testing.T) []models.Task {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Task
	if raw, ok := s.values[HistoryKey]; ok {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("stored history is not valid JSON: %v", err)
		}
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []models.Task
}

func (r *recorder) Notify(taskID string, snapshot models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, snapshot)
}

func (r *recorder) forTask(id string) []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Task
	for _, ev := range r.events {
		if ev.ID == id {
			out = append(out, ev)
		}
	}
	return out
}

type scheduled struct {
	delay time.Duration
	f     func()
}

// manualScheduler holds callbacks until the test runs them
type manualScheduler struct {
	mu      sync.Mutex
	pending []scheduled
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, scheduled{d, f})
}

func (s *manualScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, p := range s.pending {
		out = append(out, p.delay)
	}
	return out
}

// runPending runs callbacks in scheduling order, including ones they schedule
func (s *manualScheduler) runPending() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		next.f()
	}
}

// takeNext removes the oldest callback without running it
func (s *manualScheduler) takeNext() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, false
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	return next.f, true
}

type inlineScheduler struct{}

func (inlineScheduler) AfterFunc(d time.Duration, f func()) { f() }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type harness struct {
	m        *Manager
	provider *fakeProvider
	remote   *fakeRemote
	store    *memStore
	notes    *recorder
	sched    *manualScheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarnessNoInit(t)
	if err := h.m.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return h
}

func newHarnessNoInit(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		provider: newFakeProvider(),
		remote:   newFakeRemote(),
		store:    newMemStore(),
		notes:    &recorder{},
		sched:    &manualScheduler{},
	}
	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	h.m = NewManager(h.provider, h.remote, h.store, h.notes, nil, Options{
		Scheduler:    h.sched,
		Now:          clock.Now,
		Subdirectory: DefaultSubdirectory,
	})
	return h
}

// deliver feeds one provider delta the way Run does
func (h *harness) deliver(d download.Delta) {
	h.m.eventMu.Lock()
	defer h.m.eventMu.Unlock()
	h.m.handleDelta(context.Background(), d)
}

func (h *harness) start(t *testing.T, url, name, serverID, target string) models.Task {
	t.Helper()
	task, err := h.m.StartDownload(context.Background(), StartRequest{
		URL:        url,
		FileName:   name,
		ServerID:   serverID,
		TargetPath: target,
	})
	if err != nil {
		t.Fatalf("StartDownload() error = %v", err)
	}
	return task
}

// complete runs a download to the provider's complete state
func (h *harness) complete(id download.ID, bytes int64) {
	h.deliver(download.Delta{ID: id, State: download.StateInProgress, TotalBytes: &bytes})
	h.deliver(download.Delta{ID: id, BytesReceived: &bytes})
	h.deliver(download.Delta{ID: id, State: download.StateComplete})
}

var errConnRefused = errors.New("connection refused")

func int64p(v int64) *int64 { return &v }
