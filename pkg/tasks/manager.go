// Package tasks drives download tasks through their lifecycle: download,
// optional upload to a remote server, and archival into a bounded history.
package tasks

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sdejongh/fetchferry/pkg/broadcast"
	"github.com/sdejongh/fetchferry/pkg/download"
	"github.com/sdejongh/fetchferry/pkg/logging"
	"github.com/sdejongh/fetchferry/pkg/metrics"
	"github.com/sdejongh/fetchferry/pkg/models"
	"github.com/sdejongh/fetchferry/pkg/store"
)

// HistoryKey is the store key holding archived tasks
const HistoryKey = "taskHistory"

const (
	DefaultHistoryLimit         = 100
	DefaultFilenameRefreshDelay = 500 * time.Millisecond
	DefaultTransferDelay        = time.Second
	DefaultSubdirectory         = "fetchferry"

	// retiredDownloads bounds the memory of handles whose task is gone
	retiredDownloads = 1024
)

// Remote is the part of the remote API the manager needs
type Remote interface {
	GetServerConfig(ctx context.Context, id string) (models.ServerConfig, error)
	Upload(ctx context.Context, localPath, serverID, targetPath string) error
}

// Options tunes a Manager. Zero values fall back to the defaults.
type Options struct {
	Scheduler Scheduler
	Now       func() time.Time

	HistoryLimit         int
	FilenameRefreshDelay time.Duration
	TransferDelay        time.Duration

	// Subdirectory is prepended to every suggested download path
	Subdirectory string
}

// StartRequest describes a new download
type StartRequest struct {
	URL        string
	FileName   string
	ServerID   string
	TargetPath string
}

// Manager owns every task record. All mutations go through its methods.
type Manager struct {
	provider download.Provider
	remote   Remote
	store    store.Store
	notifier broadcast.Notifier
	logger   logging.Logger
	opts     Options

	mu            sync.Mutex
	active        map[string]*models.Task
	history       []models.Task
	byDownload    map[download.ID]string
	starting      map[string]int
	uploads       map[string]context.CancelFunc
	historyLoaded bool
	historyDirty  bool
	retired       *lru.Cache[download.ID, string]

	// eventMu serializes provider deltas, including replays of parked ones
	eventMu     sync.Mutex
	parked      map[download.ID][]download.Delta
	parkedOrder []download.ID

	persistMu sync.Mutex
}

// NewManager wires a manager to its collaborators
func NewManager(provider download.Provider, remote Remote, st store.Store, notifier broadcast.Notifier, logger logging.Logger, opts Options) *Manager {
	if opts.Scheduler == nil {
		opts.Scheduler = TimerScheduler{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.FilenameRefreshDelay <= 0 {
		opts.FilenameRefreshDelay = DefaultFilenameRefreshDelay
	}
	if opts.TransferDelay <= 0 {
		opts.TransferDelay = DefaultTransferDelay
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	retired, _ := lru.New[download.ID, string](retiredDownloads)
	return &Manager{
		provider:   provider,
		remote:     remote,
		store:      st,
		notifier:   notifier,
		logger:     logger,
		opts:       opts,
		active:     make(map[string]*models.Task),
		byDownload: make(map[download.ID]string),
		starting:   make(map[string]int),
		uploads:    make(map[string]context.CancelFunc),
		retired:    retired,
		parked:     make(map[download.ID][]download.Delta),
	}
}

// Init loads the persisted history once. Tasks archived before Init ran
// are kept in front of the loaded ones; ids are never duplicated.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.historyLoaded {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	var loaded []models.Task
	_, err := store.GetJSON(ctx, m.store, HistoryKey, &loaded)

	m.mu.Lock()
	defer m.release()
	if m.historyLoaded {
		return nil
	}
	if err != nil {
		// history stays unloaded so nothing overwrites the stored list
		return err
	}
	m.historyLoaded = true

	merged := make([]models.Task, 0, len(m.history)+len(loaded))
	seen := make(map[string]bool, cap(merged))
	for _, list := range [][]models.Task{m.history, loaded} {
		for _, t := range list {
			if t.ID == "" || seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			merged = append(merged, t)
		}
	}
	if len(merged) > m.opts.HistoryLimit {
		merged = merged[:m.opts.HistoryLimit]
	}
	if len(m.history) > 0 {
		m.historyDirty = true
	}
	m.history = merged

	m.logger.Info(ctx, "task history loaded", logging.Fields{"entries": len(merged)})
	return nil
}

// Run consumes provider deltas until ctx is done or the stream closes
func (m *Manager) Run(ctx context.Context) error {
	events := m.provider.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-events:
			if !ok {
				return nil
			}
			m.eventMu.Lock()
			m.handleDelta(ctx, d)
			m.eventMu.Unlock()
		}
	}
}

// ActiveTasks returns snapshots of every non-terminal task, oldest first
func (m *Manager) ActiveTasks() []models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Task, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].StartTime, out[j].StartTime
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// History returns the archived tasks, most recent first
func (m *Manager) History() []models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Task, len(m.history))
	for i := range m.history {
		out[i] = m.history[i].Clone()
	}
	return out
}

// Task looks a task up in the active set, then in history
func (m *Manager) Task(id string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, _, ok := m.lookupLocked(id)
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}
	return t, nil
}

// lookupLocked returns a snapshot and whether the task is still active
func (m *Manager) lookupLocked(id string) (models.Task, bool, bool) {
	if t, ok := m.active[id]; ok {
		return t.Clone(), true, true
	}
	for i := range m.history {
		if m.history[i].ID == id {
			return m.history[i].Clone(), false, true
		}
	}
	return models.Task{}, false, false
}

// release unlocks mu and saves history if the locked section archived anything
func (m *Manager) release() {
	dirty := m.historyDirty
	m.historyDirty = false
	m.mu.Unlock()

	if dirty {
		m.persistHistory()
	}
}

// persistHistory writes the latest history list. Saves are serialized so a
// slow write never lands after a newer one. Nothing is written before Init,
// which would otherwise clobber the stored list.
func (m *Manager) persistHistory() {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	if !m.historyLoaded {
		// Init merges and saves whatever was archived before it ran
		m.mu.Unlock()
		return
	}
	snapshot := make([]models.Task, len(m.history))
	copy(snapshot, m.history)
	m.mu.Unlock()

	if err := m.store.Set(context.Background(), map[string]any{HistoryKey: snapshot}); err != nil {
		m.logger.Warn(context.Background(), "failed to save task history", logging.Fields{
			"error":   err.Error(),
			"entries": len(snapshot),
		})
	}
}

func (m *Manager) notifyLocked(t *models.Task) {
	if m.notifier != nil {
		m.notifier.Notify(t.ID, t.Clone())
	}
}

// archiveLocked moves a terminal task from the active set into history
func (m *Manager) archiveLocked(t *models.Task) {
	if _, ok := m.active[t.ID]; !ok || !t.Status.IsTerminal() {
		return
	}
	m.removeLocked(t)

	m.history = append([]models.Task{t.Clone()}, m.history...)
	if len(m.history) > m.opts.HistoryLimit {
		m.history = m.history[:m.opts.HistoryLimit]
	}
	m.historyDirty = true

	metrics.TasksFinished.WithLabelValues(string(t.Status)).Inc()
	m.logger.Info(context.Background(), "task archived", logging.Fields{
		"task_id": t.ID,
		"status":  string(t.Status),
	})
}

// removeLocked drops a task from the active set without archiving it
func (m *Manager) removeLocked(t *models.Task) {
	delete(m.active, t.ID)
	if t.DownloadID != "" {
		id := download.ID(t.DownloadID)
		delete(m.byDownload, id)
		m.retired.Add(id, t.ID)
	}
	if cancel, ok := m.uploads[t.ID]; ok {
		cancel()
		delete(m.uploads, t.ID)
	}
	metrics.ActiveTasks.Set(float64(len(m.active)))
}

func (m *Manager) stamp() *time.Time {
	now := m.opts.Now().UTC()
	return &now
}

// setStatusLocked applies a transition; invalid edges are refused
func (m *Manager) setStatusLocked(t *models.Task, to models.TaskStatus) bool {
	if !models.CanTransition(t.Status, to) {
		m.logger.Warn(context.Background(), "refused task transition", logging.Fields{
			"task_id": t.ID,
			"from":    string(t.Status),
			"to":      string(to),
		})
		return false
	}
	t.Status = to
	return true
}
