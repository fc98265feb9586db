package tasks

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/sdejongh/fetchferry/internal/platform"
	"github.com/sdejongh/fetchferry/pkg/download"
	"github.com/sdejongh/fetchferry/pkg/logging"
	"github.com/sdejongh/fetchferry/pkg/metrics"
	"github.com/sdejongh/fetchferry/pkg/models"
	"github.com/sdejongh/fetchferry/pkg/remote"
)

const (
	maxParkedDownloads = 64
	maxParkedDeltas    = 256
)

// StartDownload creates a task and hands its URL to the download provider.
// A provider rejection fails and archives the task and is returned as an error.
func (m *Manager) StartDownload(ctx context.Context, req StartRequest) (models.Task, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return models.Task{}, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}

	name := strings.TrimSpace(req.FileName)
	if name == "" {
		name = download.DeriveFileName(url)
	}

	task := m.newTask(url, name, req.ServerID, req.TargetPath)
	task.OriginalFileName = name
	return m.launch(ctx, task)
}

func (m *Manager) newTask(url, fileName, serverID, targetPath string) *models.Task {
	if targetPath == "" {
		targetPath = "/"
	}
	return &models.Task{
		ID:         uuid.Must(uuid.NewV7()).String(),
		FileName:   fileName,
		SourceURL:  url,
		ServerID:   strings.TrimSpace(serverID),
		TargetPath: targetPath,
		Status:     models.StatusPending,
	}
}

func (m *Manager) doneStartingLocked(url string) {
	if m.starting[url] <= 1 {
		delete(m.starting, url)
		return
	}
	m.starting[url]--
}

// launch inserts a pending task and starts its download
func (m *Manager) launch(ctx context.Context, task *models.Task) (models.Task, error) {
	m.mu.Lock()
	task.StartTime = m.stamp()
	m.active[task.ID] = task
	m.notifyLocked(task)
	suggested := path.Join(m.opts.Subdirectory, platform.SanitizeFileName(task.FileName))
	m.starting[task.SourceURL]++
	metrics.TasksCreated.Inc()
	metrics.ActiveTasks.Set(float64(len(m.active)))
	m.mu.Unlock()

	m.logger.Info(ctx, "task created", logging.Fields{
		"task_id":   task.ID,
		"url":       task.SourceURL,
		"file_name": task.FileName,
		"server_id": task.ServerID,
		"reupload":  task.IsReupload,
	})

	dlID, err := m.provider.Start(ctx, task.SourceURL, suggested)
	if err != nil {
		m.mu.Lock()
		defer m.release()
		m.doneStartingLocked(task.SourceURL)

		m.logger.Warn(ctx, "download rejected", logging.Fields{"task_id": task.ID, "error": err.Error()})
		if t, ok := m.active[task.ID]; ok && t.Status == models.StatusPending {
			t.Status = models.StatusFailed
			t.Error = err.Error()
			m.notifyLocked(t)
			m.archiveLocked(t)
		}
		snap, _, _ := m.lookupLocked(task.ID)
		return snap, fmt.Errorf("failed to start download: %w", err)
	}

	m.eventMu.Lock()
	m.mu.Lock()
	m.doneStartingLocked(task.SourceURL)
	t, ok := m.active[task.ID]
	if !ok {
		// cancelled while the provider was starting
		snap, _, _ := m.lookupLocked(task.ID)
		m.retired.Add(dlID, task.ID)
		m.mu.Unlock()
		m.takeParked(dlID)
		m.eventMu.Unlock()

		if err := m.provider.Cancel(ctx, dlID); err != nil {
			m.logger.Warn(ctx, "failed to cancel orphaned download", logging.Fields{"download_id": string(dlID), "error": err.Error()})
		}
		return snap, nil
	}

	switch {
	case t.DownloadID == "":
		t.DownloadID = string(dlID)
		m.byDownload[dlID] = t.ID
	case t.DownloadID != string(dlID):
		// a created event for someone else's download matched by URL; the
		// handle Start returned is the task's own
		stray := download.ID(t.DownloadID)
		m.logger.Warn(ctx, "task was matched to a foreign download", logging.Fields{
			"task_id":     t.ID,
			"download_id": string(dlID),
			"stray_id":    string(stray),
		})
		delete(m.byDownload, stray)
		m.retired.Add(stray, t.ID)
		t.DownloadID = string(dlID)
		m.byDownload[dlID] = t.ID
	}
	if t.Status == models.StatusPending {
		t.Status = models.StatusDownloading
	}
	m.notifyLocked(t)
	snap := t.Clone()
	m.release()

	for _, d := range m.takeParked(dlID) {
		m.handleDelta(ctx, d)
	}
	m.eventMu.Unlock()

	m.logger.Debug(ctx, "download accepted", logging.Fields{"task_id": task.ID, "download_id": string(dlID)})

	taskID := task.ID
	m.opts.Scheduler.AfterFunc(m.opts.FilenameRefreshDelay, func() {
		m.refreshFileName(taskID, dlID)
	})
	return snap, nil
}

// refreshFileName is an advisory early lookup of the name the provider picked
func (m *Manager) refreshFileName(taskID string, dlID download.ID) {
	ctx := context.Background()
	item, err := m.provider.Query(ctx, dlID)
	if err != nil {
		m.logger.Debug(ctx, "filename refresh failed", logging.Fields{"task_id": taskID, "error": err.Error()})
		return
	}

	m.mu.Lock()
	defer m.release()

	t, ok := m.active[taskID]
	if !ok || t.DownloadID != string(dlID) {
		return
	}
	if t.Status != models.StatusPending && t.Status != models.StatusDownloading {
		return
	}
	if applyFileName(t, item.Filename) {
		m.notifyLocked(t)
	}
}

// applyFileName records a provider-reported path; it reports whether anything changed
func applyFileName(t *models.Task, reported string) bool {
	name := platform.BaseName(reported)
	if name == "" || (name == t.FileName && name == t.ActualFileName) {
		return false
	}
	t.FileName = name
	t.ActualFileName = name
	return true
}

// handleDelta applies one provider event. Callers hold eventMu.
func (m *Manager) handleDelta(ctx context.Context, d download.Delta) {
	m.mu.Lock()

	taskID, ok := m.byDownload[d.ID]
	if !ok {
		if m.retired.Contains(d.ID) {
			m.mu.Unlock()
			return
		}
		if d.Created && d.URL != "" {
			taskID, ok = m.matchByURLLocked(d.ID, d.URL)
		}
		if !ok {
			m.mu.Unlock()
			m.park(d)
			return
		}
	}

	t, ok := m.active[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}

	if d.BytesReceived != nil && *d.BytesReceived > t.DownloadedBytes {
		t.DownloadedBytes = *d.BytesReceived
	}
	if d.TotalBytes != nil && *d.TotalBytes >= 0 {
		t.TotalBytes = *d.TotalBytes
	}
	if d.Filename != "" && !t.Status.IsTerminal() && t.Status != models.StatusTransferring {
		applyFileName(t, d.Filename)
	}

	switch d.State {
	case download.StateInProgress:
		if t.Status == models.StatusPending {
			t.Status = models.StatusDownloading
		}
	case download.StateComplete:
		if t.Status == models.StatusPending {
			t.Status = models.StatusDownloading
		}
		if t.Status == models.StatusDownloading {
			m.notifyLocked(t)
			m.release()
			m.completeDownload(ctx, taskID, d.ID)
			return
		}
	case download.StateInterrupted:
		if t.Status == models.StatusPending || t.Status == models.StatusDownloading {
			t.Status = models.StatusFailed
			t.Error = d.Error
			if t.Error == "" {
				t.Error = errDownloadInterrupted
			}
			m.notifyLocked(t)
			m.archiveLocked(t)
			m.logger.Warn(ctx, "download interrupted", logging.Fields{"task_id": t.ID, "error": t.Error})
			m.release()
			return
		}
	}

	m.notifyLocked(t)
	m.release()
}

// matchByURLLocked binds a fresh download to the only pending task for url.
// Ambiguous matches are left to the handle returned by Start.
func (m *Manager) matchByURLLocked(id download.ID, url string) (string, bool) {
	if m.starting[url] > 1 {
		// several starts for this URL in flight, some maybe already cancelled
		return "", false
	}
	var match *models.Task
	for _, t := range m.active {
		if t.DownloadID != "" || t.SourceURL != url || t.Status != models.StatusPending {
			continue
		}
		if match != nil {
			return "", false
		}
		match = t
	}
	if match == nil {
		return "", false
	}
	match.DownloadID = string(id)
	m.byDownload[id] = match.ID
	return match.ID, true
}

// completeDownload settles the final file name and moves on to the upload, if any
func (m *Manager) completeDownload(ctx context.Context, taskID string, dlID download.ID) {
	item, err := m.provider.Query(ctx, dlID)
	if err != nil {
		m.logger.Warn(ctx, "could not read final file name", logging.Fields{"task_id": taskID, "error": err.Error()})
	}

	m.mu.Lock()
	t, ok := m.active[taskID]
	if !ok || t.Status != models.StatusDownloading {
		m.mu.Unlock()
		return
	}
	if err == nil {
		applyFileName(t, item.Filename)
		if item.ReceivedBytes > t.DownloadedBytes {
			t.DownloadedBytes = item.ReceivedBytes
		}
	}
	t.Status = models.StatusDownloadComplete
	t.DownloadCompleteTime = m.stamp()
	m.notifyLocked(t)

	upload := t.HasServer()
	if !upload {
		t.Status = models.StatusComplete
		t.CompleteTime = m.stamp()
		m.notifyLocked(t)
		m.archiveLocked(t)
	}
	m.release()

	if upload {
		m.opts.Scheduler.AfterFunc(m.opts.TransferDelay, func() {
			m.transfer(taskID)
		})
	}
}

// transfer uploads a downloaded file. Cancelling the task aborts the upload.
func (m *Manager) transfer(taskID string) {
	m.mu.Lock()
	t, ok := m.active[taskID]
	if !ok || t.Status != models.StatusDownloadComplete {
		m.mu.Unlock()
		return
	}
	if !m.setStatusLocked(t, models.StatusTransferring) {
		m.mu.Unlock()
		return
	}
	t.UploadStartTime = m.stamp()
	m.notifyLocked(t)

	ctx, cancel := context.WithCancel(context.Background())
	m.uploads[taskID] = cancel
	dlID := download.ID(t.DownloadID)
	serverID, targetPath := t.ServerID, t.TargetPath
	m.mu.Unlock()

	m.logger.Info(ctx, "upload started", logging.Fields{"task_id": taskID, "server_id": serverID})
	err := m.upload(ctx, dlID, serverID, targetPath)
	cancel()

	m.mu.Lock()
	defer m.release()

	delete(m.uploads, taskID)
	t, ok = m.active[taskID]
	if !ok || t.Status != models.StatusTransferring {
		return
	}

	if err != nil {
		t.Status = models.StatusFailed
		t.Error = uploadErrorPrefix + err.Error()
		m.logger.Warn(ctx, "upload failed", logging.Fields{"task_id": taskID, "error": err.Error()})
	} else {
		t.Status = models.StatusComplete
		t.TransferredBytes = t.DownloadedBytes
		t.CompleteTime = m.stamp()
		m.logger.Info(ctx, "upload complete", logging.Fields{"task_id": taskID})
	}
	m.notifyLocked(t)
	m.archiveLocked(t)
}

func (m *Manager) upload(ctx context.Context, dlID download.ID, serverID, targetPath string) error {
	if serverID == "" {
		return ErrNoServer
	}

	item, err := m.provider.Query(ctx, dlID)
	if err != nil {
		return fmt.Errorf("could not locate downloaded file: %w", err)
	}
	if item.Filename == "" {
		return errors.New("downloaded file path is unknown")
	}

	if _, err := m.remote.GetServerConfig(ctx, serverID); err != nil {
		if errors.Is(err, remote.ErrServerNotFound) {
			return remote.ErrServerNotFound
		}
		return fmt.Errorf("could not load server config: %w", err)
	}

	return m.remote.Upload(ctx, item.Filename, serverID, targetPath)
}

// park holds deltas for handles Start has not returned yet. Callers hold eventMu.
func (m *Manager) park(d download.Delta) {
	queue, ok := m.parked[d.ID]
	if !ok {
		if len(m.parkedOrder) >= maxParkedDownloads {
			oldest := m.parkedOrder[0]
			m.parkedOrder = m.parkedOrder[1:]
			delete(m.parked, oldest)
		}
		m.parkedOrder = append(m.parkedOrder, d.ID)
	}
	if len(queue) >= maxParkedDeltas && d.State == "" && d.Filename == "" {
		return
	}
	m.parked[d.ID] = append(queue, d)
}

func (m *Manager) takeParked(id download.ID) []download.Delta {
	queue, ok := m.parked[id]
	if !ok {
		return nil
	}
	delete(m.parked, id)
	for i, parkedID := range m.parkedOrder {
		if parkedID == id {
			m.parkedOrder = append(m.parkedOrder[:i], m.parkedOrder[i+1:]...)
			break
		}
	}
	return queue
}
