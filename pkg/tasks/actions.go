package tasks

import (
	"context"
	"fmt"

	"github.com/sdejongh/fetchferry/pkg/download"
	"github.com/sdejongh/fetchferry/pkg/logging"
	"github.com/sdejongh/fetchferry/pkg/models"
)

// CancelTask stops a pending, downloading or transferring task and archives it.
// A second cancel of the same id reports ErrTaskNotFound.
func (m *Manager) CancelTask(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}

	var (
		dlID  download.ID
		abort context.CancelFunc
	)
	switch t.Status {
	case models.StatusPending, models.StatusDownloading:
		dlID = download.ID(t.DownloadID)
	case models.StatusTransferring:
		abort = m.uploads[id]
	default:
		status := t.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot cancel a task that is %s", ErrInvalidState, status)
	}

	t.Status = models.StatusCancelled
	m.notifyLocked(t)
	m.archiveLocked(t)
	m.release()

	if abort != nil {
		abort()
	}
	if dlID != "" {
		if err := m.provider.Cancel(ctx, dlID); err != nil {
			m.logger.Warn(ctx, "provider cancel failed", logging.Fields{
				"task_id":     id,
				"download_id": string(dlID),
				"error":       err.Error(),
			})
		}
	}

	m.logger.Info(ctx, "task cancelled", logging.Fields{"task_id": id})
	return nil
}

// RetryTask starts a fresh task for the same URL, file name and destination.
// A source task still active as download_complete or failed is dropped without archiving.
func (m *Manager) RetryTask(ctx context.Context, id string) (models.Task, error) {
	m.mu.Lock()
	src, isActive, ok := m.lookupLocked(id)
	if !ok {
		m.mu.Unlock()
		return models.Task{}, ErrTaskNotFound
	}
	if isActive && (src.Status == models.StatusDownloadComplete || src.Status == models.StatusFailed) {
		m.removeLocked(m.active[id])
	}
	m.mu.Unlock()

	name := src.OriginalFileName
	if name == "" {
		name = src.FileName
	}
	m.logger.Info(ctx, "retrying task", logging.Fields{"task_id": id})
	return m.StartDownload(ctx, StartRequest{
		URL:        src.SourceURL,
		FileName:   name,
		ServerID:   src.ServerID,
		TargetPath: src.TargetPath,
	})
}

// ReuploadTask downloads a finished task's file again and uploads the fresh copy
func (m *Manager) ReuploadTask(ctx context.Context, id string) (models.Task, error) {
	m.mu.Lock()
	src, _, ok := m.lookupLocked(id)
	m.mu.Unlock()
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}
	if src.Status != models.StatusComplete && src.Status != models.StatusDownloadComplete {
		return models.Task{}, fmt.Errorf("%w: only downloaded tasks can be uploaded again", ErrInvalidState)
	}

	name := src.ActualFileName
	if name == "" {
		name = src.FileName
	}
	original := src.OriginalFileName
	if original == "" {
		original = src.FileName
	}

	task := m.newTask(src.SourceURL, name, src.ServerID, src.TargetPath)
	task.OriginalFileName = original
	task.IsReupload = true
	task.OriginalTaskID = src.ID

	m.logger.Info(ctx, "reuploading task", logging.Fields{"task_id": id})
	return m.launch(ctx, task)
}

// StartTransfer uploads a download_complete task now. Preconditions are checked
// synchronously; the upload itself runs in the background.
func (m *Manager) StartTransfer(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	if t.Status != models.StatusDownloadComplete {
		status := t.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: only download_complete tasks can be transferred, task is %s", ErrInvalidState, status)
	}
	if !t.HasServer() {
		m.mu.Unlock()
		return ErrNoServer
	}
	m.mu.Unlock()

	m.logger.Info(ctx, "manual transfer requested", logging.Fields{"task_id": id})
	m.opts.Scheduler.AfterFunc(0, func() {
		m.transfer(id)
	})
	return nil
}

// Stats is a count of tasks per status across active tasks and history
func (m *Manager) Stats() map[models.TaskStatus]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[models.TaskStatus]int)
	for _, t := range m.active {
		stats[t.Status]++
	}
	for _, t := range m.history {
		stats[t.Status]++
	}
	return stats
}
