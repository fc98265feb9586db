package models

import (
	"time"
)

// TaskStatus is the lifecycle state of a download/upload task
type TaskStatus string

const (
	// StatusPending indicates the task was created but the provider has not accepted it yet
	StatusPending TaskStatus = "pending"
	// StatusDownloading indicates the provider is fetching the file
	StatusDownloading TaskStatus = "downloading"
	// StatusDownloadComplete indicates the file is on disk and waits for transfer
	StatusDownloadComplete TaskStatus = "download_complete"
	// StatusTransferring indicates the file is being uploaded to the remote server
	StatusTransferring TaskStatus = "transferring"
	// StatusComplete indicates the task finished successfully
	StatusComplete TaskStatus = "complete"
	// StatusFailed indicates the download or the upload failed
	StatusFailed TaskStatus = "failed"
	// StatusCancelled indicates the user cancelled the task
	StatusCancelled TaskStatus = "cancelled"
)

// transitions lists the allowed target statuses for every status.
// Terminal statuses have no outgoing edges.
var transitions = map[TaskStatus]map[TaskStatus]bool{
	StatusPending: {
		StatusDownloading: true,
		StatusFailed:      true,
		StatusCancelled:   true,
	},
	StatusDownloading: {
		StatusDownloading:      true,
		StatusDownloadComplete: true,
		StatusFailed:           true,
		StatusCancelled:        true,
	},
	StatusDownloadComplete: {
		StatusTransferring: true,
		StatusComplete:     true,
		StatusFailed:       true,
	},
	StatusTransferring: {
		StatusComplete:  true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusComplete:  {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// CanTransition reports whether a task may move from one status to another
func CanTransition(from, to TaskStatus) bool {
	return transitions[from][to]
}

// IsTerminal returns true for statuses that end a task's life
func (s TaskStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// IsValid returns true if s is one of the known statuses
func (s TaskStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// Task is one download (plus optional upload) unit of work
type Task struct {
	ID               string `json:"id"`
	FileName         string `json:"fileName"`
	OriginalFileName string `json:"originalFileName"`
	// ActualFileName is only ever set from a name the download provider reported
	ActualFileName string `json:"actualFileName,omitempty"`
	SourceURL      string `json:"sourceUrl"`
	// ServerID is empty for download-only tasks
	ServerID   string     `json:"serverId,omitempty"`
	TargetPath string     `json:"targetPath"`
	Status     TaskStatus `json:"status"`
	// DownloadID is the provider handle; set once, never changed
	DownloadID string `json:"downloadId,omitempty"`

	DownloadedBytes  int64 `json:"downloadedBytes"`
	TotalBytes       int64 `json:"totalBytes"`
	TransferredBytes int64 `json:"transferredBytes"`

	StartTime            *time.Time `json:"startTime,omitempty"`
	DownloadCompleteTime *time.Time `json:"downloadCompleteTime,omitempty"`
	UploadStartTime      *time.Time `json:"uploadStartTime,omitempty"`
	CompleteTime         *time.Time `json:"completeTime,omitempty"`

	Error string `json:"error,omitempty"`

	IsReupload     bool   `json:"isReupload,omitempty"`
	OriginalTaskID string `json:"originalTaskId,omitempty"`
}

// Clone returns an independent snapshot of the task.
// Timestamps are copied so the snapshot never aliases the live task.
func (t *Task) Clone() Task {
	c := *t
	c.StartTime = copyTime(t.StartTime)
	c.DownloadCompleteTime = copyTime(t.DownloadCompleteTime)
	c.UploadStartTime = copyTime(t.UploadStartTime)
	c.CompleteTime = copyTime(t.CompleteTime)
	return c
}

// HasServer returns true if the task should be uploaded after download
func (t *Task) HasServer() bool {
	return t.ServerID != ""
}

// Progress returns the download completion ratio in [0,1], or 0 if unknown
func (t *Task) Progress() float64 {
	if t.TotalBytes <= 0 {
		return 0
	}
	p := float64(t.DownloadedBytes) / float64(t.TotalBytes)
	if p > 1 {
		return 1
	}
	return p
}

// FailedDuringUpload tells apart an upload-stage failure from a download-stage one
func (t *Task) FailedDuringUpload() bool {
	return t.Status == StatusFailed && t.DownloadCompleteTime != nil
}

func copyTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}
