package tasks

import "errors"

var (
	// ErrTaskNotFound is returned when an id is neither active nor in history
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidState is returned when an action does not apply to the task's status
	ErrInvalidState = errors.New("invalid task state")

	// ErrInvalidRequest is returned for malformed requests
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNoServer is returned when a transfer is requested for a download-only task
	ErrNoServer = errors.New("no server configured")
)

// uploadErrorPrefix tags failures of the upload stage
const uploadErrorPrefix = "upload failed: "

// errDownloadInterrupted is used when the provider gives no reason
const errDownloadInterrupted = "download interrupted"
