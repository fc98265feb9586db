// Package download defines the download provider the task manager drives,
// and an HTTP implementation of it.
package download

import (
	"context"
	"errors"
)

// ErrUnknownDownload is returned for handles the provider has never issued
var ErrUnknownDownload = errors.New("download item not found")

// ID is the provider's handle for one download
type ID string

// State is the provider-side state of a download
type State string

const (
	StateInProgress  State = "in_progress"
	StateComplete    State = "complete"
	StateInterrupted State = "interrupted"
)

// Delta is one change reported by the provider. Only the fields that changed are set.
type Delta struct {
	ID ID

	// Created marks the first event of a download; URL is set on it
	Created bool
	URL     string

	State State

	BytesReceived *int64
	TotalBytes    *int64

	// Filename is the full on-disk path
	Filename string

	// Error describes why the download was interrupted
	Error string
}

// HasBytes reports whether the delta carries a byte counter
func (d Delta) HasBytes() bool {
	return d.BytesReceived != nil || d.TotalBytes != nil
}

// Item is a point-in-time view of one download
type Item struct {
	ID            ID     `json:"id"`
	URL           string `json:"url"`
	Filename      string `json:"filename"`
	State         State  `json:"state"`
	TotalBytes    int64  `json:"totalBytes"`
	ReceivedBytes int64  `json:"bytesReceived"`
	Error         string `json:"error,omitempty"`
}

// Provider starts, observes and cancels downloads
type Provider interface {
	// Start begins downloading url into suggestedPath (relative to the provider's directory)
	Start(ctx context.Context, url, suggestedPath string) (ID, error)

	// Events returns the stream of deltas for every download
	Events() <-chan Delta

	// Cancel asks the provider to stop a download
	Cancel(ctx context.Context, id ID) error

	// Query returns the current state of a download
	Query(ctx context.Context, id ID) (Item, error)
}

func int64Ptr(v int64) *int64 {
	return &v
}
