package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sdejongh/fetchferry/internal/platform"
	"github.com/sdejongh/fetchferry/pkg/logging"
	"github.com/sdejongh/fetchferry/pkg/ratelimit"
)

// partSuffix marks files that are still being written
const partSuffix = ".part"

// errCancelled is reported for downloads stopped through Cancel
const errCancelled = "download cancelled"

// DefaultKeepFinished is how many finished downloads stay queryable
const DefaultKeepFinished = 1024

// ErrProviderClosed is returned by Start after Close
var ErrProviderClosed = errors.New("download provider closed")

// HTTPConfig configures an HTTPProvider
type HTTPConfig struct {
	// Dir is the root every suggested path is resolved against
	Dir string

	Client           *http.Client
	Limiter          *ratelimit.Limiter
	ProgressInterval time.Duration
	UserAgent        string

	// EventBuffer is the capacity of the delta channel
	EventBuffer int

	// KeepFinished bounds the finished downloads Query still answers for
	KeepFinished int
}

type entry struct {
	item   Item
	target string
	cancel context.CancelFunc
}

// HTTPProvider downloads over HTTP(S) into a local directory.
// Files are written as <name>.part and renamed once complete.
type HTTPProvider struct {
	cfg    HTTPConfig
	logger logging.Logger
	events chan Delta

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	items    map[ID]*entry
	finished *lru.Cache[ID, Item]
	reserved map[string]bool
	closed   bool
}

// NewHTTPProvider creates a provider writing below cfg.Dir
func NewHTTPProvider(cfg HTTPConfig, logger logging.Logger) *HTTPProvider {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 250 * time.Millisecond
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.KeepFinished <= 0 {
		cfg.KeepFinished = DefaultKeepFinished
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	finished, _ := lru.New[ID, Item](cfg.KeepFinished)

	ctx, stop := context.WithCancel(context.Background())
	return &HTTPProvider{
		cfg:      cfg,
		logger:   logger,
		events:   make(chan Delta, cfg.EventBuffer),
		ctx:      ctx,
		stop:     stop,
		items:    make(map[ID]*entry),
		finished: finished,
		reserved: make(map[string]bool),
	}
}

// Events implements Provider
func (p *HTTPProvider) Events() <-chan Delta {
	return p.events
}

// Start implements Provider. The target name is reserved immediately, so
// Query right after Start already reports the resolved file name.
func (p *HTTPProvider) Start(ctx context.Context, rawURL, suggestedPath string) (ID, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid download URL %q", rawURL)
	}

	rel := cleanRelativePath(suggestedPath)
	if rel == "" {
		rel = platform.SanitizeFileName(DeriveFileName(rawURL))
	}
	wanted := filepath.Join(p.cfg.Dir, rel)
	if err := os.MkdirAll(filepath.Dir(wanted), 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrProviderClosed
	}
	id := ID(uuid.NewString())
	target := p.uniquePathLocked(wanted)
	p.reserved[target] = true

	dctx, cancel := context.WithCancel(p.ctx)
	p.items[id] = &entry{
		item: Item{
			ID:       id,
			URL:      rawURL,
			Filename: target,
			State:    StateInProgress,
		},
		target: target,
		cancel: cancel,
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(dctx, id, rawURL, target)

	p.logger.Debug(ctx, "download started", logging.Fields{
		"download_id": string(id),
		"url":         rawURL,
		"path":        target,
	})
	return id, nil
}

// Cancel implements Provider. Cancelling a finished download is a no-op.
func (p *HTTPProvider) Cancel(ctx context.Context, id ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.items[id]
	if !ok {
		if p.finished.Contains(id) {
			return nil
		}
		return ErrUnknownDownload
	}
	if e.item.State == StateInProgress {
		e.cancel()
	}
	return nil
}

// Query implements Provider
func (p *HTTPProvider) Query(ctx context.Context, id ID) (Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.items[id]; ok {
		return e.item, nil
	}
	if item, ok := p.finished.Get(id); ok {
		return item, nil
	}
	return Item{}, ErrUnknownDownload
}

// Close stops every running download and closes the event channel
func (p *HTTPProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.stop()
	p.wg.Wait()
	close(p.events)
	return nil
}

func (p *HTTPProvider) run(ctx context.Context, id ID, rawURL, target string) {
	defer p.wg.Done()

	p.emit(Delta{
		ID:       id,
		Created:  true,
		URL:      rawURL,
		State:    StateInProgress,
		Filename: target,
	})

	received, err := p.fetch(ctx, id, rawURL, target)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		os.Remove(target + partSuffix)
		msg := err.Error()
		if ctx.Err() != nil {
			msg = errCancelled
		}

		p.mu.Lock()
		delete(p.reserved, target)
		p.finishLocked(id, func(item *Item) {
			item.State = StateInterrupted
			item.Error = msg
		})
		p.mu.Unlock()

		p.logger.Warn(ctx, "download interrupted", logging.Fields{
			"download_id": string(id),
			"error":       msg,
		})
		p.emit(Delta{ID: id, State: StateInterrupted, Error: msg})
		return
	}

	final, total, err := p.finalize(id, target, received)
	if err != nil {
		p.emit(Delta{ID: id, State: StateInterrupted, Error: err.Error()})
		return
	}
	if final != target {
		p.emit(Delta{ID: id, Filename: final})
	}
	p.emit(Delta{
		ID:            id,
		State:         StateComplete,
		BytesReceived: int64Ptr(received),
		TotalBytes:    int64Ptr(total),
	})
}

func (p *HTTPProvider) fetch(ctx context.Context, id ID, rawURL, target string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("server responded with %s", resp.Status)
	}

	if resp.ContentLength >= 0 {
		p.update(id, func(item *Item) { item.TotalBytes = resp.ContentLength })
		p.emit(Delta{ID: id, TotalBytes: int64Ptr(resp.ContentLength)})
	}

	f, err := os.OpenFile(target+partSuffix, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	pr := &progressReader{
		reader:   ratelimit.NewReader(ctx, resp.Body, p.cfg.Limiter),
		interval: p.cfg.ProgressInterval,
		onProgress: func(n int64) {
			p.update(id, func(item *Item) { item.ReceivedBytes = n })
			p.emitProgress(Delta{ID: id, BytesReceived: int64Ptr(n)})
		},
	}

	written, copyErr := io.Copy(f, pr)
	closeErr := f.Close()
	if copyErr != nil {
		return written, fmt.Errorf("failed to read response: %w", copyErr)
	}
	if closeErr != nil {
		return written, fmt.Errorf("failed to write file: %w", closeErr)
	}
	return written, nil
}

// finalize moves the part file into place. A file that appeared at the
// reserved name in the meantime pushes the download to the next free name.
// Without a Content-Length the total is what was received.
func (p *HTTPProvider) finalize(id ID, target string, received int64) (string, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.reserved, target)
	final := p.uniquePathLocked(target)
	if err := os.Rename(target+partSuffix, final); err != nil {
		os.Remove(target + partSuffix)
		err = fmt.Errorf("failed to finalize download: %w", err)
		p.finishLocked(id, func(item *Item) {
			item.State = StateInterrupted
			item.Error = err.Error()
		})
		return "", 0, err
	}

	var total int64
	p.finishLocked(id, func(item *Item) {
		item.Filename = final
		item.State = StateComplete
		item.ReceivedBytes = received
		if item.TotalBytes <= 0 {
			item.TotalBytes = received
		}
		total = item.TotalBytes
	})
	return final, total, nil
}

// finishLocked applies the final state and moves the download out of the
// live set into the bounded finished cache
func (p *HTTPProvider) finishLocked(id ID, fn func(item *Item)) {
	e, ok := p.items[id]
	if !ok {
		return
	}
	fn(&e.item)
	e.cancel()
	delete(p.items, id)
	p.finished.Add(id, e.item)
}

func (p *HTTPProvider) update(id ID, fn func(item *Item)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.items[id]; ok {
		fn(&e.item)
	}
}

// emit delivers state-bearing deltas; it only gives up when the provider is closing
func (p *HTTPProvider) emit(d Delta) {
	select {
	case p.events <- d:
	case <-p.ctx.Done():
	}
}

// emitProgress drops byte counters when the consumer lags behind.
// The final complete delta carries the total anyway.
func (p *HTTPProvider) emitProgress(d Delta) {
	select {
	case p.events <- d:
	default:
	}
}

// uniquePathLocked returns path, or "name (N).ext" for the first N that is
// neither on disk nor reserved by another download
func (p *HTTPProvider) uniquePathLocked(path string) string {
	if !p.taken(path) {
		return path
	}
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if !p.taken(candidate) {
			return candidate
		}
	}
}

func (p *HTTPProvider) taken(path string) bool {
	if p.reserved[path] {
		return true
	}
	_, err := os.Lstat(path)
	return err == nil
}

// cleanRelativePath keeps a suggested path inside the download directory
func cleanRelativePath(p string) string {
	var parts []string
	for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == "." || part == ".." {
			continue
		}
		parts = append(parts, platform.SanitizeFileName(part))
	}
	return filepath.Join(parts...)
}
