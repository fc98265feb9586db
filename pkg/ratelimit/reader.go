package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// minBurst keeps reads smooth for very low limits
const minBurst = 64 * 1024

// Limiter caps the combined throughput of every reader sharing it
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a limiter for bytesPerSecond.
// It returns nil when bytesPerSecond <= 0, which means unlimited.
func NewLimiter(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := bytesPerSecond
	if burst < minBurst {
		burst = minBurst
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst))}
}

// Limit returns the configured rate in bytes per second
func (l *Limiter) Limit() int64 {
	if l == nil {
		return 0
	}
	return int64(l.limiter.Limit())
}

// Reader wraps an io.Reader with bandwidth limiting
type Reader struct {
	ctx     context.Context
	reader  io.Reader
	limiter *Limiter
}

// NewReader wraps reader; a nil limiter returns reader unchanged
func NewReader(ctx context.Context, reader io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return reader
	}
	return &Reader{ctx: ctx, reader: reader, limiter: limiter}
}

// Read waits for enough tokens before reading at most one burst
func (r *Reader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}

	if burst := r.limiter.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	if err := r.limiter.limiter.WaitN(r.ctx, len(p)); err != nil {
		return 0, err
	}

	return r.reader.Read(p)
}

// ReadCloser wraps an io.ReadCloser with bandwidth limiting
type ReadCloser struct {
	io.Reader
	closer io.Closer
}

// NewReadCloser wraps rc; a nil limiter returns rc unchanged
func NewReadCloser(ctx context.Context, rc io.ReadCloser, limiter *Limiter) io.ReadCloser {
	if limiter == nil {
		return rc
	}
	return &ReadCloser{
		Reader: NewReader(ctx, rc, limiter),
		closer: rc,
	}
}

// Close implements io.Closer
func (rc *ReadCloser) Close() error {
	return rc.closer.Close()
}
