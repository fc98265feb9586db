package logging

import (
	"context"
	"io"
	"sync"
	"time"
)

// WriterLogger writes log lines to an io.Writer (usually stderr)
type WriterLogger struct {
	out    io.Writer
	mu     *sync.Mutex
	format Format
	level  Level
	fields Fields
}

// NewWriterLogger creates a logger writing to out
func NewWriterLogger(out io.Writer, format Format, level Level) *WriterLogger {
	return &WriterLogger{
		out:    out,
		mu:     &sync.Mutex{},
		format: format,
		level:  level,
	}
}

// Debug logs a debug message
func (l *WriterLogger) Debug(ctx context.Context, msg string, fields Fields) {
	l.log(DebugLevel, msg, nil, fields)
}

// Info logs an info message
func (l *WriterLogger) Info(ctx context.Context, msg string, fields Fields) {
	l.log(InfoLevel, msg, nil, fields)
}

// Warn logs a warning message
func (l *WriterLogger) Warn(ctx context.Context, msg string, fields Fields) {
	l.log(WarnLevel, msg, nil, fields)
}

// Error logs an error message
func (l *WriterLogger) Error(ctx context.Context, msg string, err error, fields Fields) {
	l.log(ErrorLevel, msg, err, fields)
}

// WithFields returns a logger sharing the same writer with additional fields
func (l *WriterLogger) WithFields(fields Fields) Logger {
	return &WriterLogger{
		out:    l.out,
		mu:     l.mu,
		format: l.format,
		level:  l.level,
		fields: mergeFields(l.fields, fields),
	}
}

// Close does nothing; the writer is owned by the caller
func (l *WriterLogger) Close() error {
	return nil
}

func (l *WriterLogger) log(level Level, msg string, err error, fields Fields) {
	if level < l.level {
		return
	}
	line, encErr := encodeEntry(l.format, time.Now(), level, msg, err, mergeFields(l.fields, fields))
	if encErr != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(line)
}
