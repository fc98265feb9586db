package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLoggerConfig holds configuration for file logging
type FileLoggerConfig struct {
	// Path is the log file path
	Path string
	// Format is the output format (json or text)
	Format Format
	// Level is the minimum log level
	Level Level
	// MaxSize is the maximum size in bytes before rotation (0 = no rotation)
	MaxSize int64
	// MaxBackups is the maximum number of backup files to keep
	MaxBackups int
}

// rotatingFile is the file handle shared by a logger and its WithFields children
type rotatingFile struct {
	mu   sync.Mutex
	cfg  FileLoggerConfig
	file *os.File
	size int64
}

// FileLogger implements Logger with file output and size-based rotation
type FileLogger struct {
	out    *rotatingFile
	fields Fields
}

// NewFileLogger creates a new file logger
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	return &FileLogger{
		out: &rotatingFile{cfg: config, file: file, size: info.Size()},
	}, nil
}

// Debug logs a debug message
func (l *FileLogger) Debug(ctx context.Context, msg string, fields Fields) {
	l.log(DebugLevel, msg, nil, fields)
}

// Info logs an info message
func (l *FileLogger) Info(ctx context.Context, msg string, fields Fields) {
	l.log(InfoLevel, msg, nil, fields)
}

// Warn logs a warning message
func (l *FileLogger) Warn(ctx context.Context, msg string, fields Fields) {
	l.log(WarnLevel, msg, nil, fields)
}

// Error logs an error message
func (l *FileLogger) Error(ctx context.Context, msg string, err error, fields Fields) {
	l.log(ErrorLevel, msg, err, fields)
}

// WithFields returns a logger with additional fields writing to the same file
func (l *FileLogger) WithFields(fields Fields) Logger {
	return &FileLogger{
		out:    l.out,
		fields: mergeFields(l.fields, fields),
	}
}

// Close flushes and closes the logger
func (l *FileLogger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if l.out.file == nil {
		return nil
	}
	err := l.out.file.Close()
	l.out.file = nil
	return err
}

func (l *FileLogger) log(level Level, msg string, err error, fields Fields) {
	cfg := l.out.cfg
	if level < cfg.Level {
		return
	}

	line, encErr := encodeEntry(cfg.Format, time.Now(), level, msg, err, mergeFields(l.fields, fields))
	if encErr != nil {
		return
	}

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if l.out.file == nil {
		return
	}
	if cfg.MaxSize > 0 && l.out.size >= cfg.MaxSize {
		l.out.rotate()
		if l.out.file == nil {
			return
		}
	}
	n, _ := l.out.file.Write(line)
	l.out.size += int64(n)
}

// rotate shifts path.N to path.N+1 and starts a fresh file (must hold mu)
func (r *rotatingFile) rotate() {
	r.file.Close()
	r.file = nil

	path := r.cfg.Path
	for i := r.cfg.MaxBackups - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", path, i), fmt.Sprintf("%s.%d", path, i+1))
	}
	os.Rename(path, path+".1")

	if r.cfg.MaxBackups > 0 {
		os.Remove(fmt.Sprintf("%s.%d", path, r.cfg.MaxBackups+1))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	r.file = file
	r.size = 0
}
