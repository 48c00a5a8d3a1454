package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RunLogger mirrors one admin run (a merge, a backfill) into its own file so
// the run can be inspected after the fact. A nil *RunLogger is a no-op.
type RunLogger struct {
	runID     string
	path      string
	file      *os.File
	logger    zerolog.Logger
	mutex     sync.Mutex
	startTime time.Time
}

// StartRunLogging opens dir/<kind>_<runID>_<timestamp>.log.
func StartRunLogging(dir, kind, runID string) (*RunLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.log", kind, sanitize(runID), timestamp))
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	r := &RunLogger{
		runID:     runID,
		path:      path,
		file:      file,
		startTime: time.Now(),
	}
	r.logger = zerolog.New(io.MultiWriter(file, log.Logger)).With().
		Timestamp().
		Str("run_kind", kind).
		Str("run_id", runID).
		Logger()
	return r, nil
}

func (r *RunLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Logger returns the run logger, or the global logger for a nil receiver.
func (r *RunLogger) Logger() *zerolog.Logger {
	if r == nil {
		return &log.Logger
	}
	return &r.logger
}

// Log writes a formatted line with the elapsed run time.
func (r *RunLogger) Log(format string, args ...interface{}) {
	if r == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.logger.Info().Dur("elapsed", time.Since(r.startTime).Round(time.Millisecond)).Msgf(format, args...)
}

// LogSection writes a section header to the log
func (r *RunLogger) LogSection(title string) {
	if r == nil {
		return
	}
	separator := strings.Repeat("=", 60)
	r.Log(separator)
	r.Log("= %s", title)
	r.Log(separator)
}

// Close writes the footer and closes the file.
func (r *RunLogger) Close() error {
	if r == nil {
		return nil
	}
	r.Log("run finished in %v", time.Since(r.startTime).Round(time.Millisecond))
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
