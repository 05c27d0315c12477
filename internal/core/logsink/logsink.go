// Package logsink provides file-backed and fan-out execution log sinks.
//
// The SQL execution log is authoritative. Daily JSONL files are a
// grep-friendly audit trail kept next to it.
package logsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/solatis/rulekeeper/internal/types"
)

// Sink is the engine's log sink contract.
type Sink interface {
	Append(ctx context.Context, entry types.ExecutionLogEntry) error
}

// JSONLSink appends entries as JSON lines to <dir>/executions/YYYY-MM-DD.jsonl.
// The file is chosen by the entry's start time so one rule evaluation never
// straddles two files.
type JSONLSink struct {
	dir       string
	mutexes   map[string]*sync.Mutex
	mutexLock sync.Mutex
}

// NewJSONLSink creates a sink rooted at dir, creating the executions
// directory if it does not exist.
func NewJSONLSink(dir string) (*JSONLSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("log directory cannot be empty")
	}
	if err := os.MkdirAll(filepath.Join(dir, "executions"), 0755); err != nil {
		return nil, fmt.Errorf("create execution log directory: %w", err)
	}
	return &JSONLSink{dir: dir, mutexes: make(map[string]*sync.Mutex)}, nil
}

// Path returns the file an entry started at t is written to.
func (s *JSONLSink) Path(t time.Time) string {
	return filepath.Join(s.dir, "executions", t.UTC().Format("2006-01-02.jsonl"))
}

// Append writes entry as a single line.
func (s *JSONLSink) Append(_ context.Context, entry types.ExecutionLogEntry) error {
	started := entry.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	filename := s.Path(started)

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", entry.ID, err)
	}
	line = append(line, '\n')

	mu := s.fileMutex(filename)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filename, err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return f.Close()
}

// fileMutex returns the mutex guarding filename. The map grows by one entry
// per day.
func (s *JSONLSink) fileMutex(filename string) *sync.Mutex {
	s.mutexLock.Lock()
	defer s.mutexLock.Unlock()

	mu, ok := s.mutexes[filename]
	if !ok {
		mu = &sync.Mutex{}
		s.mutexes[filename] = mu
	}
	return mu
}

// MultiSink appends every entry to each sink in order. A failing sink does not
// stop the others; their errors are joined.
type MultiSink []Sink

// Append implements Sink.
func (m MultiSink) Append(ctx context.Context, entry types.ExecutionLogEntry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
