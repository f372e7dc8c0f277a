package host

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ResultLog appends every delivered result as one JSON line. A nil
// *ResultLog discards writes.
type ResultLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenResultLog opens path for appending, creating it and its directory if
// needed. An empty path returns a nil log.
func OpenResultLog(path string) (*ResultLog, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("host: create results directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("host: open results file: %w", err)
	}
	return &ResultLog{f: f}, nil
}

// Write appends v as a single line. Each line is written with one call so
// records never interleave.
func (l *ResultLog) Write(v any) error {
	if l == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("host: encode result: %w", err)
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	_, err = l.f.Write(b)
	return err
}

// Close closes the file.
func (l *ResultLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
