// Package tickfile keeps a one-line local copy of the producer position.
// The file holds "{tick};" and is rewritten in place on every commit.
package tickfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"replica/internal/core/wal"
)

// File is a tick mirror backed by a local file.
type File struct {
	mu sync.Mutex
	f  *os.File
}

// Open opens or creates the mirror at path.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tick file: %w", err)
	}
	return &File{f: f}, nil
}

// Write replaces the file content with tick.
func (m *File) Write(tick wal.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	line := []byte(tick.String() + ";")
	if err := m.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate tick file: %w", err)
	}
	if _, err := m.f.WriteAt(line, 0); err != nil {
		return fmt.Errorf("write tick file: %w", err)
	}
	return nil
}

// Read returns the stored tick, or false when the file is empty.
func (m *File) Read() (wal.Tick, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := m.f.Stat()
	if err != nil {
		return 0, false, err
	}
	buf := make([]byte, info.Size())
	if _, err := m.f.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return 0, false, fmt.Errorf("read tick file: %w", err)
	}

	raw := bytes.TrimSpace(bytes.TrimRight(bytes.TrimSpace(buf), ";"))
	if len(raw) == 0 {
		return 0, false, nil
	}
	tick, err := wal.ParseTick(string(raw))
	if err != nil {
		return 0, false, err
	}
	return tick, true, nil
}

// Close closes the file.
func (m *File) Close() error {
	return m.f.Close()
}
