package region

import (
	"sync"
)

// Mem is an in-memory Region. Tests set the *Err fields to inject faults.
type Mem struct {
	mu     sync.Mutex
	data   []byte
	closed bool

	ReadErr  error
	WriteErr error
	SyncErr  error

	Writes int // Successful WriteAt calls.
	Syncs  int // Successful Sync calls.
}

// NewMem returns a zero-filled region of size bytes.
func NewMem(size int64) *Mem {
	return &Mem{data: make([]byte, size)}
}

// Bytes exposes the backing buffer for inspection and deliberate corruption.
func (m *Mem) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

func (m *Mem) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	if err := checkBounds(off, int64(len(p)), int64(len(m.data))); err != nil {
		return 0, err
	}
	return copy(p, m.data[off:]), nil
}

func (m *Mem) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	if err := checkBounds(off, int64(len(p)), int64(len(m.data))); err != nil {
		return 0, err
	}
	m.Writes++
	return copy(m.data[off:], p), nil
}

func (m *Mem) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data))
}

func (m *Mem) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int64(len(m.data)) >= size {
		m.data = m.data[:size]
		return nil
	}
	m.data = append(m.data, make([]byte, size-int64(len(m.data)))...)
	return nil
}

func (m *Mem) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SyncErr != nil {
		return m.SyncErr
	}
	m.Syncs++
	return nil
}

// Close marks the region closed. The buffer survives so a test can reopen it.
func (m *Mem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Reopen clears the closed flag, simulating a power cycle over the same medium.
func (m *Mem) Reopen() *Mem {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
	return m
}
