package fdio

import (
	"io"
	"sync"
)

// Memory is an in-memory descriptor: a growable byte image with a
// position, readable and writable, always ready. Its Fd is -1, which the
// event loop treats as permanently ready while watched.
type Memory struct {
	mu     sync.Mutex
	data   []byte
	pos    int
	closed bool
}

// NewMemory creates a memory descriptor seeded with initial (which may be
// nil). The position starts at zero.
func NewMemory(initial []byte) *Memory {
	data := make([]byte, len(initial))
	copy(data, initial)
	return &Memory{data: data}
}

// Fd returns -1: no OS handle.
func (m *Memory) Fd() int { return -1 }

// CanRead reports true; memory descriptors are always readable.
func (m *Memory) CanRead() bool { return true }

// CanWrite reports true; memory descriptors are always writable.
func (m *Memory) CanWrite() bool { return true }

// Read copies bytes from the current position. Returns io.EOF once the
// position reaches the end of the image.
func (m *Memory) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if m.pos >= len(m.data) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += n
	return n, nil
}

// Write copies bytes at the current position, overwriting and growing the
// image as needed.
func (m *Memory) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	end := m.pos + len(p)
	if end > len(m.data) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

// Seek moves the position.
func (m *Memory) Seek(offset int64, whence int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.data))
	default:
		return 0, ErrNotSeekable
	}
	pos := base + offset
	if pos < 0 {
		pos = 0
	}
	m.pos = int(pos)
	return pos, nil
}

// Close marks the descriptor unusable. Idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Bytes returns a copy of the whole image, regardless of position.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Len returns the image size.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
