package textbuf

import (
	"errors"
	"sync"
)

var ErrRange = errors.New("textbuf: range out of bounds")

// Handle is the text storage a background task reads from or appends to.
// The editing engine behind it is not part of this package.
type Handle interface {
	Append(p []byte) error
	Len() int
	ReadRange(start, end int) ([]byte, error)
}

// Memory is an in-memory Handle. Loads append into a fresh Memory that is
// swapped into the document on completion; saves read ranges while the
// document is locked against edits.
type Memory struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemory(capHint int) *Memory {
	if capHint < 0 {
		capHint = 0
	}
	return &Memory{data: make([]byte, 0, capHint)}
}

func FromBytes(b []byte) *Memory {
	return &Memory{data: append([]byte(nil), b...)}
}

func FromString(s string) *Memory {
	return &Memory{data: []byte(s)}
}

func (m *Memory) Append(p []byte) error {
	m.mu.Lock()
	m.data = append(m.data, p...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) ReadRange(start, end int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if start < 0 || end < start || end > len(m.data) {
		return nil, ErrRange
	}
	return append([]byte(nil), m.data[start:end]...), nil
}

func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}

func (m *Memory) String() string {
	return string(m.Bytes())
}

func (m *Memory) SetBytes(b []byte) {
	m.mu.Lock()
	m.data = append(m.data[:0], b...)
	m.mu.Unlock()
}

// Write lets a Memory sit behind io.Writer based transforms.
func (m *Memory) Write(p []byte) (int, error) {
	if err := m.Append(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
