package textbuf

import (
	"errors"
	"testing"
)

func TestMemory_AppendAndReadRange(t *testing.T) {
	m := NewMemory(4)
	_ = m.Append([]byte("hello "))
	if _, err := m.Write([]byte("world")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if m.Len() != 11 {
		t.Fatalf("expected len 11, got %d", m.Len())
	}
	got, err := m.ReadRange(6, 11)
	if err != nil {
		t.Fatalf("read range failed: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("unexpected range %q", got)
	}
	got[0] = 'W'
	if m.String() != "hello world" {
		t.Fatalf("ReadRange must return a copy, got %q", m.String())
	}
}

func TestMemory_ReadRangeBounds(t *testing.T) {
	m := FromString("abc")
	for _, r := range [][2]int{{-1, 1}, {2, 1}, {0, 4}} {
		if _, err := m.ReadRange(r[0], r[1]); !errors.Is(err, ErrRange) {
			t.Fatalf("range %v: expected ErrRange, got %v", r, err)
		}
	}
	m.SetBytes([]byte("xy"))
	if m.String() != "xy" {
		t.Fatalf("unexpected text %q", m.String())
	}
}
