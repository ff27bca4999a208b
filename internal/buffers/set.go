package buffers

import (
	"errors"
	"fmt"
	"path/filepath"

	"penman/cli/internal/worker"
)

var (
	ErrIndex      = errors.New("buffers: index out of range")
	ErrTaskActive = errors.New("buffers: document has an active task")
)

// Set is the ordered list of open documents. Visible documents occupy the
// first VisibleCount slots; hidden ones follow. The MRU stack holds every
// index exactly once, most recent first.
type Set struct {
	docs         []*Document
	visible      int
	current      int
	stack        []int
	stackCurrent int
}

func NewSet() *Set {
	return &Set{current: -1}
}

func (s *Set) Len() int { return len(s.docs) }

func (s *Set) VisibleCount() int { return s.visible }

// Current is the selected index, or -1 when the set is empty.
func (s *Set) Current() int { return s.current }

func (s *Set) CurrentDocument() *Document {
	if s.current < 0 {
		return nil
	}
	return s.docs[s.current]
}

func (s *Set) At(i int) (*Document, error) {
	if i < 0 || i >= len(s.docs) {
		return nil, fmt.Errorf("%w: %d", ErrIndex, i)
	}
	return s.docs[i], nil
}

func (s *Set) Documents() []*Document {
	return append([]*Document(nil), s.docs...)
}

// Stack returns a copy of the MRU stack.
func (s *Set) Stack() []int {
	return append([]int(nil), s.stack...)
}

func (s *Set) Visible(i int) bool { return i >= 0 && i < s.visible }

// Add appends doc as a visible document, selects it and puts it on top of
// the MRU stack. It returns the document's index.
func (s *Set) Add(doc *Document) int {
	s.docs = append(s.docs, doc)
	idx := len(s.docs) - 1
	s.stack = append(s.stack, idx)
	idx = s.SetVisible(idx, true)
	s.current = idx
	s.MoveToStackTop(idx)
	return idx
}

// Remove deletes the document at i. A document with an active task is
// refused. The MRU stack keeps the relative order of the survivors and the
// new current document is the most recent visible one.
func (s *Set) Remove(i int) error {
	if i < 0 || i >= len(s.docs) {
		return fmt.Errorf("%w: %d", ErrIndex, i)
	}
	if s.docs[i].HasActiveTask() {
		return ErrTaskActive
	}

	s.docs = append(s.docs[:i], s.docs[i+1:]...)
	if i < s.visible {
		s.visible--
	}
	out := s.stack[:0]
	for _, idx := range s.stack {
		switch {
		case idx == i:
			continue
		case idx > i:
			idx--
		}
		out = append(out, idx)
	}
	s.stack = out
	s.stackCurrent = 0

	if len(s.docs) == 0 {
		s.current = -1
		return nil
	}
	if s.current == i {
		s.current = s.stack[0]
		for _, idx := range s.stack {
			if idx < s.visible {
				s.current = idx
				break
			}
		}
		s.MoveToStackTop(s.current)
	} else if s.current > i {
		s.current--
	}
	return nil
}

// Select makes i current. The MRU stack changes only when commit is set;
// stack cycling selects without committing.
func (s *Set) Select(i int, commit bool) error {
	if i < 0 || i >= len(s.docs) {
		return fmt.Errorf("%w: %d", ErrIndex, i)
	}
	s.current = i
	if commit {
		s.MoveToStackTop(i)
	}
	return nil
}

func (s *Set) MoveToStackTop(i int) {
	pos := s.stackPos(i)
	if pos < 0 {
		return
	}
	copy(s.stack[1:pos+1], s.stack[:pos])
	s.stack[0] = i
	s.stackCurrent = 0
}

func (s *Set) stackPos(i int) int {
	for pos, idx := range s.stack {
		if idx == i {
			return pos
		}
	}
	return -1
}

// StackNext steps one entry deeper into the MRU stack and returns the index
// found there, or -1 when the set is empty.
func (s *Set) StackNext() int {
	if len(s.stack) == 0 {
		return -1
	}
	s.stackCurrent = (s.stackCurrent + 1) % len(s.stack)
	return s.stack[s.stackCurrent]
}

func (s *Set) StackPrev() int {
	if len(s.stack) == 0 {
		return -1
	}
	s.stackCurrent = (s.stackCurrent - 1 + len(s.stack)) % len(s.stack)
	return s.stack[s.stackCurrent]
}

// CommitStackSelection moves the entry reached by cycling to the top.
func (s *Set) CommitStackSelection() {
	if s.stackCurrent > 0 && s.stackCurrent < len(s.stack) {
		s.MoveToStackTop(s.stack[s.stackCurrent])
	}
	s.stackCurrent = 0
}

// Swap exchanges two documents and remaps the MRU stack and current index.
func (s *Set) Swap(a, b int) error {
	if a < 0 || a >= len(s.docs) || b < 0 || b >= len(s.docs) {
		return fmt.Errorf("%w: %d,%d", ErrIndex, a, b)
	}
	if a == b {
		return nil
	}
	s.docs[a], s.docs[b] = s.docs[b], s.docs[a]
	for k, idx := range s.stack {
		switch idx {
		case a:
			s.stack[k] = b
		case b:
			s.stack[k] = a
		}
	}
	switch s.current {
	case a:
		s.current = b
	case b:
		s.current = a
	}
	return nil
}

// ShiftTo moves the document at from to position to, shifting the ones in
// between. Both positions must be on the same side of the visibility
// boundary.
func (s *Set) ShiftTo(from, to int) error {
	if from < 0 || from >= len(s.docs) || to < 0 || to >= len(s.docs) {
		return fmt.Errorf("%w: %d->%d", ErrIndex, from, to)
	}
	if s.Visible(from) != s.Visible(to) {
		return fmt.Errorf("%w: cannot shift across visibility boundary", ErrIndex)
	}
	for from < to {
		_ = s.Swap(from, from+1)
		from++
	}
	for from > to {
		_ = s.Swap(from, from-1)
		from--
	}
	return nil
}

// SetVisible shows or hides the document at i by swapping it across the
// visibility boundary. It returns the document's new index. Hiding the
// current document selects the last visible one.
func (s *Set) SetVisible(i int, visible bool) int {
	if i < 0 || i >= len(s.docs) || s.Visible(i) == visible {
		return i
	}
	if visible {
		target := s.visible
		_ = s.Swap(i, target)
		s.visible++
		return target
	}
	target := s.visible - 1
	_ = s.Swap(i, target)
	s.visible--
	if s.current == target && s.visible > 0 {
		s.current = s.visible - 1
	}
	return target
}

func (s *Set) IndexOfTask(id worker.ID) int {
	if id == "" {
		return -1
	}
	for i, d := range s.docs {
		if taskID, _, ok := d.ActiveTask(); ok && taskID == id {
			return i
		}
	}
	return -1
}

// IndexOfPath finds a document by file path. Paths are compared after
// cleaning.
func (s *Set) IndexOfPath(path string) int {
	if path == "" {
		return -1
	}
	want := filepath.Clean(path)
	for i, d := range s.docs {
		if d.Path != "" && filepath.Clean(d.Path) == want {
			return i
		}
	}
	return -1
}

// Validate checks the structural invariants of the set.
func (s *Set) Validate() error {
	n := len(s.docs)
	if s.visible < 0 || s.visible > n {
		return fmt.Errorf("visible count %d out of range for %d documents", s.visible, n)
	}
	if n == 0 {
		if s.current != -1 || len(s.stack) != 0 {
			return fmt.Errorf("empty set has current=%d stack=%v", s.current, s.stack)
		}
		return nil
	}
	if s.current < 0 || s.current >= n {
		return fmt.Errorf("current %d out of range for %d documents", s.current, n)
	}
	if len(s.stack) != n {
		return fmt.Errorf("stack length %d does not match %d documents", len(s.stack), n)
	}
	seen := make([]bool, n)
	for _, idx := range s.stack {
		if idx < 0 || idx >= n || seen[idx] {
			return fmt.Errorf("stack %v is not a permutation of 0..%d", s.stack, n-1)
		}
		seen[idx] = true
	}
	if s.stackCurrent < 0 || s.stackCurrent >= n {
		return fmt.Errorf("stack cursor %d out of range", s.stackCurrent)
	}
	return nil
}

// Activities summarises the background work running on documents. Quiet
// saves are counted but do not contribute to progress.
type Activities struct {
	Loading   int
	Saving    int
	Quiet     int
	Progress  int64
	Total     int64
	FileNames []string
	Invisible int
}

// Active reports whether any load or visible save is running.
func (a Activities) Active() bool { return a.Loading+a.Saving > 0 }

// Percent is overall progress across the counted tasks.
func (a Activities) Percent() int {
	if a.Total <= 0 {
		return 0
	}
	return int(a.Progress * 100 / a.Total)
}

// TaskLookup resolves a document's active task.
type TaskLookup interface {
	Lookup(id worker.ID) (*worker.Task, bool)
}

func (s *Set) Activities(tasks TaskLookup) Activities {
	var act Activities
	for i, d := range s.docs {
		id, kind, ok := d.ActiveTask()
		if !ok {
			continue
		}
		task, found := tasks.Lookup(id)
		if !found || task.Completed() {
			continue
		}
		if !s.Visible(i) {
			act.Invisible++
		}
		if kind == TaskSave && d.taskQuiet {
			act.Quiet++
			continue
		}
		switch kind {
		case TaskLoad:
			act.Loading++
		case TaskSave:
			act.Saving++
		}
		p, total := task.Snapshot()
		act.Progress += p
		act.Total += total
		act.FileNames = append(act.FileNames, filepath.Base(d.Path))
	}
	return act
}

// SavingInBackground reports whether any save, quiet or not, is running.
func (s *Set) SavingInBackground(tasks TaskLookup) bool {
	act := s.Activities(tasks)
	return act.Saving+act.Quiet > 0
}
