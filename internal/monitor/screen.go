package monitor

import (
	"fmt"
	"strings"
	"sync"
)

// blank is the rune every cell starts with.
const blank = '.'

// Screen is a fixed-size square character grid that game modules draw into.
// It is safe for concurrent use.
type Screen struct {
	mu    sync.RWMutex
	size  int
	cells [][]rune
}

// NewScreen creates a size×size grid filled with '.'.
//
// Precondition: size > 0.
// Postcondition: Every cell holds '.'.
func NewScreen(size int) *Screen {
	if size <= 0 {
		panic("monitor.NewScreen: precondition violated: size must be > 0")
	}
	s := &Screen{size: size}
	s.cells = make([][]rune, size)
	for i := range s.cells {
		s.cells[i] = make([]rune, size)
	}
	s.Clear()
	return s
}

// Size returns the edge length of the grid.
func (s *Screen) Size() int { return s.size }

// Set writes ch at column x, row y.
//
// Postcondition: Returns an error if (x, y) lies outside the grid.
func (s *Screen) Set(x, y int, ch rune) error {
	if !s.inBounds(x, y) {
		return fmt.Errorf("screen: cell (%d,%d) outside %dx%d grid", x, y, s.size, s.size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[y][x] = ch
	return nil
}

// Get returns the rune at column x, row y.
//
// Postcondition: ok is false if (x, y) lies outside the grid.
func (s *Screen) Get(x, y int) (ch rune, ok bool) {
	if !s.inBounds(x, y) {
		return 0, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cells[y][x], true
}

// Fill sets every cell to ch.
func (s *Screen) Fill(ch rune) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.cells {
		for x := range row {
			row[x] = ch
		}
	}
}

// Clear resets every cell to '.'.
func (s *Screen) Clear() { s.Fill(blank) }

// String renders the grid as size lines joined by newlines.
func (s *Screen) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lines := make([]string, len(s.cells))
	for i, row := range s.cells {
		lines[i] = string(row)
	}
	return strings.Join(lines, "\n")
}

func (s *Screen) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < s.size && y < s.size
}
