package monitor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewScreen_Blank(t *testing.T) {
	s := NewScreen(2)
	assert.Equal(t, "..\n..", s.String())
	assert.Equal(t, 2, s.Size())
}

func TestScreen_SetGet(t *testing.T) {
	s := NewScreen(3)
	require.NoError(t, s.Set(2, 0, 'x'))
	ch, ok := s.Get(2, 0)
	require.True(t, ok)
	assert.Equal(t, 'x', ch)
	assert.Equal(t, "..x\n...\n...", s.String())
}

func TestScreen_OutOfBounds(t *testing.T) {
	s := NewScreen(3)
	assert.Error(t, s.Set(3, 0, 'x'))
	assert.Error(t, s.Set(0, -1, 'x'))
	_, ok := s.Get(-1, 0)
	assert.False(t, ok)
}

func TestScreen_FillClear(t *testing.T) {
	s := NewScreen(2)
	s.Fill('#')
	assert.Equal(t, "##\n##", s.String())
	s.Clear()
	assert.Equal(t, "..\n..", s.String())
}

func TestNewScreen_ZeroPanics(t *testing.T) {
	assert.Panics(t, func() { NewScreen(0) })
}

func TestProperty_RenderShape(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.IntRange(1, 32).Draw(rt, "size")
		s := NewScreen(size)
		x := rapid.IntRange(0, size-1).Draw(rt, "x")
		y := rapid.IntRange(0, size-1).Draw(rt, "y")
		if err := s.Set(x, y, '@'); err != nil {
			rt.Fatalf("set: %v", err)
		}
		lines := strings.Split(s.String(), "\n")
		if len(lines) != size {
			rt.Fatalf("got %d lines, want %d", len(lines), size)
		}
		for _, l := range lines {
			if len([]rune(l)) != size {
				rt.Fatalf("line %q has wrong width", l)
			}
		}
		if []rune(lines[y])[x] != '@' {
			rt.Fatalf("cell not rendered")
		}
	})
}
