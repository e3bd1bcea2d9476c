// ABOUTME: Tests for the canvas layout state machine
// ABOUTME: Covers drag arithmetic, resize floors, gesture exclusivity, stacking

package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDragFollowsPointerWithRecordedOffset(t *testing.T) {
	e := NewEngine()

	start := Layout{X: 50, Y: 50, Width: 450, Height: 650, Z: 101}
	require.True(t, e.BeginDrag(7, start, 120, 140))

	id, l, ok := e.PointerMove(200, 210)
	require.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, 130, l.X)
	assert.Equal(t, 120, l.Y)
	// Size and stacking are untouched by a drag.
	assert.Equal(t, 450, l.Width)
	assert.Equal(t, 650, l.Height)
	assert.Equal(t, 101, l.Z)
}

func TestResizeAnchoredTopLeftWithFloors(t *testing.T) {
	e := NewEngine()

	start := Layout{X: 100, Y: 100, Width: 450, Height: 650}
	require.True(t, e.BeginResize(3, start))

	_, l, ok := e.PointerMove(700, 600)
	require.True(t, ok)
	assert.Equal(t, 600, l.Width)
	assert.Equal(t, 500, l.Height)
	assert.Equal(t, 100, l.X, "resize must not move the window")

	// Dragging the pointer past the anchor clamps to the usable floor.
	_, l, ok = e.PointerMove(110, 90)
	require.True(t, ok)
	assert.Equal(t, MinWidth, l.Width)
	assert.Equal(t, MinHeight, l.Height)
}

func TestOnlyOneGestureAtATime(t *testing.T) {
	e := NewEngine()

	require.True(t, e.BeginDrag(1, Layout{}, 0, 0))
	assert.False(t, e.BeginDrag(2, Layout{}, 0, 0))
	assert.False(t, e.BeginResize(2, Layout{}))
	assert.False(t, e.BeginPan(0, 0))

	e.EndGesture()
	assert.True(t, e.BeginResize(2, Layout{}))
}

func TestPanDeltasAreIncremental(t *testing.T) {
	e := NewEngine()

	require.True(t, e.BeginPan(10, 10))
	dx, dy, ok := e.PanMove(25, 5)
	require.True(t, ok)
	assert.Equal(t, 15, dx)
	assert.Equal(t, -5, dy)

	dx, dy, ok = e.PanMove(30, 5)
	require.True(t, ok)
	assert.Equal(t, 5, dx)
	assert.Equal(t, 0, dy)
}

func TestPanRequiresCanvasMode(t *testing.T) {
	e := NewEngine()
	e.SetMode(ModeFocus)
	assert.False(t, e.BeginPan(0, 0))

	e.SetMode(ModeCanvas)
	assert.True(t, e.BeginPan(0, 0))
}

func TestNextZIsMonotonic(t *testing.T) {
	e := NewEngine()
	a := e.NextZ()
	b := e.NextZ()
	c := e.NextZ()
	assert.Greater(t, b, a)
	assert.Greater(t, c, b)
}

func TestPlaceStaggersWindows(t *testing.T) {
	e := NewEngine()

	first := e.Place(0)
	second := e.Place(1)

	assert.Equal(t, 50, first.X)
	assert.Equal(t, 50, first.Y)
	assert.Equal(t, 90, second.X)
	assert.Equal(t, 90, second.Y)
	assert.Greater(t, second.Z, first.Z)
	assert.Equal(t, DefaultWidth, first.Width)
	assert.Equal(t, DefaultHeight, first.Height)
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeFocus, ParseMode("focus"))
	assert.Equal(t, ModeCanvas, ParseMode("canvas"))
	assert.Equal(t, ModeCanvas, ParseMode("garbage"))
}
