// ABOUTME: Spatial state machine for free-form chat window placement
// ABOUTME: Tracks drag/resize/pan gestures, stacking order, and layout mode

package canvas

import "sync"

// Window geometry defaults and floors, in canvas pixels.
const (
	DefaultWidth  = 450
	DefaultHeight = 650
	MinWidth      = 300
	MinHeight     = 400

	originX = 50
	originY = 50
	stagger = 40

	baseZ = 100
)

// Layout is the placement of one session window on the canvas.
type Layout struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
	Z      int `json:"z_index"`
}

// Mode selects how the workspace arranges windows.
type Mode string

const (
	// ModeFocus shows only the active session at full size; layouts are ignored.
	ModeFocus Mode = "focus"
	// ModeCanvas is free-form placement with drag/resize/z-order.
	ModeCanvas Mode = "canvas"
)

// ParseMode maps a persisted mode string to a Mode, defaulting to canvas.
func ParseMode(s string) Mode {
	if Mode(s) == ModeFocus {
		return ModeFocus
	}
	return ModeCanvas
}

type gestureKind int

const (
	gestureNone gestureKind = iota
	gestureDrag
	gestureResize
	gesturePan
)

// Engine owns the global stacking counter, the current layout mode, and
// the single active gesture. At most one window may be the target of a
// drag or resize at a time; a pan excludes both.
type Engine struct {
	mu      sync.Mutex
	mode    Mode
	maxZ    int
	gesture gestureKind
	target  int64

	// Drag: pointer offset from the window's top-left at gesture start.
	offsetX, offsetY int
	// Resize: the window anchor (top-left) and stacking stay fixed.
	anchor Layout
	// Pan: last observed pointer position.
	panX, panY int
}

// NewEngine returns an engine in canvas mode with the stacking counter at
// its base value.
func NewEngine() *Engine {
	return &Engine{mode: ModeCanvas, maxZ: baseZ}
}

// Mode returns the current layout mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode switches between focus and canvas arrangement.
func (e *Engine) SetMode(m Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = m
}

// NextZ returns the next stacking value. Every raise-to-front consumes a
// new value, so the latest raise always wins.
func (e *Engine) NextZ() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxZ++
	return e.maxZ
}

// Place returns the staggered layout for the nth open window, offset from
// the previous one so new windows never overlap exactly.
func (e *Engine) Place(n int) Layout {
	return Layout{
		X:      originX + n*stagger,
		Y:      originY + n*stagger,
		Width:  DefaultWidth,
		Height: DefaultHeight,
		Z:      e.NextZ(),
	}
}

// BeginDrag starts dragging the window with the given layout. The pointer
// offset from the window's top-left is recorded so the window does not
// jump under the pointer. Returns false if another gesture is active.
func (e *Engine) BeginDrag(id int64, l Layout, pointerX, pointerY int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gesture != gestureNone {
		return false
	}
	e.gesture = gestureDrag
	e.target = id
	e.offsetX = pointerX - l.X
	e.offsetY = pointerY - l.Y
	e.anchor = l
	return true
}

// BeginResize starts resizing the window, anchored at its top-left corner.
// Returns false if another gesture is active.
func (e *Engine) BeginResize(id int64, l Layout) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gesture != gestureNone {
		return false
	}
	e.gesture = gestureResize
	e.target = id
	e.anchor = l
	return true
}

// BeginPan starts a canvas pan from the given pointer position. Pans are
// only meaningful in canvas mode and exclude drag/resize.
func (e *Engine) BeginPan(pointerX, pointerY int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gesture != gestureNone || e.mode != ModeCanvas {
		return false
	}
	e.gesture = gesturePan
	e.panX = pointerX
	e.panY = pointerY
	return true
}

// PointerMove advances the active drag or resize and returns the target
// window id and its new layout. ok is false when no drag/resize is active.
func (e *Engine) PointerMove(pointerX, pointerY int) (id int64, l Layout, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.gesture {
	case gestureDrag:
		l = e.anchor
		l.X = pointerX - e.offsetX
		l.Y = pointerY - e.offsetY
		return e.target, l, true
	case gestureResize:
		l = e.anchor
		l.Width = max(MinWidth, pointerX-e.anchor.X)
		l.Height = max(MinHeight, pointerY-e.anchor.Y)
		return e.target, l, true
	default:
		return 0, Layout{}, false
	}
}

// PanMove advances an active pan and returns the scroll delta since the
// last pointer position.
func (e *Engine) PanMove(pointerX, pointerY int) (dx, dy int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gesture != gesturePan {
		return 0, 0, false
	}
	dx = pointerX - e.panX
	dy = pointerY - e.panY
	e.panX = pointerX
	e.panY = pointerY
	return dx, dy, true
}

// EndGesture releases whatever gesture is active.
func (e *Engine) EndGesture() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gesture = gestureNone
	e.target = 0
}

// Dragging reports whether id is the target of an active drag or resize.
func (e *Engine) Dragging(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gesture != gestureNone && e.gesture != gesturePan && e.target == id
}
