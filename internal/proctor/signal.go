package proctor

import (
	"slices"
	"strings"
	"time"
)

// SignalKind names a client document signal.
type SignalKind string

const (
	SignalVisibilityChange SignalKind = "visibilitychange"
	SignalBlur             SignalKind = "blur"
	SignalFocus            SignalKind = "focus"
	SignalFullscreenChange SignalKind = "fullscreenchange"
	SignalFullscreenError  SignalKind = "fullscreenerror"
	SignalCopy             SignalKind = "copy"
	SignalPaste            SignalKind = "paste"
	SignalContextMenu      SignalKind = "contextmenu"
	SignalKeyDown          SignalKind = "keydown"
)

// Valid reports whether k is a known signal kind.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalVisibilityChange, SignalBlur, SignalFocus, SignalFullscreenChange,
		SignalFullscreenError, SignalCopy, SignalPaste, SignalContextMenu, SignalKeyDown:
		return true
	}
	return false
}

// KeyCombo is a keydown with its modifier state. Code is the physical key
// (KeyboardEvent.code, e.g. "KeyI"); Option on macOS changes Key but not Code.
type KeyCombo struct {
	Key   string `json:"key"`
	Code  string `json:"code,omitempty"`
	Ctrl  bool   `json:"ctrl,omitempty"`
	Shift bool   `json:"shift,omitempty"`
	Alt   bool   `json:"alt,omitempty"`
	Meta  bool   `json:"meta,omitempty"`
}

// letter returns the letter of a "KeyX" code, or "".
func (k KeyCombo) letter() string {
	if len(k.Code) == 4 && strings.HasPrefix(k.Code, "Key") {
		return k.Code[3:]
	}
	return ""
}

// String renders the combo as e.g. "Ctrl+Shift+I".
func (k KeyCombo) String() string {
	var parts []string
	if k.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if k.Meta {
		parts = append(parts, "Meta")
	}
	if k.Alt {
		parts = append(parts, "Alt")
	}
	if k.Shift {
		parts = append(parts, "Shift")
	}
	key := k.Key
	if len(key) == 1 {
		key = strings.ToUpper(key)
	}
	return strings.Join(append(parts, key), "+")
}

// Signal is one event reported by the client.
type Signal struct {
	Kind   SignalKind
	Hidden bool     // visibilitychange: document is hidden
	Active bool     // fullscreenchange: fullscreen is active
	Key    KeyCombo // keydown
	At     time.Time

	prevented bool
}

// PreventDefault asks the client to suppress the signal's default action.
func (s *Signal) PreventDefault() {
	s.prevented = true
}

// DefaultPrevented reports whether a listener called PreventDefault.
func (s *Signal) DefaultPrevented() bool {
	return s.prevented
}

// FullscreenRequester asks the client to enter fullscreen.
type FullscreenRequester interface {
	RequestFullscreen() error
}

// Environment mirrors the client's document: its visibility, focus and
// fullscreen state, and the listeners registered against its signals.
type Environment struct {
	hidden     bool
	focused    bool
	fullscreen bool

	requester FullscreenRequester
	listeners map[SignalKind]map[int]func(*Signal)
	nextID    int
}

// NewEnvironment creates a visible, focused, non-fullscreen environment.
func NewEnvironment(requester FullscreenRequester) *Environment {
	return &Environment{
		focused:   true,
		requester: requester,
		listeners: make(map[SignalKind]map[int]func(*Signal)),
	}
}

// AddListener registers fn for kind and returns its remover. Removing twice is a no-op.
func (e *Environment) AddListener(kind SignalKind, fn func(*Signal)) (remove func()) {
	set, ok := e.listeners[kind]
	if !ok {
		set = make(map[int]func(*Signal))
		e.listeners[kind] = set
	}
	id := e.nextID
	e.nextID++
	set[id] = fn

	return func() {
		if set, ok := e.listeners[kind]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(e.listeners, kind)
			}
		}
	}
}

// Dispatch updates the document state and delivers sig to the listeners of its kind
// in registration order.
func (e *Environment) Dispatch(sig *Signal) {
	switch sig.Kind {
	case SignalVisibilityChange:
		e.hidden = sig.Hidden
	case SignalBlur:
		e.focused = false
	case SignalFocus:
		e.focused = true
	case SignalFullscreenChange:
		e.fullscreen = sig.Active
	}

	set := e.listeners[sig.Kind]
	if len(set) == 0 {
		return
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if fn, ok := set[id]; ok {
			fn(sig)
		}
	}
}

// HasFocus reports whether the document currently has focus.
func (e *Environment) HasFocus() bool {
	return e.focused && !e.hidden
}

// Hidden reports whether the document is hidden.
func (e *Environment) Hidden() bool {
	return e.hidden
}

// FullscreenActive reports whether the client last reported fullscreen.
func (e *Environment) FullscreenActive() bool {
	return e.fullscreen
}

// RequestFullscreen forwards a fullscreen request to the client.
func (e *Environment) RequestFullscreen() error {
	if e.requester == nil {
		return ErrNoClient
	}
	return e.requester.RequestFullscreen()
}

// ListenerCount returns the number of registered listeners.
func (e *Environment) ListenerCount() int {
	n := 0
	for _, set := range e.listeners {
		n += len(set)
	}
	return n
}
