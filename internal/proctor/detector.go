package proctor

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Report hands a detected violation to the monitor.
type Report func(reason model.ViolationReason, detail string)

// Detector watches one family of signals. Attach registers its listeners and
// returns a function that removes every one of them.
type Detector interface {
	Name() string
	Attach(env *Environment, report Report) (detach func())
}

// focusEpisode spans a single loss of focus, from blur until the next focus signal.
// Detectors sharing an episode report it at most once.
type focusEpisode struct {
	reported bool
}

func (e *focusEpisode) claim() bool {
	if e == nil {
		return true
	}
	if e.reported {
		return false
	}
	e.reported = true
	return true
}

func (e *focusEpisode) reset() {
	if e != nil {
		e.reported = false
	}
}

// DetectorConfig selects and tunes the default detector set.
type DetectorConfig struct {
	Dispatcher        Dispatcher
	FocusPollInterval time.Duration
	DedupFocusLoss    bool
	RequireFullscreen bool
	Keys              KeyPolicy
}

// DefaultDetectors builds the standard detector set.
func DefaultDetectors(cfg DetectorConfig) []Detector {
	var episode *focusEpisode
	if cfg.DedupFocusLoss {
		episode = &focusEpisode{}
	}
	keys := cfg.Keys
	if keys == nil {
		keys = DefaultKeyPolicy()
	}

	detectors := []Detector{
		VisibilityDetector{},
		&BlurDetector{episode: episode},
		&FocusPollDetector{D: cfg.Dispatcher, Interval: cfg.FocusPollInterval, episode: episode},
	}
	if cfg.RequireFullscreen {
		detectors = append(detectors, FullscreenDetector{})
	}
	return append(detectors, ClipboardDetector{}, KeyDetector{Policy: keys})
}

// VisibilityDetector reports the page becoming hidden (tab switch, minimize).
type VisibilityDetector struct{}

func (VisibilityDetector) Name() string { return "visibility" }

func (VisibilityDetector) Attach(env *Environment, report Report) func() {
	return env.AddListener(SignalVisibilityChange, func(s *Signal) {
		if s.Hidden {
			report(model.ReasonTabSwitch, "")
		}
	})
}

// BlurDetector reports the window losing focus.
type BlurDetector struct {
	episode *focusEpisode
}

func (*BlurDetector) Name() string { return "blur" }

func (d *BlurDetector) Attach(env *Environment, report Report) func() {
	removeBlur := env.AddListener(SignalBlur, func(*Signal) {
		if d.episode.claim() {
			report(model.ReasonWindowBlur, "")
		}
	})
	removeFocus := env.AddListener(SignalFocus, func(*Signal) {
		d.episode.reset()
	})
	return func() {
		removeBlur()
		removeFocus()
	}
}

// FocusPollDetector checks document focus on a fixed interval and reports while it is lost.
// Without a shared episode it reports on every poll, so it can count alongside BlurDetector.
type FocusPollDetector struct {
	D        Dispatcher
	Interval time.Duration
	episode  *focusEpisode
}

func (*FocusPollDetector) Name() string { return "focus_poll" }

func (d *FocusPollDetector) Attach(env *Environment, report Report) func() {
	interval := d.Interval
	if interval <= 0 {
		interval = time.Second
	}

	var (
		cancel   func()
		detached bool
		poll     func()
	)
	poll = func() {
		if detached {
			return
		}
		if env.HasFocus() {
			d.episode.reset()
		} else if d.episode.claim() {
			report(model.ReasonFocusLost, "")
		}
		if !detached {
			cancel = d.D.AfterFunc(interval, poll)
		}
	}
	cancel = d.D.AfterFunc(interval, poll)

	removeFocus := env.AddListener(SignalFocus, func(*Signal) {
		d.episode.reset()
	})

	return func() {
		detached = true
		if cancel != nil {
			cancel()
		}
		removeFocus()
	}
}

// FullscreenDetector re-requests fullscreen whenever the client leaves it and
// reports when re-entry fails.
type FullscreenDetector struct{}

func (FullscreenDetector) Name() string { return "fullscreen" }

func (FullscreenDetector) Attach(env *Environment, report Report) func() {
	removeChange := env.AddListener(SignalFullscreenChange, func(s *Signal) {
		if s.Active {
			return
		}
		if err := env.RequestFullscreen(); err != nil {
			report(model.ReasonFullscreenExit, err.Error())
		}
	})
	removeError := env.AddListener(SignalFullscreenError, func(*Signal) {
		report(model.ReasonFullscreenExit, "fullscreen request rejected")
	})
	return func() {
		removeChange()
		removeError()
	}
}

// ClipboardDetector reports copy, paste and context-menu attempts.
type ClipboardDetector struct{}

func (ClipboardDetector) Name() string { return "clipboard" }

func (ClipboardDetector) Attach(env *Environment, report Report) func() {
	removers := []func(){
		env.AddListener(SignalCopy, func(*Signal) { report(model.ReasonCopy, "") }),
		env.AddListener(SignalPaste, func(*Signal) { report(model.ReasonPaste, "") }),
		env.AddListener(SignalContextMenu, func(*Signal) { report(model.ReasonContextMenu, "") }),
	}
	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}

// KeyDetector suppresses and reports restricted key combinations.
type KeyDetector struct {
	Policy KeyPolicy
}

func (KeyDetector) Name() string { return "keys" }

func (d KeyDetector) Attach(env *Environment, report Report) func() {
	return env.AddListener(SignalKeyDown, func(s *Signal) {
		rule, ok := d.Policy.Match(s.Key)
		if !ok {
			return
		}
		s.PreventDefault()
		report(model.ReasonRestrictedKey, rule.Label)
	})
}
