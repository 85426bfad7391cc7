package proctor

import (
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Options tunes a session controller. Zero values fall back to the defaults below.
type Options struct {
	Threshold         int
	TickInterval      time.Duration
	FocusPollInterval time.Duration
	DedupFocusLoss    bool
	RequireFullscreen bool
	Keys              KeyPolicy
	RedirectTo        string
	SubmitTimeout     time.Duration
	// CheckpointEvery emits a state event every n clock ticks so stored
	// snapshots keep an up-to-date remaining time. Zero disables it.
	CheckpointEvery int

	// Order restores a previously drawn question order. It is ignored unless it
	// is a permutation of the fetched questions.
	Order []int
	// Resume carries progress from an earlier run of the same session.
	Resume *Resume
	// Rand shuffles the question order. Nil uses the package-level source.
	Rand   *rand.Rand
	Logger zerolog.Logger
	Now    func() time.Time
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Threshold:         DefaultViolationThreshold,
		TickInterval:      time.Second,
		FocusPollInterval: time.Second,
		DedupFocusLoss:    true,
		RequireFullscreen: true,
		Keys:              DefaultKeyPolicy(),
		RedirectTo:        "/student/dashboard",
		SubmitTimeout:     30 * time.Second,
		CheckpointEvery:   15,
		Logger:            zerolog.Nop(),
	}
}

// Resume is the stored progress of a session that was started on an earlier
// controller, for example before a restart. Answers and Review are keyed by the
// question's index in the fetched test; Current and Palette by display index and
// are only applied when the stored order was restored too.
type Resume struct {
	Started    bool
	Remaining  int
	Violations int
	Current    int
	Palette    []model.PaletteStatus
	Answers    map[int]model.Answer
	Review     []int
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultViolationThreshold
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.FocusPollInterval <= 0 {
		o.FocusPollInterval = time.Second
	}
	if o.Keys == nil {
		o.Keys = DefaultKeyPolicy()
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) perm(n int) []int {
	if isPermutation(o.Order, n) {
		return append([]int(nil), o.Order...)
	}
	if o.Rand != nil {
		return o.Rand.Perm(n)
	}
	return rand.Perm(n)
}

func isPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, i := range order {
		if i < 0 || i >= n || seen[i] {
			return false
		}
		seen[i] = true
	}
	return true
}
