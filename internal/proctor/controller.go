package proctor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Controller runs one proctored exam session. It owns the clock, the violation
// monitor, the answer state and the one-shot submit latch.
//
// Every method must be called on the Dispatcher's goroutine.
type Controller struct {
	d    Dispatcher
	gw   Gateway
	who  Principal
	opts Options
	sink Sink
	env  *Environment
	log  zerolog.Logger

	phase     model.SessionPhase
	loaded    bool
	loading   bool
	waiters   []func(error)
	info      model.SessionInfo
	questions []model.Question
	order     []int
	answers   *AnswerState
	clock     *Clock
	monitor   *Monitor

	resumed   bool
	started   int
	latched   bool
	trigger   model.SubmitTrigger
	submitErr error
	closed    bool
}

// NewController creates a controller in phase not_started. requester is asked to
// enter fullscreen on start and whenever the client leaves it.
func NewController(d Dispatcher, gw Gateway, who Principal, requester FullscreenRequester, sink Sink, opts Options) *Controller {
	opts = opts.withDefaults()
	if sink == nil {
		sink = Sinks(nil)
	}
	return &Controller{
		d:     d,
		gw:    gw,
		who:   who,
		opts:  opts,
		sink:  sink,
		env:   NewEnvironment(requester),
		phase: model.PhaseNotStarted,
		log: opts.Logger.With().
			Str("component", "session").
			Str("test_id", who.TestID).
			Int("student_id", who.StudentID).
			Logger(),
	}
}

// Load fetches the test content off the loop and installs it. done runs on the loop
// with the fetch result. A failed fetch leaves the session not started; Load may
// then be called again.
func (c *Controller) Load(ctx context.Context, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	switch {
	case c.closed:
		done(ErrSessionClosed)
		return
	case c.loaded:
		done(nil)
		return
	}

	c.waiters = append(c.waiters, done)
	if c.loading {
		return
	}
	c.loading = true

	c.d.Go(func() {
		content, err := c.gw.FetchTest(ctx, c.who)
		c.d.Post(func() {
			c.install(content, err)
		})
	})
}

func (c *Controller) install(content *model.TestContent, err error) {
	c.loading = false
	if err == nil && content == nil {
		err = errors.New("empty test content")
	}
	if err == nil && !c.closed {
		c.prepare(content)
		c.log.Info().
			Int("questions", len(c.questions)).
			Int("budget_seconds", c.info.TimeBudget).
			Msg("Test content loaded")
	}
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to fetch test content")
		err = fmt.Errorf("%w: %w", ErrFetchFailed, err)
	} else if c.closed {
		err = ErrSessionClosed
	}

	waiters := c.waiters
	c.waiters = nil
	for _, done := range waiters {
		done(err)
	}
}

func (c *Controller) prepare(content *model.TestContent) {
	n := len(content.Questions)

	total := 0
	for _, q := range content.Questions {
		total += q.PointValue()
	}
	c.info = model.SessionInfo{
		Title:         content.Title,
		Subject:       content.Subject,
		QuestionCount: n,
		TotalPoints:   total,
		TimeBudget:    content.Minutes * 60,
		Instructions:  append([]string(nil), content.Rules...),
	}

	// The permutation is drawn once; indices stay stable for the whole session.
	orderRestored := isPermutation(c.opts.Order, n)
	c.order = c.opts.perm(n)
	c.questions = make([]model.Question, n)
	for display, original := range c.order {
		c.questions[display] = content.Questions[original]
	}

	c.answers = NewAnswerState(n)
	c.restore(orderRestored)
	c.loaded = true

	c.emit(Event{Type: EventOrder, Order: c.Order()})
	c.emitState()
}

// restore applies progress from an earlier run. Stored answers that no longer
// fit their question are dropped.
func (c *Controller) restore(orderRestored bool) {
	r := c.opts.Resume
	if r == nil || !r.Started {
		return
	}
	c.resumed = true

	display := make(map[int]int, len(c.order))
	for d, original := range c.order {
		display[original] = d
	}
	for original, a := range r.Answers {
		d, ok := display[original]
		if !ok || a.Validate(c.questions[d]) != nil {
			continue
		}
		_ = c.answers.Save(d, a.Normalize(c.questions[d]))
	}
	for _, original := range r.Review {
		if d, ok := display[original]; ok {
			_ = c.answers.MarkReview(d)
		}
	}
	if orderRestored {
		for d, st := range r.Palette {
			if st != model.PaletteNotVisited {
				c.answers.MarkVisited(d)
			}
		}
		_ = c.answers.GoTo(r.Current)
	}
}

// Start enters the first question, starts the clock and attaches the detectors.
func (c *Controller) Start() error {
	switch {
	case c.closed:
		return ErrSessionClosed
	case !c.loaded:
		return ErrNotLoaded
	case c.phase != model.PhaseNotStarted:
		return ErrAlreadyStarted
	}

	if c.opts.RequireFullscreen && !c.env.FullscreenActive() {
		if err := c.env.RequestFullscreen(); err != nil {
			return fmt.Errorf("%w: %w", ErrFullscreenRequired, err)
		}
	}

	if c.answers.Len() > 0 {
		_ = c.answers.GoTo(c.answers.Current())
	}

	budget := c.budget()
	c.started = budget

	c.monitor = NewMonitor(c.env, c.opts.Threshold, DefaultDetectors(DetectorConfig{
		Dispatcher:        c.d,
		FocusPollInterval: c.opts.FocusPollInterval,
		DedupFocusLoss:    c.opts.DedupFocusLoss,
		RequireFullscreen: c.opts.RequireFullscreen,
		Keys:              c.opts.Keys,
	}), MonitorHooks{
		OnViolation: c.onViolation,
		OnBreach:    c.onBreach,
	})
	c.clock = NewClock(c.d, budget, c.opts.TickInterval, c.onTick, c.onExpire)
	if c.resumed {
		c.monitor.Restore(c.opts.Resume.Violations)
	}

	c.phase = model.PhaseRunning
	if c.resumed {
		c.log.Info().
			Int("remaining", budget).
			Int("violations", c.monitor.Count()).
			Int("answered", len(c.answers.Answers())).
			Msg("Session resumed")
	} else {
		c.log.Info().Msg("Session started")
	}
	c.emitState()

	c.monitor.Start()
	if c.monitor.Count() >= c.monitor.Threshold() {
		c.notify(NoticeError, msgThresholdBreach, true)
		c.submit(model.TriggerViolation)
		return nil
	}
	c.clock.Start()
	return nil
}

// Save stores the answer for display index i.
func (c *Controller) Save(i int, a model.Answer) error {
	if err := c.mutable(i); err != nil {
		return err
	}
	q := c.questions[i]
	if err := a.Validate(q); err != nil {
		return err
	}
	a = a.Normalize(q)
	if err := c.answers.Save(i, a); err != nil {
		return err
	}
	c.emit(Event{Type: EventAnswer, Index: i, Original: c.order[i], QuestionID: q.ID, Answer: &a})
	return nil
}

// Clear removes the answer for display index i.
func (c *Controller) Clear(i int) error {
	if err := c.mutable(i); err != nil {
		return err
	}
	if err := c.answers.Clear(i); err != nil {
		return err
	}
	c.emit(Event{Type: EventAnswer, Index: i, Original: c.order[i], QuestionID: c.questions[i].ID})
	return nil
}

// MarkReview flags display index i for review.
func (c *Controller) MarkReview(i int) error {
	if err := c.mutable(i); err != nil {
		return err
	}
	if err := c.answers.MarkReview(i); err != nil {
		return err
	}
	c.emit(Event{Type: EventReview, Index: i, Original: c.order[i], QuestionID: c.questions[i].ID, Review: true})
	return nil
}

// GoTo makes display index i the active question.
func (c *Controller) GoTo(i int) error {
	if err := c.mutable(i); err != nil {
		return err
	}
	return c.answers.GoTo(i)
}

func (c *Controller) mutable(i int) error {
	if c.closed {
		return ErrSessionClosed
	}
	if c.phase != model.PhaseRunning {
		return ErrNotRunning
	}
	if i < 0 || i >= len(c.questions) {
		return ErrIndexOutOfRange
	}
	return nil
}

// Summary counts the palette for the submit-confirmation prompt.
func (c *Controller) Summary() (model.SubmitSummary, error) {
	if !c.loaded {
		return model.SubmitSummary{}, ErrNotLoaded
	}
	return c.answers.Summary(), nil
}

// ConfirmSubmit submits on the student's explicit confirmation.
func (c *Controller) ConfirmSubmit() error {
	switch {
	case c.closed:
		return ErrSessionClosed
	case c.latched:
		return ErrAlreadySubmitted
	case c.phase != model.PhaseRunning:
		return ErrNotRunning
	}
	c.submit(model.TriggerUser)
	return nil
}

// Dispatch delivers a client signal and reports whether its default action
// should be suppressed.
func (c *Controller) Dispatch(sig *Signal) bool {
	if c.closed || sig == nil {
		return false
	}
	if sig.At.IsZero() {
		sig.At = c.opts.Now()
	}
	c.env.Dispatch(sig)
	return sig.DefaultPrevented()
}

// Close tears the session down: the clock and every detector stop together.
// It is idempotent. An in-flight submission still completes. A running session
// emits a final state so the stored snapshot holds the remaining time.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	if c.phase == model.PhaseRunning {
		c.emitState()
	}
	c.closed = true
	c.teardown()
	c.log.Debug().Str("phase", string(c.phase)).Msg("Session closed")
}

func (c *Controller) teardown() {
	if c.clock != nil {
		c.clock.Stop()
	}
	if c.monitor != nil {
		c.monitor.Stop()
	}
}

func (c *Controller) onTick(remaining int) {
	c.emit(Event{Type: EventTick, Remaining: remaining})
	elapsed := c.started - remaining
	if every := c.opts.CheckpointEvery; every > 0 && elapsed > 0 && elapsed%every == 0 && remaining > 0 {
		c.emitState()
	}
}

func (c *Controller) onExpire() {
	c.log.Info().Msg("Time budget exhausted")
	c.notify(NoticeWarning, msgTimeUp, true)
	c.submit(model.TriggerTimer)
}

func (c *Controller) onViolation(v model.Violation) {
	c.log.Warn().
		Str("reason", string(v.Reason)).
		Int("count", v.Count).
		Int("threshold", c.monitor.Threshold()).
		Msg("Violation recorded")

	msg := fmt.Sprintf("Pelanggaran %d/%d: %s", v.Count, c.monitor.Threshold(), v.Reason.Describe())
	c.emit(Event{
		Type:      EventViolation,
		Violation: &v,
		Threshold: c.monitor.Threshold(),
		Notice:    &Notice{Level: NoticeWarning, Message: msg},
	})
	c.emitState()
}

func (c *Controller) onBreach(v model.Violation) {
	if c.latched {
		return
	}
	c.log.Warn().
		Str("reason", string(v.Reason)).
		Int("count", v.Count).
		Msg("Violation threshold reached")

	msg := fmt.Sprintf("Pelanggaran %d/%d: %s %s", v.Count, c.monitor.Threshold(), v.Reason.Describe(), msgThresholdBreach)
	c.emit(Event{
		Type:      EventViolation,
		Violation: &v,
		Threshold: c.monitor.Threshold(),
		Notice:    &Notice{Level: NoticeError, Message: msg, Terminal: true},
	})
	c.submit(model.TriggerViolation)
}

// submit is the single submission point. The first trigger latches; the rest are no-ops.
func (c *Controller) submit(trigger model.SubmitTrigger) {
	if c.latched {
		return
	}
	c.latched = true
	c.trigger = trigger

	c.teardown()
	c.monitor.Freeze()
	c.phase = model.PhaseSubmitting

	payload := c.payload()
	c.log.Info().
		Str("trigger", string(trigger)).
		Int("answered", len(payload)).
		Msg("Submitting answers")
	c.emitState()

	who := c.who
	timeout := c.opts.SubmitTimeout
	c.d.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := c.gw.SubmitTest(ctx, who, payload)
		c.d.Post(func() {
			c.finishSubmit(payload, res, err)
		})
	})
}

// payload keys answered questions by their index in the fetched test.
func (c *Controller) payload() map[int]model.Answer {
	out := make(map[int]model.Answer)
	for display, a := range c.answers.Answers() {
		out[c.order[display]] = a
	}
	return out
}

func (c *Controller) finishSubmit(payload map[int]model.Answer, res *model.SubmitResult, err error) {
	if err != nil {
		c.submitErr = err
		c.log.Error().Err(err).Str("trigger", string(c.trigger)).Msg("Submission failed")
		c.emit(Event{Type: EventSubmitFailed, Trigger: c.trigger, Answers: payload, Err: err.Error()})
		c.notify(NoticeError, msgSubmitFailed, true)
		c.emitState()
		return
	}

	c.phase = model.PhaseSubmitted
	msg := msgSubmitted
	if res != nil && res.Message != "" {
		msg = res.Message
	}
	c.log.Info().Str("trigger", string(c.trigger)).Msg("Submission accepted")
	c.emit(Event{Type: EventSubmitted, Trigger: c.trigger, Answers: payload})
	c.notify(NoticeSuccess, msg, true)
	c.emitState()
	c.emit(Event{Type: EventNavigate, Redirect: c.opts.RedirectTo})
}

func (c *Controller) notify(level NoticeLevel, msg string, terminal bool) {
	c.emit(Event{Type: EventNotice, Notice: &Notice{Level: level, Message: msg, Terminal: terminal}})
}

func (c *Controller) emitState() {
	snap := c.Snapshot()
	c.emit(Event{Type: EventState, Snapshot: &snap})
}

func (c *Controller) emit(e Event) {
	if e.At.IsZero() {
		e.At = c.opts.Now()
	}
	e.Phase = c.phase
	if c.clock != nil && e.Type != EventTick {
		e.Remaining = c.clock.Remaining()
	}
	c.sink.Emit(e)
}

// Phase returns the lifecycle phase.
func (c *Controller) Phase() model.SessionPhase {
	return c.phase
}

// Loaded reports whether the test content has been installed.
func (c *Controller) Loaded() bool {
	return c.loaded
}

// Info returns the session info derived at load.
func (c *Controller) Info() model.SessionInfo {
	return c.info
}

// Questions returns the questions in display order, without backend ids.
func (c *Controller) Questions() []model.QuestionForStudent {
	out := make([]model.QuestionForStudent, len(c.questions))
	for i, q := range c.questions {
		out[i] = model.QuestionForStudent{
			Index:      i,
			Text:       q.Text,
			Kind:       q.Kind,
			Options:    q.Options,
			Points:     q.PointValue(),
			Difficulty: q.Difficulty,
		}
	}
	return out
}

// Order maps display index to the question's index in the fetched test.
func (c *Controller) Order() []int {
	return append([]int(nil), c.order...)
}

// Principal returns who the session belongs to.
func (c *Controller) Principal() Principal {
	return c.who
}

// Environment exposes the client document mirror.
func (c *Controller) Environment() *Environment {
	return c.env
}

// Threshold returns the violation count that forces submission.
func (c *Controller) Threshold() int {
	return c.opts.Threshold
}

// RestrictedKeys lists the blocked key combinations for the pre-start screen.
func (c *Controller) RestrictedKeys() []string {
	return c.opts.Keys.Labels()
}

// Violations returns the violation count.
func (c *Controller) Violations() int {
	switch {
	case c.monitor != nil:
		return c.monitor.Count()
	case c.resumed:
		return c.opts.Resume.Violations
	}
	return 0
}

// budget is the clock's starting point: the full time budget, or what a
// resumed session had left.
func (c *Controller) budget() int {
	if c.resumed && c.opts.Resume.Remaining >= 0 && c.opts.Resume.Remaining < c.info.TimeBudget {
		return c.opts.Resume.Remaining
	}
	return c.info.TimeBudget
}

// Resumed reports whether the session continues progress stored by an earlier run.
func (c *Controller) Resumed() bool {
	return c.resumed
}

// Trigger returns what latched the submission, if anything did.
func (c *Controller) Trigger() model.SubmitTrigger {
	return c.trigger
}

// SubmitErr returns the error of a failed submission.
func (c *Controller) SubmitErr() error {
	return c.submitErr
}

// Snapshot returns a point-in-time view of the session.
func (c *Controller) Snapshot() model.SessionSnapshot {
	snap := model.SessionSnapshot{
		TestID:     c.who.TestID,
		StudentID:  c.who.StudentID,
		Phase:      c.phase,
		Remaining:  c.budget(),
		Violations: c.Violations(),
		Threshold:  c.opts.Threshold,
		Trigger:    c.trigger,
		Resumed:    c.resumed,
		UpdatedAt:  c.opts.Now(),
	}
	if c.clock != nil {
		snap.Remaining = c.clock.Remaining()
	}
	if c.answers != nil {
		snap.Current = c.answers.Current()
		snap.Palette = c.answers.Palette()
		snap.Answers = c.answers.Answers()
		snap.Review = c.answers.Review()
	}
	if c.submitErr != nil {
		snap.SubmitError = c.submitErr.Error()
	}
	return snap
}
