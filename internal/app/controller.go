package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"quiz-learner-client/internal/domain"
)

// Phase is the controller's position in the question flow.
type Phase string

const (
	PhaseLobby       Phase = "lobby"
	PhaseQuestion    Phase = "question"
	PhaseAnswered    Phase = "answered"
	PhaseRoomResults Phase = "room_results"
	PhaseFinished    Phase = "finished"
)

// ControllerConfig holds learner-side policy and request deadlines.
type ControllerConfig struct {
	Coordinator         CoordinatorConfig
	SubmitTimeout       time.Duration
	FeedbackTimeout     time.Duration
	FallbackCorrect     string
	FallbackIncorrect   string
	AutoSubmitOnTimeout bool
	DefaultConfidence   int
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Coordinator:       DefaultCoordinatorConfig(),
		SubmitTimeout:     30 * time.Second,
		FeedbackTimeout:   5 * time.Second,
		FallbackCorrect:   "Nice work!",
		FallbackIncorrect: "Not quite. Keep going!",
		DefaultConfidence: 50,
	}
}

// RemediationView describes the per-question remediation offer.
type RemediationView struct {
	Offered  bool
	Required bool
	Resolved bool
	Failures int
	CanSkip  bool
}

// View is a point-in-time copy of everything a renderer needs.
type View struct {
	Phase          Phase
	PacingMode     domain.PacingMode
	QuestionIndex  int
	TotalQuestions int
	Question       *domain.Question

	Answer          AnswerState
	SelectedOption  string
	Confidence      int
	Rationale       string
	Result          *domain.AnswerResult
	Feedback        string
	FeedbackPending bool
	CanRetry        bool

	TimeRemaining int
	TimerVisible  bool
	TimeUp        bool

	Participant   domain.ParticipantState
	Remediation   RemediationView
	ModeratorGone bool
	PushConnected bool
	LastError     string

	Stage domain.FlowStage
}

// Controller owns the learner's session state. Every transition happens under mu;
// network calls are made without it and their results are applied only if the
// question they were issued for is still current.
type Controller struct {
	key      domain.ProgressKey
	api      SessionAPI
	progress *Progress
	coord    *Coordinator
	timer    *Timer
	cfg      ControllerConfig
	cursor   atomic.Int64

	mu            sync.Mutex
	alive         bool
	started       bool
	finished      bool
	snapshot      domain.SessionSnapshot
	phase         Phase
	index         int
	question      *domain.Question
	attempt       attempt
	remediation   remediationState
	participant   domain.ParticipantState
	perf          *domain.PerformanceTracker
	timeUp        bool
	moderatorGone bool
	lastErr       string
	post          *PostSession
	subscribers   map[chan View]struct{}

	bg sync.WaitGroup
}

// NewController wires a controller for one (session, participant) pair. push may be nil.
func NewController(key domain.ProgressKey, api SessionAPI, push PushChannel, store KeyValueStore, clock clockwork.Clock, cfg ControllerConfig) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &Controller{
		key:         key,
		api:         api,
		progress:    NewProgress(store, key),
		timer:       NewTimer(clock),
		cfg:         cfg,
		alive:       true,
		phase:       PhaseLobby,
		participant: domain.ParticipantState{ParticipantID: key.ParticipantID},
		perf:        domain.NewPerformanceTracker(),
		subscribers: make(map[chan View]struct{}),
	}
	c.coord = NewCoordinator(api, push, clock, cfg.Coordinator, key, func() int {
		return int(c.cursor.Load())
	})
	return c
}

// Start resolves persisted progress, loads the session and connects the transports.
// Settled answers from an earlier run are restored for the summary. A learner who
// already completed the session goes straight to the summary without fetching the
// session; only the scoreboard record is loaded.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return domain.ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	records := c.progress.Performance(ctx)
	c.mu.Lock()
	c.perf = domain.RestorePerformanceTracker(records)
	c.mu.Unlock()

	if c.progress.Completed(ctx) {
		c.mu.Lock()
		c.started = true
		c.finished = true
		c.phase = PhaseFinished
		c.post = NewPostSession(c.api, c.key, c.perf.Snapshot(), c.cfg.SubmitTimeout)
		c.broadcastLocked()
		c.mu.Unlock()
		c.coord.StopPolling()
		c.spawn(c.loadParticipant)
		log.Info().
			Str("session_id", c.key.SessionID).
			Str("participant_id", c.key.ParticipantID).
			Msg("session already completed, resuming at summary")
		return nil
	}

	cursor := c.progress.Cursor(ctx)
	c.cursor.Store(int64(cursor))
	if cursor > 0 || len(records) > 0 {
		c.spawn(c.loadParticipant)
	}
	handlers := c.handlers()
	c.coord.SetHandlers(handlers)

	snap, err := c.coord.Refresh(ctx)
	if err != nil {
		return err
	}
	if snap.SelfPaced() && snap.TotalQuestions > 0 && cursor > snap.LastIndex() {
		// onSnapshot already clamped the cursor; reload the question it now points at.
		if snap, err = c.coord.Refresh(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	c.coord.Connect(ctx, handlers)
	log.Info().
		Str("session_id", c.key.SessionID).
		Str("participant_id", c.key.ParticipantID).
		Str("pacing", string(snap.PacingMode)).
		Int("cursor", int(c.cursor.Load())).
		Msg("session started")
	return nil
}

func (c *Controller) handlers() Handlers {
	return Handlers{
		OnSnapshot:              c.onSnapshot,
		OnStarted:               c.onStarted,
		OnQuestionStart:         c.onQuestionStart,
		OnTimerTick:             c.onTimerTick,
		OnQuestionEnd:           c.onQuestionEnd,
		OnResults:               c.onResults,
		OnEnded:                 c.onEnded,
		OnModeratorDisconnected: c.onModeratorDisconnected,
		OnError:                 c.onError,
	}
}

func (c *Controller) onSnapshot(snap domain.SessionSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive || c.finished {
		return
	}
	c.snapshot = snap
	c.timer.SetEnabled(snap.Settings.TimerEnabled)

	if snap.SelfPaced() && snap.TotalQuestions > 0 {
		if cursor := int(c.cursor.Load()); cursor > snap.LastIndex() {
			log.Warn().
				Int("cursor", cursor).
				Int("last_index", snap.LastIndex()).
				Msg("progress cursor beyond last question, clamping")
			// The stored cursor only moves forward, so the clamp is reapplied on each load.
			c.cursor.Store(int64(snap.LastIndex()))
		}
	}

	// A self-paced learner never waits in the lobby: any snapshot carrying the
	// cursor's question opens it.
	opens := snap.Status == domain.StatusQuestion ||
		(snap.SelfPaced() && snap.Status != domain.StatusFinished)
	if c.phase == PhaseLobby && opens && snap.Question != nil {
		q := *snap.Question
		q.Index = snap.QuestionIndex
		if !snap.SelfPaced() || q.Index == int(c.cursor.Load()) {
			c.beginQuestionLocked(q)
		}
	}
	if !snap.SelfPaced() && snap.Status == domain.StatusResults && c.question != nil && snap.QuestionIndex == c.index {
		c.enterRoomResultsLocked()
	}
	c.broadcastLocked()
}

// loadParticipant fetches the scoreboard record once for a learner who resumed with
// answers already settled in an earlier run.
func (c *Controller) loadParticipant() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SubmitTimeout)
	defer cancel()

	state, err := c.api.FetchParticipantState(ctx, c.key.SessionID, c.key.ParticipantID)
	if err != nil {
		log.Debug().Err(err).Msg("participant state unavailable on resume")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive {
		return
	}
	if state.LastAnswerCorrect == nil {
		state.LastAnswerCorrect = c.participant.LastAnswerCorrect
	}
	if state.ParticipantID == "" {
		state.ParticipantID = c.key.ParticipantID
	}
	c.participant = state
	c.broadcastLocked()
}

func (c *Controller) onStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive || c.finished {
		return
	}
	c.moderatorGone = false
	c.broadcastLocked()
}

func (c *Controller) onQuestionStart(q domain.Question) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive || c.finished {
		return
	}
	if c.snapshot.SelfPaced() {
		if q.Index != int(c.cursor.Load()) || c.phase != PhaseLobby {
			return
		}
	} else if c.phase != PhaseLobby {
		if q.Index < c.index {
			return
		}
		if q.Index == c.index && c.question != nil {
			return
		}
	}
	c.beginQuestionLocked(q)
	c.broadcastLocked()
}

func (c *Controller) onTimerTick(remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive || c.snapshot.SelfPaced() || c.phase != PhaseQuestion {
		return
	}
	c.timer.Sync(remaining)
	c.broadcastLocked()
}

func (c *Controller) onQuestionEnd() {
	c.mu.Lock()
	if !c.alive || c.finished || c.snapshot.SelfPaced() || c.phase != PhaseQuestion {
		c.mu.Unlock()
		return
	}
	c.timer.Stop()
	submit := c.markTimeUpLocked()
	c.broadcastLocked()
	c.mu.Unlock()
	if submit {
		c.autoSubmit()
	}
}

func (c *Controller) onResults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive || c.finished || c.snapshot.SelfPaced() || c.question == nil {
		return
	}
	c.enterRoomResultsLocked()
	c.broadcastLocked()
}

func (c *Controller) onEnded() {
	if err := c.Finish(context.Background()); err != nil {
		log.Warn().Err(err).Msg("finishing ended session")
	}
}

func (c *Controller) onModeratorDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive {
		return
	}
	c.moderatorGone = true
	c.broadcastLocked()
}

func (c *Controller) onError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive {
		return
	}
	c.lastErr = err.Error()
	c.broadcastLocked()
}

// onTimerExpired runs on the timer's goroutine when the countdown for index hits zero.
func (c *Controller) onTimerExpired(index int) {
	c.mu.Lock()
	if !c.alive || c.index != index || c.phase != PhaseQuestion {
		c.mu.Unlock()
		return
	}
	submit := c.markTimeUpLocked()
	c.broadcastLocked()
	c.mu.Unlock()
	if submit {
		c.autoSubmit()
	}
}

// markTimeUpLocked closes an unanswered question and reports whether the pending
// selection should be submitted on the learner's behalf.
func (c *Controller) markTimeUpLocked() bool {
	if c.attempt.state != AnswerUnanswered && c.attempt.state != AnswerSelected {
		return false
	}
	c.timeUp = true
	return c.cfg.AutoSubmitOnTimeout && c.attempt.state == AnswerSelected
}

func (c *Controller) autoSubmit() {
	c.spawn(func() {
		if _, err := c.Confirm(context.Background(), c.cfg.DefaultConfidence, ""); err != nil {
			log.Warn().Err(err).Msg("auto-submit on timeout failed")
		}
	})
}

func (c *Controller) beginQuestionLocked(q domain.Question) {
	question := q
	c.question = &question
	c.index = q.Index
	c.phase = PhaseQuestion
	c.attempt = attempt{state: AnswerUnanswered, seq: c.attempt.seq + 1}
	c.remediation = remediationState{}
	c.timeUp = false
	c.lastErr = ""

	index := q.Index
	c.timer.Start(q.TimeLimit, func() { c.onTimerExpired(index) })
	log.Debug().Int("question_index", index).Msg("question loaded")
}

func (c *Controller) enterRoomResultsLocked() {
	if c.phase != PhaseQuestion && c.phase != PhaseAnswered {
		return
	}
	c.timer.Stop()
	if c.attempt.state == AnswerUnanswered || c.attempt.state == AnswerSelected {
		c.timeUp = true
	}
	c.phase = PhaseRoomResults
}

// NextQuestion advances a self-paced learner. On the last question it finishes the
// session instead. If the next question cannot be fetched right away the controller
// stays in a loading state and the poll loop picks it up.
func (c *Controller) NextQuestion(ctx context.Context) error {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return domain.ErrClosed
	}
	if c.finished {
		c.mu.Unlock()
		return nil
	}
	if !c.snapshot.SelfPaced() {
		c.mu.Unlock()
		return domain.ErrNotSelfPaced
	}
	answered := c.phase == PhaseAnswered || (c.phase == PhaseQuestion && c.timeUp)
	if !answered {
		c.mu.Unlock()
		return domain.ErrInvalidPhase
	}
	if c.remediation.blocks(c.snapshot.Settings.Remediation) {
		c.mu.Unlock()
		return domain.ErrRemediationRequired
	}

	next := c.index + 1
	if next > c.snapshot.LastIndex() {
		c.mu.Unlock()
		return c.Finish(ctx)
	}

	c.cursor.Store(int64(next))
	c.timer.Stop()
	c.phase = PhaseLobby
	c.index = next
	c.question = nil
	c.attempt = attempt{state: AnswerUnanswered, seq: c.attempt.seq + 1}
	c.remediation = remediationState{}
	c.timeUp = false
	c.broadcastLocked()
	c.mu.Unlock()

	if err := c.progress.SetCursor(ctx, next); err != nil {
		log.Warn().Err(err).Int("cursor", next).Msg("persisting progress cursor failed")
	}
	if _, err := c.coord.Refresh(ctx); err != nil {
		return fmt.Errorf("load question %d: %w", next, err)
	}
	return nil
}

// Finish ends the question flow and opens the post-session flow. Only the first call
// sets the completion flag and sends the finish notice.
func (c *Controller) Finish(ctx context.Context) error {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return domain.ErrClosed
	}
	if c.finished {
		c.mu.Unlock()
		return nil
	}
	c.finished = true
	c.phase = PhaseFinished
	c.timer.Stop()
	selfPaced := c.snapshot.SelfPaced()
	if selfPaced && c.snapshot.TotalQuestions > 0 && int(c.cursor.Load()) > c.snapshot.LastIndex() {
		c.cursor.Store(int64(c.snapshot.LastIndex()))
	}
	perf := c.perf.Snapshot()
	c.post = NewPostSession(c.api, c.key, perf, c.cfg.SubmitTimeout)
	c.broadcastLocked()
	c.mu.Unlock()

	c.coord.StopPolling()
	if err := c.progress.MarkCompleted(ctx); err != nil {
		log.Error().Err(err).Str("session_id", c.key.SessionID).Msg("persisting completion flag failed")
	}
	if selfPaced {
		c.spawn(func() {
			notifyCtx, cancel := context.WithTimeout(context.Background(), c.cfg.FeedbackTimeout)
			defer cancel()
			if err := c.api.NotifyFinished(notifyCtx, c.key.SessionID, c.key.ParticipantID); err != nil {
				log.Warn().Err(err).Msg("finish notice not delivered")
			}
		})
	}

	log.Info().
		Str("session_id", c.key.SessionID).
		Int("answered", perf.Answered).
		Int("correct", perf.Correct).
		Msg("session finished")
	return nil
}

// PostSession returns the post-session flow, nil until the session has finished.
func (c *Controller) PostSession() *PostSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.post
}

// Cursor is the self-paced question index the controller will fetch next.
func (c *Controller) Cursor() int {
	return int(c.cursor.Load())
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	v := View{
		Phase:          c.phase,
		PacingMode:     c.snapshot.PacingMode,
		QuestionIndex:  c.index,
		TotalQuestions: c.snapshot.TotalQuestions,

		Answer:          c.attempt.state,
		SelectedOption:  c.attempt.optionID,
		Confidence:      c.attempt.confidence,
		Rationale:       c.attempt.rationale,
		Feedback:        c.attempt.feedback,
		FeedbackPending: c.attempt.feedbackPending,
		TimeUp:          c.timeUp,

		Participant:   c.participant,
		ModeratorGone: c.moderatorGone,
		PushConnected: c.coord.Connected(),
		LastError:     c.lastErr,
	}
	if c.question != nil {
		q := *c.question
		v.Question = &q
	}
	if c.attempt.result != nil {
		r := *c.attempt.result
		v.Result = &r
		v.CanRetry = c.phase == PhaseAnswered && !r.Correct && c.snapshot.Settings.Retry.CanRetry(c.attempt.settled)
	}
	v.TimeRemaining, v.TimerVisible = c.timer.Remaining()
	if c.remediation.offered {
		v.Remediation = RemediationView{
			Offered:  true,
			Required: c.remediation.required,
			Resolved: c.remediation.resolved,
			Failures: c.remediation.failures,
			CanSkip:  !c.remediation.blocks(c.snapshot.Settings.Remediation),
		}
	}
	if c.post != nil {
		v.Stage = c.post.Stage()
	}
	return v
}

// Subscribe streams views after every state change. Slow readers only ever see the newest.
func (c *Controller) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 8)

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subscribers[ch] = struct{}{}
	initial := c.viewLocked()
	c.mu.Unlock()

	ch <- initial

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Controller) broadcastLocked() {
	if len(c.subscribers) == 0 {
		return
	}
	v := c.viewLocked()
	for ch := range c.subscribers {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

// Notify re-publishes the current view, e.g. after a post-session step changed stage.
func (c *Controller) Notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alive {
		c.broadcastLocked()
	}
}

func (c *Controller) spawn(fn func()) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		fn()
	}()
}

// WaitIdle blocks until background completions started so far have landed.
func (c *Controller) WaitIdle() {
	c.bg.Wait()
}

// Close tears the controller down. Completions that land afterwards are dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.alive = false
	for ch := range c.subscribers {
		delete(c.subscribers, ch)
		close(ch)
	}
	c.mu.Unlock()

	c.timer.Stop()
	c.coord.Close()
}
