package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"quiz-learner-client/internal/domain"
)

// CoordinatorConfig holds the transport timings.
type CoordinatorConfig struct {
	ConnectedPollInterval    time.Duration
	DisconnectedPollInterval time.Duration
	ReconnectDelay           time.Duration
	RequestTimeout           time.Duration
	// FailureThreshold is the number of consecutive poll failures after which
	// OnError fires once. Zero disables the report.
	FailureThreshold int
}

// DefaultCoordinatorConfig returns the default transport timings.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		ConnectedPollInterval:    5 * time.Second,
		DisconnectedPollInterval: 2 * time.Second,
		ReconnectDelay:           3 * time.Second,
		RequestTimeout:           30 * time.Second,
		FailureThreshold:         3,
	}
}

// Handlers receive the merged event stream. Nil handlers are skipped.
type Handlers struct {
	OnSnapshot              func(domain.SessionSnapshot)
	OnStarted               func()
	OnQuestionStart         func(domain.Question)
	OnTimerTick             func(remaining int)
	OnQuestionEnd           func()
	OnResults               func()
	OnEnded                 func()
	OnModeratorDisconnected func()
	OnError                 func(error)
}

// Dispatch routes one event to its handler.
func (h Handlers) Dispatch(ev domain.SessionEvent) {
	switch ev.Kind {
	case domain.EventStarted:
		if h.OnStarted != nil {
			h.OnStarted()
		}
	case domain.EventQuestionStart:
		if h.OnQuestionStart != nil && ev.Question != nil {
			h.OnQuestionStart(*ev.Question)
		}
	case domain.EventTimerTick:
		if h.OnTimerTick != nil {
			h.OnTimerTick(ev.Remaining)
		}
	case domain.EventQuestionEnd:
		if h.OnQuestionEnd != nil {
			h.OnQuestionEnd()
		}
	case domain.EventResults:
		if h.OnResults != nil {
			h.OnResults()
		}
	case domain.EventEnded:
		if h.OnEnded != nil {
			h.OnEnded()
		}
	case domain.EventModeratorDisconnected:
		if h.OnModeratorDisconnected != nil {
			h.OnModeratorDisconnected()
		}
	case domain.EventError:
		if h.OnError != nil {
			h.OnError(errors.New(ev.Message))
		}
	}
}

// marker is the last (status, question index) observed from either transport.
type marker struct {
	status domain.Status
	index  int
}

func statusRank(s domain.Status) int {
	switch s {
	case domain.StatusLobby:
		return 0
	case domain.StatusQuestion:
		return 1
	case domain.StatusResults:
		return 2
	case domain.StatusFinished:
		return 3
	default:
		return -1
	}
}

// before reports whether m is an older position than other.
func (m marker) before(other marker) bool {
	if m.status == domain.StatusFinished || other.status == domain.StatusFinished {
		return statusRank(m.status) < statusRank(other.status)
	}
	if m.index != other.index {
		return m.index < other.index
	}
	return statusRank(m.status) < statusRank(other.status)
}

// Coordinator merges the push channel and the poll loop into one event stream.
// Both producers advance the same observed marker, so a transition delivered by
// push is never synthesized again by a later poll.
type Coordinator struct {
	api           SessionAPI
	push          PushChannel
	clock         clockwork.Clock
	cfg           CoordinatorConfig
	sessionID     string
	participantID string
	cursor        func() int

	mu         sync.Mutex
	handlers   Handlers
	connected  bool
	selfPaced  bool
	observed   marker
	last       *domain.SessionSnapshot
	failures   int
	reported   bool
	polling    bool
	cancel     context.CancelFunc
	pollCancel context.CancelFunc
	wakeCh     chan struct{}
	wg         sync.WaitGroup
}

// NewCoordinator builds a coordinator for one (session, participant) pair. push may be nil
// for poll-only operation. cursor supplies the self-paced question index sent on each poll.
func NewCoordinator(api SessionAPI, push PushChannel, clock clockwork.Clock, cfg CoordinatorConfig, key domain.ProgressKey, cursor func() int) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cursor == nil {
		cursor = func() int { return 0 }
	}
	return &Coordinator{
		api:           api,
		push:          push,
		clock:         clock,
		cfg:           cfg,
		sessionID:     key.SessionID,
		participantID: key.ParticipantID,
		cursor:        cursor,
		observed:      marker{index: -1},
		polling:       true,
		wakeCh:        make(chan struct{}, 1),
	}
}

// Connect subscribes to the push channel (when configured) and starts the poll loop.
// It returns whether push is connected right now.
func (c *Coordinator) Connect(ctx context.Context, handlers Handlers) bool {
	ctx, cancel := context.WithCancel(ctx)
	pollCtx, pollCancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.handlers = handlers
	c.cancel = cancel
	c.pollCancel = pollCancel
	polling := c.polling
	c.mu.Unlock()

	if c.push != nil {
		events, err := c.push.Subscribe(ctx, c.sessionID, c.participantID)
		if err != nil {
			c.reportPushError(err)
		} else {
			c.setConnected(true)
		}
		c.wg.Add(1)
		go c.pushLoop(ctx, events)
	}

	if polling {
		c.wg.Add(1)
		go c.pollLoop(pollCtx)
	}

	log.Info().
		Str("session_id", c.sessionID).
		Str("participant_id", c.participantID).
		Bool("push_connected", c.Connected()).
		Msg("session transport connected")
	return c.Connected()
}

// SetHandlers installs the event handlers without connecting, so an initial Refresh
// is delivered like any later one.
func (c *Coordinator) SetHandlers(handlers Handlers) {
	c.mu.Lock()
	c.handlers = handlers
	c.mu.Unlock()
}

// Connected reports whether the push channel is currently delivering events.
func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Snapshot returns the last snapshot seen by either Refresh or the poll loop.
func (c *Coordinator) Snapshot() (domain.SessionSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return domain.SessionSnapshot{}, false
	}
	return *c.last, true
}

// StopPolling ends the poll loop for good. Called once the completion flag is set.
func (c *Coordinator) StopPolling() {
	c.mu.Lock()
	c.polling = false
	cancel := c.pollCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close tears down both transports and waits for their goroutines.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.polling = false
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.setConnected(false)
}

func (c *Coordinator) pushLoop(ctx context.Context, events <-chan domain.SessionEvent) {
	defer c.wg.Done()
	for {
		if events != nil {
			c.consume(ctx, events)
			c.setConnected(false)
			log.Warn().Str("session_id", c.sessionID).Msg("push channel disconnected, falling back to polling")
		}
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.cfg.ReconnectDelay):
		}

		ch, err := c.push.Subscribe(ctx, c.sessionID, c.participantID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.reportPushError(err)
			events = nil
			continue
		}
		c.setConnected(true)
		log.Info().Str("session_id", c.sessionID).Msg("push channel reconnected")
		events = ch
	}
}

func (c *Coordinator) consume(ctx context.Context, events <-chan domain.SessionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandlePush(ev)
		}
	}
}

// HandlePush applies one push-delivered event. Self-paced sessions ignore the
// question-advancing kinds because the learner's own cursor decides.
func (c *Coordinator) HandlePush(ev domain.SessionEvent) {
	ev.Source = domain.SourcePush

	c.mu.Lock()
	if c.selfPaced {
		switch ev.Kind {
		case domain.EventQuestionStart, domain.EventTimerTick, domain.EventQuestionEnd, domain.EventResults:
			c.mu.Unlock()
			log.Debug().Str("kind", string(ev.Kind)).Msg("ignoring push event in self-paced session")
			return
		}
	}

	next := c.observed
	switch ev.Kind {
	case domain.EventStarted:
		if next.status == domain.StatusLobby || next.status == "" {
			next.status = domain.StatusQuestion
		}
	case domain.EventQuestionStart:
		next = marker{status: domain.StatusQuestion, index: ev.QuestionIndex()}
	case domain.EventResults:
		next.status = domain.StatusResults
	case domain.EventEnded:
		next.status = domain.StatusFinished
	}
	if next.before(c.observed) {
		c.mu.Unlock()
		log.Debug().Str("kind", string(ev.Kind)).Msg("dropping out-of-order push event")
		return
	}
	c.observed = next
	handlers := c.handlers
	c.mu.Unlock()

	handlers.Dispatch(ev)
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wakeCh:
		case <-c.clock.After(c.interval()):
		}
		if ctx.Err() != nil {
			return
		}
		_ = c.PollOnce(ctx)
	}
}

func (c *Coordinator) interval() time.Duration {
	if c.Connected() {
		return c.cfg.ConnectedPollInterval
	}
	return c.cfg.DisconnectedPollInterval
}

// PollOnce fetches the snapshot once and synthesizes any transition it reveals.
// Failures are counted and swallowed by the loop; the next tick retries.
func (c *Coordinator) PollOnce(ctx context.Context) error {
	c.mu.Lock()
	polling := c.polling
	c.mu.Unlock()
	if !polling {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	snap, err := c.api.FetchSnapshot(reqCtx, c.sessionID, c.participantID, c.cursor())
	cancel()
	if err != nil {
		c.pollFailed(err)
		return err
	}
	c.apply(snap, true)
	return nil
}

// Refresh fetches the snapshot immediately, outside the poll schedule, and applies it
// exactly like a poll would. It works after StopPolling so a finished learner can still
// load the final state.
func (c *Coordinator) Refresh(ctx context.Context) (domain.SessionSnapshot, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	snap, err := c.api.FetchSnapshot(reqCtx, c.sessionID, c.participantID, c.cursor())
	if err != nil {
		return domain.SessionSnapshot{}, fmt.Errorf("fetch session snapshot: %w", err)
	}
	c.apply(snap, false)
	return snap, nil
}

func (c *Coordinator) apply(snap domain.SessionSnapshot, fromPoll bool) {
	c.mu.Lock()
	if fromPoll && !c.polling {
		c.mu.Unlock()
		return
	}
	c.failures = 0
	c.reported = false
	c.selfPaced = snap.SelfPaced()

	next := marker{status: snap.Status, index: snap.QuestionIndex}
	if c.observed.status != "" && next.before(c.observed) {
		c.mu.Unlock()
		log.Debug().
			Str("status", string(snap.Status)).
			Int("index", snap.QuestionIndex).
			Msg("dropping stale snapshot")
		return
	}
	events := synthesize(c.observed, next, snap)
	c.observed = next
	c.last = &snap
	handlers := c.handlers
	c.mu.Unlock()

	if handlers.OnSnapshot != nil {
		handlers.OnSnapshot(snap)
	}
	for _, ev := range events {
		handlers.Dispatch(ev)
	}
}

// synthesize derives the push-equivalent events for a move from prev to next.
func synthesize(prev, next marker, snap domain.SessionSnapshot) []domain.SessionEvent {
	if prev == next {
		return nil
	}
	poll := func(kind domain.EventKind) domain.SessionEvent {
		return domain.SessionEvent{Kind: kind, Source: domain.SourcePoll, Snapshot: &snap}
	}
	questionStart := func() (domain.SessionEvent, bool) {
		if snap.Question == nil {
			return domain.SessionEvent{}, false
		}
		q := *snap.Question
		q.Index = snap.QuestionIndex
		ev := poll(domain.EventQuestionStart)
		ev.Question = &q
		return ev, true
	}

	var events []domain.SessionEvent
	switch next.status {
	case domain.StatusQuestion:
		if prev.status == domain.StatusLobby {
			events = append(events, poll(domain.EventStarted))
		}
		if ev, ok := questionStart(); ok {
			events = append(events, ev)
		}
	case domain.StatusResults:
		if prev.index != next.index {
			if ev, ok := questionStart(); ok {
				events = append(events, ev)
			}
		}
		events = append(events, poll(domain.EventResults))
	case domain.StatusFinished:
		events = append(events, poll(domain.EventEnded))
	}
	return events
}

func (c *Coordinator) pollFailed(err error) {
	c.mu.Lock()
	c.failures++
	report := c.cfg.FailureThreshold > 0 && c.failures >= c.cfg.FailureThreshold && !c.reported
	if report {
		c.reported = true
	}
	failures := c.failures
	handlers := c.handlers
	c.mu.Unlock()

	log.Debug().Err(err).Int("consecutive_failures", failures).Msg("session poll failed")
	if report && handlers.OnError != nil {
		handlers.OnError(fmt.Errorf("session polling failed %d times: %w", failures, err))
	}
}

func (c *Coordinator) reportPushError(err error) {
	log.Warn().Err(err).Str("session_id", c.sessionID).Msg("push channel unavailable")
	c.mu.Lock()
	handlers := c.handlers
	c.mu.Unlock()
	if handlers.OnError != nil {
		handlers.OnError(fmt.Errorf("push channel: %w", err))
	}
}

func (c *Coordinator) setConnected(connected bool) {
	c.mu.Lock()
	changed := c.connected != connected
	c.connected = connected
	c.mu.Unlock()
	if changed && !connected {
		select {
		case c.wakeCh <- struct{}{}:
		default:
		}
	}
}
