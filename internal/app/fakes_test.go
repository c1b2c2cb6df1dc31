package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"quiz-learner-client/internal/domain"
)

// fakeAPI serves snapshots from an in-memory question list and records every call.
type fakeAPI struct {
	mu sync.Mutex

	questions []domain.Question
	pacing    domain.PacingMode
	status    domain.Status
	index     int // synchronous sessions only
	settings  domain.Settings
	fetchErr  error

	// questionInLobby attaches the current question to lobby snapshots too.
	questionInLobby bool

	fetchCursors []int
	submissions  []domain.AnswerSubmission
	submitFn     func(ctx context.Context, sub domain.AnswerSubmission) (domain.AnswerResult, error)
	reactFn      func(ctx context.Context, req domain.ReactionRequest) (string, error)
	participant  *domain.ParticipantState
	finishCalls  int

	ticket      domain.ExitTicket
	ticketErr   error
	ticketCalls int
	verdict     domain.ExitTicketResult
	verdictErr  error
}

func newFakeAPI(pacing domain.PacingMode, n int) *fakeAPI {
	return &fakeAPI{
		questions: makeQuestions(n),
		pacing:    pacing,
		status:    domain.StatusQuestion,
	}
}

func makeQuestions(n int) []domain.Question {
	questions := make([]domain.Question, n)
	for i := range questions {
		questions[i] = domain.Question{
			Index:   i,
			Prompt:  fmt.Sprintf("question %d", i),
			Options: []domain.Option{{ID: "a", Text: "right"}, {ID: "b", Text: "wrong"}},
			Points:  10,
			Concept: fmt.Sprintf("concept-%d", i),
		}
	}
	return questions
}

func (f *fakeAPI) FetchSnapshot(_ context.Context, sessionID, _ string, cursor int) (domain.SessionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCursors = append(f.fetchCursors, cursor)
	if f.fetchErr != nil {
		return domain.SessionSnapshot{}, f.fetchErr
	}

	idx := f.index
	if f.pacing == domain.PacingSelfPaced {
		idx = cursor
		if idx > len(f.questions)-1 {
			idx = len(f.questions) - 1
		}
	}
	snap := domain.SessionSnapshot{
		ID:             sessionID,
		Status:         f.status,
		PacingMode:     f.pacing,
		QuestionIndex:  idx,
		TotalQuestions: len(f.questions),
		Settings:       f.settings,
	}
	if f.status == domain.StatusQuestion || f.status == domain.StatusResults ||
		(f.status == domain.StatusLobby && f.questionInLobby) {
		q := f.questions[idx]
		snap.Question = &q
	}
	return snap, nil
}

func (f *fakeAPI) SubmitAnswer(ctx context.Context, _ string, sub domain.AnswerSubmission) (domain.AnswerResult, error) {
	f.mu.Lock()
	f.submissions = append(f.submissions, sub)
	fn := f.submitFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, sub)
	}
	return gradeSubmission(sub), nil
}

func gradeSubmission(sub domain.AnswerSubmission) domain.AnswerResult {
	if sub.OptionID == "a" {
		return domain.AnswerResult{Correct: true, CorrectAnswer: "a", PointsEarned: 10}
	}
	return domain.AnswerResult{Correct: false, CorrectAnswer: "a"}
}

func (f *fakeAPI) FetchParticipantState(_ context.Context, _, _ string) (domain.ParticipantState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.participant == nil {
		return domain.ParticipantState{}, errors.New("participant state unavailable")
	}
	return *f.participant, nil
}

func (f *fakeAPI) React(ctx context.Context, req domain.ReactionRequest) (string, error) {
	f.mu.Lock()
	fn := f.reactFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return fmt.Sprintf("reaction to %s", req.Prompt), nil
}

func (f *fakeAPI) NotifyFinished(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishCalls++
	return nil
}

func (f *fakeAPI) RequestExitTicket(_ context.Context, _ domain.ExitTicketRequest) (domain.ExitTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticketCalls++
	return f.ticket, f.ticketErr
}

func (f *fakeAPI) AnswerExitTicket(_ context.Context, _ domain.ExitTicketAnswer) (domain.ExitTicketResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verdict, f.verdictErr
}

func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAPI) lastCursor() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fetchCursors) == 0 {
		return -1
	}
	return f.fetchCursors[len(f.fetchCursors)-1]
}

func (f *fakeAPI) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetchCursors)
}

func (f *fakeAPI) finishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finishCalls
}

// fakePush hands out channels the test controls.
type fakePush struct {
	mu    sync.Mutex
	chans []chan domain.SessionEvent
	err   error
}

func (p *fakePush) Subscribe(_ context.Context, _, _ string) (<-chan domain.SessionEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan domain.SessionEvent, 16)
	p.chans = append(p.chans, ch)
	return ch, nil
}

func (p *fakePush) current() chan domain.SessionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chans) == 0 {
		return nil
	}
	return p.chans[len(p.chans)-1]
}

// memStore is a map-backed KeyValueStore.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memStore) value(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

var testKey = domain.ProgressKey{SessionID: "s1", ParticipantID: "p1"}

func newTestController(t *testing.T, api *fakeAPI, push PushChannel, store *memStore) *Controller {
	t.Helper()
	cfg := DefaultControllerConfig()
	cfg.FeedbackTimeout = 200 * time.Millisecond
	c := NewController(testKey, api, push, store, clockwork.NewFakeClock(), cfg)
	t.Cleanup(func() {
		c.Close()
		c.WaitIdle()
	})
	return c
}
