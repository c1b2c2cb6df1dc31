package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"quiz-learner-client/internal/domain"
)

// PostSession drives summary -> remediation -> practice -> complete once the
// question flow has finished. Only one network step runs at a time.
type PostSession struct {
	api      SessionAPI
	key      domain.ProgressKey
	timeout  time.Duration
	fallback string

	mu       sync.Mutex
	stage    domain.FlowStage
	perf     domain.Performance
	ticket   *domain.ExitTicket
	verdict  *domain.ExitTicketResult
	degraded bool
	busy     bool
}

func NewPostSession(api SessionAPI, key domain.ProgressKey, perf domain.Performance, timeout time.Duration) *PostSession {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PostSession{
		api:      api,
		key:      key,
		timeout:  timeout,
		fallback: "We could not check that answer right now. Keep practicing!",
		stage:    domain.StageSummary,
		perf:     perf,
	}
}

func (p *PostSession) Stage() domain.FlowStage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

func (p *PostSession) Performance() domain.Performance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perf
}

// Ticket returns the remediation content, if it was fetched.
func (p *PostSession) Ticket() (domain.ExitTicket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticket == nil {
		return domain.ExitTicket{}, false
	}
	return *p.ticket, true
}

func (p *PostSession) Verdict() (domain.ExitTicketResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verdict == nil {
		return domain.ExitTicketResult{}, false
	}
	return *p.verdict, true
}

// Degraded reports whether remediation content could not be loaded and the flow skipped ahead.
func (p *PostSession) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

// BeginRemediation fetches personalized remediation content. A failed fetch is not
// an error: the flow skips forward to practice so the learner is never stuck.
// Calling it again while in remediation does not refetch.
func (p *PostSession) BeginRemediation(ctx context.Context) error {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return domain.ErrFlowBusy
	}
	switch p.stage {
	case domain.StageRemediation:
		p.mu.Unlock()
		return nil
	case domain.StageSummary:
	default:
		p.mu.Unlock()
		return domain.ErrInvalidPhase
	}
	p.busy = true
	req := domain.ExitTicketRequest{
		SessionID:      p.key.SessionID,
		ParticipantID:  p.key.ParticipantID,
		Accuracy:       p.perf.Accuracy,
		CalibrationGap: p.perf.CalibrationGap,
		WeakConcepts:   p.perf.WeakConcepts,
	}
	p.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	ticket, err := p.api.RequestExitTicket(reqCtx, req)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = false
	if err != nil {
		log.Warn().Err(err).Str("session_id", p.key.SessionID).Msg("remediation content unavailable, skipping to practice")
		p.degraded = true
		p.stage = domain.StagePractice
		return nil
	}
	p.ticket = &ticket
	p.stage = domain.StageRemediation
	return nil
}

// AnswerRemediation submits the learner's answer to the remediation check question.
// Grading failures produce a neutral verdict rather than an error.
func (p *PostSession) AnswerRemediation(ctx context.Context, answer string) (domain.ExitTicketResult, error) {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return domain.ExitTicketResult{}, domain.ErrFlowBusy
	}
	if p.stage != domain.StageRemediation || p.ticket == nil {
		p.mu.Unlock()
		return domain.ExitTicketResult{}, domain.ErrInvalidPhase
	}
	if p.ticket.Question != nil && !p.ticket.Question.HasOption(answer) {
		p.mu.Unlock()
		return domain.ExitTicketResult{}, domain.ErrUnknownOption
	}
	p.busy = true
	req := domain.ExitTicketAnswer{
		TicketID:      p.ticket.ID,
		ParticipantID: p.key.ParticipantID,
		Answer:        answer,
	}
	p.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	result, err := p.api.AnswerExitTicket(reqCtx, req)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = false
	if err != nil {
		log.Warn().Err(err).Str("ticket_id", req.TicketID).Msg("remediation grading failed")
		result = domain.ExitTicketResult{Feedback: p.fallback}
	}
	p.verdict = &result
	return result, nil
}

// BeginPractice moves from remediation to practice.
func (p *PostSession) BeginPractice() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy {
		return domain.ErrFlowBusy
	}
	switch p.stage {
	case domain.StagePractice:
		return nil
	case domain.StageRemediation:
		p.stage = domain.StagePractice
		return nil
	default:
		return domain.ErrInvalidPhase
	}
}

// Complete ends the flow. Repeated calls are no-ops.
func (p *PostSession) Complete() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.stage {
	case domain.StageComplete:
		return nil
	case domain.StagePractice:
		p.stage = domain.StageComplete
		log.Info().Str("session_id", p.key.SessionID).Msg("post-session flow complete")
		return nil
	default:
		return domain.ErrInvalidPhase
	}
}
