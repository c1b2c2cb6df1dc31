package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"quiz-learner-client/internal/domain"
)

// AnswerState is the per-question submission state.
type AnswerState string

const (
	AnswerUnanswered AnswerState = "unanswered"
	AnswerSelected   AnswerState = "selected"
	AnswerSubmitting AnswerState = "submitting"
	AnswerSettled    AnswerState = "settled"
)

// attempt is the transient per-question answer record, reset on every new question.
type attempt struct {
	state           AnswerState
	seq             int
	optionID        string
	confidence      int
	rationale       string
	result          *domain.AnswerResult
	settled         int
	feedback        string
	feedbackPending bool
}

// stamp identifies the question (and attempt on it) an async request was issued for.
type stamp struct {
	index int
	seq   int
}

type remediationState struct {
	offered  bool
	required bool
	resolved bool
	failures int
}

func (r remediationState) blocks(policy domain.RemediationPolicy) bool {
	if !r.offered || !r.required || r.resolved {
		return false
	}
	return policy.MaxFailedAttempts == 0 || r.failures < policy.MaxFailedAttempts
}

// Outcome reports what Confirm did. A stale outcome means the question moved on
// while the request was in flight and the result was discarded.
type Outcome struct {
	Result              domain.AnswerResult
	Stale               bool
	RemediationOffered  bool
	RemediationRequired bool
}

// Select records the learner's pending choice. It never contacts the server and may
// be called again to change the choice until Confirm.
func (c *Controller) Select(optionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return domain.ErrClosed
	}
	if c.phase != PhaseQuestion || c.timeUp {
		return domain.ErrInvalidPhase
	}
	if c.attempt.state != AnswerUnanswered && c.attempt.state != AnswerSelected {
		return domain.ErrInvalidPhase
	}
	if c.question == nil || !c.question.HasOption(optionID) {
		return domain.ErrUnknownOption
	}
	c.attempt.state = AnswerSelected
	c.attempt.optionID = optionID
	c.broadcastLocked()
	return nil
}

// Confirm sends the selected answer. The timer freezes immediately. On failure the
// question returns to unanswered so the learner can try again; on success the
// participant state is updated optimistically and reaction and scoreboard requests
// run in the background, each discarded if the question has moved on by the time it lands.
func (c *Controller) Confirm(ctx context.Context, confidence int, rationale string) (Outcome, error) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return Outcome{}, domain.ErrClosed
	}
	if c.phase != PhaseQuestion || c.attempt.state != AnswerSelected {
		c.mu.Unlock()
		return Outcome{}, domain.ErrInvalidPhase
	}
	if !domain.ValidConfidence(confidence) {
		c.mu.Unlock()
		return Outcome{}, domain.ErrInvalidConfidence
	}

	c.attempt.state = AnswerSubmitting
	c.attempt.confidence = confidence
	c.attempt.rationale = strings.TrimSpace(rationale)
	c.timer.Freeze()

	st := c.stampLocked()
	question := *c.question
	submission := domain.AnswerSubmission{
		ParticipantID: c.key.ParticipantID,
		QuestionIndex: st.index,
		OptionID:      c.attempt.optionID,
		TimeTaken:     c.timer.Elapsed().Seconds(),
		Confidence:    confidence,
		Rationale:     c.attempt.rationale,
	}
	c.broadcastLocked()
	c.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	result, err := c.api.SubmitAnswer(reqCtx, c.key.SessionID, submission)
	cancel()

	c.mu.Lock()
	if !c.isCurrentLocked(st) {
		c.mu.Unlock()
		log.Debug().
			Int("question_index", st.index).
			Msg("discarding answer result for a question that is no longer current")
		return Outcome{Stale: true}, nil
	}

	if err != nil {
		c.attempt.state = AnswerUnanswered
		c.attempt.optionID = ""
		c.lastErr = "Could not submit your answer. Please try again."
		if !c.timeUp {
			c.timer.Resume()
		}
		c.broadcastLocked()
		c.mu.Unlock()
		log.Warn().Err(err).Int("question_index", st.index).Msg("answer submission failed")
		return Outcome{}, fmt.Errorf("%w: %w", domain.ErrSubmitFailed, err)
	}

	c.attempt.state = AnswerSettled
	c.attempt.result = &result
	c.attempt.settled++
	c.attempt.feedback = ""
	c.attempt.feedbackPending = true
	c.lastErr = ""

	correct := result.Correct
	c.participant.Score += result.PointsEarned
	c.participant.LastAnswerCorrect = &correct
	c.participant.LastAnswerPoints = result.PointsEarned
	c.perf.Record(st.index, result.Correct, confidence, question.Concept)
	records := c.perf.Records()

	if c.phase == PhaseQuestion {
		c.phase = PhaseAnswered
	}

	policy := c.snapshot.Settings.Remediation
	outcome := Outcome{Result: result}
	if policy.ShouldOffer(result.Correct, confidence) {
		c.remediation = remediationState{
			offered:  true,
			required: c.snapshot.SelfPaced() && policy.RequireBeforeAdvance,
		}
		outcome.RemediationOffered = true
		outcome.RemediationRequired = c.remediation.required
	}

	reaction := domain.ReactionRequest{
		SessionID:     c.key.SessionID,
		ParticipantID: c.key.ParticipantID,
		QuestionIndex: st.index,
		Prompt:        question.Prompt,
		Answer:        submission.OptionID,
		Correct:       result.Correct,
		Confidence:    confidence,
		Rationale:     submission.Rationale,
	}
	c.broadcastLocked()
	c.mu.Unlock()

	if err := c.progress.SavePerformance(ctx, records); err != nil {
		log.Warn().Err(err).Int("question_index", st.index).Msg("persisting answer record failed")
	}
	log.Info().
		Int("question_index", st.index).
		Bool("correct", result.Correct).
		Int("points", result.PointsEarned).
		Msg("answer settled")

	c.spawn(func() { c.fetchReaction(st, reaction) })
	c.spawn(func() { c.reconcileParticipant(st) })
	return outcome, nil
}

// Retry reopens a settled incorrect answer when the session's retry policy allows it.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return domain.ErrClosed
	}
	if c.phase != PhaseAnswered || c.attempt.state != AnswerSettled || c.attempt.result == nil {
		return domain.ErrInvalidPhase
	}
	if c.attempt.result.Correct || !c.snapshot.Settings.Retry.CanRetry(c.attempt.settled) {
		return domain.ErrRetryExhausted
	}

	c.attempt = attempt{
		state:   AnswerUnanswered,
		seq:     c.attempt.seq + 1,
		settled: c.attempt.settled,
	}
	c.remediation = remediationState{}
	c.phase = PhaseQuestion
	if !c.timeUp {
		c.timer.Resume()
	}
	c.broadcastLocked()
	return nil
}

// ResolveRemediation records the outcome of a remediation attempt for the current question.
func (c *Controller) ResolveRemediation(passed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return domain.ErrClosed
	}
	if !c.remediation.offered {
		return domain.ErrInvalidPhase
	}
	if passed {
		c.remediation.resolved = true
	} else {
		c.remediation.failures++
	}
	c.broadcastLocked()
	return nil
}

// DismissRemediation closes an optional remediation offer. Required remediation can
// only be dismissed once resolved or once the failed-attempt allowance is used up.
func (c *Controller) DismissRemediation() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return domain.ErrClosed
	}
	if !c.remediation.offered {
		return nil
	}
	if c.remediation.blocks(c.snapshot.Settings.Remediation) {
		return domain.ErrRemediationRequired
	}
	c.remediation = remediationState{}
	c.broadcastLocked()
	return nil
}

func (c *Controller) fetchReaction(st stamp, req domain.ReactionRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FeedbackTimeout)
	defer cancel()

	message, err := c.api.React(ctx, req)
	message = strings.TrimSpace(message)
	if err != nil || message == "" {
		if err != nil {
			log.Debug().Err(err).Int("question_index", st.index).Msg("reaction unavailable, using fallback")
		}
		message = c.fallbackMessage(req.Correct)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isCurrentLocked(st) {
		return
	}
	c.attempt.feedback = message
	c.attempt.feedbackPending = false
	c.broadcastLocked()
}

func (c *Controller) reconcileParticipant(st stamp) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SubmitTimeout)
	defer cancel()

	state, err := c.api.FetchParticipantState(ctx, c.key.SessionID, c.key.ParticipantID)
	if err != nil {
		log.Debug().Err(err).Msg("participant state refresh failed, keeping local state")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isCurrentLocked(st) {
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

func (c *Controller) fallbackMessage(correct bool) string {
	if correct {
		return c.cfg.FallbackCorrect
	}
	return c.cfg.FallbackIncorrect
}

func (c *Controller) stampLocked() stamp {
	return stamp{index: c.index, seq: c.attempt.seq}
}

// isCurrentLocked is the race guard: a result applies only while the question it
// answers is still the one on screen.
func (c *Controller) isCurrentLocked(st stamp) bool {
	if !c.alive || c.question == nil {
		return false
	}
	switch c.phase {
	case PhaseQuestion, PhaseAnswered, PhaseRoomResults:
	default:
		return false
	}
	return c.index == st.index && c.attempt.seq == st.seq
}
