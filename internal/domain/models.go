package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Status is the server-reported lifecycle of a session.
type Status string

const (
	StatusLobby    Status = "lobby"
	StatusQuestion Status = "question"
	StatusResults  Status = "results"
	StatusFinished Status = "finished"
)

// PacingMode decides who advances questions: the moderator or the learner.
type PacingMode string

const (
	PacingSynchronous PacingMode = "synchronous"
	PacingSelfPaced   PacingMode = "self_paced"
)

// Option represents a possible answer for a question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Options are a question's choices. They decode from either a list of {id, text}
// or an object keyed by option id, in which case they are ordered by id.
type Options []Option

func (o *Options) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*o = nil
		return nil
	}
	if trimmed[0] == '[' {
		var list []Option
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*o = list
		return nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keyed); err != nil {
		return fmt.Errorf("options: want a list or an object keyed by option id: %w", err)
	}
	ids := make([]string, 0, len(keyed))
	for id := range keyed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(Options, 0, len(ids))
	for _, id := range ids {
		opt := Option{ID: id}
		raw := keyed[id]
		if err := json.Unmarshal(raw, &opt.Text); err != nil {
			var full Option
			if err := json.Unmarshal(raw, &full); err != nil {
				return fmt.Errorf("option %s: %w", id, err)
			}
			opt.Text = full.Text
		}
		out = append(out, opt)
	}
	*o = out
	return nil
}

// Question is the learner-facing view of a question; correctness is never sent to the client.
type Question struct {
	Index     int      `json:"index"`
	Prompt    string   `json:"prompt"`
	Options   Options  `json:"options"`
	TimeLimit int      `json:"time_limit"` // seconds, 0 means untimed
	Points    int      `json:"points"`
	Concept   string   `json:"concept,omitempty"`
}

// HasOption reports whether optionID is one of the question's options.
func (q Question) HasOption(optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// RetryPolicy controls whether a settled answer may be re-attempted.
type RetryPolicy struct {
	AllowRetry  bool `json:"allow_retry"`
	MaxAttempts int  `json:"max_attempts"` // total settled attempts per question, 0 means unlimited
}

// Settings are the moderator-configured knobs that affect the learner flow.
type Settings struct {
	TimerEnabled bool              `json:"timer_enabled"`
	Retry        RetryPolicy       `json:"retry"`
	Remediation  RemediationPolicy `json:"remediation"`
}

// SessionSnapshot is the server's view of a session. The client replaces its copy wholesale.
type SessionSnapshot struct {
	ID             string     `json:"id"`
	Status         Status     `json:"status"`
	PacingMode     PacingMode `json:"pacing_mode"`
	QuestionIndex  int        `json:"current_question_index"`
	TotalQuestions int        `json:"total_questions"`
	Question       *Question  `json:"current_question,omitempty"`
	Settings       Settings   `json:"settings"`
}

// SelfPaced reports whether the learner drives advancement.
func (s SessionSnapshot) SelfPaced() bool {
	return s.PacingMode == PacingSelfPaced
}

// LastIndex is the index of the final question, or 0 for an empty session.
func (s SessionSnapshot) LastIndex() int {
	if s.TotalQuestions <= 0 {
		return 0
	}
	return s.TotalQuestions - 1
}

// ParticipantState is the per-learner scoreboard record.
type ParticipantState struct {
	ParticipantID     string `json:"participant_id"`
	Score             int    `json:"score"`
	Rank              int    `json:"rank"`
	LastAnswerCorrect *bool  `json:"last_answer_correct,omitempty"`
	LastAnswerPoints  int    `json:"last_answer_points"`
}

// AnswerSubmission models one confirmed attempt sent to the server.
type AnswerSubmission struct {
	ParticipantID string  `json:"participant_id"`
	QuestionIndex int     `json:"question_index"`
	OptionID      string  `json:"answer"`
	TimeTaken     float64 `json:"time_taken"`
	Confidence    int     `json:"confidence"`
	Rationale     string  `json:"rationale,omitempty"`
}

// AnswerResult is the server's verdict for a submission.
type AnswerResult struct {
	Correct       bool   `json:"is_correct"`
	CorrectAnswer string `json:"correct_answer"`
	TotalScore    int    `json:"total_score"`
	PointsEarned  int    `json:"points_earned"`
}

// ReactionRequest asks the server for a short generated reaction to an answer.
type ReactionRequest struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	QuestionIndex int    `json:"question_index"`
	Prompt        string `json:"question"`
	Answer        string `json:"answer"`
	Correct       bool   `json:"is_correct"`
	Confidence    int    `json:"confidence"`
	Rationale     string `json:"rationale,omitempty"`
}

// Identity is the locally remembered participant for a session.
type Identity struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

// ExitTicketRequest parameterizes personalized remediation content.
type ExitTicketRequest struct {
	SessionID      string   `json:"session_id"`
	ParticipantID  string   `json:"participant_id"`
	Accuracy       float64  `json:"accuracy"`
	CalibrationGap float64  `json:"calibration_gap"`
	WeakConcepts   []string `json:"weak_concepts"`
}

// ExitTicket is server-generated remediation content: a short lesson and a check question.
type ExitTicket struct {
	ID       string    `json:"id"`
	Lesson   string    `json:"lesson"`
	Question *Question `json:"question,omitempty"`
}

// ExitTicketAnswer is the learner's response to an exit ticket question.
type ExitTicketAnswer struct {
	TicketID      string `json:"ticket_id"`
	ParticipantID string `json:"participant_id"`
	Answer        string `json:"answer"`
}

// ExitTicketResult is the server's grading of an exit ticket answer.
type ExitTicketResult struct {
	Correct  bool   `json:"is_correct"`
	Feedback string `json:"feedback"`
}
