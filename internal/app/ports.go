package app

import (
	"context"

	"quiz-learner-client/internal/domain"
)

// SessionAPI is the request/response contract with the quiz server.
type SessionAPI interface {
	FetchSnapshot(ctx context.Context, sessionID, participantID string, cursor int) (domain.SessionSnapshot, error)
	SubmitAnswer(ctx context.Context, sessionID string, submission domain.AnswerSubmission) (domain.AnswerResult, error)
	FetchParticipantState(ctx context.Context, sessionID, participantID string) (domain.ParticipantState, error)
	React(ctx context.Context, req domain.ReactionRequest) (string, error)
	NotifyFinished(ctx context.Context, sessionID, participantID string) error
	RequestExitTicket(ctx context.Context, req domain.ExitTicketRequest) (domain.ExitTicket, error)
	AnswerExitTicket(ctx context.Context, answer domain.ExitTicketAnswer) (domain.ExitTicketResult, error)
}

// PushChannel delivers server-pushed events. The returned channel is closed when the
// connection drops or ctx is cancelled; callers resubscribe to reconnect.
type PushChannel interface {
	Subscribe(ctx context.Context, sessionID, participantID string) (<-chan domain.SessionEvent, error)
}

// KeyValueStore abstracts where small progress values live (in-memory, Redis, SQLite, Postgres).
// A missing key is reported with found=false, never as an error.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}
