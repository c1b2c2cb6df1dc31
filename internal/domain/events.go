package domain

// EventKind identifies a session event regardless of which transport produced it.
type EventKind string

const (
	EventStarted               EventKind = "started"
	EventQuestionStart         EventKind = "question_start"
	EventTimerTick             EventKind = "timer_tick"
	EventQuestionEnd           EventKind = "question_end"
	EventResults               EventKind = "results"
	EventEnded                 EventKind = "ended"
	EventModeratorDisconnected EventKind = "host_disconnected"
	EventError                 EventKind = "error"
)

// EventSource records which transport delivered an event.
type EventSource string

const (
	SourcePush EventSource = "push"
	SourcePoll EventSource = "poll"
)

// SessionEvent is the single event type consumers see. Only the fields relevant to
// Kind are set: Question for question_start, Remaining for timer_tick, Message for error.
type SessionEvent struct {
	Kind      EventKind
	Source    EventSource
	Question  *Question
	Remaining int
	Message   string
	Snapshot  *SessionSnapshot // set for poll-synthesized events
}

// QuestionIndex returns the index carried by a question_start event, or -1.
func (e SessionEvent) QuestionIndex() int {
	if e.Question == nil {
		return -1
	}
	return e.Question.Index
}
