// Package wire decodes push frames shared by the WebSocket and NATS adapters.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"quiz-learner-client/internal/domain"
)

// ErrUnknownType is returned for frames whose type the client does not understand.
var ErrUnknownType = errors.New("unknown push frame type")

// Frame is the envelope every pushed message arrives in.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type tickPayload struct {
	Remaining int `json:"remaining"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Decode parses one raw frame into a SessionEvent.
func Decode(data []byte) (domain.SessionEvent, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return domain.SessionEvent{}, fmt.Errorf("decode frame: %w", err)
	}
	return DecodeFrame(frame)
}

func DecodeFrame(frame Frame) (domain.SessionEvent, error) {
	ev := domain.SessionEvent{Kind: domain.EventKind(frame.Type), Source: domain.SourcePush}
	switch ev.Kind {
	case domain.EventStarted, domain.EventQuestionEnd, domain.EventResults,
		domain.EventEnded, domain.EventModeratorDisconnected:
	case domain.EventQuestionStart:
		var q domain.Question
		if err := json.Unmarshal(frame.Payload, &q); err != nil {
			return domain.SessionEvent{}, fmt.Errorf("decode question_start: %w", err)
		}
		ev.Question = &q
	case domain.EventTimerTick:
		var p tickPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return domain.SessionEvent{}, fmt.Errorf("decode timer_tick: %w", err)
		}
		ev.Remaining = p.Remaining
	case domain.EventError:
		var p errorPayload
		if len(frame.Payload) > 0 {
			if err := json.Unmarshal(frame.Payload, &p); err != nil {
				return domain.SessionEvent{}, fmt.Errorf("decode error frame: %w", err)
			}
		}
		ev.Message = p.Message
	default:
		return domain.SessionEvent{}, fmt.Errorf("%w: %q", ErrUnknownType, frame.Type)
	}
	return ev, nil
}

// Encode renders an event back into its frame form. Servers and test fixtures use it.
func Encode(ev domain.SessionEvent) ([]byte, error) {
	frame := Frame{Type: string(ev.Kind)}
	var payload any
	switch ev.Kind {
	case domain.EventQuestionStart:
		payload = ev.Question
	case domain.EventTimerTick:
		payload = tickPayload{Remaining: ev.Remaining}
	case domain.EventError:
		payload = errorPayload{Message: ev.Message}
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		frame.Payload = raw
	}
	return json.Marshal(frame)
}
