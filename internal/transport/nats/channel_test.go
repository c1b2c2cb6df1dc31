package nats

import (
	"testing"

	"github.com/nats-io/nats.go"
	"quiz-learner-client/internal/domain"
)

func TestDecodeMessage(t *testing.T) {
	ev, ok := decodeMessage(&nats.Msg{Subject: "quiz.s1", Data: []byte(`{"type":"timer_tick","payload":{"remaining":4}}`)})
	if !ok || ev.Kind != domain.EventTimerTick || ev.Remaining != 4 {
		t.Fatalf("unexpected event %+v (ok=%v)", ev, ok)
	}
	if _, ok := decodeMessage(&nats.Msg{Subject: "quiz.s1", Data: []byte(`garbage`)}); ok {
		t.Fatalf("expected garbage to be skipped")
	}
	if _, ok := decodeMessage(nil); ok {
		t.Fatalf("expected nil message to be skipped")
	}
}

func TestSubjectUsesPrefix(t *testing.T) {
	c := New(nil, "quiz.sessions")
	if got := c.Subject("abc"); got != "quiz.sessions.abc" {
		t.Fatalf("unexpected subject %s", got)
	}
}
