package wire

import (
	"errors"
	"testing"

	"quiz-learner-client/internal/domain"
)

func TestDecodeQuestionStart(t *testing.T) {
	raw := `{"type":"question_start","payload":{"index":2,"prompt":"2+2?","options":[{"id":"a","text":"4"}],"time_limit":20,"points":5}}`
	ev, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != domain.EventQuestionStart || ev.Source != domain.SourcePush {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.QuestionIndex() != 2 || ev.Question.TimeLimit != 20 || len(ev.Question.Options) != 1 {
		t.Fatalf("unexpected question %+v", ev.Question)
	}
}

func TestDecodeTickAndError(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"timer_tick","payload":{"remaining":7}}`))
	if err != nil || ev.Remaining != 7 {
		t.Fatalf("expected remaining 7, got %+v (err=%v)", ev, err)
	}
	ev, err = Decode([]byte(`{"type":"error","payload":{"message":"boom"}}`))
	if err != nil || ev.Message != "boom" {
		t.Fatalf("expected error message, got %+v (err=%v)", ev, err)
	}
	ev, err = Decode([]byte(`{"type":"host_disconnected"}`))
	if err != nil || ev.Kind != domain.EventModeratorDisconnected {
		t.Fatalf("expected moderator disconnect, got %+v (err=%v)", ev, err)
	}
}

func TestDecodeRejectsUnknownAndMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"leaderboard"}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if _, err := Decode([]byte(`{"type":"timer_tick","payload":"soon"}`)); err == nil {
		t.Fatalf("expected malformed payload to fail")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatalf("expected invalid json to fail")
	}
}

func TestEncodeMatchesDecode(t *testing.T) {
	q := domain.Question{Index: 1, Prompt: "capital of France?", TimeLimit: 10}
	data, err := Encode(domain.SessionEvent{Kind: domain.EventQuestionStart, Question: &q})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ev, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Question.Prompt != q.Prompt || ev.QuestionIndex() != 1 {
		t.Fatalf("unexpected event %+v", ev.Question)
	}
}

func TestDecodeQuestionStartWithKeyedOptions(t *testing.T) {
	raw := `{"type":"question_start","payload":{"index":0,"prompt":"pick","options":{"B":"second","A":"first"}}}`
	ev, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	opts := ev.Question.Options
	if len(opts) != 2 || opts[0] != (domain.Option{ID: "A", Text: "first"}) || opts[1] != (domain.Option{ID: "B", Text: "second"}) {
		t.Fatalf("unexpected options %+v", opts)
	}
	if !ev.Question.HasOption("B") {
		t.Fatalf("expected option B to be selectable")
	}
}
