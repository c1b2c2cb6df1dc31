package memory

import (
	"context"
	"testing"

	"quiz-learner-client/internal/app"
	"quiz-learner-client/internal/domain"
)

func TestProgressStoreBacksProgress(t *testing.T) {
	ctx := context.Background()
	store := NewProgressStore()
	key := domain.ProgressKey{SessionID: "s1", ParticipantID: "p1"}
	progress := app.NewProgress(store, key)

	if progress.Completed(ctx) {
		t.Fatalf("expected fresh store to have no completion flag")
	}
	if err := progress.SetCursor(ctx, 2); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := progress.MarkCompleted(ctx); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if progress.Cursor(ctx) != 2 || !progress.Completed(ctx) {
		t.Fatalf("expected cursor 2 and completion flag")
	}
	if _, found, _ := store.Get(ctx, "missing"); found {
		t.Fatalf("expected missing key to be reported as not found")
	}
}
