package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"quiz-learner-client/internal/domain"
)

func TestProgressStoreSetsKeysWithTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewProgressStore(client, time.Minute)
	ctx := context.Background()
	key := domain.ProgressKey{SessionID: "s1", ParticipantID: "p1"}

	if _, found, err := store.Get(ctx, key.CursorKey()); err != nil || found {
		t.Fatalf("expected missing key, got found=%v err=%v", found, err)
	}
	if err := store.Set(ctx, key.CursorKey(), "3"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("quiz:session:s1:participant:p1:cursor") {
		t.Fatalf("expected redis key to be set")
	}
	if ttl := mr.TTL(key.CursorKey()); ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %s", ttl)
	}

	v, found, err := store.Get(ctx, key.CursorKey())
	if err != nil || !found || v != "3" {
		t.Fatalf("expected 3, got %q found=%v err=%v", v, found, err)
	}

	mr.FastForward(2 * time.Minute)
	if _, found, _ := store.Get(ctx, key.CursorKey()); found {
		t.Fatalf("expected key to expire")
	}
}

func TestProgressStoreSurfacesConnectionErrors(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	store := NewProgressStore(client, time.Minute)
	mr.Close()

	if _, _, err := store.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected error from closed server")
	}
}
