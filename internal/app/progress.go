package app

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog/log"
	"quiz-learner-client/internal/domain"
)

// Progress is the typed view over a KeyValueStore for one (session, participant) pair.
// Read failures are logged and treated as absence so a broken store never blocks the learner.
type Progress struct {
	store KeyValueStore
	key   domain.ProgressKey
}

func NewProgress(store KeyValueStore, key domain.ProgressKey) *Progress {
	return &Progress{store: store, key: key}
}

// Cursor returns the persisted question index, 0 when absent.
func (p *Progress) Cursor(ctx context.Context) int {
	raw, ok := p.get(ctx, p.key.CursorKey())
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		log.Warn().Str("key", p.key.CursorKey()).Str("value", raw).Msg("ignoring malformed progress cursor")
		return 0
	}
	return n
}

// SetCursor persists index unless a higher cursor is already stored.
func (p *Progress) SetCursor(ctx context.Context, index int) error {
	if current := p.Cursor(ctx); current > index {
		return nil
	}
	return p.store.Set(ctx, p.key.CursorKey(), strconv.Itoa(index))
}

// Completed reports whether the completion flag is set.
func (p *Progress) Completed(ctx context.Context) bool {
	raw, ok := p.get(ctx, p.key.CompletionKey())
	return ok && raw == "1"
}

// MarkCompleted sets the completion flag. There is deliberately no way to clear it.
func (p *Progress) MarkCompleted(ctx context.Context) error {
	return p.store.Set(ctx, p.key.CompletionKey(), "1")
}

// Performance returns the settled answers persisted for the participant.
func (p *Progress) Performance(ctx context.Context) []domain.AnswerRecord {
	raw, ok := p.get(ctx, p.key.PerformanceKey())
	if !ok {
		return nil
	}
	var records []domain.AnswerRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		log.Warn().Err(err).Str("key", p.key.PerformanceKey()).Msg("ignoring malformed performance record")
		return nil
	}
	return records
}

// SavePerformance replaces the persisted settled answers.
func (p *Progress) SavePerformance(ctx context.Context, records []domain.AnswerRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, p.key.PerformanceKey(), string(data))
}

// LoadIdentity returns the participant remembered for a session.
func LoadIdentity(ctx context.Context, store KeyValueStore, sessionID string) (domain.Identity, bool) {
	raw, found, err := store.Get(ctx, domain.IdentityKey(sessionID))
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("identity lookup failed")
		return domain.Identity{}, false
	}
	if !found {
		return domain.Identity{}, false
	}
	var id domain.Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil || id.ParticipantID == "" {
		return domain.Identity{}, false
	}
	return id, true
}

// SaveIdentity remembers the participant for a session.
func SaveIdentity(ctx context.Context, store KeyValueStore, sessionID string, id domain.Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return store.Set(ctx, domain.IdentityKey(sessionID), string(data))
}

func (p *Progress) get(ctx context.Context, key string) (string, bool) {
	raw, found, err := p.store.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("progress store read failed")
		return "", false
	}
	return raw, found
}
