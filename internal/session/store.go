package session

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"TutorChat/internal/storage"
)

const scopePrefix = "ai_tutor_chat_history"

// ScopeKey derives the storage partition for a topic. Sessions saved under
// different topics never mix; without a topic ID a single default scope is
// used.
func ScopeKey(topicID string) string {
	if topicID == "" {
		return scopePrefix
	}
	return scopePrefix + "_" + topicID
}

// Store persists session collections, most-recent-first, capped at
// MaxSessions per scope.
type Store struct {
	kv     storage.KV
	logger *slog.Logger
}

func NewStore(kv storage.KV, logger *slog.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

// Load returns the collection stored under scopeKey. Missing or malformed
// data yields an empty collection; Load never fails.
func (s *Store) Load(scopeKey string) []Session {
	raw, ok := s.kv.Get(scopeKey)
	if !ok {
		return nil
	}
	var sessions []Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		s.logger.Warn("discarding malformed chat history", "scope", scopeKey, "error", err)
		return nil
	}
	return sessions
}

// Save overwrites the collection under scopeKey. The MaxSessions cap is
// enforced here and nowhere else.
func (s *Store) Save(scopeKey string, sessions []Session) error {
	if len(sessions) > MaxSessions {
		sessions = sessions[:MaxSessions]
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to encode chat history: %w", err)
	}
	return s.kv.Set(scopeKey, string(data))
}

// Upsert stores sess in the scope's collection: an existing session is
// updated in place, a new one is inserted at the front.
func (s *Store) Upsert(scopeKey string, sess Session) error {
	sessions := s.Load(scopeKey)
	idx := -1
	for i, existing := range sessions {
		if existing.ID == sess.ID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		sessions[idx] = sess
	} else {
		sessions = append([]Session{sess}, sessions...)
	}
	return s.Save(scopeKey, sessions)
}

// Delete removes the session with the given ID from the scope's collection.
func (s *Store) Delete(scopeKey, id string) error {
	sessions := s.Load(scopeKey)
	kept := sessions[:0]
	for _, existing := range sessions {
		if existing.ID != id {
			kept = append(kept, existing)
		}
	}
	return s.Save(scopeKey, kept)
}

// Get returns the stored session with the given ID.
func (s *Store) Get(scopeKey, id string) (Session, bool) {
	for _, sess := range s.Load(scopeKey) {
		if sess.ID == id {
			return sess, true
		}
	}
	return Session{}, false
}
