package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"toolcal/internal/llm"
)

// Ephemeral keeps sessions in memory for the life of the process.
type Ephemeral struct {
	mu      sync.RWMutex
	m       map[string][]llm.Message
	u       map[string]llm.Usage
	updated map[string]time.Time
	now     func() time.Time
}

func NewEphemeral() *Ephemeral {
	return &Ephemeral{
		m:       make(map[string][]llm.Message),
		u:       make(map[string]llm.Usage),
		updated: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Messages returns a copy of the session's log; unknown sessions are empty.
func (s *Ephemeral) Messages(_ context.Context, sessionID string) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]llm.Message{}, s.m[sessionID]...), nil
}

func (s *Ephemeral) Usage(_ context.Context, sessionID string) (llm.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.u[sessionID], nil
}

func (s *Ephemeral) Extend(_ context.Context, sessionID string, msgs []llm.Message, usage llm.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.extend(sessionID, msgs, usage)
	return nil
}

// extend assumes s.mu is held.
func (s *Ephemeral) extend(sessionID string, msgs []llm.Message, usage llm.Usage) {
	s.m[sessionID] = append(s.m[sessionID], msgs...)

	u := s.u[sessionID]
	u.Add(usage)
	s.u[sessionID] = u

	s.updated[sessionID] = s.now()
}

func (s *Ephemeral) loaded(sessionID string) bool {
	_, ok := s.m[sessionID]
	return ok
}

// Sessions lists sessions, most recently updated first.
func (s *Ephemeral) Sessions(_ context.Context) ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SessionInfo, 0, len(s.m))
	for id, msgs := range s.m {
		out = append(out, SessionInfo{ID: id, Messages: len(msgs), UpdatedAt: s.updated[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Ephemeral) Close() error {
	return nil
}
