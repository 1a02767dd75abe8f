// Package store keeps committed conversation turns.
package store

import (
	"context"
	"time"

	"toolcal/internal/llm"
)

// Store holds the committed message log and token usage of each session.
// Extend is only ever called with complete turns.
type Store interface {
	Messages(ctx context.Context, sessionID string) ([]llm.Message, error)
	Usage(ctx context.Context, sessionID string) (llm.Usage, error)
	Extend(ctx context.Context, sessionID string, msgs []llm.Message, usage llm.Usage) error
	Sessions(ctx context.Context) ([]SessionInfo, error)
	Close() error
}

// SessionInfo summarizes one stored session.
type SessionInfo struct {
	ID        string
	Messages  int
	UpdatedAt time.Time
}
