package hook

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Manager manages hook handlers and triggers
type Manager struct {
	handlers map[HookPoint][]Handler
	mu       sync.RWMutex
}

// NewManager creates a new hook manager
func NewManager() *Manager {
	return &Manager{
		handlers: make(map[HookPoint][]Handler),
	}
}

// Register adds a handler to every point it listens to. Handlers with equal
// priority keep their registration order.
func (m *Manager) Register(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, point := range handler.Points() {
		hs := append(m.handlers[point], handler)
		sort.SliceStable(hs, func(i, j int) bool {
			return hs[i].Priority() > hs[j].Priority()
		})
		m.handlers[point] = hs
	}
}

func (m *Manager) snapshot(point HookPoint) []Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Handler(nil), m.handlers[point]...)
}

// Trigger runs the handlers for data.Point in priority order. The first deny
// or error stops the chain.
func (m *Manager) Trigger(ctx context.Context, data *HookData) (*Feedback, error) {
	for _, handler := range m.snapshot(data.Point) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		feedback, err := handler.Handle(ctx, data)
		if err != nil {
			return nil, err
		}
		if feedback == nil {
			continue
		}
		if !feedback.Allow {
			return feedback, nil
		}
		if feedback.Modified != nil {
			data.Data[KeyModified] = feedback.Modified
		}
	}

	return AllowFeedback(), nil
}

// Notify runs every handler for an observe-only point. Feedback is ignored
// and handler errors are joined.
func (m *Manager) Notify(ctx context.Context, data *HookData) error {
	var errs []error
	for _, handler := range m.snapshot(data.Point) {
		if _, err := handler.Handle(ctx, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HasHandlers checks if there are handlers for a hook point
func (m *Manager) HasHandlers(point HookPoint) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[point]) > 0
}

// ListHandlers returns handler names for a hook point
func (m *Manager) ListHandlers(point HookPoint) []string {
	handlers := m.snapshot(point)
	names := make([]string, len(handlers))
	for i, h := range handlers {
		names[i] = h.Name()
	}
	return names
}
