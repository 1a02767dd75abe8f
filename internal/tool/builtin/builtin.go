// Package builtin holds the tools the assistant ships with.
package builtin

import (
	"context"
	"fmt"

	"toolcal/internal/tool"
)

// Tool is a builtin that knows its own spec.
type Tool interface {
	Spec() tool.Spec
	Execute(ctx context.Context, args tool.Args) (any, error)
}

// Register adds every tool to r, stopping at the first failure.
func Register(r *tool.Registry, tools ...Tool) error {
	for _, t := range tools {
		if err := r.Register(t.Spec(), t.Execute); err != nil {
			return fmt.Errorf("register %s: %w", t.Spec().Name, err)
		}
	}
	return nil
}
