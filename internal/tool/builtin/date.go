package builtin

import (
	"context"
	"time"

	"toolcal/internal/calendar"
	"toolcal/internal/prompts"
	"toolcal/internal/tool"
)

// Clock returns the current instant.
type Clock func() time.Time

// DateTool reports today's date in a fixed time zone.
type DateTool struct {
	now Clock
	loc *time.Location
}

// NewDateTool uses time.Now and time.Local when now or loc are nil.
func NewDateTool(now Clock, loc *time.Location) *DateTool {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &DateTool{now: now, loc: loc}
}

var dateSpec = prompts.MustToolSpec("get_date")

func (t *DateTool) Spec() tool.Spec {
	return dateSpec
}

func (t *DateTool) Execute(_ context.Context, _ tool.Args) (any, error) {
	return t.Today(), nil
}

// Today formats the clock's current instant as a date in the tool's zone.
func (t *DateTool) Today() string {
	return t.now().In(t.loc).Format(calendar.DateLayout)
}
