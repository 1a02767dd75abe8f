package builtin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"toolcal/internal/calendar"
	"toolcal/internal/prompts"
	"toolcal/internal/tool"
)

// CalendarTool lists the events that fall entirely within a range of days.
type CalendarTool struct {
	source calendar.Source
	loc    *time.Location
}

func NewCalendarTool(source calendar.Source, loc *time.Location) *CalendarTool {
	if loc == nil {
		loc = time.Local
	}
	return &CalendarTool{source: source, loc: loc}
}

var calendarSpec = prompts.MustToolSpec("get_calendar_events")

func (t *CalendarTool) Spec() tool.Spec {
	return calendarSpec
}

func (t *CalendarTool) Execute(ctx context.Context, args tool.Args) (any, error) {
	r, err := calendar.NewRange(args.String("start_date"), args.String("end_date"), t.loc)
	if err != nil {
		if errors.Is(err, calendar.ErrInvalidDate) {
			return nil, fmt.Errorf("%w: %v", tool.ErrInvalidArgument, err)
		}
		return nil, err
	}

	events, err := t.source.Events(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("fetch events for %s: %w", r, err)
	}

	return calendar.Within(r, events), nil
}
