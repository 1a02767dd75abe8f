package calendar

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File serves events from a YAML document of the form
//
//	events:
//	  - id: "1"
//	    summary: Standup
//	    start: "2024-05-06T09:00:00+02:00"
//	    end: "2024-05-06T09:15:00+02:00"
//
// The file is re-read on every call so edits show up without a restart.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

type fileDocument struct {
	Events []Event `yaml:"events"`
}

func (f *File) Events(ctx context.Context, r Range) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read calendar file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse calendar file %s: %w", f.path, err)
	}

	events := make([]Event, 0, len(doc.Events))
	for i, e := range doc.Events {
		if e.Start == "" {
			return nil, fmt.Errorf("calendar file %s: event #%d has no start", f.path, i+1)
		}
		if strings.TrimSpace(e.Summary) == "" {
			e.Summary = NoTitle
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("evt-%d", i+1)
		}
		if e.End == "" {
			e.End = e.Start
		}
		events = append(events, e)
	}

	return Within(r, events), nil
}
