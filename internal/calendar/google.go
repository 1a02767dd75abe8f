package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"toolcal/internal/logger"
)

const (
	DefaultCalendarID = "primary"

	defaultPageSize = 250
	maxPages        = 40

	defaultCBMaxFailures uint32 = 5
	defaultCBTimeout            = 30 * time.Second
	defaultCBInterval           = 60 * time.Second
)

var errTooManyPages = errors.New("too many result pages")

// BreakerConfig configures the circuit breaker in front of the Calendar API.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

type GoogleOptions struct {
	// BaseURL overrides the Calendar API endpoint. Empty means Google's.
	BaseURL    string
	CalendarID string
	PageSize   int
	Breaker    BreakerConfig
	Log        *logger.Logger
}

// Google reads events through the Google Calendar v3 API.
type Google struct {
	events     *gcal.EventsService
	calendarID string
	pageSize   int64
	breaker    *gobreaker.CircuitBreaker[[]Event]
}

// NewGoogle uses client for every request; it must already attach
// credentials (see NewGoogleFromFiles).
func NewGoogle(ctx context.Context, client *http.Client, opts GoogleOptions) (*Google, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.CalendarID == "" {
		opts.CalendarID = DefaultCalendarID
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}

	clientOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(strings.TrimRight(opts.BaseURL, "/")+"/"))
	}
	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}

	maxFailures := opts.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := opts.Breaker.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := opts.Breaker.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[[]Event](gobreaker.Settings{
		Name:        "calendar:" + opts.CalendarID,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker %s: %s -> %s", name, from, to)
		},
		// A cancelled turn says nothing about the backend's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Google{
		events:     svc.Events,
		calendarID: opts.CalendarID,
		pageSize:   int64(opts.PageSize),
		breaker:    cb,
	}, nil
}

// NewGoogleFromFiles builds an authorized client from an OAuth client secrets
// file and a previously saved token. An expired access token is refreshed in
// memory; obtaining the first token is left to other tooling.
func NewGoogleFromFiles(ctx context.Context, credentialsFile, tokenFile string, opts GoogleOptions) (*Google, error) {
	secrets, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	cfg, err := google.ConfigFromJSON(secrets, gcal.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	tok, err := readToken(tokenFile)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" && !tok.Valid() {
		return nil, fmt.Errorf("token in %s has expired and cannot be refreshed", tokenFile)
	}

	return NewGoogle(ctx, oauth2.NewClient(ctx, cfg.TokenSource(ctx, tok)), opts)
}

// readToken accepts both the oauth2 JSON form and the authorized-user form
// written by Google's Python client libraries, which names the access token
// "token".
func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token %s: %w", path, err)
	}
	if tok.AccessToken == "" {
		var userForm struct {
			Token string `json:"token"`
		}
		_ = json.Unmarshal(data, &userForm)
		tok.AccessToken = userForm.Token
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("token %s carries neither an access nor a refresh token", path)
	}
	return &tok, nil
}

// Events lists every event overlapping r, following pagination.
func (g *Google) Events(ctx context.Context, r Range) ([]Event, error) {
	events, err := g.breaker.Execute(func() ([]Event, error) {
		return g.list(ctx, r)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("calendar %q unavailable: %w", g.calendarID, err)
		}
		return nil, err
	}
	return events, nil
}

func (g *Google) State() gobreaker.State {
	return g.breaker.State()
}

func (g *Google) list(ctx context.Context, r Range) ([]Event, error) {
	call := g.events.List(g.calendarID).
		TimeMin(r.Start.Format(time.RFC3339)).
		TimeMax(r.End.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(g.pageSize)
	// timeMin and timeMax carry offsets; the API only takes IANA names here
	if name := r.Location().String(); name != "" && name != "Local" {
		call = call.TimeZone(name)
	}

	var (
		events []Event
		pages  int
	)
	err := call.Pages(ctx, func(page *gcal.Events) error {
		if pages++; pages > maxPages {
			return errTooManyPages
		}
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			events = append(events, fromAPI(item))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("calendar api: list %s: %w", r, err)
	}
	return events, nil
}

func fromAPI(item *gcal.Event) Event {
	e := Event{ID: item.Id, Summary: item.Summary}
	if strings.TrimSpace(e.Summary) == "" {
		e.Summary = NoTitle
	}

	start, end := item.Start, item.End
	if start == nil {
		start = &gcal.EventDateTime{}
	}
	if end == nil {
		end = &gcal.EventDateTime{}
	}

	if start.DateTime != "" {
		e.Start = start.DateTime
		e.End = end.DateTime
		return e
	}

	// All-day: the API's end date is exclusive
	e.Start = start.Date
	e.End = start.Date
	if exclusive, err := time.Parse(DateLayout, end.Date); err == nil {
		if last := exclusive.AddDate(0, 0, -1).Format(DateLayout); last > e.Start {
			e.End = last
		}
	}
	return e
}
