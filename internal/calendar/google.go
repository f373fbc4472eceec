package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tbourn/slotbook/internal/domain"
)

// GoogleSource reads free/busy and writes events on one Google calendar.
type GoogleSource struct {
	svc        *gcal.Service
	calendarID string
}

// GoogleOAuthConfig returns the client config used to refresh stored tokens.
func GoogleOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{gcal.CalendarEventsScope, gcal.CalendarReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

// NewGoogleSource builds a source authenticated with token. The token is
// refreshed through cfg when it expires.
func NewGoogleSource(ctx context.Context, cfg *oauth2.Config, token *oauth2.Token, calendarID string, opts ...option.ClientOption) (*GoogleSource, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(cfg.Client(ctx, token))}, opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return NewGoogleSourceFromService(svc, calendarID), nil
}

// NewGoogleSourceFromService wraps an existing service.
func NewGoogleSourceFromService(svc *gcal.Service, calendarID string) *GoogleSource {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleSource{svc: svc, calendarID: calendarID}
}

// Provider implements Source.
func (g *GoogleSource) Provider() string { return ProviderGoogle }

// ListBusyIntervals implements Source using the freeBusy endpoint, which
// already excludes transparent and declined events.
func (g *GoogleSource) ListBusyIntervals(ctx context.Context, ownerID string, w domain.TimeWindow) ([]domain.BusyInterval, error) {
	resp, err := g.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: w.Start.Format(time.RFC3339),
		TimeMax: w.End.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: g.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("google freebusy: %w", err)
	}

	cal, ok := resp.Calendars[g.calendarID]
	if !ok {
		return nil, fmt.Errorf("google freebusy: calendar %q missing from response", g.calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("google freebusy: %s", cal.Errors[0].Reason)
	}

	out := make([]domain.BusyInterval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("google freebusy: bad start %q: %w", p.Start, err)
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("google freebusy: bad end %q: %w", p.End, err)
		}
		bw, err := domain.NewWindow(start, end)
		if err != nil {
			continue
		}
		out = append(out, externalBusy(ownerID, ProviderGoogle, bw))
	}
	return out, nil
}

// CreateEvent implements Source. The event ID is derived from the idempotency
// key, so a retried insert hits 409 Conflict and the existing event is
// returned instead.
func (g *GoogleSource) CreateEvent(ctx context.Context, _ string, req EventRequest) (Event, error) {
	id := eventID(req.IdempotencyKey)
	ev := &gcal.Event{
		Id:          id,
		Summary:     req.Title,
		Description: req.Description,
		Start:       &gcal.EventDateTime{DateTime: req.Window.Start.Format(time.RFC3339), TimeZone: "UTC"},
		End:         &gcal.EventDateTime{DateTime: req.Window.End.Format(time.RFC3339), TimeZone: "UTC"},
	}
	for _, a := range req.Attendees {
		ev.Attendees = append(ev.Attendees, &gcal.EventAttendee{Email: a})
	}

	created, err := g.svc.Events.Insert(g.calendarID, ev).Context(ctx).Do()
	if err == nil {
		return Event{Ref: created.Id, Provider: ProviderGoogle}, nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
		existing, gErr := g.svc.Events.Get(g.calendarID, id).Context(ctx).Do()
		if gErr != nil {
			return Event{}, fmt.Errorf("google events get after conflict: %w", gErr)
		}
		return Event{Ref: existing.Id, Provider: ProviderGoogle}, nil
	}
	return Event{}, fmt.Errorf("google events insert: %w", err)
}
