package calendar

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"github.com/tbourn/slotbook/internal/domain"
)

// basicAuthTransport adds Basic Auth and a User-Agent to each request.
type basicAuthTransport struct {
	username  string
	password  string
	transport http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	req.Header.Set("User-Agent", "slotbook/1.0")
	return t.transport.RoundTrip(req)
}

// CalDAVSource reads and writes one CalDAV calendar collection.
type CalDAVSource struct {
	client       *caldav.Client
	calendarPath string
}

// NewCalDAVSource connects to endpoint with an app password. calendarPath is
// the collection path (e.g. "/123/calendars/work/"). A nil base transport
// uses http.DefaultTransport.
func NewCalDAVSource(endpoint, username, password, calendarPath string, base http.RoundTripper) (*CalDAVSource, error) {
	if base == nil {
		base = http.DefaultTransport
	}
	hc := &http.Client{
		Transport: &basicAuthTransport{username: username, password: password, transport: base},
		Timeout:   30 * time.Second,
	}
	client, err := caldav.NewClient(hc, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	if !strings.HasSuffix(calendarPath, "/") {
		calendarPath += "/"
	}
	return &CalDAVSource{client: client, calendarPath: calendarPath}, nil
}

// Provider implements Source.
func (c *CalDAVSource) Provider() string { return ProviderCalDAV }

// ListBusyIntervals implements Source with a time-range calendar-query.
// Server-side recurrence expansion is not requested, so only the master
// instance of a recurring external event is seen.
func (c *CalDAVSource) ListBusyIntervals(ctx context.Context, ownerID string, w domain.TimeWindow) ([]domain.BusyInterval, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:  ical.CompEvent,
				Props: []string{ical.PropUID, ical.PropDateTimeStart, ical.PropDateTimeEnd, ical.PropDuration, ical.PropTransparency, ical.PropStatus},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: w.Start,
				End:   w.End,
			}},
		},
	}
	objs, err := c.client.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("caldav query: %w", err)
	}

	var out []domain.BusyInterval
	for _, obj := range objs {
		if obj.Data == nil {
			continue
		}
		out = append(out, busyFromCalendar(ownerID, obj.Data, w)...)
	}
	return out, nil
}

// busyFromCalendar extracts opaque, non-cancelled events overlapping w.
func busyFromCalendar(ownerID string, cal *ical.Calendar, w domain.TimeWindow) []domain.BusyInterval {
	var out []domain.BusyInterval
	for _, ev := range cal.Events() {
		if p := ev.Props.Get(ical.PropTransparency); p != nil && strings.EqualFold(p.Value, "TRANSPARENT") {
			continue
		}
		if p := ev.Props.Get(ical.PropStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
			continue
		}
		start, err := ev.DateTimeStart(time.UTC)
		if err != nil || start.IsZero() {
			continue
		}
		end, err := ev.DateTimeEnd(time.UTC)
		if err != nil || end.IsZero() {
			continue
		}
		bw, err := domain.NewWindow(start, end)
		if err != nil || !bw.Overlaps(w) {
			continue
		}
		out = append(out, externalBusy(ownerID, ProviderCalDAV, bw))
	}
	return out
}

// CreateEvent implements Source. The resource name and UID come from the
// idempotency key, so a retried PUT overwrites the same object.
func (c *CalDAVSource) CreateEvent(ctx context.Context, _ string, req EventRequest) (Event, error) {
	id := eventID(req.IdempotencyKey)
	cal := newEventCalendar(id, req, time.Now().UTC())

	objPath := path.Join(c.calendarPath, id+".ics")
	obj, err := c.client.PutCalendarObject(ctx, objPath, cal)
	if err != nil {
		return Event{}, fmt.Errorf("caldav put: %w", err)
	}
	ref := objPath
	if obj != nil && obj.Path != "" {
		ref = obj.Path
	}
	return Event{Ref: ref, Provider: ProviderCalDAV}, nil
}

func newEventCalendar(uid string, req EventRequest, stamp time.Time) *ical.Calendar {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, req.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	ve.Props.SetDateTime(ical.PropDateTimeStart, req.Window.Start)
	ve.Props.SetDateTime(ical.PropDateTimeEnd, req.Window.End)
	if req.Description != "" {
		ve.Props.SetText(ical.PropDescription, req.Description)
	}
	for _, a := range req.Attendees {
		p := ical.NewProp(ical.PropAttendee)
		p.SetText("mailto:" + a)
		ve.Props.Add(p)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//slotbook//EN")
	cal.Children = append(cal.Children, ve)
	return cal
}
