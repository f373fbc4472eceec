package calendar

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-ical"
)

func TestBusyFromCalendar_SkipsTransparentCancelledAndOutside(t *testing.T) {
	base := time.Date(2030, 1, 15, 14, 0, 0, 0, time.UTC)
	w := window(base, 4*time.Hour)

	cal := ical.NewCalendar()
	add := func(uid string, start time.Time, d time.Duration, extra map[string]string) {
		ev := ical.NewComponent(ical.CompEvent)
		ev.Props.SetText(ical.PropUID, uid)
		ev.Props.SetDateTime(ical.PropDateTimeStart, start)
		ev.Props.SetDateTime(ical.PropDateTimeEnd, start.Add(d))
		for k, v := range extra {
			ev.Props.SetText(k, v)
		}
		cal.Children = append(cal.Children, ev)
	}
	add("busy", base.Add(time.Hour), 30*time.Minute, nil)
	add("free", base.Add(2*time.Hour), 30*time.Minute, map[string]string{ical.PropTransparency: "TRANSPARENT"})
	add("cancelled", base.Add(2*time.Hour), 30*time.Minute, map[string]string{ical.PropStatus: "CANCELLED"})
	add("outside", base.Add(10*time.Hour), 30*time.Minute, nil)

	got := busyFromCalendar("u1", cal, w)
	if len(got) != 1 || !got[0].Window.Start.Equal(base.Add(time.Hour)) || got[0].Source.Provider != ProviderCalDAV {
		t.Fatalf("unexpected busy: %+v", got)
	}
}

func TestCalDAVSource_CreateEventPutsStableResource(t *testing.T) {
	var (
		mu     sync.Mutex
		puts   []string
		bodies []string
		auth   []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "unexpected method", http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		user, _, _ := r.BasicAuth()
		mu.Lock()
		puts = append(puts, r.URL.Path)
		bodies = append(bodies, string(body))
		auth = append(auth, user)
		mu.Unlock()
		w.Header().Set("ETag", `"e1"`)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	src, err := NewCalDAVSource(srv.URL+"/", "alice", "app-password", "/cal/alice/work", nil)
	if err != nil {
		t.Fatalf("NewCalDAVSource: %v", err)
	}
	req := EventRequest{
		Window:         window(time.Date(2030, 1, 15, 14, 0, 0, 0, time.UTC), 30*time.Minute),
		Title:          "Intro",
		Attendees:      []string{"ada@example.com"},
		IdempotencyKey: IdempotencyKey("b1"),
	}
	for i := 0; i < 2; i++ {
		if _, err := src.CreateEvent(context.Background(), "alice", req); err != nil {
			t.Fatalf("CreateEvent #%d: %v", i, err)
		}
	}

	wantPath := "/cal/alice/work/" + eventID(req.IdempotencyKey) + ".ics"
	if len(puts) != 2 || puts[0] != wantPath || puts[1] != wantPath {
		t.Fatalf("expected two PUTs to %s, got %v", wantPath, puts)
	}
	if !strings.Contains(bodies[0], "UID:"+eventID(req.IdempotencyKey)) || !strings.Contains(bodies[0], "mailto:ada@example.com") {
		t.Fatalf("unexpected body: %s", bodies[0])
	}
	if auth[0] != "alice" {
		t.Fatalf("expected basic auth user alice, got %q", auth[0])
	}
}
