package availability

import (
	"strings"
	"testing"
	"time"

	"github.com/tbourn/slotbook/internal/domain"
)

func TestExpandRecurring_WeeklyKeepsLocalTimeAcrossDST(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	block := domain.RecurringBlock{
		ID:              "r1",
		UserID:          "u1",
		RRule:           "FREQ=WEEKLY;BYDAY=MO",
		DTStart:         time.Date(2030, 1, 7, 10, 0, 0, 0, ny).UTC(),
		Timezone:        "America/New_York",
		DurationMinutes: 60,
	}

	winter := domain.TimeWindow{Start: time.Date(2030, 1, 14, 0, 0, 0, 0, time.UTC), End: time.Date(2030, 1, 15, 0, 0, 0, 0, time.UTC)}
	got, err := ExpandRecurring([]domain.RecurringBlock{block}, winter)
	if err != nil {
		t.Fatalf("ExpandRecurring: %v", err)
	}
	if len(got) != 1 || !got[0].Window.Start.Equal(time.Date(2030, 1, 14, 15, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected winter occurrences: %+v", got)
	}
	if got[0].OwnerID != "u1" || got[0].Source.Provider != RecurringProvider || got[0].IsConfirmedBooking() {
		t.Fatalf("unexpected interval metadata: %+v", got[0])
	}

	summer := domain.TimeWindow{Start: time.Date(2030, 7, 15, 0, 0, 0, 0, time.UTC), End: time.Date(2030, 7, 16, 0, 0, 0, 0, time.UTC)}
	got, err = ExpandRecurring([]domain.RecurringBlock{block}, summer)
	if err != nil {
		t.Fatalf("ExpandRecurring: %v", err)
	}
	if len(got) != 1 || !got[0].Window.Start.Equal(time.Date(2030, 7, 15, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected summer occurrences: %+v", got)
	}
}

func TestExpandRecurring_IncludesOccurrenceStartingBeforeWindow(t *testing.T) {
	block := domain.RecurringBlock{
		ID: "r1", UserID: "u1", RRule: "FREQ=DAILY",
		DTStart:         time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 120,
	}
	w := domain.TimeWindow{Start: time.Date(2030, 1, 15, 10, 0, 0, 0, time.UTC), End: time.Date(2030, 1, 15, 10, 30, 0, 0, time.UTC)}
	got, err := ExpandRecurring([]domain.RecurringBlock{block}, w)
	if err != nil {
		t.Fatalf("ExpandRecurring: %v", err)
	}
	if len(got) != 1 || !got[0].Window.Start.Equal(time.Date(2030, 1, 15, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected the 09:00 occurrence, got %+v", got)
	}
}

func TestExpandRecurring_InvalidRule(t *testing.T) {
	_, err := ExpandRecurring([]domain.RecurringBlock{{ID: "bad", RRule: "FREQ=SOMETIMES"}}, domain.TimeWindow{Start: testNow, End: testNow.Add(time.Hour)})
	if err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestExpandRecurring_SkipsInvalidBlocks(t *testing.T) {
	good := domain.RecurringBlock{
		ID:              "standup",
		UserID:          "u1",
		RRule:           "FREQ=DAILY",
		DTStart:         testNow.Truncate(time.Hour),
		DurationMinutes: 15,
	}
	blocks := []domain.RecurringBlock{
		{ID: "bad-rule", UserID: "u2", RRule: "FREQ=SOMETIMES"},
		{ID: "bad-zone", UserID: "u2", RRule: "FREQ=DAILY", Timezone: "Nowhere/Land", DTStart: testNow, DurationMinutes: 30},
		good,
	}
	w := domain.TimeWindow{Start: testNow.Add(-time.Hour), End: testNow.Add(2 * time.Hour)}

	got, err := ExpandRecurring(blocks, w)
	if err == nil || !strings.Contains(err.Error(), "bad-rule") || !strings.Contains(err.Error(), "bad-zone") {
		t.Fatalf("expected an error naming both invalid blocks, got %v", err)
	}
	if len(got) == 0 {
		t.Fatalf("valid blocks must still expand")
	}
	for _, b := range got {
		if b.OwnerID != "u1" {
			t.Fatalf("unexpected interval from an invalid block: %+v", b)
		}
	}
}
