package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/tbourn/slotbook/internal/domain"
)

// RecurringProvider tags busy intervals produced by recurring blocks.
const RecurringProvider = "recurring"

// ExpandRecurring turns recurring blocks into busy intervals overlapping w.
// A block whose rule or timezone does not parse is skipped: the intervals of
// the remaining blocks are returned together with one joined error naming
// every skipped block.
func ExpandRecurring(blocks []domain.RecurringBlock, w domain.TimeWindow) ([]domain.BusyInterval, error) {
	var (
		out  []domain.BusyInterval
		errs []error
	)
	for _, b := range blocks {
		rr, err := rrule.StrToRRule(b.RRule)
		if err != nil {
			errs = append(errs, fmt.Errorf("recurring block %s: %w", b.ID, err))
			continue
		}

		dtstart := b.DTStart
		if b.Timezone != "" {
			loc, err := time.LoadLocation(b.Timezone)
			if err != nil {
				errs = append(errs, fmt.Errorf("recurring block %s: %w", b.ID, err))
				continue
			}
			dtstart = dtstart.In(loc)
		}
		rr.DTStart(dtstart)

		d := time.Duration(b.DurationMinutes) * time.Minute
		// An occurrence starting up to d before w.Start can still overlap it.
		for _, occ := range rr.Between(w.Start.Add(-d), w.End, true) {
			occW := domain.TimeWindow{Start: occ.UTC(), End: occ.Add(d).UTC()}
			if !occW.Overlaps(w) {
				continue
			}
			out = append(out, domain.BusyInterval{
				OwnerID: b.UserID,
				Window:  occW,
				Source:  domain.BusySource{Kind: domain.SourceInternal, Provider: RecurringProvider},
			})
		}
	}
	return out, errors.Join(errs...)
}
