package calendar

import (
	"context"
	"sync"

	"github.com/tbourn/slotbook/internal/domain"
)

// Memory is an in-process Source for development and tests. Events created
// through it also show up as busy intervals.
type Memory struct {
	mu     sync.Mutex
	busy   map[string][]domain.TimeWindow
	events map[string]memEvent

	// FailCreate, when set, is returned by every CreateEvent call.
	FailCreate error
	// FailList, when set, is returned by every ListBusyIntervals call.
	FailList error
}

type memEvent struct {
	owner string
	req   EventRequest
}

// NewMemory returns an empty in-memory calendar.
func NewMemory() *Memory {
	return &Memory{
		busy:   map[string][]domain.TimeWindow{},
		events: map[string]memEvent{},
	}
}

// Provider implements Source.
func (m *Memory) Provider() string { return ProviderMemory }

// AddBusy marks w busy for ownerID.
func (m *Memory) AddBusy(ownerID string, w domain.TimeWindow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy[ownerID] = append(m.busy[ownerID], w)
}

// ListBusyIntervals implements Source.
func (m *Memory) ListBusyIntervals(_ context.Context, ownerID string, w domain.TimeWindow) ([]domain.BusyInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailList != nil {
		return nil, m.FailList
	}
	var out []domain.BusyInterval
	for _, b := range m.busy[ownerID] {
		if b.Overlaps(w) {
			out = append(out, externalBusy(ownerID, ProviderMemory, b))
		}
	}
	for _, e := range m.events {
		if e.owner == ownerID && e.req.Window.Overlaps(w) {
			out = append(out, externalBusy(ownerID, ProviderMemory, e.req.Window))
		}
	}
	return out, nil
}

// CreateEvent implements Source. Repeated keys return the existing event.
func (m *Memory) CreateEvent(_ context.Context, ownerID string, req EventRequest) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate != nil {
		return Event{}, m.FailCreate
	}
	id := eventID(req.IdempotencyKey)
	if _, ok := m.events[id]; !ok {
		m.events[id] = memEvent{owner: ownerID, req: req}
	}
	return Event{Ref: id, Provider: ProviderMemory}, nil
}

// EventCount returns the number of distinct events created.
func (m *Memory) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
