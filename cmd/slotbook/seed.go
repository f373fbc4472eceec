package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/domain"
	"github.com/tbourn/slotbook/internal/repo"
)

// seedFile is the YAML document accepted by "slotbook seed".
type seedFile struct {
	Rules       []seedRule       `yaml:"rules"`
	Links       []seedLink       `yaml:"links"`
	Blocks      []seedBlock      `yaml:"recurring_blocks"`
	Connections []seedConnection `yaml:"calendar_connections"`
}

type seedRule struct {
	UserID            string   `yaml:"user_id"`
	WorkingDays       []string `yaml:"working_days"`
	WorkStart         string   `yaml:"work_start"`
	WorkEnd           string   `yaml:"work_end"`
	Timezone          string   `yaml:"timezone"`
	BufferBefore      int      `yaml:"buffer_before_minutes"`
	BufferAfter       int      `yaml:"buffer_after_minutes"`
	LeadTime          int      `yaml:"lead_time_minutes"`
	MaxBookingsPerDay int      `yaml:"max_bookings_per_day"`
}

type seedLink struct {
	ID         string   `yaml:"id"`
	OwnerID    string   `yaml:"owner_id"`
	TeamID     string   `yaml:"team_id"`
	Title      string   `yaml:"title"`
	Duration   int      `yaml:"duration_minutes"`
	Method     string   `yaml:"assignment_method"`
	Candidates []string `yaml:"candidates"`
	WindowDays int      `yaml:"window_days"`
	Active     *bool    `yaml:"active"`
}

type seedBlock struct {
	UserID   string `yaml:"user_id"`
	RRule    string `yaml:"rrule"`
	DTStart  string `yaml:"dtstart"`
	Timezone string `yaml:"timezone"`
	Duration int    `yaml:"duration_minutes"`
	Label    string `yaml:"label"`
}

type seedConnection struct {
	UserID     string `yaml:"user_id"`
	Provider   string `yaml:"provider"`
	CalendarID string `yaml:"calendar_id"`
	Endpoint   string `yaml:"endpoint"`
	Username   string `yaml:"username"`
	// SecretEnv names an environment variable holding the credential so
	// seed files can be committed.
	SecretEnv string `yaml:"secret_env"`
}

// seeded is what a seed file turns into, validated and ready to insert.
type seeded struct {
	rules       []domain.AvailabilityRule
	links       []domain.BookingLink
	blocks      []domain.RecurringBlock
	connections []domain.CalendarConnection
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// parseSeed decodes and validates a seed document. Unknown fields are errors.
func parseSeed(data []byte, getenv func(string) string) (*seeded, error) {
	var f seedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	out := &seeded{}
	for i, r := range f.Rules {
		rule, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		out.rules = append(out.rules, rule)
	}
	for i, l := range f.Links {
		link, err := l.toDomain()
		if err != nil {
			return nil, fmt.Errorf("links[%d]: %w", i, err)
		}
		out.links = append(out.links, link)
	}
	for i, b := range f.Blocks {
		block, err := b.toDomain()
		if err != nil {
			return nil, fmt.Errorf("recurring_blocks[%d]: %w", i, err)
		}
		out.blocks = append(out.blocks, block)
	}
	for i, c := range f.Connections {
		if c.UserID == "" || c.Provider == "" {
			return nil, fmt.Errorf("calendar_connections[%d]: user_id and provider are required", i)
		}
		var secret string
		if c.SecretEnv != "" {
			if secret = getenv(c.SecretEnv); secret == "" {
				return nil, fmt.Errorf("calendar_connections[%d]: %s is empty", i, c.SecretEnv)
			}
		}
		out.connections = append(out.connections, domain.CalendarConnection{
			UserID:     c.UserID,
			Provider:   c.Provider,
			CalendarID: c.CalendarID,
			Endpoint:   c.Endpoint,
			Username:   c.Username,
			Secret:     secret,
			Active:     true,
		})
	}
	return out, nil
}

func (r seedRule) toDomain() (domain.AvailabilityRule, error) {
	if r.UserID == "" {
		return domain.AvailabilityRule{}, fmt.Errorf("user_id is required")
	}
	var days []time.Weekday
	for _, name := range r.WorkingDays {
		d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return domain.AvailabilityRule{}, fmt.Errorf("unknown weekday %q", name)
		}
		days = append(days, d)
	}
	start, err := clockMinutes(r.WorkStart)
	if err != nil {
		return domain.AvailabilityRule{}, fmt.Errorf("work_start: %w", err)
	}
	end, err := clockMinutes(r.WorkEnd)
	if err != nil {
		return domain.AvailabilityRule{}, fmt.Errorf("work_end: %w", err)
	}
	if end <= start {
		return domain.AvailabilityRule{}, fmt.Errorf("work_end must be after work_start")
	}
	tz := r.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return domain.AvailabilityRule{}, fmt.Errorf("timezone: %w", err)
	}
	if r.BufferBefore < 0 || r.BufferAfter < 0 || r.LeadTime < 0 || r.MaxBookingsPerDay < 0 {
		return domain.AvailabilityRule{}, fmt.Errorf("buffers, lead time and daily cap must not be negative")
	}
	return domain.AvailabilityRule{
		UserID:              r.UserID,
		WorkingDays:         domain.NewWeekdaySet(days...),
		WorkStartMinute:     start,
		WorkEndMinute:       end,
		BufferBeforeMinutes: r.BufferBefore,
		BufferAfterMinutes:  r.BufferAfter,
		LeadTimeMinutes:     r.LeadTime,
		MaxBookingsPerDay:   r.MaxBookingsPerDay,
		Timezone:            tz,
	}, nil
}

// clockMinutes parses "HH:MM" into minutes after midnight. "24:00" is
// accepted as the end of the day.
func clockMinutes(s string) (int, error) {
	if s == "24:00" {
		return 24 * 60, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (l seedLink) toDomain() (domain.BookingLink, error) {
	if l.OwnerID == "" {
		return domain.BookingLink{}, fmt.Errorf("owner_id is required")
	}
	if l.Duration <= 0 {
		return domain.BookingLink{}, fmt.Errorf("duration_minutes must be positive")
	}
	method := domain.MethodSpecific
	if l.Method != "" {
		m, err := domain.ParseAssignmentMethod(l.Method)
		if err != nil {
			return domain.BookingLink{}, err
		}
		method = m
	}
	if method != domain.MethodSpecific && len(l.Candidates) == 0 {
		return domain.BookingLink{}, fmt.Errorf("%s links need candidates", method)
	}
	window := l.WindowDays
	if window == 0 {
		window = 60
	}
	active := l.Active == nil || *l.Active
	link := domain.BookingLink{
		ID:                     l.ID,
		OwnerID:                l.OwnerID,
		Title:                  l.Title,
		DurationMinutes:        l.Duration,
		AssignmentMethod:       method,
		CandidateIDs:           l.Candidates,
		AvailabilityWindowDays: window,
		IsActive:               active,
	}
	if l.TeamID != "" {
		team := l.TeamID
		link.TeamID = &team
	}
	return link, nil
}

func (b seedBlock) toDomain() (domain.RecurringBlock, error) {
	if b.UserID == "" || b.Duration <= 0 {
		return domain.RecurringBlock{}, fmt.Errorf("user_id and a positive duration_minutes are required")
	}
	if _, err := rrule.StrToRRule(b.RRule); err != nil {
		return domain.RecurringBlock{}, fmt.Errorf("rrule: %w", err)
	}
	start, err := time.Parse(time.RFC3339, b.DTStart)
	if err != nil {
		return domain.RecurringBlock{}, fmt.Errorf("dtstart: %w", err)
	}
	if b.Timezone != "" {
		if _, err := time.LoadLocation(b.Timezone); err != nil {
			return domain.RecurringBlock{}, fmt.Errorf("timezone: %w", err)
		}
	}
	return domain.RecurringBlock{
		UserID:          b.UserID,
		RRule:           b.RRule,
		DTStart:         start.UTC(),
		Timezone:        b.Timezone,
		DurationMinutes: b.Duration,
		Label:           b.Label,
	}, nil
}

// apply writes everything in one transaction. Rules are upserted; links,
// blocks and connections are inserted.
func (s *seeded) apply(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range s.rules {
			if err := repo.UpsertRule(ctx, tx, &s.rules[i]); err != nil {
				return fmt.Errorf("rule %s: %w", s.rules[i].UserID, err)
			}
		}
		for i := range s.links {
			if err := repo.CreateLink(ctx, tx, &s.links[i]); err != nil {
				return fmt.Errorf("link %q: %w", s.links[i].Title, err)
			}
		}
		for i := range s.blocks {
			if err := repo.CreateRecurringBlock(ctx, tx, &s.blocks[i]); err != nil {
				return fmt.Errorf("recurring block for %s: %w", s.blocks[i].UserID, err)
			}
		}
		for i := range s.connections {
			if err := repo.CreateConnection(ctx, tx, &s.connections[i]); err != nil {
				return fmt.Errorf("calendar connection for %s: %w", s.connections[i].UserID, err)
			}
		}
		return nil
	})
}

func readSeed(path string) (*seeded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseSeed(data, os.Getenv)
}
