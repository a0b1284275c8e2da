// Package models defines the core domain entities: registry events, period buckets,
// aggregate snapshots and fund lifecycles.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType classifies a registry action.
type EventType string

const (
	Registration   EventType = "registration"
	Deregistration EventType = "deregistration"
	Merger         EventType = "merger"
)

// EventTypes lists every known event type in reporting order.
var EventTypes = []EventType{Registration, Deregistration, Merger}

// ParseEventType accepts the canonical names case-insensitively.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(strings.ToLower(strings.TrimSpace(s))); t {
	case Registration, Deregistration, Merger:
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Event is one observed registration, deregistration or merger of a fund.
// Year, Month and YearMonth are derived from Date by Decompose.
type Event struct {
	EntityID   string    `json:"entity_id,omitempty"`
	Name       string    `json:"name"`
	Type       EventType `json:"event_type"`
	Date       time.Time `json:"event_date"`
	Manager    string    `json:"manager,omitempty"`
	Depositary string    `json:"depositary,omitempty"`

	Year      int    `json:"year"`
	Month     int    `json:"month"`
	YearMonth string `json:"year_month"`
}

// NewEvent builds a decomposed event. The date is truncated to a UTC calendar day.
func NewEvent(entityID, name string, typ EventType, date time.Time) Event {
	e := Event{
		EntityID: entityID,
		Name:     name,
		Type:     typ,
		Date:     date,
	}
	e.Decompose()
	return e
}

// Decompose normalizes Date to midnight UTC and fills the calendar fields.
func (e *Event) Decompose() {
	y, m, d := e.Date.Date()
	e.Date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	e.Year = y
	e.Month = int(m)
	e.YearMonth = fmt.Sprintf("%04d-%02d", y, int(m))
}

// Validate checks event field constraints.
func (e *Event) Validate() error {
	if _, err := ParseEventType(string(e.Type)); err != nil {
		return err
	}
	if e.Date.IsZero() {
		return errors.New("event date must be set")
	}
	if e.Year != e.Date.Year() || e.Month != int(e.Date.Month()) {
		return errors.New("calendar fields do not match event date")
	}
	return nil
}
