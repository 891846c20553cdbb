// Package events publishes patient and visit lifecycle notifications after
// their transaction commits.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Type string

const (
	PatientRegistered     Type = "patient.registered"
	PatientUpdated        Type = "patient.updated"
	PatientDeleted        Type = "patient.deleted"
	VisitRegistered       Type = "visit.registered"
	VisitUpdated          Type = "visit.updated"
	VisitDeleted          Type = "visit.deleted"
	VisitCountOverwritten Type = "visit_count.overwritten"
	VisitCountReconciled  Type = "visit_count.reconciled"
)

type Event struct {
	ID         uuid.UUID  `json:"id"`
	Type       Type       `json:"type"`
	PatientID  uuid.UUID  `json:"patientId"`
	VisitID    *uuid.UUID `json:"visitId,omitempty"`
	VisitCount int        `json:"visitCount"`
	Actor      string     `json:"actor,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

// New stamps an event with a fresh id and the current time.
func New(t Type, patientID uuid.UUID, visitCount int) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		PatientID:  patientID,
		VisitCount: visitCount,
		OccurredAt: time.Now().UTC(),
	}
}

// WithVisit returns a copy of e referring to visitID.
func (e Event) WithVisit(visitID uuid.UUID) Event {
	e.VisitID = &visitID
	return e
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// LogPublisher writes events to a zerolog logger.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	evt := p.logger.Info().
		Str("event_id", e.ID.String()).
		Str("type", string(e.Type)).
		Str("patient_id", e.PatientID.String()).
		Int("visit_count", e.VisitCount)
	if e.VisitID != nil {
		evt = evt.Str("visit_id", e.VisitID.String())
	}
	if e.Actor != "" {
		evt = evt.Str("actor", e.Actor)
	}
	evt.Msg("event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the types of the recorded events in publish order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// Fanout publishes every event to each of its publishers and returns the
// errors joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
