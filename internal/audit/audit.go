// Package audit records the outcome of cache mutations.
//
// Sinks are append-only. The exporter writes one record per successful
// export; callers may add records for failed attempts.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome of one recorded operation.
type Outcome string

const (
	OutcomeExported Outcome = "exported"
	OutcomeFailed   Outcome = "failed"
)

// Record is one audit entry.
type Record struct {
	ID string `json:"id"`
	// Ref is the package reference for exports and the recipe reference
	// when no identity was reached.
	Ref       string    `json:"ref"`
	Outcome   Outcome   `json:"outcome"`
	Recovered bool      `json:"recovered,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
}

// Sink stores records.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// withID fills in a random id when the caller left it empty.
func withID(rec Record) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return rec
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) Record(context.Context, Record) error { return nil }

// MemorySink is a concurrency-safe in-memory collector.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Record(_ context.Context, rec Record) error {
	s.mu.Lock()
	s.records = append(s.records, withID(rec))
	s.mu.Unlock()
	return nil
}

// Snapshot returns a point-in-time copy of all records.
func (s *MemorySink) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
