package model

import (
	"fmt"
	"time"
)

// MaxSummaryErrors bounds the error list carried by a Summary.
const MaxSummaryErrors = 50

// ErrorKind classifies a recorded failure.
type ErrorKind string

const (
	ErrorTransient  ErrorKind = "transient"
	ErrorPermanent  ErrorKind = "permanent"
	ErrorDownstream ErrorKind = "downstream"
)

// UnitError records one failed unit of work (a page, an entity, a batch).
type UnitError struct {
	Unit    string    `json:"unit"`
	Kind    ErrorKind `json:"kind"`
	Status  int       `json:"status,omitempty"`
	Message string    `json:"message"`
}

// Summary is the structured result every batch job returns. Jobs never raise
// per-unit failures to the caller; they land in Errors instead.
type Summary struct {
	Job        string         `json:"job"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Counts     map[string]int `json:"counts"`
	NextOffset *int           `json:"next_offset,omitempty"`
	Exhausted  bool           `json:"exhausted"`
	Errors     []UnitError    `json:"errors"`
	Dropped    int            `json:"errors_dropped,omitempty"`
}

// NewSummary starts a summary for the named job.
func NewSummary(job string) *Summary {
	return &Summary{
		Job:       job,
		StartedAt: time.Now().UTC(),
		Counts:    make(map[string]int),
		Errors:    []UnitError{},
	}
}

// Add increments a counter by n.
func (s *Summary) Add(counter string, n int) {
	s.Counts[counter] += n
}

// Inc increments a counter by one.
func (s *Summary) Inc(counter string) {
	s.Counts[counter]++
}

// Count returns the value of a counter.
func (s *Summary) Count(counter string) int {
	return s.Counts[counter]
}

// Record appends a unit failure, dropping it once the list is full.
func (s *Summary) Record(e UnitError) {
	if len(s.Errors) >= MaxSummaryErrors {
		s.Dropped++
		return
	}
	s.Errors = append(s.Errors, e)
}

// Recordf is a convenience wrapper around Record.
func (s *Summary) Recordf(unit string, kind ErrorKind, status int, format string, args ...any) {
	s.Record(UnitError{Unit: unit, Kind: kind, Status: status, Message: fmt.Sprintf(format, args...)})
}

// Failed returns the total number of recorded failures including dropped ones.
func (s *Summary) Failed() int {
	return len(s.Errors) + s.Dropped
}

// Finish stamps the completion time.
func (s *Summary) Finish() *Summary {
	s.FinishedAt = time.Now().UTC()
	return s
}
