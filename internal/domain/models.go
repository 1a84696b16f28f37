// Package domain holds the entities shared by the sampler, lifecycle manager and notification dispatcher.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one observed spot price. Points are append-only; the current price for a
// (family, zone) pair is the point with the greatest ObservedAt.
type PricePoint struct {
	InstanceFamily string
	Region         string
	Zone           string
	Price          decimal.Decimal
	ObservedAt     time.Time
}

// AnomalyEvent is derived from a freshly sampled PricePoint and its reference sample.
type AnomalyEvent struct {
	InstanceFamily string
	Region         string
	Zone           string
	CurrentPrice   decimal.Decimal
	PreviousPrice  decimal.Decimal
	PercentChange  decimal.Decimal
	AnomalyScore   float64
	ObservedAt     time.Time
}

// ResourceState enumerates the spot request lifecycle.
type ResourceState string

const (
	StateRequested  ResourceState = "requested"
	StateEvaluating ResourceState = "evaluating"
	StateFulfilled  ResourceState = "fulfilled"
	StateTerminated ResourceState = "terminated"
	StateFailed     ResourceState = "failed"
)

var transitions = map[ResourceState][]ResourceState{
	StateRequested:  {StateEvaluating, StateFulfilled, StateFailed, StateTerminated},
	StateEvaluating: {StateFulfilled, StateFailed, StateTerminated},
	StateFulfilled:  {StateTerminated},
}

// Terminal reports whether no transition leaves the state.
func (s ResourceState) Terminal() bool {
	return s == StateTerminated || s == StateFailed
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
// Staying in the same state is always allowed.
func (s ResourceState) CanTransition(next ResourceState) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known state.
func (s ResourceState) Valid() bool {
	switch s {
	case StateRequested, StateEvaluating, StateFulfilled, StateTerminated, StateFailed:
		return true
	}
	return false
}

// WorkloadConfig describes what the instance runs once fulfilled. It is serialized only at the storage boundary.
// Collections carry no omitempty so an empty slice or map reloads as empty rather than nil.
type WorkloadConfig struct {
	Image    string            `json:"image,omitempty"`
	Command  []string          `json:"command"`
	Env      map[string]string `json:"env"`
	Ports    []int             `json:"ports"`
	Settings map[string]string `json:"settings"`
}

// ParseWorkload decodes a caller-supplied workload document. Unknown keys are rejected.
func ParseWorkload(data []byte) (*WorkloadConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w WorkloadConfig
	if err := dec.Decode(&w); err != nil {
		return nil, NewValidationError("workload", "", fmt.Sprintf("invalid workload json: %v", err))
	}
	if dec.More() {
		return nil, NewValidationError("workload", "", "workload json must hold a single object")
	}
	return &w, nil
}

// Resource is a spot compute lease tracked on behalf of an owner. Records are never deleted.
type Resource struct {
	ID                 string
	OwnerID            string
	ProviderRequestID  string
	Region             string
	InstanceFamily     string
	MaxPrice           decimal.Decimal
	State              ResourceState
	StatusCode         string
	StatusMessage      string
	ProviderResourceID string
	PublicAddress      string
	Workload           *WorkloadConfig
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NotificationLogEntry records one dispatch attempt. Entries are immutable once written.
type NotificationLogEntry struct {
	ID       string
	OwnerID  string
	Subject  string
	Message  string
	Severity Severity
	Metadata map[string]string
	Results  []ChannelResult
	LoggedAt time.Time
}

// ChannelResult is the outcome of delivering to a single channel.
type ChannelResult struct {
	Kind    ChannelKind `json:"kind"`
	Target  string      `json:"target"`
	Success bool        `json:"success"`
	Payload string      `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}
