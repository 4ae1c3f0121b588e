package domain

import (
	"fmt"
	"strings"
	"time"
)

// RequestState is the controller state of a blood request.
type RequestState string

const (
	RequestStateFiltering        RequestState = "FILTERING"
	RequestStateRanked           RequestState = "RANKED"
	RequestStateAwaitingResponse RequestState = "AWAITING_RESPONSE"
	RequestStateRetrying         RequestState = "RETRYING"
	RequestStateAccepted         RequestState = "ACCEPTED"
	RequestStateCompleted        RequestState = "COMPLETED"
	RequestStateExhausted        RequestState = "EXHAUSTED"
	RequestStateEscalated        RequestState = "ESCALATED"
	RequestStateCancelled        RequestState = "CANCELLED"
)

func (s RequestState) String() string { return string(s) }

func (s RequestState) IsValid() bool {
	switch s {
	case RequestStateFiltering, RequestStateRanked, RequestStateAwaitingResponse, RequestStateRetrying,
		RequestStateAccepted, RequestStateCompleted, RequestStateExhausted, RequestStateEscalated,
		RequestStateCancelled:
		return true
	}
	return false
}

// IsPending reports whether the controller may still dispatch for the request.
func (s RequestState) IsPending() bool {
	switch s {
	case RequestStateFiltering, RequestStateRanked, RequestStateAwaitingResponse, RequestStateRetrying:
		return true
	}
	return false
}

// Status collapses the controller state to the coarse lifecycle shown to requesters.
func (s RequestState) Status() string {
	switch {
	case s.IsPending():
		return "pending"
	case s == RequestStateAccepted:
		return "accepted"
	case s == RequestStateCompleted:
		return "completed"
	case s == RequestStateEscalated:
		return "escalated"
	case s == RequestStateExhausted:
		return "exhausted"
	case s == RequestStateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// PendingStates lists the states persisted for requests still in flight.
func PendingStates() []RequestState {
	return []RequestState{
		RequestStateFiltering,
		RequestStateRanked,
		RequestStateAwaitingResponse,
		RequestStateRetrying,
	}
}

// Request is an incoming need for blood at a location.
type Request struct {
	ID             string
	BloodType      BloodType
	Location       Location
	PatientName    string
	Hospital       string
	Urgency        Urgency
	State          RequestState
	MatchedDonorID *string
	Reason         string
	SourceText     *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	AcceptedAt     *time.Time
	EscalatedAt    *time.Time
	CompletedAt    *time.Time
	CancelledAt    *time.Time
}

func (r *Request) Validate() error {
	if !r.BloodType.IsValid() {
		return fmt.Errorf("%w: invalid blood type %q", ErrValidation, r.BloodType)
	}
	if !r.Urgency.IsValid() {
		return fmt.Errorf("%w: invalid urgency %q", ErrValidation, r.Urgency)
	}
	if strings.TrimSpace(r.PatientName) == "" {
		return fmt.Errorf("%w: patient name is required", ErrValidation)
	}
	if strings.TrimSpace(r.Hospital) == "" {
		return fmt.Errorf("%w: hospital is required", ErrValidation)
	}
	return r.Location.Validate()
}
