// README: Booking aggregate, status graph and audit events.
package booking

import (
	"time"

	"karigar/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusPending    Status = "pending"
	StatusMatched    Status = "matched"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type Booking struct {
	ID            types.ID     `json:"id"`
	ServiceID     types.ID     `json:"service_id"`
	CustomerID    types.ID     `json:"customer_id"`
	WorkerID      *types.ID    `json:"worker_id"`
	Status        Status       `json:"status"`
	StatusVersion int          `json:"status_version"`
	ScheduledAt   *time.Time   `json:"scheduled_at,omitempty"`
	Address       string       `json:"address"`
	City          string       `json:"city,omitempty"`
	Location      *types.Point `json:"location,omitempty"`
	QuotedPrice   types.Money  `json:"quoted_price"`
	CancelReason  *string      `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	MatchedAt     *time.Time   `json:"matched_at,omitempty"`
	AcceptedAt    *time.Time   `json:"accepted_at,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	CancelledAt   *time.Time   `json:"cancelled_at,omitempty"`
}

// Event is one row of the status history used for audits.
type Event struct {
	ID         int64      `json:"id"`
	BookingID  types.ID   `json:"booking_id"`
	FromStatus Status     `json:"from_status"`
	ToStatus   Status     `json:"to_status"`
	ActorType  types.Role `json:"actor_type"`
	ActorID    *types.ID  `json:"actor_id,omitempty"`
	WorkerID   *types.ID  `json:"worker_id,omitempty"`
	Reason     *string    `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AllowedTransitions represents the booking state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusMatched, StatusCancelled},
	StatusMatched:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusMatched, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// HasWorker reports whether a booking in this status carries a worker.
func (s Status) HasWorker() bool {
	switch s {
	case StatusMatched, StatusAccepted, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Tracking reports whether location fixes are accepted in this status.
func (s Status) Tracking() bool {
	switch s {
	case StatusMatched, StatusAccepted, StatusInProgress:
		return true
	}
	return false
}

// Editable reports whether address and schedule may still change.
func (s Status) Editable() bool {
	return s == StatusPending || s == StatusMatched
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	Status     Status
	CustomerID types.ID
	WorkerID   types.ID
	Unassigned bool
	Limit      int
}

// Details are the fields Update may change.
type Details struct {
	Address     string
	City        string
	Location    *types.Point
	ScheduledAt *time.Time
}
