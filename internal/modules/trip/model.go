// README: Trip aggregate, lifecycle statuses and the allowed transition table.
package trip

import (
	"time"

	"ridematch/internal/types"
)

type Status string

const (
	StatusNone           Status = "none"
	StatusRequested      Status = "requested"
	StatusAccepted       Status = "accepted"
	StatusDriverArriving Status = "driver_arriving"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Trip struct {
	ID               types.ID       `json:"id"`
	PassengerID      types.ID       `json:"passenger_id"`
	DriverID         *types.ID      `json:"driver_id"`
	Pickup           types.Location `json:"pickup"`
	Dropoff          types.Location `json:"dropoff"`
	Fare             int64          `json:"fare"`
	DistanceKm       float64        `json:"distance_km"`
	Status           Status         `json:"status"`
	StatusVersion    int            `json:"status_version"`
	RequestedAt      time.Time      `json:"requested_at"`
	AcceptedAt       *time.Time     `json:"accepted_at,omitempty"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	CancelledAt      *time.Time     `json:"cancelled_at,omitempty"`
	CancelReason     *string        `json:"cancel_reason,omitempty"`
	DriverRating     *int           `json:"driver_rating,omitempty"`
	DriverComment    *string        `json:"driver_comment,omitempty"`
	PassengerRating  *int           `json:"passenger_rating,omitempty"`
	PassengerComment *string        `json:"passenger_comment,omitempty"`
}

// PartyRole reports whether id is this trip's passenger or driver.
func (t *Trip) PartyRole(id types.ID) (types.Role, bool) {
	if id == "" {
		return "", false
	}
	if t.PassengerID == id {
		return types.RolePassenger, true
	}
	if t.DriverID != nil && *t.DriverID == id {
		return types.RoleDriver, true
	}
	return "", false
}

// Counterpart returns the other party of the trip, if there is one.
func (t *Trip) Counterpart(id types.ID) (types.ID, bool) {
	role, ok := t.PartyRole(id)
	if !ok {
		return "", false
	}
	if role == types.RolePassenger {
		if t.DriverID == nil {
			return "", false
		}
		return *t.DriverID, true
	}
	return t.PassengerID, true
}

type Event struct {
	ID         int64
	TripID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// RatingTarget names which party of a trip receives a rating.
type RatingTarget string

const (
	RateDriver    RatingTarget = "driver"
	RatePassenger RatingTarget = "passenger"
)

// AllowedTransitions represents the trip state flow (diagram) as code.
// requested -> accepted is only reachable through Assign.
var AllowedTransitions = map[Status][]Status{
	StatusRequested:      {StatusAccepted, StatusCancelled},
	StatusAccepted:       {StatusDriverArriving, StatusInProgress, StatusCancelled},
	StatusDriverArriving: {StatusInProgress, StatusCancelled},
	StatusInProgress:     {StatusCompleted, StatusCancelled},
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
