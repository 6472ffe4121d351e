// README: Dispatch records and the result of creating a trip.
package dispatch

import (
	"time"

	"ridematch/internal/modules/trip"
	"ridematch/internal/types"
)

// Record is what the engine remembers about one trip's dispatch.
type Record struct {
	TripID       types.ID   `json:"trip_id"`
	DispatchedAt time.Time  `json:"dispatched_at"`
	Notified     []types.ID `json:"notified"`
}

type Result struct {
	Trip            *trip.Trip `json:"trip"`
	DriversNotified int        `json:"drivers_notified"`
}

// CreateTripCommand is the passenger's trip request. Fare is decided by the client.
type CreateTripCommand struct {
	Pickup     types.Location `json:"pickup"`
	Dropoff    types.Location `json:"dropoff"`
	Fare       int64          `json:"fare" validate:"gt=0"`
	DistanceKm float64        `json:"distance_km" validate:"gte=0"`
}
