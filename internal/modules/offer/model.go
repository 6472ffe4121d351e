// README: Driver counter-offers on an open trip.
package offer

import (
	"time"

	"ridematch/internal/modules/location"
	"ridematch/internal/types"
)

// Offer carries a snapshot of the driver taken when the offer was made.
type Offer struct {
	TripID       types.ID         `json:"trip_id"`
	DriverID     types.ID         `json:"driver_id"`
	Price        int64            `json:"price"`
	DriverName   string           `json:"driver_name"`
	Vehicle      location.Vehicle `json:"vehicle"`
	DriverRating float64          `json:"driver_rating"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type ProposeCommand struct {
	Price int64 `json:"price" validate:"gt=0"`
}
