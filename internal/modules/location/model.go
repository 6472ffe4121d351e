// README: Driver availability record and dispatch candidate.
package location

import (
	"time"

	"ridematch/internal/types"
)

type Verification string

const (
	VerificationPending  Verification = "pending"
	VerificationApproved Verification = "approved"
	VerificationRejected Verification = "rejected"
)

func (v Verification) Valid() bool {
	return v == VerificationPending || v == VerificationApproved || v == VerificationRejected
}

type Vehicle struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Plate string `json:"plate"`
	Color string `json:"color"`
}

type Driver struct {
	ID                types.ID     `json:"id"`
	Name              string       `json:"name"`
	Vehicle           Vehicle      `json:"vehicle"`
	Location          *types.Point `json:"location"`
	LocationUpdatedAt *time.Time   `json:"location_updated_at,omitempty"`
	IsAvailable       bool         `json:"is_available"`
	Verification      Verification `json:"verification_status"`
	Rating            float64      `json:"rating"`
}

// Dispatchable reports whether the driver may receive new trip requests.
func (d *Driver) Dispatchable() bool {
	return d.IsAvailable && d.Verification == VerificationApproved && d.Location != nil
}

// Candidate is the projection of a dispatchable driver used by the geo indexes.
type Candidate struct {
	ID    types.ID
	Point types.Point
}

// DriverDistance is a nearby driver with its distance from the query point.
type DriverDistance struct {
	DriverID   types.ID `json:"driver_id"`
	DistanceKm float64  `json:"distance_km"`
}
