// README: Trip payments and provider callbacks.
package payment

import (
	"time"

	"ridematch/internal/types"
)

type Method string

const (
	MethodCash  Method = "cash"
	MethodCard  Method = "card"
	MethodNequi Method = "nequi"
	MethodPSE   Method = "pse"
)

// Electronic methods go through the provider checkout; cash settles at once.
func (m Method) Electronic() bool {
	return m != MethodCash
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
)

type Payment struct {
	ID                types.ID   `json:"id"`
	TripID            types.ID   `json:"trip_id"`
	PassengerID       types.ID   `json:"passenger_id"`
	DriverID          types.ID   `json:"driver_id"`
	Amount            int64      `json:"amount"`
	Method            Method     `json:"method"`
	Status            Status     `json:"status"`
	ProviderReference *string    `json:"provider_reference,omitempty"`
	PaymentURL        *string    `json:"payment_url,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
}

type ProcessCommand struct {
	TripID types.ID `json:"trip_id" validate:"required"`
	Method Method   `json:"method" validate:"required,oneof=cash card nequi pse"`
}

// CallbackEvent is the provider's asynchronous transaction update.
type CallbackEvent struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}
