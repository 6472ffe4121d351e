// README: Notification message and delivery contracts.
package notify

import (
	"context"

	"ridematch/internal/types"
)

const (
	KindTripNew       = "trip.new"
	KindTripAccepted  = "trip.accepted"
	KindTripStatus    = "trip.status"
	KindOfferNew      = "offer.new"
	KindOfferAccepted = "offer.accepted"
	KindPayment       = "payment.approved"
)

type Message struct {
	Kind  string
	Title string
	Body  string
	Data  map[string]string
}

// Sink delivers one message to one recipient. Sinks must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, recipient types.ID, msg Message) error
}

// Stats records delivery outcomes; implementations are best-effort.
type Stats interface {
	Record(ctx context.Context, delivered, failed int)
}

type Result struct {
	Delivered int
	Failed    int
}
