package ingest

import "time"

// Event kinds published to the fleet event stream.
const (
	EventTaxiRegistered   = "taxi_registered"
	EventTaxiHeartbeat    = "taxi_heartbeat"
	EventTaxiDeregistered = "taxi_deregistered"
	EventTaxiSwept        = "taxi_swept"
	EventTripRequested    = "trip_requested"
	EventTripAssigned     = "trip_assigned"
	EventTripPickedUp     = "trip_picked_up"
	EventTripDelivered    = "trip_delivered"
	EventTripCancelled    = "trip_cancelled"
)

// Event is one fleet or trip lifecycle record. Consumers (the presence
// mirror, dashboards) treat it as append-only telemetry; the dispatch
// engine never reads it back.
type Event struct {
	Kind         string    `json:"kind"`
	TaxiPublicID string    `json:"taxi_public_id,omitempty"`
	TripID       int64     `json:"trip_id,omitempty"`
	X            int       `json:"x,omitempty"`
	Y            int       `json:"y,omitempty"`
	At           time.Time `json:"at"`
}

// Key groups events of one taxi into the same partition so the presence
// mirror observes them in order.
func (e Event) Key() string {
	if e.TaxiPublicID != "" {
		return e.TaxiPublicID
	}
	return e.Kind
}

// Publisher pushes lifecycle events to the stream. Implementations are
// best-effort; the engine never blocks dispatch on publish failures.
type Publisher interface {
	PublishEvent(e Event) error
}
