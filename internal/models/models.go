package models

import (
	"encoding/json"
	"time"
)

type TaxiStatus string

const (
	TaxiAvailable TaxiStatus = "available"
	TaxiBusy      TaxiStatus = "busy"
	TaxiOffline   TaxiStatus = "offline"
)

func (s TaxiStatus) Valid() bool {
	switch s {
	case TaxiAvailable, TaxiBusy, TaxiOffline:
		return true
	}
	return false
}

type TripStatus string

const (
	TripRequested  TripStatus = "requested"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

// Taxi is a mobile worker tracked by grid position and liveness.
// A taxi in busy is reserved for exactly one non-terminal trip.
type Taxi struct {
	ID          int64      `json:"id"`
	PublicID    string     `json:"public_id"`
	Status      TaxiStatus `json:"status"`
	X           int        `json:"x"`
	Y           int        `json:"y"`
	CallbackURL string     `json:"callback_url"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}

// Trip binds one transport order to at most one taxi. TaxiID is set
// once at creation and never reassigned.
type Trip struct {
	ID             int64           `json:"id"`
	PublicID       string          `json:"public_id"`
	UserID         int64           `json:"user_id"`
	TaxiID         *int64          `json:"taxi_id,omitempty"`
	Status         TripStatus      `json:"status"`
	RequestTime    time.Time       `json:"request_time"`
	PickupTime     *time.Time      `json:"pickup_time,omitempty"`
	DropoffTime    *time.Time      `json:"dropoff_time,omitempty"`
	StartX         int             `json:"start_x"`
	StartY         int             `json:"start_y"`
	EndX           int             `json:"end_x"`
	EndY           int             `json:"end_y"`
	WaitingTimeMin *int            `json:"waiting_time_min,omitempty"`
	TravelTimeMin  *int            `json:"travel_time_min,omitempty"`
	TotalDistance  *int            `json:"total_distance,omitempty"`
	RouteMeta      json.RawMessage `json:"route_meta,omitempty"`
}

// OrderCreate is an inbound transport request.
type OrderCreate struct {
	UserID int64 `json:"user_id"`
	StartX int   `json:"start_x"`
	StartY int   `json:"start_y"`
	EndX   int   `json:"end_x"`
	EndY   int   `json:"end_y"`
}

// AssignPayload is pushed to the taxi's callback endpoint when a trip
// is assigned to it.
type AssignPayload struct {
	TripID int64 `json:"trip_id"`
	StartX int   `json:"start_x"`
	StartY int   `json:"start_y"`
	EndX   int   `json:"end_x"`
	EndY   int   `json:"end_y"`
}

// PickupEvent reports that the claimed taxi picked up the rider.
type PickupEvent struct {
	TripID       int64     `json:"trip_id"`
	TaxiPublicID string    `json:"taxi_public_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// DeliveredEvent reports that the trip reached its destination.
type DeliveredEvent struct {
	TripID       int64     `json:"trip_id"`
	TaxiPublicID string    `json:"taxi_public_id"`
	DropoffTime  time.Time `json:"dropoff_time"`
	EndX         int       `json:"end_x"`
	EndY         int       `json:"end_y"`
}

// Heartbeat refreshes a taxi's liveness timestamp.
type Heartbeat struct {
	TaxiPublicID string    `json:"taxi_public_id"`
	Timestamp    time.Time `json:"timestamp"`
}
