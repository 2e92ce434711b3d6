package enums

import "strings"

// TrackingState is the raw parcel state reported by the logistics broker.
type TrackingState string

const (
	TrackingStateDelivered      TrackingState = "delivered"
	TrackingStateSent           TrackingState = "sent"
	TrackingStateShipped        TrackingState = "shipped"
	TrackingStateOutForDelivery TrackingState = "out_for_delivery"
	TrackingStateReturned       TrackingState = "returned"
	TrackingStateDeliveryError  TrackingState = "delivery_error"
)

// NormalizeTrackingState lowercases and trims a broker-supplied state.
func NormalizeTrackingState(value string) TrackingState {
	return TrackingState(strings.ToLower(strings.TrimSpace(value)))
}

// IsInTransit reports whether the parcel has left the warehouse but is not yet delivered.
func (s TrackingState) IsInTransit() bool {
	switch s {
	case TrackingStateSent, TrackingStateShipped, TrackingStateOutForDelivery:
		return true
	}
	return false
}

// IsFailure reports whether the parcel will not reach the customer.
func (s TrackingState) IsFailure() bool {
	return s == TrackingStateReturned || s == TrackingStateDeliveryError
}
