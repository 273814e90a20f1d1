package models

import "time"

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is a coordinate with an optional human-readable address.
// Values are immutable once produced by a geolocation source.
type Location struct {
	LatLng
	Address string `json:"address,omitempty"`
}

// RideStatus is the lifecycle phase of a ride.
type RideStatus string

const (
	StatusRequested RideStatus = "requested"
	StatusAccepted  RideStatus = "accepted"
	StatusOngoing   RideStatus = "ongoing"
	StatusCompleted RideStatus = "completed"
	StatusCancelled RideStatus = "cancelled"
	StatusRejected  RideStatus = "rejected"
)

// Terminal reports whether no further transitions are possible.
func (s RideStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// VehicleClass selects the requested vehicle category.
type VehicleClass string

const (
	VehicleStandard VehicleClass = "standard"
	VehiclePremium  VehicleClass = "premium"
	VehicleBike     VehicleClass = "bike"
	VehicleSUV      VehicleClass = "suv"
)

// ValidVehicleClass reports whether v is a known class.
func ValidVehicleClass(v VehicleClass) bool {
	switch v {
	case VehicleStandard, VehiclePremium, VehicleBike, VehicleSUV:
		return true
	}
	return false
}

// RideKey is the client-side composite identity used before the canonical
// server id is known. It must be unique among a rider's outstanding rides.
type RideKey struct {
	RequesterID  string `json:"requesterId"`
	RequestIndex int    `json:"requestIndex"`
}

// Ride is the central entity, mirrored on the client from the backend's
// authoritative record.
type Ride struct {
	ID      string       `json:"rideId"`
	Key     RideKey      `json:"key"`
	Pickup  Location     `json:"pickup_location"`
	Dropoff Location     `json:"dropoff_location"`
	Fare    float64      `json:"fare"`
	Vehicle VehicleClass `json:"vehicle_type"`
	Status  RideStatus   `json:"status"`

	// OTP is set at creation and cleared on completion or cancellation.
	// At most one is active per ride.
	OTP string `json:"otp,omitempty"`

	RequestedAt time.Time  `json:"requested_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`

	DriverID       string `json:"driverId,omitempty"`
	DriverName     string `json:"driverName,omitempty"`
	DriverPhotoURL string `json:"driverProfilePhoto,omitempty"`
}

// MediaRef points at an uploaded media object exchanged over the side
// channel. Identity for dedup purposes is the (URL, SenderID) pair.
type MediaRef struct {
	RideID   string    `json:"rideId"`
	URL      string    `json:"imageUrl"`
	SenderID string    `json:"senderId"`
	SentAt   time.Time `json:"timestamp"`
}

// DriverProfile is the backend's view of a driver's presence.
type DriverProfile struct {
	DriverID string    `json:"driverId"`
	Online   bool      `json:"isOnline"`
	Location *Location `json:"current_location,omitempty"`
}
