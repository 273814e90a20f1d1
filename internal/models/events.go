package models

import "time"

// Event names carried on the real-time channel. Inbound and outbound sets
// overlap because the bus relays several peer-to-peer signals verbatim.
const (
	// Consumed by clients.
	EventRideAvailable     = "newRideAvailable"
	EventRideClaimed       = "rideAcceptedByOther"
	EventRideAccepted      = "rideAccepted"
	EventRideRejected      = "rideRejected"
	EventRideCancelled     = "rideCancelled"
	EventRideCompleted     = "rideCompleted"
	EventDriverLocation    = "driverLocationUpdate"
	EventDriverReached     = "driverReachedRider"
	EventOTPIssued         = "otpGenerated"
	EventOTPResult         = "otpVerificationResponse"
	EventMediaReceived     = "imageMessage"

	// Produced by clients.
	EventPresenceOnline    = "driverOnline"
	EventPresenceOffline   = "driverOffline"
	EventDriverAccepts     = "driverAcceptsRide"
	EventNewRideRequest    = "newRideRequest"
	EventRiderCancelled    = "riderCancelledRide"
	EventRegisterSession   = "registerUser"
	EventLocationBroadcast = "updateDriverLocation"
)

// RideAvailable is broadcast to online drivers when a rider submits a
// request. The canonical id may already be known to the backend; the
// composite key identifies the candidate on the driver side.
type RideAvailable struct {
	RideID      string       `json:"rideId"`
	Key         RideKey      `json:"key"`
	Pickup      Location     `json:"pickup_location"`
	Dropoff     Location     `json:"dropoff_location"`
	Fare        float64      `json:"fare"`
	Vehicle     VehicleClass `json:"vehicleType"`
	RequestedAt time.Time    `json:"request_time"`
}

// RideClaimed tells a driver that another driver won the candidate.
type RideClaimed struct {
	RideID string `json:"rideId"`
}

// RideAccepted tells the rider which driver took the ride.
type RideAccepted struct {
	RideID         string `json:"rideId"`
	DriverID       string `json:"driverId"`
	DriverName     string `json:"driverName"`
	Vehicle        string `json:"vehicleType"`
	DriverPhotoURL string `json:"driverProfilePhoto,omitempty"`
}

// RideRejected resets the rider flow so the ride can be re-requested.
type RideRejected struct {
	RideID  string `json:"rideId"`
	Message string `json:"message,omitempty"`
}

// RideCancelled is delivered to the counterpart of whoever cancelled.
type RideCancelled struct {
	RideID string `json:"rideId"`
}

// RideCompleted closes out the ride on the rider side.
type RideCompleted struct {
	RideID  string `json:"rideId"`
	RiderID string `json:"userId"`
}

// DriverLocation is the driver's best-effort position broadcast.
type DriverLocation struct {
	DriverID string `json:"driverId"`
	Location LatLng `json:"location"`
}

// DriverReached is the one-shot arrival signal at the pickup point.
type DriverReached struct {
	RiderID string `json:"riderId"`
	RideID  string `json:"rideId"`
}

// OTPIssued delivers the passcode to the rider after ride creation.
type OTPIssued struct {
	RideID string `json:"rideId"`
	OTP    string `json:"otp"`
}

// OTPResult is the server's adjudication of a verification attempt.
type OTPResult struct {
	RideID  string `json:"rideId"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// PresenceChange announces a driver joining or leaving the dispatch pool.
type PresenceChange struct {
	DriverID string `json:"driverId"`
}

// DriverAccepts is the driver's acceptance signal relayed to the rider.
type DriverAccepts struct {
	RideID         string `json:"rideId"`
	DriverID       string `json:"driverId"`
	RiderID        string `json:"userId"`
	DriverName     string `json:"driverName"`
	Vehicle        string `json:"vehicleType"`
	DriverPhotoURL string `json:"driverProfilePhoto,omitempty"`
}

// NewRideRequest is the rider's broadcast after the backend created the ride.
type NewRideRequest struct {
	RiderID string       `json:"userId"`
	RideID  string       `json:"rideId"`
	Key     RideKey      `json:"key"`
	Pickup  Location     `json:"pickup_location"`
	Dropoff Location     `json:"dropoff_location"`
	Fare    float64      `json:"fare"`
	Vehicle VehicleClass `json:"vehicleType"`
}

// RiderCancelled notifies the assigned driver of a rider-side cancel.
type RiderCancelled struct {
	RideID   string `json:"rideId"`
	DriverID string `json:"driverId"`
}

// RegisterSession binds the socket to a user id after connect.
type RegisterSession struct {
	UserID string `json:"userId"`
}
