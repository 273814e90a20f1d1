package backend

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/example/ridelink/internal/models"
)

// RideRequest creates a ride on the backend.
type RideRequest struct {
	Pickup  models.Location     `json:"pickup_location"`
	Dropoff models.Location     `json:"dropoff_location"`
	Fare    float64             `json:"fare"`
	Vehicle models.VehicleClass `json:"vehicle_type"`
}

// RideCreated is the backend's answer to a ride request: the canonical id
// plus the one-time passcode issued at creation.
type RideCreated struct {
	RideID string `json:"rideId"`
	OTP    string `json:"otp"`
}

// RequestRide submits a new ride and returns its canonical id and OTP.
func (c *Client) RequestRide(ctx context.Context, req RideRequest) (RideCreated, error) {
	var out RideCreated
	err := c.doJSON(ctx, http.MethodPost, "/api/user/ride/request", req, &out)
	return out, err
}

// PendingRides lists the candidates currently visible to this driver.
func (c *Client) PendingRides(ctx context.Context) ([]models.Ride, error) {
	var out []models.Ride
	err := c.doJSON(ctx, http.MethodGet, "/api/user/driver/pending-rides", nil, &out)
	return out, err
}

// AcceptedRides lists the rides this driver currently holds.
func (c *Client) AcceptedRides(ctx context.Context) ([]models.Ride, error) {
	var out []models.Ride
	err := c.doJSON(ctx, http.MethodGet, "/api/user/driver/accepted-rides", nil, &out)
	return out, err
}

// AcceptResult carries the canonical ride id and the driver details the
// rider will be shown.
type AcceptResult struct {
	RideID         string `json:"rideId"`
	DriverName     string `json:"driverName"`
	Vehicle        string `json:"vehicleType"`
	DriverPhotoURL string `json:"driverProfilePhoto,omitempty"`
}

// AcceptRide claims a candidate. A conflict response means another driver
// won; callers resolve it by evicting the stale candidate.
func (c *Client) AcceptRide(ctx context.Context, key models.RideKey) (AcceptResult, error) {
	var out AcceptResult
	err := c.doJSON(ctx, http.MethodPost, "/api/user/driver/accept-ride", key, &out)
	return out, err
}

// RejectRide declines a candidate. This affects only this driver's
// candidate set, not the ride's availability to others.
func (c *Client) RejectRide(ctx context.Context, key models.RideKey) error {
	return c.doJSON(ctx, http.MethodPost, "/api/user/driver/reject-ride", key, nil)
}

type otpRequest struct {
	RideID string `json:"rideId"`
	OTP    string `json:"enteredOtp"`
}

// VerifyOTP submits a passcode attempt. The adjudication arrives on the
// real-time channel; a nil error only means the attempt was received.
func (c *Client) VerifyOTP(ctx context.Context, rideID, otp string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/user/ride/verify-otp", otpRequest{RideID: rideID, OTP: otp}, nil)
}

type completeRequest struct {
	CustomerID   string `json:"customerId"`
	RequestIndex int    `json:"rideIndex"`
}

// CompleteRide finishes an ongoing ride.
func (c *Client) CompleteRide(ctx context.Context, key models.RideKey) error {
	return c.doJSON(ctx, http.MethodPut, "/api/user/ride/complete",
		completeRequest{CustomerID: key.RequesterID, RequestIndex: key.RequestIndex}, nil)
}

// CancelRide cancels a ride by canonical id.
func (c *Client) CancelRide(ctx context.Context, rideID string) error {
	return c.doJSON(ctx, http.MethodPut, "/api/user/ride/cancel/"+rideID, struct{}{}, nil)
}

// UpdateLocation persists the driver's latest location sample.
func (c *Client) UpdateLocation(ctx context.Context, loc models.LatLng) error {
	return c.doJSON(ctx, http.MethodPost, "/api/user/driver/update-location", loc, nil)
}

type toggleRequest struct {
	Online bool `json:"isOnline"`
}

// TogglePresence asks the backend to flip this driver's dispatchable flag.
// Local state must only change after this succeeds.
func (c *Client) TogglePresence(ctx context.Context, online bool) error {
	return c.doJSON(ctx, http.MethodPost, "/api/user/driver/toggle-status", toggleRequest{Online: online}, nil)
}

// DriverProfile fetches this driver's presence and last known location.
func (c *Client) DriverProfile(ctx context.Context) (models.DriverProfile, error) {
	var out models.DriverProfile
	err := c.doJSON(ctx, http.MethodGet, "/api/user/profile", nil, &out)
	return out, err
}

// SendMedia uploads an already-validated image for a ride. Validation
// (content type, size) happens in the media package before any bytes move.
func (c *Client) SendMedia(ctx context.Context, rideID, recipientID, filename string, contentType string, data []byte) (models.MediaRef, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return models.MediaRef{}, fmt.Errorf("backend: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return models.MediaRef{}, fmt.Errorf("backend: build upload: %w", err)
	}
	if err := w.WriteField("rideId", rideID); err != nil {
		return models.MediaRef{}, fmt.Errorf("backend: build upload: %w", err)
	}
	if err := w.WriteField("recipientId", recipientID); err != nil {
		return models.MediaRef{}, fmt.Errorf("backend: build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return models.MediaRef{}, fmt.Errorf("backend: build upload: %w", err)
	}

	// Uploads do not retry: a duplicate push is worse than a user-visible
	// failure, and the dedup key only exists after the relay assigns a URL.
	var out models.MediaRef
	err = c.once(ctx, http.MethodPost, "/api/user/send-image", nil,
		&rawRequest{body: buf.Bytes(), contentType: w.FormDataContentType()}, &out)
	if err != nil {
		if r, ok := err.(*transientError); ok {
			return models.MediaRef{}, fmt.Errorf("backend: media upload: %w", r.err)
		}
		return models.MediaRef{}, err
	}
	return out, nil
}
