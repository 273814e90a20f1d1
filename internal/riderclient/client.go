// Package riderclient is the rider-side coordination actor: request a
// ride, hold the issued passcode, follow the assigned driver's progress,
// and exchange media, all serialized on one event loop.
package riderclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ridelink/internal/actor"
	"github.com/example/ridelink/internal/backend"
	"github.com/example/ridelink/internal/config"
	"github.com/example/ridelink/internal/eta"
	"github.com/example/ridelink/internal/media"
	"github.com/example/ridelink/internal/models"
	"github.com/example/ridelink/internal/ride"
	"github.com/example/ridelink/internal/transport"
)

var (
	// ErrMissingFields rejects a ride request with incomplete input.
	ErrMissingFields = errors.New("riderclient: pickup, dropoff and vehicle are required")
	// ErrUnknownRide means the ride id is not tracked by this client.
	ErrUnknownRide = errors.New("riderclient: unknown ride")
	// ErrNotCancellable rejects cancelling a ride already terminal.
	ErrNotCancellable = errors.New("riderclient: ride can no longer be cancelled")
	// ErrClosed marks operations on a torn-down client.
	ErrClosed = errors.New("riderclient: closed")
)

// Backend is the slice of the request client the rider actor uses.
type Backend interface {
	RequestRide(ctx context.Context, req backend.RideRequest) (backend.RideCreated, error)
	CancelRide(ctx context.Context, rideID string) error
	SendMedia(ctx context.Context, rideID, recipientID, filename, contentType string, data []byte) (models.MediaRef, error)
}

// Session is the slice of the transport session the actor uses.
type Session interface {
	Subscribe(event string, h transport.Handler) func()
	Emit(event string, payload any) error
	Status() transport.Status
	Close() error
}

// DriverView is what the rider sees of the assigned driver.
type DriverView struct {
	DriverID   string         `json:"driverId"`
	Name       string         `json:"name"`
	Vehicle    string         `json:"vehicle"`
	PhotoURL   string         `json:"photoUrl,omitempty"`
	Location   *models.LatLng `json:"location,omitempty"`
	ETAMinutes int            `json:"etaMinutes,omitempty"`
}

// Client is one rider's coordination actor.
type Client struct {
	riderID string
	cfg     config.RiderConfig
	log     *slog.Logger

	backend Backend
	session Session
	rides   *ride.Set
	media   *media.Log
	eta     *eta.Estimator
	loop    *actor.Loop

	ctx    context.Context
	cancel context.CancelFunc

	// nextIndex numbers this rider's requests; the composite key
	// (riderID, index) identifies a candidate before the backend assigns
	// the canonical id.
	nextIndex int

	// driver tracks the assigned driver per ride.
	drivers map[string]*DriverView

	onAuthExpired func()

	closeOnce sync.Once
	unsubs    []func()
}

// nowFn is swapped in tests that assert on request timestamps.
var nowFn = time.Now

// Option configures a Client.
type Option func(*Client)

// WithOnAuthExpired registers the re-authentication escalation hook.
func WithOnAuthExpired(fn func()) Option {
	return func(c *Client) { c.onAuthExpired = fn }
}

// New wires the rider actor. Call Start to attach transport handlers.
func New(riderID string, cfg config.RiderConfig, b Backend, s Session, log *slog.Logger, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		riderID: riderID,
		cfg:     cfg,
		log:     log,
		backend: b,
		session: s,
		rides:   ride.NewSet(),
		media:   media.NewLog(),
		eta:     eta.NewEstimator(cfg.ETASpeedKmh, cfg.RequestTimeout),
		loop:    actor.NewLoop(),
		ctx:     ctx,
		cancel:  cancel,
		drivers: make(map[string]*DriverView),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes the transport handlers.
func (c *Client) Start() {
	sub := func(event string, h transport.Handler) {
		c.unsubs = append(c.unsubs, c.session.Subscribe(event, h))
	}

	sub(models.EventRideAccepted, c.onRideAccepted)
	sub(models.EventRideRejected, c.onRideRejected)
	sub(models.EventRideCancelled, c.onRideCancelled)
	sub(models.EventRideCompleted, c.onRideCompleted)
	sub(models.EventDriverLocation, c.onDriverLocation)
	sub(models.EventDriverReached, c.onDriverReached)
	sub(models.EventOTPIssued, c.onOTPIssued)
	sub(models.EventOTPResult, c.onOTPResult)
	sub(models.EventMediaReceived, c.onMediaReceived)
}

// OnSessionConnect registers the socket under this rider's id after every
// (re)connect.
func (c *Client) OnSessionConnect() {
	if err := c.session.Emit(models.EventRegisterSession, models.RegisterSession{UserID: c.riderID}); err != nil {
		c.log.Warn("session registration failed", "error", err)
	}
}

// Request submits a new ride. The backend returns the canonical id and the
// passcode the rider will show the driver; the request is then announced
// on the session for low-latency dispatch.
func (c *Client) Request(ctx context.Context, pickup, dropoff models.Location, fare float64, vehicle models.VehicleClass) (models.Ride, error) {
	if pickup.LatLng == (models.LatLng{}) || dropoff.LatLng == (models.LatLng{}) || vehicle == "" {
		return models.Ride{}, ErrMissingFields
	}
	if !models.ValidVehicleClass(vehicle) {
		return models.Ride{}, fmt.Errorf("%w: unknown vehicle class %q", ErrMissingFields, vehicle)
	}

	var index int
	if !c.loop.Do(func() {
		index = c.nextIndex
		c.nextIndex++
	}) {
		return models.Ride{}, ErrClosed
	}

	created, err := c.backend.RequestRide(ctx, backend.RideRequest{
		Pickup:  pickup,
		Dropoff: dropoff,
		Fare:    fare,
		Vehicle: vehicle,
	})
	if err != nil {
		return models.Ride{}, c.escalate(err)
	}

	r := models.Ride{
		ID:          created.RideID,
		Key:         models.RideKey{RequesterID: c.riderID, RequestIndex: index},
		Pickup:      pickup,
		Dropoff:     dropoff,
		Fare:        fare,
		Vehicle:     vehicle,
		Status:      models.StatusRequested,
		OTP:         created.OTP,
		RequestedAt: nowFn(),
	}
	var trackErr error
	if !c.loop.Do(func() { trackErr = c.rides.Track(r) }) {
		return models.Ride{}, ErrClosed
	}
	if trackErr != nil {
		return models.Ride{}, trackErr
	}

	if err := c.session.Emit(models.EventNewRideRequest, models.NewRideRequest{
		RiderID: c.riderID,
		RideID:  r.ID,
		Key:     r.Key,
		Pickup:  pickup,
		Dropoff: dropoff,
		Fare:    fare,
		Vehicle: vehicle,
	}); err != nil {
		c.log.Warn("ride announcement not sent", "ride_id", r.ID, "error", err)
	}
	c.log.Info("ride requested", "ride_id", r.ID, "request_index", index)
	return r, nil
}

// Cancel withdraws a live ride and notifies the assigned driver.
func (c *Client) Cancel(ctx context.Context, rideID string) error {
	var (
		st ride.State
		ok bool
	)
	if !c.loop.Do(func() { st, ok = c.rides.Get(rideID) }) {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRide, rideID)
	}
	if st.Ride.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotCancellable, rideID, st.Ride.Status)
	}

	if err := c.backend.CancelRide(ctx, rideID); err != nil {
		// A conflict means the ride already moved on elsewhere; drop the
		// stale local copy either way.
		if backend.IsConflict(err) {
			c.loop.Submit(func() { c.dropRide(rideID) })
		}
		return c.escalate(err)
	}

	c.loop.Submit(func() {
		out := c.rides.Apply(ride.Cancelled{RideID: rideID})
		if out.Changed {
			c.log.Info("ride cancelled", "ride_id", rideID, "was", out.Previous)
		}
		c.media.ClearRide(rideID)
		delete(c.drivers, rideID)
	})

	if st.Ride.DriverID != "" {
		if err := c.session.Emit(models.EventRiderCancelled, models.RiderCancelled{
			RideID:   rideID,
			DriverID: st.Ride.DriverID,
		}); err != nil {
			c.log.Warn("cancel signal not sent", "ride_id", rideID, "error", err)
		}
	}
	return nil
}

// SendImage uploads one image for a ride after the local gates pass.
func (c *Client) SendImage(ctx context.Context, rideID, filename, contentType string, data []byte) (models.MediaRef, error) {
	if err := media.Validate(contentType, int64(len(data)), c.cfg.MaxMediaBytes()); err != nil {
		return models.MediaRef{}, err
	}
	var (
		st ride.State
		ok bool
	)
	if !c.loop.Do(func() { st, ok = c.rides.Get(rideID) }) {
		return models.MediaRef{}, ErrClosed
	}
	if !ok {
		return models.MediaRef{}, fmt.Errorf("%w: %s", ErrUnknownRide, rideID)
	}
	if err := media.ValidateRide(st.Ride.Status); err != nil {
		return models.MediaRef{}, err
	}

	ref, err := c.backend.SendMedia(ctx, rideID, st.Ride.DriverID, filename, contentType, data)
	if err != nil {
		return models.MediaRef{}, c.escalate(err)
	}
	c.loop.Submit(func() { c.media.Append(ref) })
	return ref, nil
}

// Media returns the ride's media log, arrival order.
func (c *Client) Media(rideID string) []models.MediaRef {
	var out []models.MediaRef
	c.loop.Do(func() { out = c.media.ForRide(rideID) })
	return out
}

// Ride returns the tracked state of one ride.
func (c *Client) Ride(rideID string) (ride.State, bool) {
	var (
		st ride.State
		ok bool
	)
	c.loop.Do(func() { st, ok = c.rides.Get(rideID) })
	return st, ok
}

// Driver returns the assigned driver's view for a ride, if any.
func (c *Client) Driver(rideID string) (DriverView, bool) {
	var (
		v  DriverView
		ok bool
	)
	c.loop.Do(func() {
		if d := c.drivers[rideID]; d != nil {
			v, ok = *d, true
		}
	})
	return v, ok
}

// Snapshot is the actor state exposed on the diagnostics endpoint.
type Snapshot struct {
	RiderID string        `json:"riderId"`
	Session string        `json:"session"`
	Rides   []models.Ride `json:"rides"`
}

// Snapshot reads a consistent view of the actor state.
func (c *Client) Snapshot() Snapshot {
	snap := Snapshot{RiderID: c.riderID, Session: string(c.session.Status())}
	c.loop.Do(func() {
		for _, st := range c.rides.Active() {
			snap.Rides = append(snap.Rides, st.Ride)
		}
	})
	return snap
}

// Close tears the actor down atomically. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		for _, off := range c.unsubs {
			off()
		}
		err = c.session.Close()
		c.loop.Close()
	})
	return err
}

// dropRide removes every trace of a ride. Loop-only.
func (c *Client) dropRide(rideID string) {
	c.rides.Remove(rideID)
	c.media.ClearRide(rideID)
	delete(c.drivers, rideID)
}

func (c *Client) escalate(err error) error {
	if errors.Is(err, backend.ErrUnauthorized) && c.onAuthExpired != nil {
		c.onAuthExpired()
	}
	return err
}
