// Package driverclient is the driver-side coordination actor: one event
// loop owning the candidate filter, the ride set, the media log, and the
// presence controller. Network calls happen on the caller's goroutine;
// every state mutation is serialized onto the loop.
package driverclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/example/ridelink/internal/actor"
	"github.com/example/ridelink/internal/backend"
	"github.com/example/ridelink/internal/config"
	"github.com/example/ridelink/internal/dispatch"
	"github.com/example/ridelink/internal/geoloc"
	"github.com/example/ridelink/internal/media"
	"github.com/example/ridelink/internal/models"
	"github.com/example/ridelink/internal/observability"
	"github.com/example/ridelink/internal/presence"
	"github.com/example/ridelink/internal/ride"
	"github.com/example/ridelink/internal/transport"
)

var (
	// ErrBadOTPFormat rejects a passcode locally before any network call.
	ErrBadOTPFormat = errors.New("driverclient: passcode must be exactly 6 digits")
	// ErrUnknownRide means the ride id is not tracked by this client.
	ErrUnknownRide = errors.New("driverclient: unknown ride")
	// ErrNotOngoing rejects completion of a ride that has not started.
	ErrNotOngoing = errors.New("driverclient: ride is not ongoing")
	// ErrClosed marks operations on a torn-down client.
	ErrClosed = errors.New("driverclient: closed")
)

var otpShape = regexp.MustCompile(`^[0-9]{6}$`)

// nowFn is swapped in tests that assert on acceptance timestamps.
var nowFn = time.Now

// Backend is the slice of the request client the driver actor uses.
// *backend.Client satisfies it.
type Backend interface {
	PendingRides(ctx context.Context) ([]models.Ride, error)
	AcceptedRides(ctx context.Context) ([]models.Ride, error)
	AcceptRide(ctx context.Context, key models.RideKey) (backend.AcceptResult, error)
	RejectRide(ctx context.Context, key models.RideKey) error
	VerifyOTP(ctx context.Context, rideID, otp string) error
	CompleteRide(ctx context.Context, key models.RideKey) error
	DriverProfile(ctx context.Context) (models.DriverProfile, error)
	SendMedia(ctx context.Context, rideID, recipientID, filename, contentType string, data []byte) (models.MediaRef, error)
	TogglePresence(ctx context.Context, online bool) error
	UpdateLocation(ctx context.Context, loc models.LatLng) error
}

// Session is the slice of the transport session the actor uses.
type Session interface {
	Subscribe(event string, h transport.Handler) func()
	Emit(event string, payload any) error
	Status() transport.Status
	Close() error
}

// Client is one driver's coordination actor.
type Client struct {
	driverID string
	name     string
	cfg      config.DriverConfig
	log      *slog.Logger

	backend  Backend
	session  Session
	presence *presence.Controller
	filter   *dispatch.Filter
	rides    *ride.Set
	media    *media.Log
	loop     *actor.Loop

	// ctx bounds every backend call issued by this client; Close cancels
	// it so in-flight calls abort with the teardown.
	ctx    context.Context
	cancel context.CancelFunc

	// onArrival and onAuthExpired surface actor-level notifications to the
	// embedding binary (UI, re-auth flow).
	onArrival     func(dispatch.Arrival)
	onAuthExpired func()

	closeOnce    sync.Once
	unsubs       []func()
	presenceOpts []presence.Option
}

// Option configures a Client.
type Option func(*Client)

// WithOnArrival registers the reached-rider notification hook.
func WithOnArrival(fn func(dispatch.Arrival)) Option {
	return func(c *Client) { c.onArrival = fn }
}

// WithOnAuthExpired registers the re-authentication escalation hook.
func WithOnAuthExpired(fn func()) Option {
	return func(c *Client) { c.onAuthExpired = fn }
}

// WithPresenceOptions forwards extra options to the presence controller.
func WithPresenceOptions(opts ...presence.Option) Option {
	return func(c *Client) { c.presenceOpts = append(c.presenceOpts, opts...) }
}

// New wires the driver actor. Call Start to attach transport handlers.
func New(driverID, name string, cfg config.DriverConfig, b Backend, s Session, src geoloc.Source, log *slog.Logger, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		driverID: driverID,
		name:     name,
		cfg:      cfg,
		log:      log,
		backend:  b,
		session:  s,
		filter:   dispatch.NewFilter(cfg.CandidateRadius, cfg.ArrivalRadius, log),
		rides:    ride.NewSet(),
		media:    media.NewLog(),
		loop:     actor.NewLoop(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	pOpts := append([]presence.Option{
		presence.WithOnSample(c.handleSample),
		presence.WithOnReset(c.offlineReset),
	}, c.presenceOpts...)
	c.presence = presence.NewController(driverID, b, s, src, cfg.SampleInterval, log, pOpts...)
	return c
}

// Start subscribes the transport handlers. The session itself is connected
// by the caller; this only attaches behavior.
func (c *Client) Start() {
	sub := func(event string, h transport.Handler) {
		c.unsubs = append(c.unsubs, c.session.Subscribe(event, h))
	}

	sub(models.EventRideAvailable, c.onRideAvailable)
	sub(models.EventNewRideRequest, c.onNewRideRequest)
	sub(models.EventRideClaimed, c.onRideClaimed)
	sub(models.EventRideCancelled, c.onRideCancelled)
	sub(models.EventRiderCancelled, c.onRiderCancelled)
	sub(models.EventOTPResult, c.onOTPResult)
	sub(models.EventMediaReceived, c.onMediaReceived)
}

// OnSessionConnect is wired as the transport's post-connect hook: register
// the session under this driver's id and re-announce presence so the
// dispatch pool is resynchronized.
func (c *Client) OnSessionConnect() {
	if err := c.session.Emit(models.EventRegisterSession, models.RegisterSession{UserID: c.driverID}); err != nil {
		c.log.Warn("session registration failed", "error", err)
	}
	c.presence.Announce()
}

// GoOnline flips the driver dispatchable. Blocking; call off the loop.
func (c *Client) GoOnline(ctx context.Context) error {
	return c.presence.GoOnline(ctx)
}

// GoOffline parks the driver and clears all per-ride ephemeral state.
func (c *Client) GoOffline(ctx context.Context) error {
	return c.presence.GoOffline(ctx)
}

// Online reports the presence toggle.
func (c *Client) Online() bool { return c.presence.Online() }

// Refresh pulls the pending and accepted sets from the backend and
// replaces local state. Used at startup and after reconnect gaps. Pending
// candidates are fetched only while the driver is online; admission runs
// through the same gate as the broadcast path.
func (c *Client) Refresh(ctx context.Context) error {
	accepted, err := c.backend.AcceptedRides(ctx)
	if err != nil {
		return c.escalate(err)
	}
	var pending []models.Ride
	if c.presence.Online() {
		if pending, err = c.backend.PendingRides(ctx); err != nil {
			return c.escalate(err)
		}
	}

	c.loop.Submit(func() {
		for _, r := range accepted {
			if err := c.rides.Track(r); err != nil {
				c.log.Warn("accepted ride not trackable", "ride_id", r.ID, "error", err)
			}
		}
		for _, r := range pending {
			c.admit(r)
		}
	})
	return nil
}

// Accept claims a pending candidate. A conflict means another driver won:
// the stale candidate is evicted and the error reported for user display.
func (c *Client) Accept(ctx context.Context, rideID string) error {
	var (
		cand  models.Ride
		found bool
	)
	if !c.loop.Do(func() {
		for _, r := range c.filter.Pending() {
			if r.ID == rideID {
				cand, found = r, true
				return
			}
		}
	}) {
		return ErrClosed
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownRide, rideID)
	}

	res, err := c.backend.AcceptRide(ctx, cand.Key)
	if err != nil {
		if backend.IsConflict(err) {
			c.loop.Submit(func() { c.filter.Remove(rideID) })
		}
		return c.escalate(err)
	}

	c.loop.Submit(func() {
		c.filter.Remove(rideID)
		accepted := cand
		accepted.ID = res.RideID
		accepted.Status = models.StatusRequested
		accepted.DriverID = c.driverID
		if err := c.rides.Track(accepted); err != nil {
			c.log.Warn("accepted ride not trackable", "ride_id", res.RideID, "error", err)
			return
		}
		out := c.rides.Apply(ride.Accepted{
			RideID:         res.RideID,
			DriverID:       c.driverID,
			DriverName:     res.DriverName,
			DriverPhotoURL: res.DriverPhotoURL,
			At:             nowFn(),
		})
		if out.Changed {
			observability.RidesActive.Inc()
		}
	})

	if err := c.session.Emit(models.EventDriverAccepts, models.DriverAccepts{
		RideID:         res.RideID,
		DriverID:       c.driverID,
		RiderID:        cand.Key.RequesterID,
		DriverName:     res.DriverName,
		Vehicle:        res.Vehicle,
		DriverPhotoURL: res.DriverPhotoURL,
	}); err != nil {
		c.log.Warn("acceptance signal not sent", "ride_id", res.RideID, "error", err)
	}
	return nil
}

// Reject declines a pending candidate. Only this driver's set changes.
func (c *Client) Reject(ctx context.Context, rideID string) error {
	var (
		cand  models.Ride
		found bool
	)
	if !c.loop.Do(func() {
		for _, r := range c.filter.Pending() {
			if r.ID == rideID {
				cand, found = r, true
				return
			}
		}
	}) {
		return ErrClosed
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownRide, rideID)
	}

	if err := c.backend.RejectRide(ctx, cand.Key); err != nil {
		return c.escalate(err)
	}
	c.loop.Submit(func() { c.filter.Remove(rideID) })
	return nil
}

// SubmitOTP relays the rider's passcode. Shape is checked locally; the
// server adjudicates, and the verdict arrives on the session. Every
// attempt is counted.
func (c *Client) SubmitOTP(ctx context.Context, rideID, otp string) error {
	if !otpShape.MatchString(otp) {
		observability.OTPAttempts.WithLabelValues("rejected_local").Inc()
		return ErrBadOTPFormat
	}
	var tracked bool
	if !c.loop.Do(func() { _, tracked = c.rides.Get(rideID) }) {
		return ErrClosed
	}
	if !tracked {
		return fmt.Errorf("%w: %s", ErrUnknownRide, rideID)
	}

	observability.OTPAttempts.WithLabelValues("submitted").Inc()
	if err := c.backend.VerifyOTP(ctx, rideID, otp); err != nil {
		return c.escalate(err)
	}
	return nil
}

// Complete finishes an ongoing ride and clears its ephemeral state.
func (c *Client) Complete(ctx context.Context, rideID string) error {
	var (
		st models.Ride
		ok bool
	)
	if !c.loop.Do(func() {
		var s ride.State
		if s, ok = c.rides.Get(rideID); ok {
			st = s.Ride
		}
	}) {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRide, rideID)
	}
	if st.Status != models.StatusOngoing {
		return fmt.Errorf("%w: %s is %s", ErrNotOngoing, rideID, st.Status)
	}

	if err := c.backend.CompleteRide(ctx, st.Key); err != nil {
		return c.escalate(err)
	}
	c.loop.Submit(func() {
		out := c.rides.Apply(ride.Completed{RideID: rideID})
		if out.Changed {
			observability.RidesActive.Dec()
		}
		c.media.ClearRide(rideID)
		c.filter.Forget(rideID)
	})
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

	ref, err := c.backend.SendMedia(ctx, rideID, st.Ride.Key.RequesterID, filename, contentType, data)
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

// Snapshot is the actor state exposed on the diagnostics endpoint.
type Snapshot struct {
	DriverID string         `json:"driverId"`
	Online   bool           `json:"online"`
	Session  string         `json:"session"`
	Pending  []models.Ride  `json:"pending"`
	Accepted []models.Ride  `json:"accepted"`
	Location *models.LatLng `json:"location,omitempty"`
}

// Snapshot reads a consistent view of the actor state.
func (c *Client) Snapshot() Snapshot {
	snap := Snapshot{
		DriverID: c.driverID,
		Online:   c.presence.Online(),
		Session:  string(c.session.Status()),
	}
	c.loop.Do(func() {
		snap.Pending = c.filter.Pending()
		for _, st := range c.rides.Active() {
			snap.Accepted = append(snap.Accepted, st.Ride)
		}
		if loc, ok := c.filter.Location(); ok {
			l := loc
			snap.Location = &l
		}
	})
	return snap
}

// Close tears the actor down atomically: in-flight backend calls abort,
// transport handlers detach, the sampling loop stops, and the event loop
// drains nothing further. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		for _, off := range c.unsubs {
			off()
		}
		c.presence.Stop()
		err = c.session.Close()
		c.loop.Close()
	})
	return err
}

// escalate routes auth expiry into the single teardown path and hands
// everything else back to the caller.
func (c *Client) escalate(err error) error {
	if errors.Is(err, backend.ErrUnauthorized) && c.onAuthExpired != nil {
		c.onAuthExpired()
	}
	return err
}
