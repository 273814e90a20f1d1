// Package presence owns the driver's online toggle and the periodic
// location sampling loop. The toggle is atomic from the caller's view:
// local state changes only after the backend confirms, and going offline
// resets every piece of per-ride ephemeral state through the reset hook.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ridelink/internal/geoloc"
	"github.com/example/ridelink/internal/models"
)

// Backend is the slice of the request client the controller needs.
type Backend interface {
	TogglePresence(ctx context.Context, online bool) error
	UpdateLocation(ctx context.Context, loc models.LatLng) error
}

// Announcer publishes presence and location events on the live session.
// Emit failures are tolerated: the session may be mid-reconnect and the
// backend persist path already carries the sample.
type Announcer interface {
	Emit(event string, payload any) error
}

// tickerFunc returns a tick channel and its stop function. Injectable so
// tests drive the sampling loop by hand.
type tickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Controller flips the driver's dispatchable state and runs the sampling
// loop while online.
type Controller struct {
	driverID string
	backend  Backend
	announce Announcer
	source   geoloc.Source
	interval time.Duration
	log      *slog.Logger
	ticker   tickerFunc

	// onSample receives each successful fix after the persist and
	// broadcast fan-out; the owning actor drives its proximity check and
	// candidate gating from it.
	onSample func(models.Location)
	// onReset fires when the driver goes offline, before the absence
	// announcement. The actor clears candidates, rides, and media there.
	onReset func()

	mu     sync.Mutex
	online bool
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithOnSample registers the per-fix callback.
func WithOnSample(fn func(models.Location)) Option {
	return func(c *Controller) { c.onSample = fn }
}

// WithOnReset registers the offline reset hook.
func WithOnReset(fn func()) Option {
	return func(c *Controller) { c.onReset = fn }
}

// WithTicker replaces the sampling ticker (tests).
func WithTicker(fn func(d time.Duration) (<-chan time.Time, func())) Option {
	return func(c *Controller) { c.ticker = fn }
}

// NewController builds a controller sampling every interval while online.
func NewController(driverID string, backend Backend, announce Announcer, source geoloc.Source, interval time.Duration, log *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		driverID: driverID,
		backend:  backend,
		announce: announce,
		source:   source,
		interval: interval,
		log:      log,
		ticker:   realTicker,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Online reports the current local state.
func (c *Controller) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// GoOnline asks the backend to mark the driver dispatchable, and only on
// success flips local state, announces presence, and starts the sampling
// loop. A failed confirmation leaves everything untouched.
func (c *Controller) GoOnline(ctx context.Context) error {
	c.mu.Lock()
	if c.online {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.backend.TogglePresence(ctx, true); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.online = true
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.Announce()
	go c.sampleLoop(loopCtx, done)
	c.log.Info("driver online", "driver_id", c.driverID)
	return nil
}

// GoOffline stops sampling, clears ephemeral state through the reset hook,
// and announces absence, but only after the backend confirms.
func (c *Controller) GoOffline(ctx context.Context) error {
	c.mu.Lock()
	if !c.online {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.backend.TogglePresence(ctx, false); err != nil {
		return err
	}

	c.mu.Lock()
	c.online = false
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if c.onReset != nil {
		c.onReset()
	}
	if err := c.announce.Emit(models.EventPresenceOffline, models.PresenceChange{DriverID: c.driverID}); err != nil {
		c.log.Warn("absence announcement failed", "error", err)
	}
	c.log.Info("driver offline", "driver_id", c.driverID)
	return nil
}

// Announce re-publishes the online state. Called after GoOnline and again
// on every session reconnect so the dispatch pool never silently loses
// this driver.
func (c *Controller) Announce() {
	if !c.Online() {
		return
	}
	if err := c.announce.Emit(models.EventPresenceOnline, models.PresenceChange{DriverID: c.driverID}); err != nil {
		c.log.Warn("presence announcement failed", "error", err)
	}
}

// Stop tears the loop down without touching the backend. Used on client
// teardown where the server-side state outlives the process.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.online = false
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// sampleLoop takes one fix immediately, then one per interval, fanning
// each out to the persist path, the broadcast path, and the sample hook.
// A failed fix degrades that cycle only.
func (c *Controller) sampleLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticks, stop := c.ticker(c.interval)
	defer stop()

	c.sampleOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			c.sampleOnce(ctx)
		}
	}
}

func (c *Controller) sampleOnce(ctx context.Context) {
	loc, err := c.source.Current(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("location fix failed", "error", err)
		return
	}

	if err := c.backend.UpdateLocation(ctx, loc.LatLng); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("location persist failed", "error", err)
	}
	if err := c.announce.Emit(models.EventLocationBroadcast, models.DriverLocation{
		DriverID: c.driverID,
		Location: loc.LatLng,
	}); err != nil {
		c.log.Debug("location broadcast skipped", "error", err)
	}
	if c.onSample != nil {
		c.onSample(loc)
	}
}
