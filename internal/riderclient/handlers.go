package riderclient

import (
	"encoding/json"

	"github.com/example/ridelink/internal/models"
	"github.com/example/ridelink/internal/observability"
	"github.com/example/ridelink/internal/ride"
)

func decode[T any](c *Client, event string, data json.RawMessage) (T, bool) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.log.Warn("event payload not decodable", "event", event, "error", err)
		return v, false
	}
	return v, true
}

func (c *Client) onRideAccepted(data json.RawMessage) {
	ev, ok := decode[models.RideAccepted](c, models.EventRideAccepted, data)
	if !ok {
		return
	}
	c.loop.Submit(func() {
		out := c.rides.Apply(ride.Accepted{
			RideID:         ev.RideID,
			DriverID:       ev.DriverID,
			DriverName:     ev.DriverName,
			DriverPhotoURL: ev.DriverPhotoURL,
			At:             nowFn(),
		})
		if !out.Changed {
			return
		}
		observability.RidesActive.Inc()
		c.drivers[ev.RideID] = &DriverView{
			DriverID: ev.DriverID,
			Name:     ev.DriverName,
			Vehicle:  ev.Vehicle,
			PhotoURL: ev.DriverPhotoURL,
		}
		c.log.Info("ride accepted", "ride_id", ev.RideID, "driver", ev.DriverName)
	})
}

func (c *Client) onRideRejected(data json.RawMessage) {
	ev, ok := decode[models.RideRejected](c, models.EventRideRejected, data)
	if !ok {
		return
	}
	c.loop.Submit(func() {
		out := c.rides.Apply(ride.Rejected{RideID: ev.RideID})
		if out.Changed {
			c.log.Info("ride rejected", "ride_id", ev.RideID, "message", ev.Message)
		}
	})
}

func (c *Client) onRideCancelled(data json.RawMessage) {
	ev, ok := decode[models.RideCancelled](c, models.EventRideCancelled, data)
	if !ok {
		return
	}
	c.loop.Submit(func() {
		out := c.rides.Apply(ride.Cancelled{RideID: ev.RideID})
		if !out.Changed {
			return
		}
		if out.Previous == models.StatusAccepted || out.Previous == models.StatusOngoing {
			observability.RidesActive.Dec()
		}
		c.media.ClearRide(ev.RideID)
		delete(c.drivers, ev.RideID)
		c.log.Info("ride cancelled by driver", "ride_id", ev.RideID)
	})
}

func (c *Client) onRideCompleted(data json.RawMessage) {
	ev, ok := decode[models.RideCompleted](c, models.EventRideCompleted, data)
	if !ok {
		return
	}
	c.loop.Submit(func() {
		out := c.rides.Apply(ride.Completed{RideID: ev.RideID})
		if !out.Changed {
			return
		}
		observability.RidesActive.Dec()
		c.media.ClearRide(ev.RideID)
		delete(c.drivers, ev.RideID)
		c.log.Info("ride completed", "ride_id", ev.RideID)
	})
}

// onDriverLocation refreshes the assigned driver's position and the ETA to
// pickup. Best-effort: unknown rides are dropped.
func (c *Client) onDriverLocation(data json.RawMessage) {
	ev, ok := decode[models.DriverLocation](c, models.EventDriverLocation, data)
	if !ok {
		return
	}
	c.loop.Submit(func() {
		for _, st := range c.rides.Active() {
			if st.Ride.DriverID != ev.DriverID {
				continue
			}
			d := c.drivers[st.Ride.ID]
			if d == nil {
				d = &DriverView{DriverID: ev.DriverID}
				c.drivers[st.Ride.ID] = d
			}
			loc := ev.Location
			d.Location = &loc
			d.ETAMinutes = c.eta.Minutes(loc, st.Ride.Pickup.LatLng)
		}
	})
}

// onDriverReached sets the monotone proximity flag; a duplicate or a
// post-cancel delivery no-ops.
func (c *Client) onDriverReached(data json.RawMessage) {
	ev, ok := decode[models.DriverReached](c, models.EventDriverReached, data)
	if !ok {
		return
	}
	c.loop.Submit(func() {
		out := c.rides.Apply(ride.Reached{RideID: ev.RideID})
		if out.Changed {
			c.log.Info("driver reached pickup", "ride_id", ev.RideID)
		}
	})
}

// onOTPIssued stores the passcode for display. Creation normally returns
// it inline; this covers reissue.
func (c *Client) onOTPIssued(data json.RawMessage) {
	ev, ok := decode[models.OTPIssued](c, models.EventOTPIssued, data)
	if !ok {
		return
	}
	c.loop.Submit(func() {
		if c.rides.SetOTP(ev.RideID, ev.OTP) {
			c.log.Info("passcode reissued", "ride_id", ev.RideID)
		}
	})
}

func (c *Client) onOTPResult(data json.RawMessage) {
	ev, ok := decode[models.OTPResult](c, models.EventOTPResult, data)
	if !ok {
		return
	}
	c.loop.Submit(func() {
		if !ev.Success {
			c.log.Info("passcode attempt failed", "ride_id", ev.RideID)
			return
		}
		out := c.rides.Apply(ride.OTPConfirmed{RideID: ev.RideID})
		if out.Changed && out.Current == models.StatusOngoing {
			c.log.Info("ride started", "ride_id", ev.RideID)
		}
	})
}

func (c *Client) onMediaReceived(data json.RawMessage) {
	ev, ok := decode[models.MediaRef](c, models.EventMediaReceived, data)
	if !ok {
		return
	}
	c.loop.Submit(func() {
		st, tracked := c.rides.Get(ev.RideID)
		if !tracked || st.Ride.Status.Terminal() {
			return
		}
		c.media.Append(ev)
	})
}
