package driverclient

import (
	"encoding/json"

	"github.com/example/ridelink/internal/dispatch"
	"github.com/example/ridelink/internal/models"
	"github.com/example/ridelink/internal/observability"
	"github.com/example/ridelink/internal/ride"
)

// decode unmarshals a payload, logging and dropping frames that do not
// parse. Malformed input never reaches the loop.
func decode[T any](c *Client, event string, data json.RawMessage) (T, bool) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.log.Warn("event payload not decodable", "event", event, "error", err)
		return v, false
	}
	return v, true
}

func (c *Client) onRideAvailable(data json.RawMessage) {
	ev, ok := decode[models.RideAvailable](c, models.EventRideAvailable, data)
	if !ok {
		return
	}
	c.loop.Submit(func() { c.admit(candidateFromBroadcast(ev)) })
}

// onNewRideRequest handles the rider's direct announcement, which carries
// the same candidate data as the dispatch broadcast.
func (c *Client) onNewRideRequest(data json.RawMessage) {
	ev, ok := decode[models.NewRideRequest](c, models.EventNewRideRequest, data)
	if !ok {
		return
	}
	c.loop.Submit(func() {
		c.admit(models.Ride{
			ID:      ev.RideID,
			Key:     ev.Key,
			Pickup:  ev.Pickup,
			Dropoff: ev.Dropoff,
			Fare:    ev.Fare,
			Vehicle: ev.Vehicle,
			Status:  models.StatusRequested,
		})
	})
}

func (c *Client) admit(r models.Ride) {
	if !c.presence.Online() {
		return
	}
	// A ride this driver already holds may still be rebroadcast; it is not
	// a candidate anymore.
	if c.holdsRide(r) {
		return
	}
	admitted, err := c.filter.Admit(r)
	if err != nil {
		c.log.Info("dispatch dark, candidate declined", "ride_id", r.ID, "error", err)
		return
	}
	if admitted {
		c.log.Info("candidate admitted", "ride_id", r.ID, "requester", r.Key.RequesterID)
	}
}

// holdsRide matches tracked rides by id and, for live rides, by the
// rider's composite key: the accepted copy is retracked under the
// backend's canonical id, which may differ from the broadcast id.
func (c *Client) holdsRide(r models.Ride) bool {
	if _, ok := c.rides.Get(r.ID); ok {
		return true
	}
	for _, st := range c.rides.Active() {
		if st.Ride.Key == r.Key {
			return true
		}
	}
	return false
}

func candidateFromBroadcast(ev models.RideAvailable) models.Ride {
	return models.Ride{
		ID:          ev.RideID,
		Key:         ev.Key,
		Pickup:      ev.Pickup,
		Dropoff:     ev.Dropoff,
		Fare:        ev.Fare,
		Vehicle:     ev.Vehicle,
		Status:      models.StatusRequested,
		RequestedAt: ev.RequestedAt,
	}
}

// onRideClaimed evicts a candidate another driver won. Idempotent: the
// candidate may already be gone.
func (c *Client) onRideClaimed(data json.RawMessage) {
	ev, ok := decode[models.RideClaimed](c, models.EventRideClaimed, data)
	if !ok {
		return
	}
	c.loop.Submit(func() {
		if c.filter.Remove(ev.RideID) {
			c.log.Info("candidate claimed elsewhere", "ride_id", ev.RideID)
		}
	})
}

func (c *Client) onRideCancelled(data json.RawMessage) {
	ev, ok := decode[models.RideCancelled](c, models.EventRideCancelled, data)
	if !ok {
		return
	}
	c.loop.Submit(func() { c.cancelLocally(ev.RideID) })
}

func (c *Client) onRiderCancelled(data json.RawMessage) {
	ev, ok := decode[models.RiderCancelled](c, models.EventRiderCancelled, data)
	if !ok {
		return
	}
	c.loop.Submit(func() { c.cancelLocally(ev.RideID) })
}

// cancelLocally releases everything held for the ride: the candidate slot,
// the ride state, proximity marks, and the media log.
func (c *Client) cancelLocally(rideID string) {
	c.filter.Remove(rideID)
	out := c.rides.Apply(ride.Cancelled{RideID: rideID})
	if out.Changed {
		observability.RidesActive.Dec()
		c.log.Info("ride cancelled", "ride_id", rideID, "was", out.Previous)
	}
	c.filter.Forget(rideID)
	c.media.ClearRide(rideID)
}

// onOTPResult applies the server's adjudication. A failed attempt mutates
// nothing; the driver may retry without limit.
func (c *Client) onOTPResult(data json.RawMessage) {
	ev, ok := decode[models.OTPResult](c, models.EventOTPResult, data)
	if !ok {
		return
	}
	c.loop.Submit(func() {
		if !ev.Success {
			observability.OTPAttempts.WithLabelValues("rejected_server").Inc()
			c.log.Info("passcode rejected", "ride_id", ev.RideID, "message", ev.Message)
			return
		}
		observability.OTPAttempts.WithLabelValues("verified").Inc()
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

// handleSample runs on every location fix from the presence loop: update
// the filter's fix and fire the proximity one-shot for accepted rides.
func (c *Client) handleSample(loc models.Location) {
	c.loop.Submit(func() {
		var held []models.Ride
		for _, st := range c.rides.Active() {
			if st.Ride.Status == models.StatusAccepted && !st.ReachedRider {
				held = append(held, st.Ride)
			}
		}
		for _, arrival := range c.filter.ObserveLocation(loc.LatLng, held) {
			c.reached(arrival)
		}
	})
}

// reached handles one proximity fire: set the monotone flag, signal the
// rider, and surface the notification.
func (c *Client) reached(arrival dispatch.Arrival) {
	out := c.rides.Apply(ride.Reached{RideID: arrival.RideID})
	if !out.Changed {
		return
	}
	c.log.Info("reached rider", "ride_id", arrival.RideID, "distance_km", arrival.DistanceKm)

	if err := c.session.Emit(models.EventDriverReached, models.DriverReached{
		RiderID: out.Ride.Key.RequesterID,
		RideID:  arrival.RideID,
	}); err != nil {
		c.log.Warn("arrival signal not sent", "ride_id", arrival.RideID, "error", err)
	}
	if c.onArrival != nil {
		c.onArrival(arrival)
	}
}

// offlineReset clears every piece of per-ride ephemeral state. Runs via
// the presence controller when the driver goes offline.
func (c *Client) offlineReset() {
	c.loop.Submit(func() {
		for _, st := range c.rides.Active() {
			if st.Ride.Status == models.StatusAccepted || st.Ride.Status == models.StatusOngoing {
				observability.RidesActive.Dec()
			}
		}
		c.filter.Reset()
		c.rides.Reset()
		c.media.Reset()
		c.log.Info("offline reset complete")
	})
}
