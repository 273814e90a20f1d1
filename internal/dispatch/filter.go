// Package dispatch owns the driver-side candidate set: which broadcast
// rides this driver is offered, and the proximity one-shot fired as the
// driver approaches an accepted ride's pickup. All distance math is
// great-circle; the admission gate is inclusive at the radius.
package dispatch

import (
	"errors"
	"log/slog"

	"github.com/example/ridelink/internal/geo"
	"github.com/example/ridelink/internal/models"
	"github.com/example/ridelink/internal/observability"
)

// ErrNoLocation means the driver's position is unknown, so distance-gated
// admission is disabled rather than guessed.
var ErrNoLocation = errors.New("dispatch: driver location unknown")

const (
	dropReasonFar       = "beyond_radius"
	dropReasonDuplicate = "duplicate"
	dropReasonNoFix     = "no_location"
)

// Filter holds one driver's pending candidates, newest first. Not safe for
// concurrent use; the driver actor serializes access.
type Filter struct {
	radiusKm  float64
	arrivalKm float64
	log       *slog.Logger

	loc    models.LatLng
	hasLoc bool

	pending []models.Ride
	byKey   map[models.RideKey]struct{}

	// reached marks rides whose arrival notification already fired. The
	// mark is never cleared while the ride is held, even if the driver
	// moves away and back.
	reached map[string]struct{}
}

// NewFilter builds a filter admitting candidates within radiusKm of the
// driver and firing the arrival one-shot within arrivalKm of a pickup.
func NewFilter(radiusKm, arrivalKm float64, log *slog.Logger) *Filter {
	return &Filter{
		radiusKm:  radiusKm,
		arrivalKm: arrivalKm,
		log:       log,
		byKey:     make(map[models.RideKey]struct{}),
		reached:   make(map[string]struct{}),
	}
}

// SetLocation records the driver's latest fix. Admission stays disabled
// until the first fix arrives.
func (f *Filter) SetLocation(loc models.LatLng) {
	f.loc = loc
	f.hasLoc = true
}

// Location returns the last fix, if any.
func (f *Filter) Location() (models.LatLng, bool) {
	return f.loc, f.hasLoc
}

// Admit offers a broadcast candidate. It is kept iff the pickup lies
// within the dispatch radius (inclusive) of the driver's last fix and the
// composite key is not already pending; rebroadcasts are dropped, not
// appended. Without a location fix the candidate is declined with
// ErrNoLocation so the caller can tell the user why dispatch is dark.
func (f *Filter) Admit(r models.Ride) (bool, error) {
	if !f.hasLoc {
		observability.CandidatesDropped.WithLabelValues(dropReasonNoFix).Inc()
		return false, ErrNoLocation
	}
	if _, dup := f.byKey[r.Key]; dup {
		observability.CandidatesDropped.WithLabelValues(dropReasonDuplicate).Inc()
		return false, nil
	}
	d := geo.DistanceKm(f.loc, r.Pickup.LatLng)
	if d > f.radiusKm {
		observability.CandidatesDropped.WithLabelValues(dropReasonFar).Inc()
		f.log.Debug("candidate beyond dispatch radius",
			"ride_id", r.ID, "distance_km", d, "radius_km", f.radiusKm)
		return false, nil
	}

	f.byKey[r.Key] = struct{}{}
	f.pending = append([]models.Ride{r}, f.pending...)
	observability.CandidatesAdmitted.Inc()
	return true, nil
}

// Pending returns the candidate set, newest first.
func (f *Filter) Pending() []models.Ride {
	out := make([]models.Ride, len(f.pending))
	copy(out, f.pending)
	return out
}

// Remove drops one candidate, whether claimed by another driver, rejected
// locally, or accepted (it moves to the ride set). Removing an absent
// candidate is a no-op.
func (f *Filter) Remove(rideID string) bool {
	for i, r := range f.pending {
		if r.ID == rideID {
			delete(f.byKey, r.Key)
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Arrival is one proximity notification: the driver is at the pickup.
type Arrival struct {
	RideID     string
	DistanceKm float64
}

// ObserveLocation records a new fix and evaluates the proximity one-shot
// against every accepted ride. The first fix within the arrival radius of
// a ride's pickup fires exactly once for that ride; later fixes never
// re-fire it.
func (f *Filter) ObserveLocation(loc models.LatLng, accepted []models.Ride) []Arrival {
	f.SetLocation(loc)

	var fired []Arrival
	for _, r := range accepted {
		if _, done := f.reached[r.ID]; done {
			continue
		}
		d := geo.DistanceKm(loc, r.Pickup.LatLng)
		if d > f.arrivalKm {
			continue
		}
		f.reached[r.ID] = struct{}{}
		observability.ProximityFires.Inc()
		fired = append(fired, Arrival{RideID: r.ID, DistanceKm: d})
	}
	return fired
}

// Forget clears the proximity mark for a ride that left the accepted set.
func (f *Filter) Forget(rideID string) {
	delete(f.reached, rideID)
}

// Reset clears candidates, location-independent marks included. Part of
// the offline reset.
func (f *Filter) Reset() {
	f.pending = nil
	f.byKey = make(map[models.RideKey]struct{})
	f.reached = make(map[string]struct{})
}
