// Package ride is the client-side ride state machine: a pure reducer over
// the set of rides a client currently tracks. It performs no I/O; callers
// feed it events and act on the returned outcome. All handlers are
// idempotent under re-delivery and tolerant of out-of-order delivery.
package ride

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/ridelink/internal/models"
)

var (
	// ErrDuplicateKey means another outstanding ride of the same requester
	// already carries this request index.
	ErrDuplicateKey = errors.New("ride: duplicate composite key among outstanding rides")
)

// State is one tracked ride plus its transition flags. ReachedRider and
// OTPVerified are monotone: once set they are never cleared while the ride
// is live, only dropped wholesale when the ride terminates.
type State struct {
	Ride         models.Ride
	ReachedRider bool
	OTPVerified  bool
}

// Event is one input to the reducer.
type Event interface {
	rideID() string
}

// Accepted records a driver claiming the ride.
type Accepted struct {
	RideID         string
	DriverID       string
	DriverName     string
	DriverPhotoURL string
	At             time.Time
}

// Reached records the driver arriving within the pickup radius. Delivered
// at most once per ride by the proximity one-shot, but the reducer also
// tolerates duplicates.
type Reached struct{ RideID string }

// OTPConfirmed records the server adjudicating a passcode attempt as
// correct. A failed attempt never produces an event; it mutates nothing.
type OTPConfirmed struct{ RideID string }

// Cancelled records either party cancelling.
type Cancelled struct{ RideID string }

// Rejected records this driver declining a requested ride. It affects only
// the local set; the ride stays available to other drivers.
type Rejected struct{ RideID string }

// Completed records the backend finishing an ongoing ride.
type Completed struct{ RideID string }

func (e Accepted) rideID() string     { return e.RideID }
func (e Reached) rideID() string      { return e.RideID }
func (e OTPConfirmed) rideID() string { return e.RideID }
func (e Cancelled) rideID() string    { return e.RideID }
func (e Rejected) rideID() string     { return e.RideID }
func (e Completed) rideID() string    { return e.RideID }

// Outcome describes what one event did to the set.
type Outcome struct {
	// Changed is false for no-op deliveries: duplicates, out-of-order
	// events, and events for untracked rides.
	Changed bool
	// Previous and Current bracket the status transition; equal when the
	// event only moved a flag.
	Previous models.RideStatus
	Current  models.RideStatus
	// Ride is a copy of the post-event state when the ride is tracked.
	Ride models.Ride
}

// Set holds every ride a client currently tracks, keyed by canonical id.
// It is not safe for concurrent use; the owning actor serializes access.
type Set struct {
	byID map[string]*State
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{byID: make(map[string]*State)}
}

// Track registers a ride. Replacing a ride already tracked under the same
// id is allowed (refresh from a backend list); a different outstanding ride
// with the same composite key is not.
func (s *Set) Track(r models.Ride) error {
	for id, st := range s.byID {
		if id == r.ID || st.Ride.Status.Terminal() {
			continue
		}
		if st.Ride.Key == r.Key {
			return fmt.Errorf("%w: %s/%d", ErrDuplicateKey, r.Key.RequesterID, r.Key.RequestIndex)
		}
	}
	s.byID[r.ID] = &State{Ride: r}
	return nil
}

// Get returns a copy of the tracked state.
func (s *Set) Get(rideID string) (State, bool) {
	st, ok := s.byID[rideID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Active returns copies of every non-terminal ride, in no defined order.
func (s *Set) Active() []State {
	var out []State
	for _, st := range s.byID {
		if !st.Ride.Status.Terminal() {
			out = append(out, *st)
		}
	}
	return out
}

// Remove drops a ride from the set. Removing an absent ride is a no-op.
func (s *Set) Remove(rideID string) {
	delete(s.byID, rideID)
}

// SetOTP replaces a live ride's passcode (reissue). Terminal rides keep
// their cleared state.
func (s *Set) SetOTP(rideID, otp string) bool {
	st, ok := s.byID[rideID]
	if !ok || st.Ride.Status.Terminal() {
		return false
	}
	st.Ride.OTP = otp
	return true
}

// Reset drops everything. Used by the offline reset.
func (s *Set) Reset() {
	s.byID = make(map[string]*State)
}

// Len reports how many rides are tracked, terminal ones included.
func (s *Set) Len() int { return len(s.byID) }

// Apply runs one event through the reducer.
func (s *Set) Apply(ev Event) Outcome {
	st, ok := s.byID[ev.rideID()]
	if !ok {
		return Outcome{}
	}
	out := Outcome{Previous: st.Ride.Status, Current: st.Ride.Status, Ride: st.Ride}

	switch e := ev.(type) {
	case Accepted:
		if st.Ride.Status != models.StatusRequested {
			return out
		}
		st.Ride.Status = models.StatusAccepted
		st.Ride.DriverID = e.DriverID
		st.Ride.DriverName = e.DriverName
		st.Ride.DriverPhotoURL = e.DriverPhotoURL
		at := e.At
		st.Ride.AcceptedAt = &at
		s.maybeBegin(st)

	case Reached:
		if st.Ride.Status.Terminal() || st.ReachedRider {
			return out
		}
		st.ReachedRider = true
		s.maybeBegin(st)

	case OTPConfirmed:
		if st.Ride.Status.Terminal() || st.OTPVerified {
			return out
		}
		st.OTPVerified = true
		s.maybeBegin(st)

	case Cancelled:
		if st.Ride.Status.Terminal() {
			return out
		}
		st.Ride.Status = models.StatusCancelled
		s.clearEphemeral(st)

	case Rejected:
		if st.Ride.Status != models.StatusRequested {
			return out
		}
		st.Ride.Status = models.StatusRejected

	case Completed:
		if st.Ride.Status != models.StatusOngoing {
			return out
		}
		st.Ride.Status = models.StatusCompleted
		s.clearEphemeral(st)
	}

	out.Changed = true
	out.Current = st.Ride.Status
	out.Ride = st.Ride
	return out
}

// maybeBegin takes the accepted ride ongoing once both gate flags hold.
// Either flag alone never changes status.
func (s *Set) maybeBegin(st *State) {
	if st.Ride.Status == models.StatusAccepted && st.ReachedRider && st.OTPVerified {
		st.Ride.Status = models.StatusOngoing
	}
}

// clearEphemeral drops per-ride secrets and flags once the ride can no
// longer use them.
func (s *Set) clearEphemeral(st *State) {
	st.Ride.OTP = ""
	st.ReachedRider = false
	st.OTPVerified = false
}
