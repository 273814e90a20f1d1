// Package media guards the in-ride image exchange: local validation before
// any byte leaves the device, and a per-ride append-only log deduplicated
// by value so echoes of one's own upload and fresh duplicates collapse the
// same way.
package media

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/ridelink/internal/models"
	"github.com/example/ridelink/internal/observability"
)

var (
	// ErrNotImage rejects any content type outside image/*.
	ErrNotImage = errors.New("media: content type is not an image")
	// ErrTooLarge rejects payloads over the size cap.
	ErrTooLarge = errors.New("media: file exceeds size limit")
	// ErrRideNotExchangeable rejects uploads outside accepted/ongoing.
	ErrRideNotExchangeable = errors.New("media: ride does not permit media exchange")
)

// Validate enforces the two local upload gates. It never inspects bytes;
// the declared content type and the size are what the user selected.
func Validate(contentType string, size int64, maxBytes int64) error {
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("%w: %q", ErrNotImage, contentType)
	}
	if size > maxBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, size, maxBytes)
	}
	return nil
}

// ValidateRide checks that the ride is in a state where media may move.
func ValidateRide(status models.RideStatus) error {
	if status != models.StatusAccepted && status != models.StatusOngoing {
		return fmt.Errorf("%w: status %s", ErrRideNotExchangeable, status)
	}
	return nil
}

type dedupKey struct {
	url      string
	senderID string
}

// Log is the per-ride ordered media record. Entries keep arrival order;
// duplicates by (URL, SenderID) are dropped regardless of origin. Not safe
// for concurrent use; the owning actor serializes access.
type Log struct {
	byRide map[string][]models.MediaRef
	seen   map[string]map[dedupKey]struct{}
}

// NewLog returns an empty media log.
func NewLog() *Log {
	return &Log{
		byRide: make(map[string][]models.MediaRef),
		seen:   make(map[string]map[dedupKey]struct{}),
	}
}

// Append merges one received or echoed reference into the ride's log.
// It reports whether the entry was new.
func (l *Log) Append(ref models.MediaRef) bool {
	k := dedupKey{url: ref.URL, senderID: ref.SenderID}
	seen, ok := l.seen[ref.RideID]
	if !ok {
		seen = make(map[dedupKey]struct{})
		l.seen[ref.RideID] = seen
	}
	if _, dup := seen[k]; dup {
		observability.MediaDeduped.Inc()
		return false
	}
	seen[k] = struct{}{}
	l.byRide[ref.RideID] = append(l.byRide[ref.RideID], ref)
	observability.MediaAccepted.Inc()
	return true
}

// ForRide returns the ride's entries in arrival order.
func (l *Log) ForRide(rideID string) []models.MediaRef {
	src := l.byRide[rideID]
	out := make([]models.MediaRef, len(src))
	copy(out, src)
	return out
}

// ClearRide drops one ride's entries, e.g. on completion or cancellation.
func (l *Log) ClearRide(rideID string) {
	delete(l.byRide, rideID)
	delete(l.seen, rideID)
}

// Reset drops every ride's entries. Part of the offline reset.
func (l *Log) Reset() {
	l.byRide = make(map[string][]models.MediaRef)
	l.seen = make(map[string]map[dedupKey]struct{})
}

// Rides lists the ride ids with at least one entry, sorted for stable
// status output.
func (l *Log) Rides() []string {
	out := make([]string, 0, len(l.byRide))
	for id := range l.byRide {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
