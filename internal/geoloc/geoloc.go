// Package geoloc abstracts position acquisition. Reads are bounded by a
// fixed timeout; failure degrades the features that need a fix instead of
// crashing the client.
package geoloc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ridelink/internal/models"
)

// ErrUnavailable means no fix could be acquired within the deadline.
var ErrUnavailable = errors.New("geoloc: position unavailable")

// Source yields the device's current position.
type Source interface {
	Current(ctx context.Context) (models.Location, error)
}

// Timed wraps a source with the acquisition deadline.
type Timed struct {
	src     Source
	timeout time.Duration
}

// NewTimed bounds every read of src by timeout.
func NewTimed(src Source, timeout time.Duration) *Timed {
	return &Timed{src: src, timeout: timeout}
}

// Current reads one fix. A deadline overrun maps to ErrUnavailable.
func (t *Timed) Current(ctx context.Context) (models.Location, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	loc, err := t.src.Current(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Location{}, ErrUnavailable
		}
		return models.Location{}, fmt.Errorf("geoloc: %w", err)
	}
	return loc, nil
}

// Static always reports one fixed position. Used by the binaries when a
// real position feed is not wired, and by tests.
type Static struct {
	Loc models.Location
}

func (s Static) Current(ctx context.Context) (models.Location, error) {
	if err := ctx.Err(); err != nil {
		return models.Location{}, err
	}
	return s.Loc, nil
}

// Scripted replays a fixed sequence of fixes, then repeats the last one.
// Test helper for movement scenarios.
type Scripted struct {
	Fixes []models.Location
	next  int
}

func (s *Scripted) Current(ctx context.Context) (models.Location, error) {
	if err := ctx.Err(); err != nil {
		return models.Location{}, err
	}
	if len(s.Fixes) == 0 {
		return models.Location{}, ErrUnavailable
	}
	loc := s.Fixes[s.next]
	if s.next < len(s.Fixes)-1 {
		s.next++
	}
	return loc, nil
}
