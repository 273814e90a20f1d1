package media

import (
	"errors"
	"testing"
	"time"

	"github.com/example/ridelink/internal/models"
)

const maxBytes = 5 << 20

func TestValidateAcceptsImages(t *testing.T) {
	for _, ct := range []string{"image/png", "image/jpeg", "image/webp"} {
		if err := Validate(ct, 1024, maxBytes); err != nil {
			t.Fatalf("%s: unexpected error %v", ct, err)
		}
	}
}

func TestValidateRejectsNonImage(t *testing.T) {
	for _, ct := range []string{"application/pdf", "text/plain", "video/mp4", ""} {
		if err := Validate(ct, 1024, maxBytes); !errors.Is(err, ErrNotImage) {
			t.Fatalf("%s: expected ErrNotImage, got %v", ct, err)
		}
	}
}

func TestValidateSizeBoundary(t *testing.T) {
	if err := Validate("image/png", maxBytes, maxBytes); err != nil {
		t.Fatalf("exactly at the cap must pass: %v", err)
	}
	if err := Validate("image/png", maxBytes+1, maxBytes); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("over the cap must fail, got %v", err)
	}
}

func TestValidateRideStates(t *testing.T) {
	for _, st := range []models.RideStatus{models.StatusAccepted, models.StatusOngoing} {
		if err := ValidateRide(st); err != nil {
			t.Fatalf("%s: unexpected error %v", st, err)
		}
	}
	for _, st := range []models.RideStatus{
		models.StatusRequested, models.StatusCompleted,
		models.StatusCancelled, models.StatusRejected,
	} {
		if err := ValidateRide(st); !errors.Is(err, ErrRideNotExchangeable) {
			t.Fatalf("%s: expected ErrRideNotExchangeable, got %v", st, err)
		}
	}
}

func ref(rideID, url, sender string) models.MediaRef {
	return models.MediaRef{RideID: rideID, URL: url, SenderID: sender, SentAt: time.Now()}
}

func TestLogDedupByValue(t *testing.T) {
	l := NewLog()
	if !l.Append(ref("r1", "https://cdn/x.png", "u1")) {
		t.Fatal("first append must be new")
	}
	// Same reference and sender again: an echo of our own upload or a
	// duplicate push, either way exactly one entry.
	if l.Append(ref("r1", "https://cdn/x.png", "u1")) {
		t.Fatal("duplicate (URL, sender) must be dropped")
	}
	if got := l.ForRide("r1"); len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}

	// Same URL from a different sender is distinct.
	if !l.Append(ref("r1", "https://cdn/x.png", "u2")) {
		t.Fatal("different sender must be a new entry")
	}
}

func TestLogKeepsArrivalOrderPerRide(t *testing.T) {
	l := NewLog()
	l.Append(ref("r1", "https://cdn/a.png", "u1"))
	l.Append(ref("r2", "https://cdn/z.png", "u2"))
	l.Append(ref("r1", "https://cdn/b.png", "u2"))
	l.Append(ref("r1", "https://cdn/c.png", "u1"))

	got := l.ForRide("r1")
	want := []string{"https://cdn/a.png", "https://cdn/b.png", "https://cdn/c.png"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].URL != w {
			t.Fatalf("position %d: expected %s, got %s", i, w, got[i].URL)
		}
	}
}

func TestLogClearRide(t *testing.T) {
	l := NewLog()
	l.Append(ref("r1", "https://cdn/a.png", "u1"))
	l.Append(ref("r2", "https://cdn/b.png", "u1"))

	l.ClearRide("r1")
	if len(l.ForRide("r1")) != 0 {
		t.Fatal("cleared ride must be empty")
	}
	if len(l.ForRide("r2")) != 1 {
		t.Fatal("other rides must be untouched")
	}
	// Clearing also frees the dedup keys.
	if !l.Append(ref("r1", "https://cdn/a.png", "u1")) {
		t.Fatal("reference must be appendable after clear")
	}
}

func TestLogReset(t *testing.T) {
	l := NewLog()
	l.Append(ref("r1", "https://cdn/a.png", "u1"))
	l.Append(ref("r2", "https://cdn/b.png", "u1"))
	l.Reset()
	if got := l.Rides(); len(got) != 0 {
		t.Fatalf("reset left rides: %v", got)
	}
}
