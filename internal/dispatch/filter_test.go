package dispatch

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/example/ridelink/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func candidate(id, requester string, index int, pickup models.LatLng) models.Ride {
	return models.Ride{
		ID:     id,
		Key:    models.RideKey{RequesterID: requester, RequestIndex: index},
		Pickup: models.Location{LatLng: pickup},
		Status: models.StatusRequested,
	}
}

func newTestFilter() *Filter {
	return NewFilter(5.0, 0.1, quietLogger())
}

func TestAdmitWithinRadius(t *testing.T) {
	f := newTestFilter()
	f.SetLocation(models.LatLng{Lat: 12.905, Lng: 77.605})

	// Roughly 0.8 km away.
	ok, err := f.Admit(candidate("r1", "u1", 0, models.LatLng{Lat: 12.90, Lng: 77.60}))
	if err != nil || !ok {
		t.Fatalf("expected admission, got ok=%v err=%v", ok, err)
	}
	if got := f.Pending(); len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("unexpected pending set: %+v", got)
	}
}

func TestAdmitRejectsBeyondRadius(t *testing.T) {
	f := newTestFilter()
	f.SetLocation(models.LatLng{Lat: 12.90, Lng: 77.60})

	// Roughly 1 degree of latitude: ~111 km.
	ok, err := f.Admit(candidate("r1", "u1", 0, models.LatLng{Lat: 13.90, Lng: 77.60}))
	if err != nil || ok {
		t.Fatalf("expected rejection, got ok=%v err=%v", ok, err)
	}
	if len(f.Pending()) != 0 {
		t.Fatal("rejected candidate must not be kept")
	}
}

func TestAdmitBoundaryInclusive(t *testing.T) {
	f := newTestFilter()
	f.SetLocation(models.LatLng{Lat: 0, Lng: 0})

	// One degree of longitude at the equator is ~111.19 km, so 0.044966
	// degrees is within a hair of exactly 5 km; nudge inside and outside.
	just := 5.0 / 111.19
	ok, err := f.Admit(candidate("in", "u1", 0, models.LatLng{Lat: 0, Lng: just * 0.999}))
	if err != nil || !ok {
		t.Fatalf("just-inside candidate must be admitted: ok=%v err=%v", ok, err)
	}
	ok, err = f.Admit(candidate("out", "u2", 0, models.LatLng{Lat: 0, Lng: just * 1.01}))
	if err != nil || ok {
		t.Fatalf("just-outside candidate must be dropped: ok=%v err=%v", ok, err)
	}
}

func TestAdmitDedupsByCompositeKey(t *testing.T) {
	f := newTestFilter()
	f.SetLocation(models.LatLng{Lat: 12.90, Lng: 77.60})

	c := candidate("r1", "u1", 0, models.LatLng{Lat: 12.901, Lng: 77.601})
	if ok, _ := f.Admit(c); !ok {
		t.Fatal("first broadcast must be admitted")
	}
	if ok, _ := f.Admit(c); ok {
		t.Fatal("rebroadcast must be dropped")
	}
	if len(f.Pending()) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(f.Pending()))
	}

	// A new request index from the same rider is a distinct candidate.
	if ok, _ := f.Admit(candidate("r2", "u1", 1, models.LatLng{Lat: 12.901, Lng: 77.601})); !ok {
		t.Fatal("distinct request index must be admitted")
	}
}

func TestAdmitWithoutLocationDeclines(t *testing.T) {
	f := newTestFilter()
	ok, err := f.Admit(candidate("r1", "u1", 0, models.LatLng{Lat: 12.90, Lng: 77.60}))
	if ok || !errors.Is(err, ErrNoLocation) {
		t.Fatalf("expected ErrNoLocation, got ok=%v err=%v", ok, err)
	}
}

func TestNewestFirstOrdering(t *testing.T) {
	f := newTestFilter()
	f.SetLocation(models.LatLng{Lat: 12.90, Lng: 77.60})

	for i, id := range []string{"a", "b", "c"} {
		if ok, _ := f.Admit(candidate(id, "u"+id, i, models.LatLng{Lat: 12.901, Lng: 77.601})); !ok {
			t.Fatalf("candidate %s not admitted", id)
		}
	}
	got := f.Pending()
	want := []string{"c", "b", "a"}
	for i, w := range want {
		if got[i].ID != w {
			t.Fatalf("position %d: expected %s, got %s", i, w, got[i].ID)
		}
	}
}

func TestRemoveIdempotent(t *testing.T) {
	f := newTestFilter()
	f.SetLocation(models.LatLng{Lat: 12.90, Lng: 77.60})
	c := candidate("r1", "u1", 0, models.LatLng{Lat: 12.901, Lng: 77.601})
	f.Admit(c)

	if !f.Remove("r1") {
		t.Fatal("first removal must report true")
	}
	if f.Remove("r1") {
		t.Fatal("second removal must be a no-op")
	}

	// After removal the key is admissible again.
	if ok, _ := f.Admit(c); !ok {
		t.Fatal("key must be free after removal")
	}
}

func TestProximityOneShot(t *testing.T) {
	f := newTestFilter()
	accepted := []models.Ride{{
		ID:     "r1",
		Key:    models.RideKey{RequesterID: "u1"},
		Pickup: models.Location{LatLng: models.LatLng{Lat: 12.90, Lng: 77.60}},
		Status: models.StatusAccepted,
	}}

	// ~80 m east of the pickup.
	near := models.LatLng{Lat: 12.90, Lng: 77.60073}
	fired := f.ObserveLocation(near, accepted)
	if len(fired) != 1 || fired[0].RideID != "r1" {
		t.Fatalf("expected one arrival, got %+v", fired)
	}
	if fired[0].DistanceKm > 0.1 {
		t.Fatalf("fired beyond arrival radius: %f km", fired[0].DistanceKm)
	}

	// Move away and come back: never re-fires.
	far := models.LatLng{Lat: 12.95, Lng: 77.65}
	if fired := f.ObserveLocation(far, accepted); len(fired) != 0 {
		t.Fatalf("far fix fired: %+v", fired)
	}
	if fired := f.ObserveLocation(near, accepted); len(fired) != 0 {
		t.Fatalf("return fix re-fired: %+v", fired)
	}
}

func TestProximityIgnoresDistantPickups(t *testing.T) {
	f := newTestFilter()
	accepted := []models.Ride{{
		ID:     "r1",
		Pickup: models.Location{LatLng: models.LatLng{Lat: 12.90, Lng: 77.60}},
	}}
	// ~500 m away: outside the 100 m arrival radius.
	if fired := f.ObserveLocation(models.LatLng{Lat: 12.9045, Lng: 77.60}, accepted); len(fired) != 0 {
		t.Fatalf("unexpected arrival: %+v", fired)
	}
}

func TestResetClearsEverything(t *testing.T) {
	f := newTestFilter()
	f.SetLocation(models.LatLng{Lat: 12.90, Lng: 77.60})
	f.Admit(candidate("r1", "u1", 0, models.LatLng{Lat: 12.901, Lng: 77.601}))
	f.ObserveLocation(models.LatLng{Lat: 12.90, Lng: 77.60}, []models.Ride{{
		ID:     "r2",
		Pickup: models.Location{LatLng: models.LatLng{Lat: 12.90, Lng: 77.60}},
	}})

	f.Reset()
	if len(f.Pending()) != 0 {
		t.Fatal("reset must clear pending candidates")
	}
	// Proximity marks are gone: the same ride can fire again next time it
	// is held.
	fired := f.ObserveLocation(models.LatLng{Lat: 12.90, Lng: 77.60}, []models.Ride{{
		ID:     "r2",
		Pickup: models.Location{LatLng: models.LatLng{Lat: 12.90, Lng: 77.60}},
	}})
	if len(fired) != 1 {
		t.Fatalf("expected fresh one-shot after reset, got %+v", fired)
	}
}
