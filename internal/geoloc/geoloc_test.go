package geoloc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ridelink/internal/models"
)

type hangingSource struct{}

func (hangingSource) Current(ctx context.Context) (models.Location, error) {
	<-ctx.Done()
	return models.Location{}, ctx.Err()
}

func TestTimedMapsDeadlineToUnavailable(t *testing.T) {
	src := NewTimed(hangingSource{}, 10*time.Millisecond)
	_, err := src.Current(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestTimedPassesThroughFix(t *testing.T) {
	want := models.Location{LatLng: models.LatLng{Lat: 12.9, Lng: 77.6}, Address: "MG Road"}
	src := NewTimed(Static{Loc: want}, time.Second)
	got, err := src.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestScriptedRepeatsLastFix(t *testing.T) {
	s := &Scripted{Fixes: []models.Location{
		{LatLng: models.LatLng{Lat: 1}},
		{LatLng: models.LatLng{Lat: 2}},
	}}
	want := []float64{1, 2, 2, 2}
	for i, w := range want {
		loc, err := s.Current(context.Background())
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if loc.Lat != w {
			t.Fatalf("read %d: expected lat %f, got %f", i, w, loc.Lat)
		}
	}
}

func TestScriptedEmptyIsUnavailable(t *testing.T) {
	s := &Scripted{}
	if _, err := s.Current(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
