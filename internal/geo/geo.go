// Package geo provides great-circle distance math for the dispatch and
// proximity gates. Pure functions, no state.
package geo

import (
	"math"

	"github.com/example/ridelink/internal/models"
)

// Earth radius in kilometres; the coordination thresholds (candidate gate,
// arrival gate) are expressed in km so distances stay in km throughout.
const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometres between two
// coordinates.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// DistanceKm is Haversine over LatLng values.
func DistanceKm(a, b models.LatLng) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}
