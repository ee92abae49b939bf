// Package geo implements the great-circle distance used to rank measurement
// servers by proximity.
package geo

import "math"

// EarthRadiusKm is the radius used by the haversine formula. Selection
// results must be reproducible, so this value is fixed.
const EarthRadiusKm = 6371.0

// Distance returns the haversine distance in kilometers between two
// (latitude, longitude) pairs in decimal degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// EstimateLatency derives a round-trip latency estimate in milliseconds from
// a distance in kilometers. This is a simulated placeholder used in directory
// listings, not a measured quantity.
func EstimateLatency(km float64) int {
	return int(math.Floor(km*0.1)) + 10
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
