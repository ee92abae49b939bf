package geo

import (
	"math"
	"testing"
)

func TestDistanceSymmetric(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
	}{
		{"new york <-> london", 40.7128, -74.0060, 51.5074, -0.1278},
		{"tokyo <-> sydney", 35.6762, 139.6503, -33.8688, 151.2093},
		{"equator <-> pole", 0, 0, 90, 0},
		{"antimeridian", 10, 179.9, 10, -179.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ab := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			ba := Distance(tt.lat2, tt.lon2, tt.lat1, tt.lon1)
			if ab != ba {
				t.Errorf("distance not symmetric: %v != %v", ab, ba)
			}
		})
	}
}

func TestDistanceIdentity(t *testing.T) {
	if d := Distance(48.8566, 2.3522, 48.8566, 2.3522); d != 0 {
		t.Errorf("distance(A, A) = %v, want 0", d)
	}
}

func TestDistanceKnownValues(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64 // km
		tol                    float64
	}{
		{"new york <-> london", 40.7128, -74.0060, 51.5074, -0.1278, 5570, 10},
		{"paris <-> berlin", 48.8566, 2.3522, 52.5200, 13.4050, 878, 5},
		{"one degree of latitude", 0, 0, 1, 0, 111.19, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("Distance = %v, want %v ± %v", got, tt.want, tt.tol)
			}
		})
	}
}

func TestEstimateLatency(t *testing.T) {
	tests := []struct {
		km   float64
		want int
	}{
		{0, 10},
		{9.9, 10},
		{10, 11},
		{1234, 133},
		{5570.2, 567},
	}
	for _, tt := range tests {
		if got := EstimateLatency(tt.km); got != tt.want {
			t.Errorf("EstimateLatency(%v) = %d, want %d", tt.km, got, tt.want)
		}
	}
}
