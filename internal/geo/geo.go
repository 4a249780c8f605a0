// Package geo contains pure geographic computation helpers used by matching.
package geo

import (
	"math"
	"sort"
	"time"

	"dispatchd/internal/types"
)

const earthRadiusKm = 6371.0

// DefaultSpeedKmh is the urban average used for arrival estimates when no
// speed is configured.
const DefaultSpeedKmh = 30.0

// DistanceKm returns the great-circle distance in kilometres between a and b.
func DistanceKm(a, b types.Point) float64 {
	return haversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

// haversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// EstimateArrival converts a straight-line distance into a travel time at
// speedKmh, never less than one minute.
func EstimateArrival(distanceKm, speedKmh float64) time.Duration {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	d := time.Duration(distanceKm / speedKmh * float64(time.Hour))
	if d < time.Minute {
		return time.Minute
	}
	return d.Round(time.Minute)
}

// Candidate is a driver with its distance from a pickup point.
type Candidate struct {
	DriverID   types.ID
	DistanceKm float64
}

// WithinRadius keeps candidates at most radiusKm away.
func WithinRadius(cands []Candidate, radiusKm float64) []Candidate {
	out := cands[:0:0]
	for _, c := range cands {
		if c.DistanceKm <= radiusKm {
			out = append(out, c)
		}
	}
	return out
}

// Rank sorts candidates nearest first; equal distances are ordered by driver
// id so the choice is deterministic.
func Rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].DistanceKm != cands[j].DistanceKm {
			return cands[i].DistanceKm < cands[j].DistanceKm
		}
		return cands[i].DriverID < cands[j].DriverID
	})
}
