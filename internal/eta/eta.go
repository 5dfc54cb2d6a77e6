// Package eta estimates ambulance arrival times from a dispatch reference
// point. It is a pure function of its inputs and the clock; it never fails.
package eta

import (
	"math"
	"time"
)

const (
	earthRadiusKm = 6371

	// Mixed city/highway conditions.
	avgSpeedKmh = 50

	// Dense urban traffic within 10 km of the victim, lighter beyond.
	nearTrafficFactor = 1.2
	farTrafficFactor  = 1.1
	nearThresholdKm   = 10

	dispatchOverheadMin = 5
	minimumETAMin       = 5
)

type Coordinate struct {
	Lat float64
	Lon float64
}

type Result struct {
	DistanceKm       float64
	ETAMinutes       int
	EstimatedArrival string
	TrafficFactor    float64
}

// Estimate computes distance and ETA from the dispatch reference to the
// target. A zero or non-finite target falls back to the reference itself,
// so the call cannot fail on bad coordinates.
func Estimate(reference, target Coordinate) Result {
	return estimateAt(reference, target, time.Now())
}

const (
	fallbackETAMin     = 15
	fallbackDistanceKm = 5.0
)

func estimateAt(reference, target Coordinate, now time.Time) Result {
	if !finite(reference) || !finite(target) {
		return Result{
			DistanceKm:       fallbackDistanceKm,
			ETAMinutes:       fallbackETAMin,
			EstimatedArrival: now.Add(fallbackETAMin * time.Minute).Format("03:04 PM"),
			TrafficFactor:    1.0,
		}
	}
	if !valid(target) {
		target = reference
	}
	distanceKm := Haversine(reference, target)

	minutes := distanceKm / avgSpeedKmh * 60
	factor := farTrafficFactor
	if distanceKm < nearThresholdKm {
		factor = nearTrafficFactor
	}
	minutes *= factor
	minutes += dispatchOverheadMin

	etaMin := int(minutes)
	if etaMin < minimumETAMin {
		etaMin = minimumETAMin
	}

	return Result{
		DistanceKm:       math.Round(distanceKm*100) / 100,
		ETAMinutes:       etaMin,
		EstimatedArrival: now.Add(time.Duration(etaMin) * time.Minute).Format("03:04 PM"),
		TrafficFactor:    factor,
	}
}

// Haversine returns the great-circle distance in kilometers between two
// coordinates on a spherical Earth.
func Haversine(a, b Coordinate) float64 {
	latDiff := radians(b.Lat - a.Lat)
	lonDiff := radians(b.Lon - a.Lon)

	h := math.Sin(latDiff/2)*math.Sin(latDiff/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*
			math.Sin(lonDiff/2)*math.Sin(lonDiff/2)

	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func finite(c Coordinate) bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lon) && !math.IsInf(c.Lat, 0) && !math.IsInf(c.Lon, 0)
}

func valid(c Coordinate) bool {
	if c.Lat == 0 && c.Lon == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}
