// Package geo scores payment attempts by where they come from relative to
// the user's registered location.
package geo

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/mbd888/riskgate/internal/risk"
)

// Location is a resolved place. Coordinates are optional.
type Location struct {
	Country   string   `json:"country,omitempty"`
	Region    string   `json:"region,omitempty"`
	City      string   `json:"city,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Known reports whether the location carries at least a country.
func (l Location) Known() bool {
	return l.Country != ""
}

// Point builds a Location with coordinates.
func Point(country, region, city string, lat, lon float64) Location {
	return Location{Country: country, Region: region, City: city, Latitude: &lat, Longitude: &lon}
}

// Config tunes the analyzer.
type Config struct {
	HighRiskCountries     []string `json:"highRiskCountries"`
	MediumRiskCountries   []string `json:"mediumRiskCountries"`
	MaxExpectedDistanceKm float64  `json:"maxExpectedDistanceKm"`
}

// DefaultConfig returns conservative defaults with empty country lists.
func DefaultConfig() Config {
	return Config{
		MaxExpectedDistanceKm: 500,
	}
}

const earthRadiusKm = 6371.0

// Distance returns the great-circle distance in km between two coordinates.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistanceBetween returns the distance between two located points and false
// when either lacks coordinates.
func DistanceBetween(a, b Location) (float64, bool) {
	if !a.HasCoordinates() || !b.HasCoordinates() {
		return 0, false
	}
	return Distance(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude), true
}

func inList(list []string, country string) bool {
	return slices.ContainsFunc(list, func(c string) bool {
		return strings.EqualFold(c, country)
	})
}

func differs(a, b string) bool {
	return a != "" && b != "" && !strings.EqualFold(a, b)
}

// Analyze scores the current location against the registered one. Rules are
// additive and the result is capped at 1. registered may be nil.
func Analyze(current Location, registered *Location, cfg Config) risk.Signal {
	var score float64
	var reasons []string
	add := func(v float64, reason string) {
		score += v
		reasons = append(reasons, reason)
	}

	if !current.Known() {
		add(0.1, "location unknown")
	} else {
		switch {
		case inList(cfg.HighRiskCountries, current.Country):
			add(0.5, fmt.Sprintf("high-risk country %s", strings.ToUpper(current.Country)))
		case inList(cfg.MediumRiskCountries, current.Country):
			add(0.3, fmt.Sprintf("medium-risk country %s", strings.ToUpper(current.Country)))
		}
	}

	if registered == nil {
		add(0.1, "no registered location")
	} else {
		if differs(current.Country, registered.Country) {
			add(0.4, "country differs from registered country")
		}
		if differs(current.Region, registered.Region) {
			add(0.2, "region differs from registered region")
		}
		if differs(current.City, registered.City) {
			add(0.1, "city differs from registered city")
		}
		if d, ok := DistanceBetween(current, *registered); ok && cfg.MaxExpectedDistanceKm > 0 && d > cfg.MaxExpectedDistanceKm {
			add(math.Min(0.5, d/(2*cfg.MaxExpectedDistanceKm)),
				fmt.Sprintf("%.0f km from registered location", d))
		}
	}

	score = risk.Clamp(score)
	return risk.Signal{
		Score:             score,
		Reasons:           reasons,
		SuggestsChallenge: score >= 0.4,
		SuggestsBlock:     score >= 0.7,
	}
}
