package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskgate/internal/risk"
)

var (
	tokyo = Point("JP", "Tokyo", "Tokyo", 35.6762, 139.6503)
	osaka = Point("JP", "Osaka", "Osaka", 34.6937, 135.5023)
	seoul = Point("KR", "Seoul", "Seoul", 37.5665, 126.9780)
)

func TestDistance_KnownPair(t *testing.T) {
	d := Distance(35.6762, 139.6503, 34.6937, 135.5023)
	assert.InDelta(t, 397, d, 5, "Tokyo to Osaka")
	assert.Zero(t, Distance(10, 10, 10, 10))
}

func TestDistance_Symmetric(t *testing.T) {
	pairs := [][4]float64{
		{35.6762, 139.6503, 37.5665, 126.9780},
		{-33.8688, 151.2093, 51.5074, -0.1278},
		{0, 179.9, 0, -179.9},
		{89.9, 0, -89.9, 180},
	}
	for _, p := range pairs {
		ab := Distance(p[0], p[1], p[2], p[3])
		ba := Distance(p[2], p[3], p[0], p[1])
		assert.InDelta(t, ab, ba, 1e-9)
	}
}

func TestDistanceBetween_NeedsCoordinates(t *testing.T) {
	_, ok := DistanceBetween(tokyo, Location{Country: "JP"})
	assert.False(t, ok)

	d, ok := DistanceBetween(tokyo, seoul)
	assert.True(t, ok)
	assert.Greater(t, d, 1000.0)
}

func TestAnalyze_SameLocation(t *testing.T) {
	sig := Analyze(tokyo, &tokyo, DefaultConfig())
	assert.Zero(t, sig.Score)
	assert.Empty(t, sig.Reasons)
	assert.Equal(t, risk.LevelLow, sig.Level())
}

func TestAnalyze_Rules(t *testing.T) {
	cfg := Config{
		HighRiskCountries:     []string{"XX"},
		MediumRiskCountries:   []string{"yy"},
		MaxExpectedDistanceKm: 500,
	}
	jpNoCoords := Location{Country: "JP", Region: "Tokyo", City: "Tokyo"}

	tests := []struct {
		name       string
		current    Location
		registered *Location
		want       float64
	}{
		{"no registered baseline", jpNoCoords, nil, 0.1},
		{"unknown current and no baseline", Location{}, nil, 0.2},
		{"high-risk country", Location{Country: "XX"}, &Location{Country: "XX"}, 0.5},
		{"medium-risk country case-insensitive", Location{Country: "YY"}, &Location{Country: "YY"}, 0.3},
		{"city differs", Location{Country: "JP", Region: "Tokyo", City: "Hachioji"}, &jpNoCoords, 0.1},
		{"region and city differ", Location{Country: "JP", Region: "Osaka", City: "Osaka"}, &jpNoCoords, 0.3},
		{"country region city differ", Location{Country: "KR", Region: "Seoul", City: "Seoul"}, &jpNoCoords, 0.7},
		// 397km < 500km, no distance component
		{"near by distance", osaka, &tokyo, 0.3},
		{"high-risk abroad capped", Point("XX", "A", "B", 0, 0), &tokyo, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Analyze(tt.current, tt.registered, cfg)
			assert.InDelta(t, tt.want, sig.Score, 1e-9, "reasons: %v", sig.Reasons)
		})
	}
}

func TestAnalyze_DistanceComponent(t *testing.T) {
	cfg := DefaultConfig()

	// Same labels so only distance contributes.
	a := Point("JP", "R", "C", 35.6762, 139.6503)
	sapporo := Point("JP", "R", "C", 43.0618, 141.3545) // ~830km
	near := Point("JP", "R", "C", 35.4437, 139.6380)    // Yokohama, ~26km

	assert.Zero(t, Analyze(near, &a, cfg).Score)

	sig := Analyze(sapporo, &a, cfg)
	assert.InDelta(t, 0.5, sig.Score, 1e-9)
	require.Len(t, sig.Reasons, 1)
	assert.Contains(t, sig.Reasons[0], "km from registered location")

	cfg.MaxExpectedDistanceKm = 0
	assert.Zero(t, Analyze(sapporo, &a, cfg).Score, "distance rule disabled")
}

func TestAnalyze_Deterministic(t *testing.T) {
	cfg := DefaultConfig()
	first := Analyze(seoul, &tokyo, cfg)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Analyze(seoul, &tokyo, cfg))
	}
	assert.True(t, first.SuggestsBlock)
	assert.Equal(t, risk.LevelHigh, first.Level())
}
