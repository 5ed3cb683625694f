// Package risk holds the shared scoring vocabulary for payment authorization
// and the consolidator that turns per-scorer signals into one assessment.
//
// Four scorers (anomaly, geo, velocity, device) each emit a Signal in [0,1].
// The Consolidator combines them with configurable weights and derives the
// verification, manual-review and block decisions from fixed thresholds.
// Higher scores mean higher risk.
package risk

import (
	"context"
	"math"
	"slices"
	"time"
)

// Level is a coarse label for a score.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// LevelFor maps a score to its label: >= 0.7 high, >= 0.4 medium, else low.
func LevelFor(score float64) Level {
	switch {
	case score >= 0.7:
		return LevelHigh
	case score >= 0.4:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Signal is the output of one scorer for one payment attempt.
type Signal struct {
	Score             float64  `json:"score"`
	Reasons           []string `json:"reasons,omitempty"`
	SuggestsChallenge bool     `json:"suggestsChallenge"`
	SuggestsBlock     bool     `json:"suggestsBlock"`
}

// Level returns the label for the signal's score.
func (s Signal) Level() Level {
	return LevelFor(s.Score)
}

// Clamp bounds a score to [0, 1].
func Clamp(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	return min(score, 1)
}

// Round rounds a score to three decimals for display. Decisions compare
// the unrounded score.
func Round(score float64) float64 {
	return math.Round(score*1000) / 1000
}

// HistorySummary is the per-user history view every scorer reads.
type HistorySummary struct {
	Count         int       `json:"count"`
	AverageAmount int64     `json:"averageAmount"`
	LastAt        time.Time `json:"lastAt,omitempty"`
	Methods       []string  `json:"methods,omitempty"`
	LastHourCount int       `json:"lastHourCount"`
}

// HasMethod reports whether the user has paid with method before.
func (h HistorySummary) HasMethod(method string) bool {
	return slices.Contains(h.Methods, method)
}

// Features is an immutable snapshot of one payment attempt.
// Amount is in minor units.
type Features struct {
	UserID   string         `json:"userId"`
	Amount   int64          `json:"amount"`
	Method   string         `json:"method"`
	DeviceID string         `json:"deviceId,omitempty"`
	IP       string         `json:"ip,omitempty"`
	Hour     int            `json:"hour"`
	Weekday  int            `json:"weekday"`
	History  HistorySummary `json:"history"`
}

// NewFeatures builds the snapshot for an attempt made at the given time.
func NewFeatures(userID string, amount int64, method, deviceID, ip string, at time.Time, history HistorySummary) Features {
	return Features{
		UserID:   userID,
		Amount:   amount,
		Method:   method,
		DeviceID: deviceID,
		IP:       ip,
		Hour:     at.Hour(),
		Weekday:  int(at.Weekday()),
		History:  history,
	}
}

// Breakdown keys.
const (
	FactorAnomaly  = "anomaly"
	FactorGeo      = "geo"
	FactorVelocity = "velocity"
	FactorDevice   = "device"
)

// Assessment is the consolidated verdict for one attempt. It is never
// mutated after it has been recorded.
type Assessment struct {
	ID                             string             `json:"id"`
	UserID                         string             `json:"userId"`
	OverallScore                   float64            `json:"overallScore"`
	Level                          Level              `json:"level"`
	RequiresManualReview           bool               `json:"requiresManualReview"`
	RequiresAdditionalVerification bool               `json:"requiresAdditionalVerification"`
	BlockTransaction               bool               `json:"blockTransaction"`
	Breakdown                      map[string]float64 `json:"breakdown"`
	Reasons                        []string           `json:"reasons"`
	SuggestedActions               []string           `json:"suggestedActions"`
	CreatedAt                      time.Time          `json:"createdAt"`
}

// Clone returns a deep copy.
func (a *Assessment) Clone() *Assessment {
	c := *a
	c.Breakdown = make(map[string]float64, len(a.Breakdown))
	for k, v := range a.Breakdown {
		c.Breakdown[k] = v
	}
	c.Reasons = slices.Clone(a.Reasons)
	c.SuggestedActions = slices.Clone(a.SuggestedActions)
	return &c
}

// MaxAuditEntriesPerUser caps the audit trail kept per user.
const MaxAuditEntriesPerUser = 10

// AuditStore persists assessments for manual review. Implementations keep
// at most MaxAuditEntriesPerUser entries per user, pruning the oldest.
type AuditStore interface {
	Record(ctx context.Context, a *Assessment) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Assessment, error)
}
