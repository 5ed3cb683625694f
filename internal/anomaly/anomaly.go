// Package anomaly flags payment attempts that look unlike a user's normal
// behaviour, plus any attempt matching a known fraud pattern.
package anomaly

import (
	"fmt"

	"github.com/mbd888/riskgate/internal/risk"
)

// Pattern is a named fraud predicate over an attempt.
type Pattern struct {
	Name  string
	Match func(f risk.Features) bool
}

// HighFrequency matches users with more than n successful payments in the
// last hour.
func HighFrequency(n int) Pattern {
	return Pattern{
		Name: "high_frequency",
		Match: func(f risk.Features) bool {
			return f.History.LastHourCount > n
		},
	}
}

// NewMethodLargeAmount matches a first use of a payment method for an
// amount at or above min, by a user with prior history.
func NewMethodLargeAmount(min int64) Pattern {
	return Pattern{
		Name: "new_method_large_amount",
		Match: func(f risk.Features) bool {
			return f.History.Count > 0 && !f.History.HasMethod(f.Method) && f.Amount >= min
		},
	}
}

// Config tunes the detector. Amounts are in minor units.
type Config struct {
	UsualMaxAmount int64 `json:"usualMaxAmount"`
	// Hours in [UnusualHourStart, UnusualHourEnd] are unusual.
	UnusualHourStart int     `json:"unusualHourStart"`
	UnusualHourEnd   int     `json:"unusualHourEnd"`
	AverageMultiple  float64 `json:"averageMultiple"`
	// Threshold is the block score. Verification triggers at
	// Threshold*VerificationFraction.
	Threshold            float64 `json:"threshold"`
	VerificationFraction float64 `json:"verificationFraction"`
}

// DefaultConfig returns the default detector tuning.
func DefaultConfig() Config {
	return Config{
		UsualMaxAmount:       100000,
		UnusualHourStart:     0,
		UnusualHourEnd:       5,
		AverageMultiple:      5,
		Threshold:            0.7,
		VerificationFraction: 0.7,
	}
}

// DefaultPatterns are the fraud patterns enabled out of the box.
func DefaultPatterns() []Pattern {
	return []Pattern{
		HighFrequency(3),
		NewMethodLargeAmount(50000),
	}
}

// Detector applies additive anomaly rules.
type Detector struct {
	cfg      Config
	patterns []Pattern
}

// NewDetector creates a detector. A nil patterns slice means DefaultPatterns.
func NewDetector(cfg Config, patterns []Pattern) *Detector {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	return &Detector{cfg: cfg, patterns: patterns}
}

func (d *Detector) unusualHour(h int) bool {
	if d.cfg.UnusualHourStart <= d.cfg.UnusualHourEnd {
		return h >= d.cfg.UnusualHourStart && h <= d.cfg.UnusualHourEnd
	}
	// window wraps midnight, e.g. 22..4
	return h >= d.cfg.UnusualHourStart || h <= d.cfg.UnusualHourEnd
}

// Detect scores an attempt. It never fails: adverse findings are results.
func (d *Detector) Detect(f risk.Features) risk.Signal {
	var score float64
	var reasons []string
	add := func(v float64, reason string) {
		score += v
		reasons = append(reasons, reason)
	}

	if d.cfg.UsualMaxAmount > 0 && f.Amount > d.cfg.UsualMaxAmount {
		add(0.3, "amount above usual maximum")
	}
	if d.unusualHour(f.Hour) {
		add(0.2, fmt.Sprintf("unusual time of day (%02d:00)", f.Hour))
	}
	if f.History.Count == 0 {
		add(0.2, "no prior transaction history")
	}
	if f.DeviceID == "" {
		add(0.3, "missing device id")
	}
	if f.History.Count > 0 && f.History.AverageAmount > 0 && d.cfg.AverageMultiple > 0 &&
		float64(f.Amount) > d.cfg.AverageMultiple*float64(f.History.AverageAmount) {
		add(0.2, fmt.Sprintf("amount over %.0fx the user's average", d.cfg.AverageMultiple))
	}
	for _, p := range d.patterns {
		if p.Match != nil && p.Match(f) {
			add(0.4, "matches fraud pattern "+p.Name)
		}
	}

	score = risk.Clamp(score)
	return risk.Signal{
		Score:             score,
		Reasons:           reasons,
		SuggestsChallenge: score >= d.cfg.Threshold*d.cfg.VerificationFraction,
		SuggestsBlock:     score >= d.cfg.Threshold,
	}
}
