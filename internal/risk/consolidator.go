package risk

import (
	"errors"
	"fmt"
)

// Weights for the overall score. They should sum to 1.
type Weights struct {
	Anomaly  float64 `json:"anomaly"`
	Geo      float64 `json:"geo"`
	Velocity float64 `json:"velocity"`
	Device   float64 `json:"device"`
}

// Thresholds over the overall score. Each decision is true at score >= its
// threshold, so Verification <= ManualReview <= Block keeps them monotonic.
type Thresholds struct {
	Verification float64 `json:"verification"`
	ManualReview float64 `json:"manualReview"`
	Block        float64 `json:"block"`
}

// Config is the single home for scoring weights and decision thresholds.
type Config struct {
	Weights    Weights    `json:"weights"`
	Thresholds Thresholds `json:"thresholds"`
}

// DefaultConfig returns the production weights and thresholds.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Anomaly:  0.4,
			Geo:      0.2,
			Velocity: 0.25,
			Device:   0.15,
		},
		Thresholds: Thresholds{
			Verification: 0.4,
			ManualReview: 0.6,
			Block:        0.8,
		},
	}
}

var ErrInvalidConfig = errors.New("risk: invalid config")

// Validate rejects negative weights and non-monotonic thresholds.
func (c Config) Validate() error {
	w := c.Weights
	if w.Anomaly < 0 || w.Geo < 0 || w.Velocity < 0 || w.Device < 0 {
		return fmt.Errorf("%w: weights must be non-negative", ErrInvalidConfig)
	}
	if sum := w.Anomaly + w.Geo + w.Velocity + w.Device; sum <= 0 || sum > 1.0001 {
		return fmt.Errorf("%w: weights sum to %.3f, want (0, 1]", ErrInvalidConfig, sum)
	}
	t := c.Thresholds
	if t.Verification < 0 || t.Block > 1 {
		return fmt.Errorf("%w: thresholds must lie in [0, 1]", ErrInvalidConfig)
	}
	if t.Verification > t.ManualReview || t.ManualReview > t.Block {
		return fmt.Errorf("%w: need verification <= manual review <= block, got %.2f/%.2f/%.2f",
			ErrInvalidConfig, t.Verification, t.ManualReview, t.Block)
	}
	return nil
}

// Guidance attached to threshold decisions.
const (
	ActionContactSupport = "contact support to complete this payment"
	ActionManualReview   = "payment held for manual review"
	ActionVerify         = "complete additional verification"
	ActionWaitCooldown   = "wait a moment before retrying"
)

// scoreEpsilon absorbs float error in the weighted sum, far below the
// three decimals a score is shown with.
const scoreEpsilon = 1e-9

// Consolidator combines scorer signals into an Assessment.
type Consolidator struct {
	cfg Config
}

// NewConsolidator creates a consolidator with the given config.
func NewConsolidator(cfg Config) *Consolidator {
	return &Consolidator{cfg: cfg}
}

// Config returns the consolidator's configuration.
func (c *Consolidator) Config() Config {
	return c.cfg
}

// Consolidate is pure: it performs no I/O and leaves ID, UserID and
// CreatedAt for the caller to stamp.
func (c *Consolidator) Consolidate(anomaly, geo, velocity, device Signal) *Assessment {
	w := c.cfg.Weights
	raw := Clamp(Clamp(anomaly.Score)*w.Anomaly +
		Clamp(geo.Score)*w.Geo +
		Clamp(velocity.Score)*w.Velocity +
		Clamp(device.Score)*w.Device)
	reaches := func(threshold float64) bool { return raw+scoreEpsilon >= threshold }

	t := c.cfg.Thresholds
	a := &Assessment{
		OverallScore:                   Round(raw),
		Level:                          LevelFor(raw),
		RequiresAdditionalVerification: reaches(t.Verification),
		RequiresManualReview:           reaches(t.ManualReview),
		BlockTransaction:               reaches(t.Block),
		Breakdown: map[string]float64{
			FactorAnomaly:  Round(Clamp(anomaly.Score)),
			FactorGeo:      Round(Clamp(geo.Score)),
			FactorVelocity: Round(Clamp(velocity.Score)),
			FactorDevice:   Round(Clamp(device.Score)),
		},
	}

	seen := make(map[string]bool)
	for _, s := range []Signal{anomaly, geo, velocity, device} {
		for _, r := range s.Reasons {
			if !seen[r] {
				seen[r] = true
				a.Reasons = append(a.Reasons, r)
			}
		}
	}

	switch {
	case a.BlockTransaction:
		a.SuggestedActions = append(a.SuggestedActions, ActionContactSupport)
	case a.RequiresManualReview:
		a.SuggestedActions = append(a.SuggestedActions, ActionManualReview)
	case a.RequiresAdditionalVerification:
		a.SuggestedActions = append(a.SuggestedActions, ActionVerify)
	}
	if velocity.SuggestsChallenge && !a.BlockTransaction {
		a.SuggestedActions = append(a.SuggestedActions, ActionWaitCooldown)
	}
	if a.Reasons == nil {
		a.Reasons = []string{}
	}
	if a.SuggestedActions == nil {
		a.SuggestedActions = []string{}
	}
	return a
}
