// Package velocity enforces rolling-window limits on how often and how much
// a user pays.
package velocity

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/mbd888/riskgate/internal/history"
	"github.com/mbd888/riskgate/internal/risk"
)

// Config holds the per-user ceilings. Amounts are in minor units.
type Config struct {
	MaxPerHour       int           `json:"maxPerHour"`
	MaxPerDay        int           `json:"maxPerDay"`
	MaxAmountPerDay  int64         `json:"maxAmountPerDay"`
	MaxMethodsPerDay int           `json:"maxMethodsPerDay"`
	Cooldown         time.Duration `json:"cooldown"`
}

// DefaultConfig returns the default ceilings.
func DefaultConfig() Config {
	return Config{
		MaxPerHour:       3,
		MaxPerDay:        10,
		MaxAmountPerDay:  200000,
		MaxMethodsPerDay: 3,
		Cooldown:         time.Minute,
	}
}

// Partial scores per violated dimension.
const (
	weightHourly   = 0.2
	weightDaily    = 0.2
	weightAmount   = 0.3
	weightMethods  = 0.2
	weightCooldown = 0.1
)

// Result is a velocity verdict.
type Result struct {
	risk.Signal
	Allow bool `json:"allow"`
	// CooldownRemaining is how long the user must wait, zero when not cooling down.
	CooldownRemaining time.Duration `json:"cooldownRemaining"`
	HourCount         int           `json:"hourCount"`
	DayCount          int           `json:"dayCount"`
	DayAmount         int64         `json:"dayAmount"`
	DayMethods        int           `json:"dayMethods"`
}

// CooldownSeconds rounds the remaining cooldown up to whole seconds.
func (r Result) CooldownSeconds() int {
	return int(math.Ceil(r.CooldownRemaining.Seconds()))
}

// Checker evaluates attempts against a Config.
type Checker struct {
	cfg Config
}

// NewChecker creates a checker.
func NewChecker(cfg Config) *Checker {
	return &Checker{cfg: cfg}
}

// Check scores an attempt of amount via method at time now against the
// user's successful history. Counts include the current attempt.
func (c *Checker) Check(userID string, amount int64, method string, entries []history.Entry, now time.Time) Result {
	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)

	res := Result{
		HourCount: 1,
		DayCount:  1,
		DayAmount: amount,
	}
	methods := []string{method}
	var last time.Time

	for _, e := range history.Successful(entries, userID) {
		if e.At.After(now) {
			continue
		}
		if e.At.After(last) {
			last = e.At
		}
		if !e.At.After(dayAgo) {
			continue
		}
		res.DayCount++
		res.DayAmount += e.Amount
		if !slices.Contains(methods, e.Method) {
			methods = append(methods, e.Method)
		}
		if e.At.After(hourAgo) {
			res.HourCount++
		}
	}
	res.DayMethods = len(methods)

	var score float64
	violate := func(w float64, reason string) {
		score += w
		res.Reasons = append(res.Reasons, reason)
	}

	if c.cfg.MaxPerHour > 0 && res.HourCount > c.cfg.MaxPerHour {
		violate(weightHourly, fmt.Sprintf("hourly limit exceeded: %d payments in the last hour (limit %d)", res.HourCount, c.cfg.MaxPerHour))
	}
	if c.cfg.MaxPerDay > 0 && res.DayCount > c.cfg.MaxPerDay {
		violate(weightDaily, fmt.Sprintf("daily limit exceeded: %d payments in 24 hours (limit %d)", res.DayCount, c.cfg.MaxPerDay))
	}
	if c.cfg.MaxAmountPerDay > 0 && res.DayAmount > c.cfg.MaxAmountPerDay {
		violate(weightAmount, fmt.Sprintf("daily amount exceeded: %d in 24 hours (limit %d)", res.DayAmount, c.cfg.MaxAmountPerDay))
	}
	if c.cfg.MaxMethodsPerDay > 0 && res.DayMethods > c.cfg.MaxMethodsPerDay {
		violate(weightMethods, fmt.Sprintf("too many payment methods: %d in 24 hours (limit %d)", res.DayMethods, c.cfg.MaxMethodsPerDay))
	}
	if c.cfg.Cooldown > 0 && !last.IsZero() {
		if since := now.Sub(last); since < c.cfg.Cooldown {
			res.CooldownRemaining = c.cfg.Cooldown - since
			violate(weightCooldown, fmt.Sprintf("cooldown active: retry in %ds", res.CooldownSeconds()))
		}
	}

	res.Score = risk.Clamp(score)
	res.Allow = len(res.Reasons) == 0
	res.SuggestsChallenge = !res.Allow
	res.SuggestsBlock = res.Score >= 0.7
	return res
}
