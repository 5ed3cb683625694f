package threeds

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/open-policy-agent/opa/rego"
)

// Decision is the input to a 3-D Secure requirement policy.
type Decision struct {
	Card            Card
	Amount          int64
	Currency        string
	DeviceRiskScore float64
}

// Policy decides whether a card payment must go through 3-D Secure. It
// encodes business risk appetite, so deployments swap it freely.
type Policy interface {
	ShouldRequire(ctx context.Context, d Decision) (bool, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, d Decision) (bool, error)

func (f PolicyFunc) ShouldRequire(ctx context.Context, d Decision) (bool, error) {
	return f(ctx, d)
}

// ThresholdPolicy skips 3-D Secure below Floor and for test cards, requires
// it at or above Ceiling, and in between requires it when the device looks
// risky or with probability Probability.
type ThresholdPolicy struct {
	Floor   int64
	Ceiling int64
	// TestCards holds card numbers or BINs exempt from 3-D Secure.
	TestCards         []string
	DeviceRiskTrigger float64
	Probability       float64
	// Sample returns a value in [0, 1). Nil uses crypto/rand.
	Sample func() float64
}

// DefaultThresholdPolicy returns the default policy for JPY amounts.
func DefaultThresholdPolicy() *ThresholdPolicy {
	return &ThresholdPolicy{
		Floor:             3000,
		Ceiling:           100000,
		TestCards:         []string{"4242424242424242", "4000000000003220"},
		DeviceRiskTrigger: 0.5,
		Probability:       0.3,
	}
}

func (p *ThresholdPolicy) isTestCard(c Card) bool {
	return slices.Contains(p.TestCards, c.digits()) || slices.Contains(p.TestCards, c.BIN())
}

func (p *ThresholdPolicy) ShouldRequire(_ context.Context, d Decision) (bool, error) {
	switch {
	case d.Amount < p.Floor:
		return false, nil
	case p.isTestCard(d.Card):
		return false, nil
	case d.Amount >= p.Ceiling:
		return true, nil
	case p.DeviceRiskTrigger > 0 && d.DeviceRiskScore >= p.DeviceRiskTrigger:
		return true, nil
	}
	sample := p.Sample
	if sample == nil {
		sample = cryptoFloat
	}
	return sample() < p.Probability, nil
}

func cryptoFloat() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0 // fail towards requiring 3-D Secure
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}

// RegoQuery is the rule a Rego policy must define.
const RegoQuery = "data.riskgate.threeds.require"

// DefaultRegoModule mirrors ThresholdPolicy without the random component.
// Floor, ceiling and test cards arrive in the input.
const DefaultRegoModule = `package riskgate.threeds

import rego.v1

default require := false

exempt if input.amount < input.floor

exempt if input.card.bin in input.test_cards

exempt if input.card.number in input.test_cards

require if {
	not exempt
	input.amount >= input.ceiling
}

require if {
	not exempt
	input.device_risk_score >= 0.5
}
`

// RegoPolicy evaluates an OPA Rego module.
type RegoPolicy struct {
	query     rego.PreparedEvalQuery
	floor     int64
	ceiling   int64
	testCards []string
}

// NewRegoPolicy compiles module. An empty module uses DefaultRegoModule.
// Limits are passed to the module as input.
func NewRegoPolicy(ctx context.Context, module string, limits *ThresholdPolicy) (*RegoPolicy, error) {
	if module == "" {
		module = DefaultRegoModule
	}
	if limits == nil {
		limits = DefaultThresholdPolicy()
	}
	pq, err := rego.New(
		rego.Query(RegoQuery),
		rego.Module("threeds.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile 3-D Secure policy: %w", err)
	}
	return &RegoPolicy{query: pq, floor: limits.Floor, ceiling: limits.Ceiling, testCards: limits.TestCards}, nil
}

// LoadRegoPolicy compiles the policy files at paths.
func LoadRegoPolicy(ctx context.Context, limits *ThresholdPolicy, paths ...string) (*RegoPolicy, error) {
	if limits == nil {
		limits = DefaultThresholdPolicy()
	}
	pq, err := rego.New(
		rego.Query(RegoQuery),
		rego.Load(paths, nil),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("load 3-D Secure policy: %w", err)
	}
	return &RegoPolicy{query: pq, floor: limits.Floor, ceiling: limits.Ceiling, testCards: limits.TestCards}, nil
}

func (p *RegoPolicy) ShouldRequire(ctx context.Context, d Decision) (bool, error) {
	testCards := p.testCards
	if testCards == nil {
		testCards = []string{}
	}
	input := map[string]any{
		"amount":            d.Amount,
		"currency":          d.Currency,
		"device_risk_score": d.DeviceRiskScore,
		"floor":             p.floor,
		"ceiling":           p.ceiling,
		"test_cards":        testCards,
		"card": map[string]any{
			"bin":    d.Card.BIN(),
			"number": d.Card.digits(),
			"brand":  d.Card.Brand,
		},
	}

	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("evaluate 3-D Secure policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, errors.New("3-D Secure policy produced no decision")
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("3-D Secure policy returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return v, nil
}
