// Package device collects best-effort device signals and derives a stable
// device id from them. Raw signals are never persisted, only the id.
package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mbd888/riskgate/internal/risk"
)

// Signal keys understood by the collector.
const (
	KeyUserAgent           = "userAgent"
	KeyLocale              = "locale"
	KeyTimezoneOffset      = "timezoneOffset"
	KeyScreen              = "screen"
	KeyViewport            = "viewport"
	KeyHardwareConcurrency = "hardwareConcurrency"
	KeyPlatform            = "platform"
	KeyCanvas              = "canvas"
	KeyWebGL               = "webgl"
	KeyAudio               = "audio"
)

// idKeys is the fixed, ordered subset hashed into a device id. Viewport is
// excluded because it changes with window size.
var idKeys = []string{
	KeyUserAgent,
	KeyLocale,
	KeyTimezoneOffset,
	KeyScreen,
	KeyHardwareConcurrency,
	KeyPlatform,
	KeyCanvas,
	KeyWebGL,
	KeyAudio,
}

// ErrSignalCollection reports a failed or partial collection. It never
// aborts authorization; missing signals only raise the device score.
var ErrSignalCollection = errors.New("device: signal collection failed")

// Signals is a bag of raw device signals.
type Signals map[string]any

func (s Signals) has(key string) bool {
	v, ok := s[key]
	if !ok || v == nil {
		return false
	}
	if str, ok := v.(string); ok {
		return str != ""
	}
	return true
}

// Evidence reports which probes were available for scoring.
func (s Signals) Evidence(deviceID string) risk.DeviceEvidence {
	return risk.DeviceEvidence{
		DeviceID:       deviceID,
		HasFingerprint: s.has(KeyCanvas),
		HasRender:      s.has(KeyWebGL),
		HasAudio:       s.has(KeyAudio),
		HasPlatform:    s.has(KeyPlatform),
	}
}

// DeriveID hashes the ordered id keys into a stable identifier. It returns
// "" when none of the id keys are present.
func DeriveID(s Signals) string {
	var b strings.Builder
	present := 0
	for _, k := range idKeys {
		if !s.has(k) {
			b.WriteString(k + "=\n")
			continue
		}
		present++
		fmt.Fprintf(&b, "%s=%v\n", k, s[k])
	}
	if present == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(b.String()))
	return "dev_" + hex.EncodeToString(sum[:16])
}

// Source supplies raw signals from the execution environment.
type Source interface {
	Collect(ctx context.Context) (Signals, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Signals, error)

func (f SourceFunc) Collect(ctx context.Context) (Signals, error) {
	return f(ctx)
}

// StaticSource always returns the same signals.
type StaticSource Signals

func (s StaticSource) Collect(context.Context) (Signals, error) {
	out := make(Signals, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}
