package risk

// DeviceEvidence says which device signals were available for an attempt.
type DeviceEvidence struct {
	DeviceID       string
	HasFingerprint bool
	HasRender      bool
	HasAudio       bool
	HasPlatform    bool
}

// DeviceSignal scores device evidence. A missing device id scores a flat 0.8;
// otherwise each missing probe adds 0.2.
func DeviceSignal(ev DeviceEvidence) Signal {
	if ev.DeviceID == "" {
		return Signal{
			Score:             0.8,
			Reasons:           []string{"device could not be identified"},
			SuggestsChallenge: true,
		}
	}

	var sig Signal
	missing := func(ok bool, reason string) {
		if !ok {
			sig.Score += 0.2
			sig.Reasons = append(sig.Reasons, reason)
		}
	}
	missing(ev.HasFingerprint, "no stable device fingerprint")
	missing(ev.HasRender, "rendering probe unavailable")
	missing(ev.HasAudio, "audio probe unavailable")
	missing(ev.HasPlatform, "platform unknown")

	sig.Score = Clamp(sig.Score)
	sig.SuggestsChallenge = sig.Score >= 0.6
	return sig
}

// DeviceScore is the numeric part of DeviceSignal.
func DeviceScore(ev DeviceEvidence) float64 {
	return DeviceSignal(ev).Score
}
