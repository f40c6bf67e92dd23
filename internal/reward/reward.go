// Package reward maps a measured speedup and an optional readability
// preference to a bounded scalar reward.
package reward

import (
	"strings"
	"time"
)

const (
	// FastThreshold is the smallest speedup that earns a proportional reward.
	FastThreshold = 1.1
	// SlowThreshold is the largest speedup treated as a regression.
	SlowThreshold = 0.95
	// NeutralReward is paid when the rewrite is neither faster nor slower.
	NeutralReward = 0.5
	// SaturationSpeedup is the speedup at which the reward reaches 1.
	SaturationSpeedup = 10.0
)

// Preference values returned by a readability judge.
const (
	PreferOriginal  = "A"
	PreferOptimized = "B"
	PreferTie       = "tie"
)

var baseBonus = map[string]float64{
	PreferOptimized: 0.2,
	PreferTie:       0.0,
	PreferOriginal:  -0.2,
}

var confidenceMultiplier = map[string]float64{
	"high":   1.0,
	"medium": 0.75,
	"low":    0.5,
}

const defaultConfidenceMultiplier = 0.5

// Speedup returns original/optimized. A zero optimized duration counts as
// no measurable change.
func Speedup(original, optimized time.Duration) float64 {
	if optimized <= 0 {
		return 1.0
	}
	return float64(original) / float64(optimized)
}

// Score returns the base reward for speedup.
func Score(speedup float64) float64 {
	switch {
	case speedup >= FastThreshold:
		if r := speedup / SaturationSpeedup; r < 1.0 {
			return r
		}
		return 1.0
	case speedup > SlowThreshold:
		return NeutralReward
	default:
		return 0
	}
}

// ReadabilityBonus converts a judge verdict into a signed adjustment in
// [-0.2, 0.2]. Unknown preferences yield 0 and unknown confidences use the
// low multiplier.
func ReadabilityBonus(preference, confidence string) float64 {
	base, ok := baseBonus[normalizePreference(preference)]
	if !ok {
		return 0
	}
	mult, ok := confidenceMultiplier[strings.ToLower(strings.TrimSpace(confidence))]
	if !ok {
		mult = defaultConfidenceMultiplier
	}
	return base * mult
}

// Clamp bounds r to [0, 1].
func Clamp(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

func normalizePreference(p string) string {
	p = strings.TrimSpace(p)
	if strings.EqualFold(p, PreferTie) {
		return PreferTie
	}
	return strings.ToUpper(p)
}
