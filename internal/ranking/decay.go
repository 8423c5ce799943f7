package ranking

import (
	"math"
	"time"
)

// DecayProfile selects how fast a signal's freshness weight decays.
type DecayProfile string

const (
	// DecayFast suits news sentiment, stale within days.
	DecayFast DecayProfile = "fast"
	// DecayNormal suits technical signals.
	DecayNormal DecayProfile = "normal"
	// DecaySlow suits fundamentals, relevant for weeks.
	DecaySlow DecayProfile = "slow"
)

// Decay rates (lambda, per day) for the freshness profiles.
const (
	lambdaFast   = 0.15
	lambdaNormal = 0.07
	lambdaSlow   = 0.03
)

// FreshnessWeight returns exp(-lambda * ageInDays) for the given
// profile. It weights signal freshness across the system and is
// independent of DecayedScore, which has its own contract.
func FreshnessWeight(age time.Duration, profile DecayProfile) float64 {
	lambda := lambdaNormal
	switch profile {
	case DecayFast:
		lambda = lambdaFast
	case DecaySlow:
		lambda = lambdaSlow
	}
	days := age.Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-lambda * days)
}
