// Package trust computes 0-100 reputation scores for merchants and
// resources from aggregate transaction history.
//
// Scores are derived on demand, never persisted. A new merchant starts at a
// neutral baseline and earns score through settled volume, earnings, and
// account age; lost and open disputes subtract. Both the positive and
// negative contributions are bounded, so the score stays in [0,100] and a
// single metric can never dominate.
package trust

import (
	"math"
	"time"

	"github.com/dpayne7/escrowd/internal/escrow"
)

// Baseline is the neutral starting score for an account with no history.
const Baseline = 50.0

// Contribution caps. Positives sum to at most 50 above baseline; dispute
// penalties reach at most 45 below it.
const (
	maxVolumeBonus   = 20.0
	maxEarningsBonus = 20.0
	maxAgeBonus      = 10.0

	lostDisputePenalty    = 8.0
	maxLostDisputePenalty = 30.0
	openDisputePenalty    = 5.0
	maxOpenDisputePenalty = 15.0
)

// merchantWeight is how much of a resource's score comes from its own
// history versus its owning merchant's.
const (
	ownWeight      = 0.7
	merchantWeight = 0.3
)

// Label is the human-readable score band.
type Label string

const (
	LabelExcellent Label = "Excellent" // 85-100
	LabelGood      Label = "Good"      // 70-84
	LabelFair      Label = "Fair"      // 50-69
	LabelPoor      Label = "Poor"      // 0-49
)

// Score is a computed reputation score.
type Score struct {
	Score        float64   `json:"score"` // 0-100, one decimal
	Label        Label     `json:"label"`
	CalculatedAt time.Time `json:"calculatedAt"`

	// Inputs, echoed for transparency.
	AccessCount   int     `json:"accessCount"`
	SettledCount  int     `json:"settledCount"`
	RefundedCount int     `json:"refundedCount"`
	OpenDisputes  int     `json:"openDisputes"`
	TotalEarnings float64 `json:"totalEarnings"`
}

// MerchantScore computes a merchant's reputation from its transaction
// aggregate.
func MerchantScore(agg *escrow.Aggregate, now time.Time) *Score {
	score := Baseline

	// Volume: log scale, caps around 1000 settlements.
	if agg.SettledCount > 0 {
		score += math.Min(maxVolumeBonus, 6.7*math.Log10(float64(agg.SettledCount)+1))
	}

	// Earnings: log scale, caps around 10k units.
	if agg.TotalEarnings > 0 {
		score += math.Min(maxEarningsBonus, 5*math.Log10(agg.TotalEarnings+1))
	}

	// Age: log scale on days, caps around one year.
	if !agg.FirstAt.IsZero() {
		days := now.Sub(agg.FirstAt).Hours() / 24
		if days > 0 {
			score += math.Min(maxAgeBonus, 3.9*math.Log10(days+1))
		}
	}

	score -= math.Min(maxLostDisputePenalty, lostDisputePenalty*float64(agg.RefundedCount))
	score -= math.Min(maxOpenDisputePenalty, openDisputePenalty*float64(agg.OpenDisputes))

	return newScore(score, agg, now)
}

// ResourceScore computes a resource's reputation from its own aggregate
// folded with its owning merchant's score.
func ResourceScore(own *escrow.Aggregate, merchant *Score, now time.Time) *Score {
	base := MerchantScore(own, now)
	combined := ownWeight*base.Score + merchantWeight*merchant.Score
	s := *base
	s.Score = round1(clamp(combined))
	s.Label = labelFor(s.Score)
	return &s
}

func newScore(raw float64, agg *escrow.Aggregate, now time.Time) *Score {
	v := round1(clamp(raw))
	return &Score{
		Score:         v,
		Label:         labelFor(v),
		CalculatedAt:  now,
		AccessCount:   agg.AccessCount,
		SettledCount:  agg.SettledCount,
		RefundedCount: agg.RefundedCount,
		OpenDisputes:  agg.OpenDisputes,
		TotalEarnings: agg.TotalEarnings,
	}
}

func labelFor(score float64) Label {
	switch {
	case score >= 85:
		return LabelExcellent
	case score >= 70:
		return LabelGood
	case score >= 50:
		return LabelFair
	default:
		return LabelPoor
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
