// Package signal scores live snapshots against externally supplied model
// confidence. Everything here is pure: no I/O, no clocks, so entry decisions
// can be tested against literal snapshot fixtures.
package signal

import "kospi-sniper-bot/internal/kiwoom"

// Checklist keys reported by Score.
const (
	CheckImbalance = "depth_imbalance"
	CheckIntensity = "trade_intensity"
	CheckLiquidity = "liquidity"
)

// Depth imbalance bounds: a book below the lower bound shows no directional
// pressure, above the upper bound usually means one large resting order
// rather than broad participation.
const (
	imbalanceMin = 1.5
	imbalanceMax = 5.0
)

// Score component weights.
const (
	probWeight         = 50.0
	imbalanceBonus     = 25.0
	intensityBonusHigh = 25.0
	intensityBonusMid  = 15.0
	intensityHighFloor = 110.0
	intensityMidFloor  = 100.0
)

// Config holds the entry thresholds.
type Config struct {
	// EntryScore is the composite score needed to enter.
	EntryScore float64
	// HighProbThreshold splits candidates into high- and low-confidence
	// tiers for the shooting-intensity shortcut.
	HighProbThreshold float64
	// ShootingIntensity is the trade-intensity shortcut for
	// high-confidence candidates; ShootingIntensityLowProb for the rest.
	ShootingIntensity        float64
	ShootingIntensityLowProb float64
	// MinNotional is the liquidity gate: resting depth valued at the last
	// price must reach this floor for any signal to be valid.
	MinNotional float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		EntryScore:               80,
		HighProbThreshold:        0.80,
		ShootingIntensity:        100,
		ShootingIntensityLowProb: 115,
		MinNotional:              50_000_000,
	}
}

// Evaluation is the outcome of scoring one snapshot.
type Evaluation struct {
	Score     float64
	Checklist map[string]bool
	// LiquidityOK is the independent liquidity gate; when false the signal
	// is invalid regardless of score.
	LiquidityOK bool
	// Shooting is true when trade intensity alone clears the
	// confidence-tiered shortcut threshold.
	Shooting bool
	// Entry is the final entry predicate.
	Entry bool
}

// Score computes the composite confidence score and a pass checklist from a
// snapshot and the external model probability in [0,1].
func (c Config) Score(snap kiwoom.MarketSnapshot, externalProb float64) (float64, map[string]bool) {
	score := externalProb * probWeight
	checklist := map[string]bool{
		CheckImbalance: false,
		CheckIntensity: false,
		CheckLiquidity: snap.Notional() >= c.MinNotional,
	}

	if snap.BidDepthTotal > 0 {
		ratio := snap.AskDepthTotal / snap.BidDepthTotal
		if ratio >= imbalanceMin && ratio <= imbalanceMax {
			score += imbalanceBonus
			checklist[CheckImbalance] = true
		}
	}

	switch {
	case snap.TradeIntensity >= intensityHighFloor:
		score += intensityBonusHigh
		checklist[CheckIntensity] = true
	case snap.TradeIntensity >= intensityMidFloor:
		score += intensityBonusMid
		checklist[CheckIntensity] = true
	}

	return score, checklist
}

// Evaluate runs the full entry predicate: composite score or the
// shooting-intensity shortcut, gated by minimum liquidity.
func (c Config) Evaluate(snap kiwoom.MarketSnapshot, externalProb float64) Evaluation {
	score, checklist := c.Score(snap, externalProb)

	shootingThreshold := c.ShootingIntensityLowProb
	if externalProb >= c.HighProbThreshold {
		shootingThreshold = c.ShootingIntensity
	}

	ev := Evaluation{
		Score:       score,
		Checklist:   checklist,
		LiquidityOK: checklist[CheckLiquidity],
		Shooting:    snap.TradeIntensity >= shootingThreshold,
	}
	ev.Entry = ev.LiquidityOK && (score >= c.EntryScore || ev.Shooting)
	return ev
}
