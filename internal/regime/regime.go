// Package regime classifies the session's market trend from a reference
// index. The classification is computed once at engine start and never
// changes intra-session.
package regime

import (
	"context"

	"github.com/rs/zerolog"
)

// State is the session-scoped market trend classification.
type State string

const (
	Bull State = "BULL"
	Bear State = "BEAR"
)

// samples is the lookback for the trend return: the latest close against
// the close five sessions back.
const samples = 5

// IndexSource fetches recent daily closes of a reference index, oldest
// first.
type IndexSource interface {
	IndexCloses(ctx context.Context, indexCode string, count int) ([]float64, error)
}

// Classify returns Bull when the 5-sample return of the close series is
// positive, Bear otherwise. The series must be oldest first.
func Classify(closes []float64) State {
	if len(closes) < samples {
		return Bull
	}
	last := closes[len(closes)-1]
	base := closes[len(closes)-samples]
	if base <= 0 {
		return Bull
	}
	if last/base-1 > 0 {
		return Bull
	}
	return Bear
}

// Detect fetches the reference index and classifies the session. A fetch
// failure defaults to Bull, which selects the wider stop-loss tier.
func Detect(ctx context.Context, src IndexSource, indexCode string, logger zerolog.Logger) State {
	closes, err := src.IndexCloses(ctx, indexCode, samples*2)
	if err != nil {
		logger.Warn().Err(err).Str("index", indexCode).
			Msg("regime detection failed, defaulting to BULL")
		return Bull
	}
	if len(closes) < samples {
		logger.Warn().Int("closes", len(closes)).Str("index", indexCode).
			Msg("not enough index history, defaulting to BULL")
		return Bull
	}
	state := Classify(closes)
	logger.Info().Str("regime", string(state)).Str("index", indexCode).Msg("market regime detected")
	return state
}
