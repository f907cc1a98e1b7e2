// Package scanner supplies intraday replenishment candidates. The overnight
// screener keeps writing recommendations into PostgreSQL during the
// session; the scanner surfaces the fresh ones to the engine.
package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"kospi-sniper-bot/internal/database"
	"kospi-sniper-bot/internal/engine"
)

// Config controls candidate filtering.
type Config struct {
	// MinProb filters candidates by external confidence.
	MinProb float64
	// MaxCandidates caps how many candidates one scan returns.
	MaxCandidates int
}

// Scanner reads replenishment candidates from the recommendation store.
type Scanner struct {
	repo   *database.Repository
	cfg    Config
	logger zerolog.Logger

	now func() time.Time
}

// New creates a scanner over the recommendation repository.
func New(repo *database.Repository, cfg Config, logger zerolog.Logger) *Scanner {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 10
	}
	return &Scanner{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With().Str("component", "scanner").Logger(),
		now:    time.Now,
	}
}

// Scan returns today's recommendations at or above the confidence floor.
// The engine deduplicates against symbols it already tracks.
func (s *Scanner) Scan(ctx context.Context) ([]engine.Candidate, error) {
	cands, err := s.repo.Candidates(ctx, s.now(), s.cfg.MinProb)
	if err != nil {
		return nil, fmt.Errorf("candidate query: %w", err)
	}

	if len(cands) > s.cfg.MaxCandidates {
		cands = cands[:s.cfg.MaxCandidates]
	}

	s.logger.Debug().Int("count", len(cands)).Msg("scan complete")
	return cands, nil
}
