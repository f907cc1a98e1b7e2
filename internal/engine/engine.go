// Package engine drives the intraday trading session: a single-threaded
// control loop that routes fresh market snapshots through each symbol's
// lifecycle state machine and talks to the order gateway synchronously.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"kospi-sniper-bot/internal/kiwoom"
	"kospi-sniper-bot/internal/metrics"
	"kospi-sniper-bot/internal/regime"
	"kospi-sniper-bot/internal/signal"
)

// MarketData is the read side of the market feed. Subscribe is fire and
// forget; registration failures surface through the feed's own error path.
type MarketData interface {
	Subscribe(codes []string)
	GetSnapshot(code string) (kiwoom.MarketSnapshot, bool)
	Healthy(maxStaleness time.Duration) bool
}

// OrderGateway places and cancels orders at the venue. Calls are
// synchronous; a non-nil error means the outcome is unknown (transient),
// while a result with Success=false is a definitive venue rejection.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, code string, qty int, side kiwoom.Side) (kiwoom.OrderResult, error)
	CancelOrder(ctx context.Context, code, orderID string, qty int) (kiwoom.OrderResult, error)
	AvailableCash(ctx context.Context) (int64, error)
}

// Notifier fans trade events out to the broadcast channel and operational
// failures to the operator channel. Implementations must not block.
type Notifier interface {
	Broadcast(text string)
	SendOperator(text string)
}

// StatusStore mirrors per-symbol lifecycle state for external dashboards.
// Writes are best-effort: the engine logs failures and moves on.
type StatusStore interface {
	SaveStatus(ctx context.Context, sym *WatchedSymbol) error
}

// Candidate is one scan result eligible to join the watch list.
type Candidate struct {
	Code        string
	Name        string
	Prob        float64
	PositionTag PositionTag
}

// CandidateSource supplies replenishment candidates intraday.
type CandidateSource interface {
	Scan(ctx context.Context) ([]Candidate, error)
}

// Config carries the tuned parameters of one session.
type Config struct {
	TickInterval   time.Duration
	SnapshotMaxAge time.Duration
	// FeedMaxStaleness is the whole-feed liveness window reported by the
	// heartbeat, independent of the per-symbol snapshot age gate.
	FeedMaxStaleness time.Duration
	PendingTimeout   time.Duration

	// SessionCutoff is the wall-clock offset from midnight, local time,
	// past which no positions remain open.
	SessionCutoff time.Duration

	BudgetRatio float64

	TrailingActivatePct float64
	TrailingDrawdownPct float64
	ProfitFloorPct      float64

	StopLossBullPct     float64
	StopLossBearPct     float64
	StopLossBreakoutPct float64
	StopLossBottomPct   float64

	ScannerEnabled bool
	MinWatching    int
	RescanInterval time.Duration

	DryRun bool
}

// Engine owns the watch list and runs the control loop. All symbol state is
// confined to the loop goroutine; collaborators are reached through the
// interfaces above.
type Engine struct {
	cfg    Config
	sigCfg signal.Config
	market regime.State

	feed     MarketData
	gateway  OrderGateway
	notifier Notifier
	store    StatusStore
	scanner  CandidateSource

	logger zerolog.Logger

	symbols map[string]*WatchedSymbol
	order   []string // iteration order, insertion-stable

	// alerted dedupes entry-signal broadcasts per symbol per session. It
	// gates messages only, never order placement.
	alerted map[string]bool

	lastScan      time.Time
	lastHeartbeat time.Time

	now func() time.Time
}

// New builds an engine around the given collaborators. The scanner may be
// nil when replenishment is disabled.
func New(cfg Config, sigCfg signal.Config, market regime.State, feed MarketData, gateway OrderGateway, notifier Notifier, store StatusStore, scanner CandidateSource, logger zerolog.Logger) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.SnapshotMaxAge <= 0 {
		cfg.SnapshotMaxAge = 10 * time.Second
	}
	if cfg.FeedMaxStaleness <= 0 {
		cfg.FeedMaxStaleness = 30 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		sigCfg:   sigCfg,
		market:   market,
		feed:     feed,
		gateway:  gateway,
		notifier: notifier,
		store:    store,
		scanner:  scanner,
		logger:   logger.With().Str("component", "engine").Logger(),
		symbols:  make(map[string]*WatchedSymbol),
		alerted:  make(map[string]bool),
		now:      time.Now,
	}
}

// Restore seeds the watch list before the loop starts, typically from the
// day's recommendations plus carried-over holdings. Duplicate codes keep
// the first non-WATCHING record so an open position is never shadowed by a
// fresh recommendation of the same symbol.
func (e *Engine) Restore(syms []*WatchedSymbol) {
	for _, s := range syms {
		if s == nil || s.Code == "" {
			continue
		}
		if existing, ok := e.symbols[s.Code]; ok {
			if existing.Status == StatusWatching && s.Status != StatusWatching {
				e.symbols[s.Code] = s
			}
			continue
		}
		e.symbols[s.Code] = s
		e.order = append(e.order, s.Code)
	}
}

// Codes returns the tracked symbol codes in insertion order.
func (e *Engine) Codes() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Run executes the control loop until the session cutoff passes or ctx is
// cancelled. On cutoff it force-exits remaining holdings before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.feed.Subscribe(e.Codes())

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.logger.Info().Int("symbols", len(e.order)).Str("market", string(e.market)).Msg("session started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("session interrupted")
			return ctx.Err()
		case <-ticker.C:
			if done := e.tick(ctx); done {
				e.logger.Info().Msg("session cutoff reached, loop terminated")
				return nil
			}
		}
	}
}

// tick runs one loop iteration. It returns true when the session is over
// and the loop should stop.
func (e *Engine) tick(ctx context.Context) bool {
	now := e.now()
	metrics.IncTick()

	if e.pastCutoff(now) {
		e.closeSession(ctx, now)
		return true
	}

	e.maybeReplenish(ctx, now)
	e.maybeHeartbeat(now)

	for _, code := range e.Codes() {
		sym := e.symbols[code]
		if sym == nil || sym.Status == StatusCompleted {
			continue
		}

		// PENDING resolves on a timer, not on market data, so it must
		// advance even when the feed has gone quiet.
		if sym.Status == StatusPending {
			e.handlePending(ctx, sym, now)
			continue
		}

		snap, ok := e.feed.GetSnapshot(code)
		if !ok || now.Sub(snap.UpdatedAt) > e.cfg.SnapshotMaxAge {
			continue
		}

		switch sym.Status {
		case StatusWatching:
			e.handleWatching(ctx, sym, snap, now)
		case StatusHolding:
			e.handleHolding(ctx, sym, snap, now)
		}
	}

	return false
}

func (e *Engine) pastCutoff(now time.Time) bool {
	clock := time.Duration(now.Hour())*time.Hour +
		time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second
	return clock >= e.cfg.SessionCutoff
}

// closeSession resolves every non-terminal symbol at cutoff: in-flight
// entries are cancelled and open positions are force-sold.
func (e *Engine) closeSession(ctx context.Context, now time.Time) {
	for _, code := range e.Codes() {
		sym := e.symbols[code]
		switch sym.Status {
		case StatusPending:
			e.resolvePending(ctx, sym)
			switch sym.Status {
			case StatusHolding:
				e.exitPosition(ctx, sym, sym.EntryPrice, exitSessionCutoff)
			case StatusPending:
				e.notifier.SendOperator(fmt.Sprintf(
					"🚨 Entry order for %s (%s) unresolved at session end. Check manually.",
					sym.Name, sym.Code))
			}
		case StatusHolding:
			price := sym.EntryPrice
			if snap, ok := e.feed.GetSnapshot(code); ok && snap.LastPrice > 0 {
				price = snap.LastPrice
			}
			e.exitPosition(ctx, sym, price, exitSessionCutoff)
		}
	}
	e.publishGauges()
}

// maybeReplenish tops the watch list back up when too few symbols remain in
// WATCHING, at most once per rescan interval.
func (e *Engine) maybeReplenish(ctx context.Context, now time.Time) {
	if !e.cfg.ScannerEnabled || e.scanner == nil {
		return
	}
	if e.countStatus(StatusWatching) >= e.cfg.MinWatching {
		return
	}
	if !e.lastScan.IsZero() && now.Sub(e.lastScan) < e.cfg.RescanInterval {
		return
	}
	e.lastScan = now

	cands, err := e.scanner.Scan(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("replenishment scan failed")
		return
	}

	var added []string
	for _, c := range cands {
		if c.Code == "" {
			continue
		}
		if _, ok := e.symbols[c.Code]; ok {
			continue
		}
		sym := &WatchedSymbol{
			Code:        c.Code,
			Name:        c.Name,
			Category:    CategoryRunner,
			PositionTag: c.PositionTag,
			Prob:        c.Prob,
			Status:      StatusWatching,
		}
		e.symbols[c.Code] = sym
		e.order = append(e.order, c.Code)
		added = append(added, fmt.Sprintf("%s(%s)", c.Name, c.Code))
	}
	if len(added) == 0 {
		return
	}

	e.feed.Subscribe(e.Codes())

	e.logger.Info().Strs("added", added).Msg("watch list replenished")
	text := "🔄 Watch list replenished:\n"
	for _, a := range added {
		text += "  • " + a + "\n"
	}
	e.notifier.Broadcast(text)
}

// maybeHeartbeat logs a liveness line at most once a minute and refreshes
// the position gauges.
func (e *Engine) maybeHeartbeat(now time.Time) {
	if now.Sub(e.lastHeartbeat) < time.Minute {
		return
	}
	e.lastHeartbeat = now

	stale := !e.feed.Healthy(e.cfg.FeedMaxStaleness)
	metrics.SetFeedStale(stale)
	if stale {
		e.logger.Warn().Msg("market feed is stale, symbols are being skipped")
	}

	e.logger.Info().
		Int("watching", e.countStatus(StatusWatching)).
		Int("pending", e.countStatus(StatusPending)).
		Int("holding", e.countStatus(StatusHolding)).
		Int("completed", e.countStatus(StatusCompleted)).
		Msg("heartbeat")
	e.publishGauges()
}

func (e *Engine) countStatus(st Status) int {
	n := 0
	for _, s := range e.symbols {
		if s.Status == st {
			n++
		}
	}
	return n
}

func (e *Engine) publishGauges() {
	for _, st := range []Status{StatusWatching, StatusPending, StatusHolding, StatusCompleted} {
		metrics.SetPositions(string(st), e.countStatus(st))
	}
}

// persist mirrors the symbol's current state. Mirror failures are logged
// and never influence trading decisions.
func (e *Engine) persist(ctx context.Context, sym *WatchedSymbol) {
	if e.store == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := e.store.SaveStatus(cctx, sym); err != nil {
		e.logger.Warn().Err(err).Str("code", sym.Code).Msg("status mirror write failed")
	}
}
