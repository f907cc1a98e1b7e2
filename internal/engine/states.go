package engine

import (
	"context"
	"fmt"
	"time"

	"kospi-sniper-bot/internal/kiwoom"
	"kospi-sniper-bot/internal/metrics"
	"kospi-sniper-bot/internal/regime"
)

// Exit reasons, used both as metric labels and to pick the alert wording.
const (
	exitTrailingTP    = "trailing_take_profit"
	exitProfitFloor   = "profit_floor"
	exitStopLoss      = "stop_loss"
	exitSessionCutoff = "session_cutoff"
)

var exitLabels = map[string]string{
	exitTrailingTP:    "Trailing take-profit",
	exitProfitFloor:   "Profit floor",
	exitStopLoss:      "Stop-loss",
	exitSessionCutoff: "Session cutoff",
}

// handleWatching evaluates the entry predicate and, when it passes, places
// a market buy sized off the live cash balance. The symbol moves to PENDING
// only after the venue accepts the order; every failure path leaves it in
// WATCHING so the next qualifying signal retries naturally.
func (e *Engine) handleWatching(ctx context.Context, sym *WatchedSymbol, snap kiwoom.MarketSnapshot, now time.Time) {
	ev := e.sigCfg.Evaluate(snap, sym.Prob)
	if !ev.Entry {
		return
	}
	metrics.IncEntrySignal()

	if !e.alerted[sym.Code] {
		e.alerted[sym.Code] = true
		e.notifier.Broadcast(fmt.Sprintf(
			"🎯 Entry signal: %s (%s)\nScore %.0f | Intensity %.0f | Price %s",
			sym.Name, sym.Code, ev.Score, snap.TradeIntensity, formatKRW(snap.LastPrice)))
	}

	cash, err := e.gateway.AvailableCash(ctx)
	if err != nil {
		e.logger.Error().Err(err).Str("code", sym.Code).Msg("cash query failed, entry deferred")
		return
	}

	qty := kiwoom.CalcQuantity(snap.LastPrice, float64(cash), e.cfg.BudgetRatio)
	if qty <= 0 {
		e.logger.Warn().Str("code", sym.Code).Int64("cash", cash).
			Float64("price", snap.LastPrice).Msg("budget too small, entry skipped")
		return
	}

	if e.cfg.DryRun {
		e.logger.Info().Str("code", sym.Code).Int("qty", qty).Msg("dry run, buy suppressed")
		return
	}

	result, err := e.gateway.PlaceOrder(ctx, sym.Code, qty, kiwoom.SideBuy)
	if err != nil {
		metrics.IncOrder(string(kiwoom.SideBuy), "transient")
		e.logger.Error().Err(err).Str("code", sym.Code).Msg("buy order transient failure, will retry on next signal")
		return
	}
	if !result.Success {
		metrics.IncOrder(string(kiwoom.SideBuy), "rejected")
		e.logger.Error().Str("code", sym.Code).Str("reason", result.Reason).Msg("buy order rejected")
		return
	}
	metrics.IncOrder(string(kiwoom.SideBuy), "placed")

	sym.Status = StatusPending
	sym.OrderID = result.OrderID
	sym.OrderPlacedAt = now
	sym.EntryPrice = snap.LastPrice
	sym.Quantity = qty
	sym.PeakPrice = snap.LastPrice
	e.persist(ctx, sym)

	e.logger.Info().Str("code", sym.Code).Int("qty", qty).
		Float64("price", snap.LastPrice).Str("order_id", result.OrderID).Msg("entry order placed")
	e.notifier.Broadcast(fmt.Sprintf(
		"🛒 Buy order placed: %s (%s)\n%d shares @ %s",
		sym.Name, sym.Code, qty, formatKRW(snap.LastPrice)))
}

// handlePending waits out the fill window, then resolves the in-flight
// order one way or the other.
func (e *Engine) handlePending(ctx context.Context, sym *WatchedSymbol, now time.Time) {
	if now.Sub(sym.OrderPlacedAt) < e.cfg.PendingTimeout {
		return
	}
	e.resolvePending(ctx, sym)
}

// resolvePending issues a cancel-all for the outstanding entry order. A
// successful cancel means the order never filled and the symbol returns to
// WATCHING; a venue rejection of the cancel means the order already filled,
// so the symbol is promoted to HOLDING. A transient cancel failure leaves
// the symbol PENDING for the next tick.
func (e *Engine) resolvePending(ctx context.Context, sym *WatchedSymbol) {
	if sym.OrderID == "" {
		// The venue accepted the order but returned no identifier; without
		// one there is nothing to cancel, so assume it never rested.
		e.logger.Warn().Str("code", sym.Code).Msg("pending order has no id, reverting to watching")
		e.markWatching(sym)
		e.persist(ctx, sym)
		return
	}

	result, err := e.gateway.CancelOrder(ctx, sym.Code, sym.OrderID, 0)
	if err != nil {
		e.logger.Error().Err(err).Str("code", sym.Code).Str("order_id", sym.OrderID).
			Msg("cancel transient failure, retrying next tick")
		return
	}

	if result.Success {
		e.logger.Info().Str("code", sym.Code).Str("order_id", sym.OrderID).
			Msg("unfilled entry cancelled, back to watching")
		e.markWatching(sym)
		e.persist(ctx, sym)
		return
	}

	// Cancel rejected: the venue no longer has the order, which for a
	// marketable intraday buy means it filled.
	e.logger.Info().Str("code", sym.Code).Str("order_id", sym.OrderID).
		Str("reason", result.Reason).Msg("cancel rejected, treating entry as filled")
	sym.Status = StatusHolding
	sym.PeakPrice = sym.EntryPrice
	sym.OrderID = ""
	sym.OrderPlacedAt = time.Time{}
	e.persist(ctx, sym)

	e.notifier.Broadcast(fmt.Sprintf(
		"✅ Entry filled: %s (%s)\n%d shares @ %s",
		sym.Name, sym.Code, sym.Quantity, formatKRW(sym.EntryPrice)))
}

func (e *Engine) markWatching(sym *WatchedSymbol) {
	sym.Status = StatusWatching
	sym.OrderID = ""
	sym.OrderPlacedAt = time.Time{}
	sym.EntryPrice = 0
	sym.Quantity = 0
	sym.PeakPrice = 0
}

// handleHolding updates the peak and evaluates the exit rules in order:
// the trailing take-profit pair once the peak profit has armed it, the
// tiered stop-loss otherwise, and the session cutoff as the backstop.
func (e *Engine) handleHolding(ctx context.Context, sym *WatchedSymbol, snap kiwoom.MarketSnapshot, now time.Time) {
	price := snap.LastPrice
	if price <= 0 || sym.EntryPrice <= 0 {
		return
	}
	if price > sym.PeakPrice {
		sym.PeakPrice = price
	}

	profit := sym.ProfitRate(price)

	reason := ""
	if sym.PeakProfitRate() >= e.cfg.TrailingActivatePct {
		if sym.DrawdownFromPeak(price) >= e.cfg.TrailingDrawdownPct {
			reason = exitTrailingTP
		} else if profit < e.cfg.ProfitFloorPct {
			reason = exitProfitFloor
		}
	} else if profit <= e.stopLossThreshold(sym.PositionTag) {
		reason = exitStopLoss
	}
	if reason == "" && e.pastCutoff(now) {
		reason = exitSessionCutoff
	}
	if reason == "" {
		return
	}

	e.exitPosition(ctx, sym, price, reason)
}

// stopLossThreshold picks the stop tier: setup-specific tags first, then
// the market-regime default.
func (e *Engine) stopLossThreshold(tag PositionTag) float64 {
	switch tag {
	case TagBreakout:
		return e.cfg.StopLossBreakoutPct
	case TagBottom:
		return e.cfg.StopLossBottomPct
	}
	if e.market == regime.Bear {
		return e.cfg.StopLossBearPct
	}
	return e.cfg.StopLossBullPct
}

// exitPosition sells the full position at market and completes the symbol.
// A failed sell is escalated to the operator, but the symbol still moves to
// COMPLETED: the engine will not manage a position it could not close.
func (e *Engine) exitPosition(ctx context.Context, sym *WatchedSymbol, price float64, reason string) {
	profit := sym.ProfitRate(price)
	peak := sym.PeakProfitRate()

	if e.cfg.DryRun {
		e.logger.Info().Str("code", sym.Code).Str("reason", reason).Msg("dry run, sell suppressed")
	} else if sym.Quantity > 0 {
		result, err := e.gateway.PlaceOrder(ctx, sym.Code, sym.Quantity, kiwoom.SideSell)
		switch {
		case err != nil:
			metrics.IncOrder(string(kiwoom.SideSell), "transient")
			e.logger.Error().Err(err).Str("code", sym.Code).Msg("sell order transient failure")
			e.notifier.SendOperator(fmt.Sprintf(
				"🚨 Sell FAILED for %s (%s), %d shares. Close manually. Error: %v",
				sym.Name, sym.Code, sym.Quantity, err))
		case !result.Success:
			metrics.IncOrder(string(kiwoom.SideSell), "rejected")
			e.logger.Error().Str("code", sym.Code).Str("reason", result.Reason).Msg("sell order rejected")
			e.notifier.SendOperator(fmt.Sprintf(
				"🚨 Sell REJECTED for %s (%s), %d shares. Close manually. Venue: %s",
				sym.Name, sym.Code, sym.Quantity, result.Reason))
		default:
			metrics.IncOrder(string(kiwoom.SideSell), "placed")
		}
	}

	sym.Status = StatusCompleted
	sym.OrderID = ""
	sym.OrderPlacedAt = time.Time{}
	sym.PeakPrice = 0
	e.persist(ctx, sym)
	metrics.IncExit(reason)

	e.logger.Info().Str("code", sym.Code).Str("reason", reason).
		Float64("profit_pct", profit).Float64("peak_pct", peak).Msg("position closed")

	marker := "🔴"
	if profit > 0 {
		marker = "🟢"
	}
	e.notifier.Broadcast(fmt.Sprintf(
		"%s Exit: %s (%s)\n%s | P/L %+.2f%% (peak %+.2f%%)\nEntry %s → Exit %s",
		marker, sym.Name, sym.Code, exitLabels[reason], profit, peak,
		formatKRW(sym.EntryPrice), formatKRW(price)))
}

// formatKRW renders a won amount with thousands separators, no decimals.
func formatKRW(v float64) string {
	n := int64(v)
	s := fmt.Sprintf("%d", n)
	neg := false
	if n < 0 {
		neg = true
		s = s[1:]
	}
	out := ""
	for i, d := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out += ","
		}
		out += string(d)
	}
	if neg {
		out = "-" + out
	}
	return out + "원"
}
