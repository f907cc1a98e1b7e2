package engine

import "time"

// Status is the lifecycle state of a tracked symbol. Transitions only
// happen inside the control loop goroutine.
type Status string

const (
	StatusWatching  Status = "WATCHING"
	StatusPending   Status = "PENDING"
	StatusHolding   Status = "HOLDING"
	StatusCompleted Status = "COMPLETED"
)

// Category records where a symbol came from. MAIN symbols are seeded at
// startup, RUNNER symbols arrive via intraday replenishment scans, and
// MANUAL symbols were added by an operator.
type Category string

const (
	CategoryMain   Category = "MAIN"
	CategoryRunner Category = "RUNNER"
	CategoryManual Category = "MANUAL"
)

// PositionTag classifies the setup a symbol was recommended on. It selects
// the stop-loss tier while the position is held.
type PositionTag string

const (
	TagBreakout PositionTag = "BREAKOUT"
	TagBottom   PositionTag = "BOTTOM"
	TagMiddle   PositionTag = "MIDDLE"
)

// WatchedSymbol is the engine's per-symbol record. All fields are owned by
// the control loop; other goroutines must not touch them.
type WatchedSymbol struct {
	Code        string
	Name        string
	Category    Category
	PositionTag PositionTag

	// Prob is the externally supplied win probability in [0,1] attached to
	// the recommendation.
	Prob float64

	Status     Status
	EntryPrice float64
	Quantity   int

	// OrderID and OrderPlacedAt are set while an entry order is in flight
	// and cleared on every transition out of PENDING.
	OrderID       string
	OrderPlacedAt time.Time

	// PeakPrice is the highest price seen since entry. Valid only in
	// HOLDING; cleared when the position completes.
	PeakPrice float64
}

// ProfitRate returns the unrealized profit at price as a percentage of the
// entry price, or 0 when no entry price is recorded.
func (w *WatchedSymbol) ProfitRate(price float64) float64 {
	if w.EntryPrice <= 0 {
		return 0
	}
	return (price - w.EntryPrice) / w.EntryPrice * 100
}

// PeakProfitRate returns the profit at the recorded peak as a percentage of
// the entry price.
func (w *WatchedSymbol) PeakProfitRate() float64 {
	if w.EntryPrice <= 0 {
		return 0
	}
	return (w.PeakPrice - w.EntryPrice) / w.EntryPrice * 100
}

// DrawdownFromPeak returns how far price has pulled back from the recorded
// peak, as a percentage of the peak.
func (w *WatchedSymbol) DrawdownFromPeak(price float64) float64 {
	if w.PeakPrice <= 0 {
		return 0
	}
	return (w.PeakPrice - price) / w.PeakPrice * 100
}
