package ledger

import (
	"sort"
	"time"

	"futures-grid-engine/internal/models"

	"github.com/pkg/errors"
)

// GridLine is one price level the strategy holds a commitment at. The
// ledger owns every GridLine; callers only ever see transient read views.
type GridLine struct {
	Price     float64
	Direction models.Direction

	// OpenQty is the net opened volume, authoritative from the order
	// feed's cumulative traded volume. CloseQty accumulates per-fill
	// deltas from the trade feed. 0 <= CloseQty <= OpenQty always holds.
	OpenQty  int64
	CloseQty int64

	orderIDs map[models.OrderID]struct{}
}

// Remaining returns the volume still open on the line.
func (g *GridLine) Remaining() int64 {
	return g.OpenQty - g.CloseQty
}

// HasOrder reports whether the order id is linked to this line.
func (g *GridLine) HasOrder(id models.OrderID) bool {
	_, ok := g.orderIDs[id]
	return ok
}

// OrderIDs returns the ids of all orders ever associated with the line,
// open and close, in ascending order.
func (g *GridLine) OrderIDs() []models.OrderID {
	ids := make([]models.OrderID, 0, len(g.orderIDs))
	for id := range g.orderIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Ledger is the price-indexed store of open/close commitments and their
// order ids for a single instrument. All methods are synchronous
// in-memory updates; the engine's decision loop serializes access.
type Ledger struct {
	instrument string
	basePrice  float64

	lines   map[float64]*GridLine
	byOrder map[models.OrderID]float64 // reverse index: order id -> line price

	// nextSynthetic counts down from -1 so every restored overnight line
	// gets an id unique within the process lifetime.
	nextSynthetic models.OrderID
}

// New creates an empty ledger. basePrice separates the two grid
// directions: lines above it are SHORT, lines at or below it are LONG.
func New(instrument string, basePrice float64) *Ledger {
	return &Ledger{
		instrument: instrument,
		basePrice:  basePrice,
		lines:      make(map[float64]*GridLine),
		byOrder:    make(map[models.OrderID]float64),
	}
}

// BasePrice returns the configured direction boundary.
func (l *Ledger) BasePrice() float64 {
	return l.basePrice
}

// DirectionFor classifies a price level relative to the base price.
func (l *Ledger) DirectionFor(price float64) models.Direction {
	if price > l.basePrice {
		return models.Short
	}
	return models.Long
}

func (l *Ledger) ensureLine(price float64) *GridLine {
	line, ok := l.lines[price]
	if !ok {
		line = &GridLine{
			Price:     price,
			Direction: l.DirectionFor(price),
			orderIDs:  make(map[models.OrderID]struct{}),
		}
		l.lines[price] = line
	}
	return line
}

func (l *Ledger) attach(line *GridLine, id models.OrderID) {
	if _, ok := line.orderIDs[id]; !ok {
		line.orderIDs[id] = struct{}{}
		l.byOrder[id] = line.Price
	}
}

// RecordOpenProgress creates the grid line at price if absent, links the
// order id, and sets OpenQty to tradedVolume. The order feed reports
// cumulative traded volume, so open progress is last-write-wins; a
// re-delivered event is a harmless overwrite with the same value.
func (l *Ledger) RecordOpenProgress(price float64, id models.OrderID, tradedVolume int64) error {
	if tradedVolume < 0 {
		return errors.Wrapf(ErrInvariantViolation, "negative open volume %d at %v", tradedVolume, price)
	}
	line := l.ensureLine(price)
	if tradedVolume < line.CloseQty {
		return errors.Wrapf(ErrInvariantViolation,
			"open volume %d below closed volume %d at %v", tradedVolume, line.CloseQty, price)
	}
	l.attach(line, id)
	line.OpenQty = tradedVolume
	return nil
}

// RecordCloseProgress links the order id to the line at price and adds
// the fill delta to CloseQty. Close feedback is delta-based because one
// line's close may be split across several orders after cancel/retry.
// Returns ErrUnknownGridLine when no line exists at price: the caller
// must resolve the line through the lifecycle tracker first.
func (l *Ledger) RecordCloseProgress(price float64, id models.OrderID, fillDelta int64) error {
	line, ok := l.lines[price]
	if !ok {
		return errors.Wrapf(ErrUnknownGridLine, "close progress at %v", price)
	}
	if fillDelta < 0 {
		return errors.Wrapf(ErrInvariantViolation, "negative close delta %d at %v", fillDelta, price)
	}
	if line.CloseQty+fillDelta > line.OpenQty {
		return errors.Wrapf(ErrInvariantViolation,
			"close %d+%d would exceed open %d at %v", line.CloseQty, fillDelta, line.OpenQty, price)
	}
	l.attach(line, id)
	line.CloseQty += fillDelta
	return nil
}

// ResolveByOrderID is the reverse lookup from order id to line price.
func (l *Ledger) ResolveByOrderID(id models.OrderID) (float64, error) {
	price, ok := l.byOrder[id]
	if !ok {
		return 0, errors.Wrapf(ErrOrderNotFound, "order %d", id)
	}
	return price, nil
}

// ResolveByPrice returns the line at price, if any.
func (l *Ledger) ResolveByPrice(price float64) (*GridLine, bool) {
	line, ok := l.lines[price]
	return line, ok
}

// TryRetire removes the line at price iff it is fully closed
// (CloseQty == OpenQty) and every associated order is terminal according
// to the supplied predicate. Removing a line while one of its orders is
// still in flight would discard the order linkage, so it is refused.
// Returns whether removal occurred; callers use this to decide whether
// to recompute trigger state.
func (l *Ledger) TryRetire(price float64, terminal func(models.OrderID) bool) bool {
	line, ok := l.lines[price]
	if !ok {
		return false
	}
	if line.CloseQty != line.OpenQty {
		return false
	}
	for id := range line.orderIDs {
		if !terminal(id) {
			return false
		}
	}
	l.removeLine(line)
	return true
}

// DropEmptyLine removes the line at price when a cancelled order turned
// out to be its only association and nothing was ever opened on it. This
// keeps orphaned empty lines from accumulating after cancel storms.
func (l *Ledger) DropEmptyLine(price float64, id models.OrderID) bool {
	line, ok := l.lines[price]
	if !ok {
		return false
	}
	if line.OpenQty != 0 || line.CloseQty != 0 {
		return false
	}
	if len(line.orderIDs) != 1 || !line.HasOrder(id) {
		return false
	}
	l.removeLine(line)
	return true
}

func (l *Ledger) removeLine(line *GridLine) {
	for id := range line.orderIDs {
		delete(l.byOrder, id)
	}
	delete(l.lines, line.Price)
}

// Prices returns the line prices in direction, ascending. The sorted
// view is recomputed on demand; map insertion order is never a proxy for
// price order.
func (l *Ledger) Prices(direction models.Direction) []float64 {
	prices := make([]float64, 0, len(l.lines))
	for price, line := range l.lines {
		if line.Direction == direction {
			prices = append(prices, price)
		}
	}
	sort.Float64s(prices)
	return prices
}

// Len returns the number of live grid lines.
func (l *Ledger) Len() int {
	return len(l.lines)
}

// Snapshot produces the persisted form of the ledger: fully closed lines
// are stripped and each survivor's open/close pair collapses into a
// single remaining-volume figure. Order ids and historical close volume
// are intentionally not preserved.
func (l *Ledger) Snapshot() models.Snapshot {
	snap := models.Snapshot{
		Instrument: l.instrument,
		Lines:      make(map[float64]models.SnapshotLine, len(l.lines)),
		SavedAt:    time.Now(),
	}
	for price, line := range l.lines {
		if remaining := line.Remaining(); remaining > 0 {
			snap.Lines[price] = models.SnapshotLine{RemainingVolume: remaining}
		}
	}
	return snap
}

// Restore seeds the ledger from a snapshot. Every entry becomes a grid
// line with OpenQty = remaining volume, CloseQty = 0, linked to a fresh
// synthetic negative order id so overnight lines stay distinguishable
// from same-day lines while participating in all ledger operations.
// Returns the restored line count.
func (l *Ledger) Restore(snap models.Snapshot) int {
	restored := 0
	for price, entry := range snap.Lines {
		if entry.RemainingVolume <= 0 {
			continue
		}
		l.nextSynthetic--
		id := l.nextSynthetic
		line := l.ensureLine(price)
		l.attach(line, id)
		line.OpenQty = entry.RemainingVolume
		line.CloseQty = 0
		restored++
	}
	return restored
}
