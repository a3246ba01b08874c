package guard

import (
	"futures-grid-engine/internal/ledger"
	"futures-grid-engine/internal/lifecycle"
	"futures-grid-engine/internal/models"
)

// Guard answers "may this order be submitted right now". All checks are
// pure reads against the ledger and tracker; a false answer is not an
// error, it means the decision loop skips the tick and asks again later.
type Guard struct {
	ledger  *ledger.Ledger
	tracker *lifecycle.Tracker
}

func New(l *ledger.Ledger, t *lifecycle.Tracker) *Guard {
	return &Guard{ledger: l, tracker: t}
}

// CanSubmitOpen rejects an open at price whenever a grid line already
// exists there, regardless of its fill state. Opens are single-shot per
// line; the line at a price only frees up after retirement.
func (g *Guard) CanSubmitOpen(price float64) bool {
	_, occupied := g.ledger.ResolveByPrice(price)
	return !occupied
}

// CanSubmitClose rejects a close at price while any non-terminal CLOSE
// order already references the line there. Two in-flight closes against
// one line would race each other toward closeQty > openQty.
func (g *Guard) CanSubmitClose(price float64) bool {
	line, ok := g.ledger.ResolveByPrice(price)
	if !ok {
		// 没有网格线就没有可平的仓位
		return false
	}
	if line.Remaining() <= 0 {
		return false
	}
	for _, id := range line.OrderIDs() {
		o, known := g.tracker.Get(id)
		if !known {
			// 有未知委托在途,保守拒绝
			return false
		}
		if o.Offset == models.Close && !o.Status.IsTerminal() {
			return false
		}
	}
	return true
}
