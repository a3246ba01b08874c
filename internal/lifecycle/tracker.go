package lifecycle

import (
	"time"

	"futures-grid-engine/internal/models"

	"github.com/pkg/errors"
)

// ErrOrderUnknown 表示回报引用了跟踪器不认识的委托编号。
// 委托回报与成交回报可能乱序到达,调用方应缓存后重试。
var ErrOrderUnknown = errors.New("lifecycle: order unknown")

// TrackedOrder is the tracker's view of one order: the request
// parameters plus everything learned from the feeds so far.
type TrackedOrder struct {
	ID              models.OrderID
	Instrument      string
	Direction       models.Direction
	Offset          models.Offset
	Price           float64
	RequestedVolume int64

	Status       models.OrderStatus
	TradedVolume int64   // 累计成交量
	AvgPrice     float64 // 成交量加权均价

	tradeIDs  map[string]struct{}
	notional  float64 // sum(price*volume) over deduped trades
	dedupVol  int64   // sum(volume) over deduped trades
	UpdatedAt time.Time
}

// Filled reports whether any volume has traded on the order.
func (o *TrackedOrder) Filled() bool {
	return o.TradedVolume > 0
}

// statusRank orders the lifecycle states so a late-arriving stale event
// can be recognized and ignored. Terminal states share the top rank.
var statusRank = map[models.OrderStatus]int{
	models.Pending:                           0,
	models.StatusUnknown:                     0,
	models.PartiallyFilled:                   1,
	models.PartiallyFilledPartiallyCancelled: 2,
	models.Filled:                            3,
	models.Cancelled:                         3,
	models.Rejected:                          3,
}

// Tracker maintains the lifecycle state of every order the session has
// seen. All updates are idempotent: re-delivered order events overwrite
// with identical values, re-delivered trade events are dropped by trade
// id. The engine's decision loop serializes access.
type Tracker struct {
	orders map[models.OrderID]*TrackedOrder
}

func NewTracker() *Tracker {
	return &Tracker{orders: make(map[models.OrderID]*TrackedOrder)}
}

// Register seeds a Pending entry for an order just submitted locally, so
// the first feed event always finds its order known.
func (t *Tracker) Register(id models.OrderID, req models.OrderRequest) *TrackedOrder {
	o := &TrackedOrder{
		ID:              id,
		Instrument:      req.Instrument,
		Direction:       req.Direction,
		Offset:          req.Offset,
		Price:           req.Price,
		RequestedVolume: req.Volume,
		Status:          models.Pending,
		tradeIDs:        make(map[string]struct{}),
		UpdatedAt:       time.Now(),
	}
	t.orders[id] = o
	return o
}

// SeedSynthetic registers a bootstrapped overnight line's synthetic
// order as already filled, so retirement checks treat it as terminal.
func (t *Tracker) SeedSynthetic(id models.OrderID, instrument string, direction models.Direction, price float64, volume int64) *TrackedOrder {
	o := &TrackedOrder{
		ID:              id,
		Instrument:      instrument,
		Direction:       direction,
		Offset:          models.Open,
		Price:           price,
		RequestedVolume: volume,
		TradedVolume:    volume,
		AvgPrice:        price,
		Status:          models.Filled,
		tradeIDs:        make(map[string]struct{}),
		UpdatedAt:       time.Now(),
	}
	t.orders[id] = o
	return o
}

// ApplyOrderEvent folds an order feed event into the tracker and returns
// the updated order. Events that would move the order backwards (lower
// cumulative volume, or a non-terminal status after a terminal one) are
// treated as stale redeliveries and ignored, with applied = false.
// Unknown order ids create the entry from the event itself: the feed may
// deliver the first report before the submit call returns.
func (t *Tracker) ApplyOrderEvent(ev models.OrderEvent) (o *TrackedOrder, applied bool) {
	o, ok := t.orders[ev.OrderID]
	if !ok {
		o = &TrackedOrder{
			ID:              ev.OrderID,
			Instrument:      ev.Instrument,
			Direction:       ev.Direction,
			Offset:          ev.Offset,
			Price:           ev.Price,
			RequestedVolume: ev.RequestedVolume,
			tradeIDs:        make(map[string]struct{}),
		}
		t.orders[ev.OrderID] = o
	}
	if ev.TradedVolume < o.TradedVolume {
		return o, false
	}
	if statusRank[ev.Status] < statusRank[o.Status] {
		return o, false
	}
	if o.Status.IsTerminal() && !ev.Status.IsTerminal() {
		return o, false
	}
	o.Status = ev.Status
	o.TradedVolume = ev.TradedVolume
	o.UpdatedAt = ev.Timestamp
	return o, true
}

// ApplyTradeEvent folds a trade feed event into the tracker's VWAP
// bookkeeping. The fill volume is a per-trade delta; duplicates are
// dropped by trade id with applied = false. The order must already be
// known, otherwise ErrOrderUnknown is returned for the caller to retry
// after the order event arrives.
func (t *Tracker) ApplyTradeEvent(ev models.TradeEvent) (o *TrackedOrder, applied bool, err error) {
	o, ok := t.orders[ev.OrderID]
	if !ok {
		return nil, false, errors.Wrapf(ErrOrderUnknown, "trade %s for order %d", ev.TradeID, ev.OrderID)
	}
	if _, seen := o.tradeIDs[ev.TradeID]; seen {
		return o, false, nil
	}
	o.tradeIDs[ev.TradeID] = struct{}{}
	o.notional += ev.Price * float64(ev.Volume)
	o.dedupVol += ev.Volume
	if o.dedupVol > 0 {
		o.AvgPrice = o.notional / float64(o.dedupVol)
	}
	if o.dedupVol > o.TradedVolume {
		// 成交回报先于委托回报到达时,以成交累计量为准
		o.TradedVolume = o.dedupVol
	}
	o.UpdatedAt = ev.Timestamp
	return o, true, nil
}

// Get returns the tracked order, if any.
func (t *Tracker) Get(id models.OrderID) (*TrackedOrder, bool) {
	o, ok := t.orders[id]
	return o, ok
}

// Terminal reports whether the order is known and in a terminal state.
// Unknown ids are NOT terminal: a line must never retire while one of
// its orders is still unheard from.
func (t *Tracker) Terminal(id models.OrderID) bool {
	o, ok := t.orders[id]
	return ok && o.Status.IsTerminal()
}

// Active returns all non-terminal orders, unordered.
func (t *Tracker) Active() []*TrackedOrder {
	var active []*TrackedOrder
	for _, o := range t.orders {
		if !o.Status.IsTerminal() {
			active = append(active, o)
		}
	}
	return active
}

// Len returns the total number of tracked orders, terminal included.
func (t *Tracker) Len() int {
	return len(t.orders)
}
