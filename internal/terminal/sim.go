package terminal

import (
	"context"
	"sort"
	"sync"
	"time"

	"futures-grid-engine/internal/models"

	"github.com/google/uuid"
)

// simOrder is a resting limit order inside the simulator.
type simOrder struct {
	id     models.OrderID
	req    models.OrderRequest
	traded int64
	status models.OrderStatus
}

// isBuy 判定委托的买卖方向:多头开仓与空头平仓为买入。
func (o *simOrder) isBuy() bool {
	if o.req.Direction == models.Long {
		return o.req.Offset == models.Open
	}
	return o.req.Offset == models.Close
}

// SimTerminal 是内存撮合的终端实现,用于回放模式与测试。限价单全量成交:
// 买单在最新价不高于委托价时成交,卖单在不低于时成交。每次 Push 先撮合
// 再转发行情,成交顺序按委托编号,与真实终端的先回报后行情一致。
type SimTerminal struct {
	mu     sync.Mutex
	nextID models.OrderID
	orders map[models.OrderID]*simOrder

	ticks  chan models.Tick
	events chan models.OrderEvent
	trades chan models.TradeEvent
}

func NewSimTerminal() *SimTerminal {
	return &SimTerminal{
		nextID: 1,
		orders: make(map[models.OrderID]*simOrder),
		ticks:  make(chan models.Tick, 4096),
		events: make(chan models.OrderEvent, 4096),
		trades: make(chan models.TradeEvent, 4096),
	}
}

// Submit accepts the order, emits a PENDING acknowledgement on the order
// feed and leaves it resting until a tick crosses its price.
func (t *SimTerminal) Submit(_ context.Context, req models.OrderRequest) (models.OrderID, error) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	o := &simOrder{id: id, req: req, status: models.Pending}
	t.orders[id] = o
	t.mu.Unlock()

	t.events <- t.orderEvent(o, time.Now())
	return id, nil
}

// Cancel marks a resting order cancelled and emits the CANCELLED event.
// Already-terminal orders are left untouched, mirroring a live terminal
// rejecting a late cancel.
func (t *SimTerminal) Cancel(_ context.Context, id models.OrderID) error {
	t.mu.Lock()
	o, ok := t.orders[id]
	if !ok || o.status.IsTerminal() {
		t.mu.Unlock()
		return &models.Error{Code: 404, Msg: "order not found or terminal"}
	}
	if o.traded > 0 {
		o.status = models.PartiallyFilledPartiallyCancelled
	} else {
		o.status = models.Cancelled
	}
	ev := t.orderEvent(o, time.Now())
	t.mu.Unlock()

	t.events <- ev
	return nil
}

// Push feeds one tick into the simulator: resting orders crossed by the
// last price fill completely, their order and trade events go out, then
// the tick itself is forwarded.
func (t *SimTerminal) Push(tick models.Tick) {
	t.mu.Lock()
	var ids []models.OrderID
	for id := range t.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var orderEvents []models.OrderEvent
	var tradeEvents []models.TradeEvent
	for _, id := range ids {
		o := t.orders[id]
		if o.status.IsTerminal() {
			continue
		}
		if !crossed(o, tick.LastPrice) {
			continue
		}
		fill := o.req.Volume - o.traded
		o.traded = o.req.Volume
		o.status = models.Filled
		orderEvents = append(orderEvents, t.orderEvent(o, tick.Timestamp))
		tradeEvents = append(tradeEvents, models.TradeEvent{
			OrderID:   o.id,
			TradeID:   uuid.NewString(),
			Direction: o.req.Direction,
			Offset:    o.req.Offset,
			Price:     o.req.Price,
			Volume:    fill,
			Timestamp: tick.Timestamp,
		})
	}
	t.mu.Unlock()

	for _, ev := range orderEvents {
		t.events <- ev
	}
	for _, ev := range tradeEvents {
		t.trades <- ev
	}
	t.ticks <- tick
}

func crossed(o *simOrder, lastPrice float64) bool {
	if o.isBuy() {
		return lastPrice <= o.req.Price
	}
	return lastPrice >= o.req.Price
}

func (t *SimTerminal) orderEvent(o *simOrder, at time.Time) models.OrderEvent {
	return models.OrderEvent{
		OrderID:         o.id,
		Instrument:      o.req.Instrument,
		Direction:       o.req.Direction,
		Offset:          o.req.Offset,
		Status:          o.status,
		Price:           o.req.Price,
		RequestedVolume: o.req.Volume,
		TradedVolume:    o.traded,
		Timestamp:       at,
	}
}

func (t *SimTerminal) Ticks() <-chan models.Tick             { return t.ticks }
func (t *SimTerminal) OrderEvents() <-chan models.OrderEvent { return t.events }
func (t *SimTerminal) TradeEvents() <-chan models.TradeEvent { return t.trades }

func (t *SimTerminal) Close() error {
	return nil
}
