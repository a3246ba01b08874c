package engine

import (
	"context"
	"math"
	"time"

	"futures-grid-engine/internal/guard"
	"futures-grid-engine/internal/journal"
	"futures-grid-engine/internal/ledger"
	"futures-grid-engine/internal/lifecycle"
	"futures-grid-engine/internal/models"
	"futures-grid-engine/internal/persistence"
	"futures-grid-engine/internal/terminal"
	"futures-grid-engine/internal/trigger"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// eventType 标识进入决策循环的事件种类。
type eventType int

const (
	tickEvent eventType = iota
	orderFeedEvent
	tradeFeedEvent
)

// event is the normalized envelope the decision loop consumes. Exactly
// one payload field is set, selected by typ.
type event struct {
	typ   eventType
	tick  models.Tick
	order models.OrderEvent
	trade models.TradeEvent
}

// pendingEvent is a feed event whose order id was unknown when it
// arrived. It is retried after subsequent events until the id shows up
// or the attempt budget runs out.
type pendingEvent struct {
	ev       event
	attempts int
}

// Engine is the single decision loop tying the ledger, tracker, trigger
// calculator and guard together. All state mutation happens on one
// goroutine; the feeds and the tick stream are funneled into one
// buffered channel and processed to completion one event at a time.
// Snapshots go out on a separate channel so persistence never blocks a
// decision.
type Engine struct {
	cfg     *models.Config
	ledger  *ledger.Ledger
	tracker *lifecycle.Tracker
	calc    *trigger.Calculator
	guard   *guard.Guard
	risk    *guard.RiskGate
	gateway terminal.OrderGateway
	repo    persistence.SnapshotRepository
	journal *journal.Journal
	logger  *zap.SugaredLogger

	events     chan event
	snapshots  chan models.Snapshot
	retryQueue []pendingEvent

	overnightPending bool

	stop chan struct{}
	done chan struct{}
}

// New wires an engine from its collaborators. journal may be nil when no
// audit trail is wanted (tests, dry runs).
func New(
	cfg *models.Config,
	gw terminal.OrderGateway,
	repo persistence.SnapshotRepository,
	jrnl *journal.Journal,
	logger *zap.SugaredLogger,
) *Engine {
	l := ledger.New(cfg.Instrument, cfg.BasePrice)
	tr := lifecycle.NewTracker()
	e := &Engine{
		cfg:     cfg,
		ledger:  l,
		tracker: tr,
		calc: trigger.NewCalculator(
			cfg.BasePrice, cfg.GridInterval, cfg.TickSize, cfg.TriggerShift, cfg.NudgeModulus),
		guard:     guard.New(l, tr),
		gateway:   gw,
		repo:      repo,
		journal:   jrnl,
		logger:    logger,
		events:    make(chan event, 1024),
		snapshots: make(chan models.Snapshot, 128),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	e.risk = guard.NewRiskGate(logger,
		guard.VolumeBounds(cfg.MaxOrderQty),
		guard.PriceBounds(cfg.ShortMinPrice, cfg.ShortMaxPrice, cfg.LongMinPrice, cfg.LongMaxPrice),
	)
	return e
}

// SetRiskGate replaces the default risk chain, for callers that add
// account-level checks such as an available-funds probe.
func (e *Engine) SetRiskGate(gate *guard.RiskGate) {
	e.risk = gate
}

// Ledger exposes the ledger for read-only inspection.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Tracker exposes the lifecycle tracker for read-only inspection.
func (e *Engine) Tracker() *lifecycle.Tracker { return e.tracker }

// Bootstrap loads the persisted snapshot and seeds the ledger and
// tracker from it. Restored lines get synthetic negative order ids and
// flow through the same trigger math as same-day lines, so no separate
// startup path exists. A missing snapshot is a clean start, not an
// error; a broken one logs and starts clean.
func (e *Engine) Bootstrap() error {
	if e.repo == nil {
		return nil
	}
	snap, err := e.repo.LoadSnapshot(e.cfg.Instrument)
	if err != nil {
		e.logger.Errorw("快照加载失败,以空状态启动", "error", err)
		return nil
	}
	if snap == nil {
		e.logger.Info("无历史快照,全新启动")
		return nil
	}

	restored := e.ledger.Restore(*snap)
	for _, price := range append(e.ledger.Prices(models.Long), e.ledger.Prices(models.Short)...) {
		line, _ := e.ledger.ResolveByPrice(price)
		for _, id := range line.OrderIDs() {
			if id.IsSynthetic() {
				e.tracker.SeedSynthetic(id, e.cfg.Instrument, line.Direction, price, line.OpenQty)
			}
		}
	}
	e.overnightPending = e.cfg.CloseOvernightOnStart && restored > 0
	e.logger.Infow("隔夜快照恢复完成",
		"instrument", e.cfg.Instrument,
		"lines", restored,
		"saved_at", snap.SavedAt)
	return nil
}

// Start runs the decision loop and the persistence loop until Stop.
func (e *Engine) Start() {
	go e.persistenceLoop()
	go e.eventLoop()
	e.logger.Info("决策循环已启动")
}

// Stop shuts the loops down and writes a final synchronous snapshot.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
	if e.repo != nil {
		snap := e.ledger.Snapshot()
		if e.journal != nil {
			snap.SessionID = e.journal.SessionID()
		}
		if err := e.repo.SaveSnapshot(snap); err != nil {
			e.logger.Errorw("停机快照写入失败", "error", err)
		}
	}
	e.logger.Info("决策循环已停止")
}

// OnTick queues a market update for the decision loop.
func (e *Engine) OnTick(tick models.Tick) {
	e.events <- event{typ: tickEvent, tick: tick}
}

// OnOrderEvent queues an order feed event.
func (e *Engine) OnOrderEvent(ev models.OrderEvent) {
	e.events <- event{typ: orderFeedEvent, order: ev}
}

// OnTradeEvent queues a trade feed event.
func (e *Engine) OnTradeEvent(ev models.TradeEvent) {
	e.events <- event{typ: tradeFeedEvent, trade: ev}
}

// Drain 阻塞直到事件队列清空,只用于回放模式按批推进。
func (e *Engine) Drain() {
	for len(e.events) > 0 {
		time.Sleep(time.Millisecond)
	}
}

func (e *Engine) eventLoop() {
	defer close(e.done)
	for {
		select {
		case ev := <-e.events:
			e.process(ev)
			e.flushRetryQueue()
		case <-e.stop:
			return
		}
	}
}

func (e *Engine) persistenceLoop() {
	for {
		select {
		case snap := <-e.snapshots:
			if err := e.repo.SaveSnapshot(snap); err != nil {
				// 非致命:内存状态仍然正确,下次写入即恢复持久性
				e.logger.Errorw("快照写入失败", "error", err)
			}
		case <-e.stop:
			return
		}
	}
}

// schedulePersist hands the current ledger state to the persistence
// loop. A full channel drops the write: a newer snapshot always follows.
func (e *Engine) schedulePersist() {
	if e.repo == nil {
		return
	}
	snap := e.ledger.Snapshot()
	if e.journal != nil {
		snap.SessionID = e.journal.SessionID()
	}
	select {
	case e.snapshots <- snap:
	default:
	}
}

func (e *Engine) process(ev event) {
	switch ev.typ {
	case tickEvent:
		e.handleTick(ev.tick)
	case orderFeedEvent:
		e.handleOrderEventAttempt(ev.order, 0)
	case tradeFeedEvent:
		e.handleTradeEventAttempt(ev.trade, 0)
	}
}

// retryLater keeps an event whose order id is not yet known. Dropping it
// instead would silently corrupt open/close volumes once the id shows up.
func (e *Engine) retryLater(ev event, attempts int) {
	if attempts >= e.cfg.EventRetryLimit {
		e.logger.Warnw("事件重试次数耗尽,丢弃", "attempts", attempts)
		return
	}
	e.retryQueue = append(e.retryQueue, pendingEvent{ev: ev, attempts: attempts + 1})
}

func (e *Engine) flushRetryQueue() {
	if len(e.retryQueue) == 0 {
		return
	}
	queue := e.retryQueue
	e.retryQueue = nil
	for _, p := range queue {
		switch p.ev.typ {
		case orderFeedEvent:
			e.handleOrderEventAttempt(p.ev.order, p.attempts)
		case tradeFeedEvent:
			e.handleTradeEventAttempt(p.ev.trade, p.attempts)
		}
	}
}

func (e *Engine) handleOrderEventAttempt(ev models.OrderEvent, attempts int) {
	if e.journal != nil && attempts == 0 {
		if err := e.journal.RecordOrderEvent(ev); err != nil {
			e.logger.Warnw("流水落库失败", "error", err)
		}
	}

	o, applied := e.tracker.ApplyOrderEvent(ev)
	if !applied {
		e.logger.Debugw("过期委托回报已忽略",
			"order_id", ev.OrderID, "status", ev.Status.String())
		return
	}

	mutated := false
	switch o.Offset {
	case models.Open:
		// 开仓进度以委托回报的累计成交量为准。本地提交的委托在任何回报
		// 之前就已占位,反查失败只会是未知委托或销档后的重复回报;直接按
		// 回报价格建线会让已销档的网格线带着虚增持仓复活并写入快照。
		price, err := e.ledger.ResolveByOrderID(ev.OrderID)
		if err != nil {
			e.retryLater(event{typ: orderFeedEvent, order: ev}, attempts)
			return
		}
		if err := e.ledger.RecordOpenProgress(price, ev.OrderID, ev.TradedVolume); err != nil {
			e.logger.Errorw("开仓进度更新被拒", "order_id", ev.OrderID, "error", err)
			return
		}
		mutated = true

		if ev.Status == models.Cancelled && ev.TradedVolume == 0 {
			if e.ledger.DropEmptyLine(price, ev.OrderID) {
				e.logger.Infow("空网格线已清理", "price", price)
			}
		} else if ev.Status.IsTerminal() {
			e.tryRetire(price)
		}
	case models.Close:
		// 平仓数量走成交回报,这里只推进状态;终态后检查销档
		if ev.Status.IsTerminal() {
			price, err := e.ledger.ResolveByOrderID(ev.OrderID)
			if err != nil {
				e.retryLater(event{typ: orderFeedEvent, order: ev}, attempts)
				return
			}
			e.tryRetire(price)
			mutated = true
		}
	}

	if mutated {
		e.schedulePersist()
	}
}

func (e *Engine) handleTradeEventAttempt(ev models.TradeEvent, attempts int) {
	if e.journal != nil && attempts == 0 {
		if err := e.journal.RecordFill(ev); err != nil {
			e.logger.Warnw("流水落库失败", "error", err)
		}
	}

	_, applied, err := e.tracker.ApplyTradeEvent(ev)
	if err != nil {
		if errors.Is(err, lifecycle.ErrOrderUnknown) {
			e.retryLater(event{typ: tradeFeedEvent, trade: ev}, attempts)
			return
		}
		e.logger.Errorw("成交回报处理失败", "trade_id", ev.TradeID, "error", err)
		return
	}
	if !applied {
		e.logger.Debugw("重复成交回报已去重", "trade_id", ev.TradeID)
		return
	}
	if ev.Offset != models.Close {
		// 开仓成交只影响均价,数量以委托回报为准
		return
	}

	price, err := e.ledger.ResolveByOrderID(ev.OrderID)
	if err != nil {
		e.retryLater(event{typ: tradeFeedEvent, trade: ev}, attempts)
		return
	}
	if err := e.ledger.RecordCloseProgress(price, ev.OrderID, ev.Volume); err != nil {
		// 上游失步或不变式冲突:事件作废,账本保持一致
		e.logger.Errorw("平仓进度更新被拒", "trade_id", ev.TradeID, "error", err)
		return
	}

	e.tryRetire(price)
	e.schedulePersist()
}

// tryRetire removes a fully closed line and logs the retirement. Trigger
// state needs no explicit invalidation: the next tick recomputes it from
// the ledger's current key set.
func (e *Engine) tryRetire(price float64) {
	if e.ledger.TryRetire(price, e.tracker.Terminal) {
		e.logger.Infow("网格线销档", "price", price)
	}
}

func (e *Engine) handleTick(tick models.Tick) {
	if tick.Instrument != e.cfg.Instrument {
		return
	}

	if e.overnightPending {
		e.overnightPending = false
		e.closeOvernightLines(tick)
	}
	if e.cfg.StaleOpenIntervals > 0 {
		e.cancelStaleOpens(tick)
	}

	for _, direction := range []models.Direction{models.Long, models.Short} {
		e.maybeOpen(direction, tick)
		e.maybeClose(direction, tick)
	}
}

func (e *Engine) maybeOpen(direction models.Direction, tick models.Tick) {
	openPrices := e.ledger.Prices(direction)
	level := e.calc.NextOpen(direction, openPrices)
	if !e.calc.OpenTriggered(direction, level, tick.LastPrice) {
		return
	}
	if !e.guard.CanSubmitOpen(level) {
		return
	}
	req := models.OrderRequest{
		Instrument: e.cfg.Instrument,
		Direction:  direction,
		Offset:     models.Open,
		Price:      level,
		Volume:     e.cfg.OrderQty,
	}
	if !e.risk.Allow(req) {
		return
	}
	e.submit(req, level)
}

func (e *Engine) maybeClose(direction models.Direction, tick models.Tick) {
	openPrices := e.stillOpenPrices(direction)
	level, ok := e.calc.NextClose(direction, openPrices)
	if !ok {
		return
	}
	if !e.calc.CloseTriggered(direction, level, tick.LastPrice) {
		return
	}
	if !e.guard.CanSubmitClose(level) {
		return
	}
	line, ok := e.ledger.ResolveByPrice(level)
	if !ok {
		return
	}
	// 平仓限价挂在止盈位:网格线向基准价方向回撤一个间隔
	req := models.OrderRequest{
		Instrument: e.cfg.Instrument,
		Direction:  direction,
		Offset:     models.Close,
		Price:      level + float64(direction)*e.cfg.GridInterval,
		Volume:     line.Remaining(),
	}
	if !e.risk.Allow(req) {
		return
	}
	e.submitClose(req, level)
}

// stillOpenPrices filters the ledger's price view down to lines with
// remaining volume; fully closed but not yet retired lines do not count
// toward close eligibility.
func (e *Engine) stillOpenPrices(direction models.Direction) []float64 {
	prices := e.ledger.Prices(direction)
	open := prices[:0]
	for _, price := range prices {
		if line, ok := e.ledger.ResolveByPrice(price); ok && line.Remaining() > 0 {
			open = append(open, price)
		}
	}
	return open
}

// submit sends an open order and seeds the line at level so the guard
// sees the price as occupied immediately.
func (e *Engine) submit(req models.OrderRequest, level float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := e.gateway.Submit(ctx, req)
	if err != nil {
		e.logger.Errorw("开仓委托提交失败",
			"direction", req.Direction.String(), "price", req.Price, "error", err)
		return
	}
	e.tracker.Register(id, req)
	if err := e.ledger.RecordOpenProgress(level, id, 0); err != nil {
		e.logger.Errorw("开仓占位失败", "order_id", id, "error", err)
		return
	}
	e.journalSubmission(id, req)
	e.logger.Infow("开仓委托已提交",
		"order_id", id, "direction", req.Direction.String(),
		"price", req.Price, "volume", req.Volume)
}

// submitClose sends a close order and links it to the line at level, so
// later fills resolve back to the right line even though the order's own
// price is the take-profit level.
func (e *Engine) submitClose(req models.OrderRequest, level float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := e.gateway.Submit(ctx, req)
	if err != nil {
		e.logger.Errorw("平仓委托提交失败",
			"direction", req.Direction.String(), "price", req.Price, "error", err)
		return
	}
	e.tracker.Register(id, req)
	if err := e.ledger.RecordCloseProgress(level, id, 0); err != nil {
		e.logger.Errorw("平仓挂账失败", "order_id", id, "error", err)
		return
	}
	e.journalSubmission(id, req)
	e.logger.Infow("平仓委托已提交",
		"order_id", id, "line", level, "price", req.Price, "volume", req.Volume)
}

func (e *Engine) journalSubmission(id models.OrderID, req models.OrderRequest) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordSubmission(id, req, time.Now().UnixMilli()); err != nil {
		e.logger.Warnw("流水落库失败", "error", err)
	}
}

// closeOvernightLines submits closes for every restored line at the
// current opposite quote, once, right after the first tick of the day.
func (e *Engine) closeOvernightLines(tick models.Tick) {
	for _, direction := range []models.Direction{models.Long, models.Short} {
		for _, price := range e.ledger.Prices(direction) {
			line, ok := e.ledger.ResolveByPrice(price)
			if !ok || line.Remaining() <= 0 {
				continue
			}
			synthetic := false
			for _, id := range line.OrderIDs() {
				if id.IsSynthetic() {
					synthetic = true
					break
				}
			}
			if !synthetic || !e.guard.CanSubmitClose(price) {
				continue
			}
			quote := tick.BidPrice
			if direction == models.Short {
				quote = tick.AskPrice
			}
			if quote <= 0 {
				quote = tick.LastPrice
			}
			req := models.OrderRequest{
				Instrument: e.cfg.Instrument,
				Direction:  direction,
				Offset:     models.Close,
				Price:      quote,
				Volume:     line.Remaining(),
			}
			if !e.risk.Allow(req) {
				continue
			}
			e.submitClose(req, price)
		}
	}
}

// cancelStaleOpens requests cancellation of resting open orders whose
// price has drifted further than the configured number of grid intervals
// from the market. The ledger only reacts to the CANCELLED event later.
func (e *Engine) cancelStaleOpens(tick models.Tick) {
	threshold := e.cfg.StaleOpenIntervals * e.cfg.GridInterval
	for _, o := range e.tracker.Active() {
		if o.Offset != models.Open || o.Filled() {
			continue
		}
		if math.Abs(tick.LastPrice-o.Price) <= threshold {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := e.gateway.Cancel(ctx, o.ID)
		cancel()
		if err != nil {
			e.logger.Warnw("撤单请求失败", "order_id", o.ID, "error", err)
			continue
		}
		e.logger.Infow("撤销偏离的开仓委托",
			"order_id", o.ID, "price", o.Price, "last", tick.LastPrice)
	}
}
