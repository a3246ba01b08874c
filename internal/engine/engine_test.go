package engine

import (
	"context"
	"testing"
	"time"

	"futures-grid-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGateway records submissions and hands out sequential order ids.
type fakeGateway struct {
	nextID  models.OrderID
	submits []models.OrderRequest
	cancels []models.OrderID
}

func (g *fakeGateway) Submit(_ context.Context, req models.OrderRequest) (models.OrderID, error) {
	g.nextID++
	g.submits = append(g.submits, req)
	return g.nextID, nil
}

func (g *fakeGateway) Cancel(_ context.Context, id models.OrderID) error {
	g.cancels = append(g.cancels, id)
	return nil
}

// memoryRepo is an in-memory SnapshotRepository for bootstrap tests.
type memoryRepo struct {
	snaps map[string]models.Snapshot
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{snaps: make(map[string]models.Snapshot)}
}

func (r *memoryRepo) SaveSnapshot(snap models.Snapshot) error {
	r.snaps[snap.Instrument] = snap
	return nil
}

func (r *memoryRepo) LoadSnapshot(instrument string) (*models.Snapshot, error) {
	snap, ok := r.snaps[instrument]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (r *memoryRepo) Close() error { return nil }

func testConfig() *models.Config {
	return &models.Config{
		Instrument:      "IF2609",
		BasePrice:       1016,
		GridInterval:    4,
		TickSize:        0.2,
		OrderQty:        1,
		MaxOrderQty:     30,
		EventRetryLimit: 5,
	}
}

func newTestEngine(cfg *models.Config) (*Engine, *fakeGateway) {
	gw := &fakeGateway{}
	e := New(cfg, gw, nil, nil, zap.NewNop().Sugar())
	return e, gw
}

func tick(last float64) models.Tick {
	return models.Tick{Instrument: "IF2609", LastPrice: last, Timestamp: time.Now()}
}

// fillOpen walks one open order through submission-side bookkeeping into
// a FILLED state.
func fillOpen(e *Engine, id models.OrderID, price float64, volume int64) {
	e.handleOrderEventAttempt(models.OrderEvent{
		OrderID: id, Instrument: "IF2609", Direction: models.Long, Offset: models.Open,
		Status: models.Filled, Price: price, RequestedVolume: volume, TradedVolume: volume,
		Timestamp: time.Now(),
	}, 0)
}

func TestTickTriggersOpen(t *testing.T) {
	e, gw := newTestEngine(testConfig())

	e.handleTick(tick(1012))

	require.Len(t, gw.submits, 1)
	req := gw.submits[0]
	assert.Equal(t, models.Long, req.Direction)
	assert.Equal(t, models.Open, req.Offset)
	assert.InDelta(t, 1012, req.Price, 1e-9)
	assert.Equal(t, int64(1), req.Volume)

	// 占位后同价不再重复开仓
	e.handleTick(tick(1012))
	assert.Len(t, gw.submits, 1)

	// 价格未到下一格,不触发
	e.handleTick(tick(1010))
	assert.Len(t, gw.submits, 1)

	// 下探一格再开
	e.handleTick(tick(1008))
	require.Len(t, gw.submits, 2)
	assert.InDelta(t, 1008, gw.submits[1].Price, 1e-9)
}

func TestForeignInstrumentIgnored(t *testing.T) {
	e, gw := newTestEngine(testConfig())

	e.handleTick(models.Tick{Instrument: "IC2609", LastPrice: 1012, Timestamp: time.Now()})
	assert.Empty(t, gw.submits)
}

func TestOrderEventUpdatesLedger(t *testing.T) {
	e, gw := newTestEngine(testConfig())

	e.handleTick(tick(1012))
	require.Len(t, gw.submits, 1)

	fillOpen(e, 1, 1012, 1)

	line, ok := e.Ledger().ResolveByPrice(1012)
	require.True(t, ok)
	assert.Equal(t, int64(1), line.OpenQty)
	assert.True(t, e.Tracker().Terminal(1))
}

func TestCancelledEmptyOpenDropsLine(t *testing.T) {
	e, gw := newTestEngine(testConfig())

	e.handleTick(tick(1012))
	require.Len(t, gw.submits, 1)

	e.handleOrderEventAttempt(models.OrderEvent{
		OrderID: 1, Instrument: "IF2609", Direction: models.Long, Offset: models.Open,
		Status: models.Cancelled, Price: 1012, TradedVolume: 0, Timestamp: time.Now(),
	}, 0)

	_, ok := e.Ledger().ResolveByPrice(1012)
	assert.False(t, ok)

	// 价位释放后可重新开仓
	e.handleTick(tick(1012))
	assert.Len(t, gw.submits, 2)
}

func TestCloseFlowRetiresLine(t *testing.T) {
	e, gw := newTestEngine(testConfig())

	// 铺三条多头网格线 1012 / 1008 / 1004
	for _, last := range []float64{1012, 1008, 1004} {
		e.handleTick(tick(last))
		id := gw.nextID
		fillOpen(e, id, last, 1)
	}
	require.Len(t, gw.submits, 3)

	// 价格回升至 1012 的止盈位 1016,触发平仓
	e.handleTick(tick(1016))
	require.Len(t, gw.submits, 4)
	closeReq := gw.submits[3]
	assert.Equal(t, models.Close, closeReq.Offset)
	assert.InDelta(t, 1016, closeReq.Price, 1e-9)
	assert.Equal(t, int64(1), closeReq.Volume)
	closeID := gw.nextID

	// 平仓单在途期间不重复提交
	e.handleTick(tick(1016))
	assert.Len(t, gw.submits, 4)

	// 成交回报推进 closeQty,但委托未终结,线不销档
	e.handleTradeEventAttempt(models.TradeEvent{
		OrderID: closeID, TradeID: "c1", Direction: models.Long, Offset: models.Close,
		Price: 1016, Volume: 1, Timestamp: time.Now(),
	}, 0)
	_, ok := e.Ledger().ResolveByPrice(1012)
	assert.True(t, ok)

	// 终态回报到达后销档
	e.handleOrderEventAttempt(models.OrderEvent{
		OrderID: closeID, Instrument: "IF2609", Direction: models.Long, Offset: models.Close,
		Status: models.Filled, Price: 1016, TradedVolume: 1, Timestamp: time.Now(),
	}, 0)
	_, ok = e.Ledger().ResolveByPrice(1012)
	assert.False(t, ok)
}

func TestCloseNeedsThreeOpenLines(t *testing.T) {
	e, gw := newTestEngine(testConfig())

	for _, last := range []float64{1012, 1008} {
		e.handleTick(tick(last))
		fillOpen(e, gw.nextID, last, 1)
	}
	require.Len(t, gw.submits, 2)

	// 只有两条线,回升不触发平仓
	e.handleTick(tick(1016))
	for _, req := range gw.submits {
		assert.Equal(t, models.Open, req.Offset)
	}
}

func TestDuplicateTradeEventIgnored(t *testing.T) {
	e, gw := newTestEngine(testConfig())

	for _, last := range []float64{1012, 1008, 1004} {
		e.handleTick(tick(last))
		fillOpen(e, gw.nextID, last, 1)
	}
	e.handleTick(tick(1016))
	closeID := gw.nextID

	fill := models.TradeEvent{
		OrderID: closeID, TradeID: "c1", Direction: models.Long, Offset: models.Close,
		Price: 1016, Volume: 1, Timestamp: time.Now(),
	}
	e.handleTradeEventAttempt(fill, 0)
	e.handleTradeEventAttempt(fill, 0)

	line, ok := e.Ledger().ResolveByPrice(1012)
	require.True(t, ok)
	assert.Equal(t, int64(1), line.CloseQty)
}

func TestUnknownOrderTradeRetried(t *testing.T) {
	e, _ := newTestEngine(testConfig())

	// 成交回报先于任何委托信息到达
	e.handleTradeEventAttempt(models.TradeEvent{
		OrderID: 55, TradeID: "t1", Direction: models.Long, Offset: models.Open,
		Price: 1012, Volume: 1, Timestamp: time.Now(),
	}, 0)
	require.Len(t, e.retryQueue, 1)

	// 非本引擎提交的委托回报进跟踪器,但不落账本,自身进入重试
	e.handleOrderEventAttempt(models.OrderEvent{
		OrderID: 55, Instrument: "IF2609", Direction: models.Long, Offset: models.Open,
		Status: models.PartiallyFilled, Price: 1012, TradedVolume: 1, Timestamp: time.Now(),
	}, 0)

	// 冲洗后缓存的成交生效,委托回报继续等待
	e.flushRetryQueue()
	require.Len(t, e.retryQueue, 1)

	o, ok := e.Tracker().Get(55)
	require.True(t, ok)
	assert.InDelta(t, 1012, o.AvgPrice, 1e-9)

	// 预算耗尽后丢弃,绝不按回报价格凭空建线
	for i := 0; i < 5; i++ {
		e.flushRetryQueue()
	}
	assert.Empty(t, e.retryQueue)
	_, ok = e.Ledger().ResolveByPrice(1012)
	assert.False(t, ok)
}

func TestRedeliveredOpenEventAfterRetirement(t *testing.T) {
	e, gw := newTestEngine(testConfig())

	// 铺线并完整走完 1012 的开平流程
	var openEvents []models.OrderEvent
	for _, last := range []float64{1012, 1008, 1004} {
		e.handleTick(tick(last))
		ev := models.OrderEvent{
			OrderID: gw.nextID, Instrument: "IF2609", Direction: models.Long, Offset: models.Open,
			Status: models.Filled, Price: last, RequestedVolume: 1, TradedVolume: 1,
			Timestamp: time.Now(),
		}
		openEvents = append(openEvents, ev)
		e.handleOrderEventAttempt(ev, 0)
	}

	e.handleTick(tick(1016))
	closeID := gw.nextID
	e.handleTradeEventAttempt(models.TradeEvent{
		OrderID: closeID, TradeID: "c1", Direction: models.Long, Offset: models.Close,
		Price: 1016, Volume: 1, Timestamp: time.Now(),
	}, 0)
	e.handleOrderEventAttempt(models.OrderEvent{
		OrderID: closeID, Instrument: "IF2609", Direction: models.Long, Offset: models.Close,
		Status: models.Filled, Price: 1016, TradedVolume: 1, Timestamp: time.Now(),
	}, 0)
	_, ok := e.Ledger().ResolveByPrice(1012)
	require.False(t, ok)

	// 终端重推已销档线的开仓终态回报:不得复活网格线
	e.handleOrderEventAttempt(openEvents[0], 0)
	_, ok = e.Ledger().ResolveByPrice(1012)
	assert.False(t, ok)

	// 重试预算走完后彻底丢弃,快照里也不会再出现该价位
	for i := 0; i < 6; i++ {
		e.flushRetryQueue()
	}
	assert.Empty(t, e.retryQueue)
	snap := e.Ledger().Snapshot()
	_, ok = snap.Lines[1012]
	assert.False(t, ok)
}

func TestRetryBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.EventRetryLimit = 2
	e, _ := newTestEngine(cfg)

	e.handleTradeEventAttempt(models.TradeEvent{
		OrderID: 55, TradeID: "t1", Offset: models.Open, Price: 1012, Volume: 1,
	}, 0)
	e.flushRetryQueue()
	e.flushRetryQueue()
	assert.Empty(t, e.retryQueue)
}

func TestBootstrapRestoresSnapshot(t *testing.T) {
	repo := newMemoryRepo()
	require.NoError(t, repo.SaveSnapshot(models.Snapshot{
		Instrument: "IF2609",
		Lines:      map[float64]models.SnapshotLine{1012: {RemainingVolume: 3}},
		SavedAt:    time.Now(),
	}))

	cfg := testConfig()
	gw := &fakeGateway{}
	e := New(cfg, gw, repo, nil, zap.NewNop().Sugar())
	require.NoError(t, e.Bootstrap())

	line, ok := e.Ledger().ResolveByPrice(1012)
	require.True(t, ok)
	assert.Equal(t, int64(3), line.OpenQty)
	ids := line.OrderIDs()
	require.Len(t, ids, 1)
	assert.True(t, ids[0].IsSynthetic())
	// 合成委托视同已成交终态
	assert.True(t, e.Tracker().Terminal(ids[0]))
}

func TestBootstrapCleanStart(t *testing.T) {
	cfg := testConfig()
	gw := &fakeGateway{}
	e := New(cfg, gw, newMemoryRepo(), nil, zap.NewNop().Sugar())
	require.NoError(t, e.Bootstrap())
	assert.Equal(t, 0, e.Ledger().Len())
}

func TestCloseOvernightOnFirstTick(t *testing.T) {
	repo := newMemoryRepo()
	require.NoError(t, repo.SaveSnapshot(models.Snapshot{
		Instrument: "IF2609",
		Lines:      map[float64]models.SnapshotLine{1012: {RemainingVolume: 2}},
	}))

	cfg := testConfig()
	cfg.CloseOvernightOnStart = true
	gw := &fakeGateway{}
	e := New(cfg, gw, repo, nil, zap.NewNop().Sugar())
	require.NoError(t, e.Bootstrap())

	e.handleTick(models.Tick{
		Instrument: "IF2609", LastPrice: 1014, BidPrice: 1013.8, AskPrice: 1014.2,
		Timestamp: time.Now(),
	})

	var closes []models.OrderRequest
	for _, req := range gw.submits {
		if req.Offset == models.Close {
			closes = append(closes, req)
		}
	}
	require.Len(t, closes, 1)
	assert.InDelta(t, 1013.8, closes[0].Price, 1e-9)
	assert.Equal(t, int64(2), closes[0].Volume)

	// 只在首个行情尝试一次
	before := len(gw.submits)
	e.handleTick(tick(1014))
	for _, req := range gw.submits[before:] {
		assert.Equal(t, models.Open, req.Offset)
	}
}

func TestStaleOpenCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.StaleOpenIntervals = 2
	e, gw := newTestEngine(cfg)

	e.handleTick(tick(1012))
	require.Len(t, gw.submits, 1)

	// 价格远离在途开仓单超过两个间隔,请求撤单
	e.handleTick(tick(1021))
	require.Len(t, gw.cancels, 1)
	assert.Equal(t, models.OrderID(1), gw.cancels[0])

	// 账本只响应 CANCELLED 回报,撤单请求本身不改状态
	_, ok := e.Ledger().ResolveByPrice(1012)
	assert.True(t, ok)
}

func TestSnapshotPersistedOnStop(t *testing.T) {
	repo := newMemoryRepo()
	cfg := testConfig()
	gw := &fakeGateway{}
	e := New(cfg, gw, repo, nil, zap.NewNop().Sugar())
	e.Start()

	e.OnTick(tick(1012))
	e.Drain()
	e.OnOrderEvent(models.OrderEvent{
		OrderID: 1, Instrument: "IF2609", Direction: models.Long, Offset: models.Open,
		Status: models.Filled, Price: 1012, TradedVolume: 1, Timestamp: time.Now(),
	})
	e.Drain()
	e.Stop()

	snap, err := repo.LoadSnapshot("IF2609")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(1), snap.Lines[1012].RemainingVolume)
}
