package guard

import (
	"testing"

	"futures-grid-engine/internal/ledger"
	"futures-grid-engine/internal/lifecycle"
	"futures-grid-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGuard(t *testing.T) (*Guard, *ledger.Ledger, *lifecycle.Tracker) {
	t.Helper()
	l := ledger.New("IF2609", 1016)
	tr := lifecycle.NewTracker()
	return New(l, tr), l, tr
}

func TestCanSubmitOpenOccupiedLine(t *testing.T) {
	g, l, _ := newGuard(t)

	assert.True(t, g.CanSubmitOpen(1012))

	require.NoError(t, l.RecordOpenProgress(1012, 101, 0))
	// 价位被占用即拒绝,与成交进度无关
	assert.False(t, g.CanSubmitOpen(1012))

	require.NoError(t, l.RecordOpenProgress(1012, 101, 5))
	assert.False(t, g.CanSubmitOpen(1012))
}

func TestCanSubmitCloseNoLine(t *testing.T) {
	g, _, _ := newGuard(t)
	assert.False(t, g.CanSubmitClose(1012))
}

func TestCanSubmitCloseNothingRemaining(t *testing.T) {
	g, l, tr := newGuard(t)
	tr.Register(101, models.OrderRequest{Instrument: "IF2609", Direction: models.Long, Offset: models.Open, Price: 1012, Volume: 5})
	require.NoError(t, l.RecordOpenProgress(1012, 101, 5))
	tr.Register(201, models.OrderRequest{Instrument: "IF2609", Direction: models.Long, Offset: models.Close, Price: 1012, Volume: 5})
	tr.ApplyOrderEvent(models.OrderEvent{OrderID: 201, Offset: models.Close, Status: models.Filled, TradedVolume: 5})
	require.NoError(t, l.RecordCloseProgress(1012, 201, 5))

	assert.False(t, g.CanSubmitClose(1012))
}

func TestCanSubmitCloseInFlightClose(t *testing.T) {
	g, l, tr := newGuard(t)
	tr.Register(101, models.OrderRequest{Instrument: "IF2609", Direction: models.Long, Offset: models.Open, Price: 1012, Volume: 5})
	tr.ApplyOrderEvent(models.OrderEvent{OrderID: 101, Offset: models.Open, Status: models.Filled, TradedVolume: 5})
	require.NoError(t, l.RecordOpenProgress(1012, 101, 5))

	assert.True(t, g.CanSubmitClose(1012))

	// 平仓单在途时拒绝重复平仓
	tr.Register(201, models.OrderRequest{Instrument: "IF2609", Direction: models.Long, Offset: models.Close, Price: 1012, Volume: 5})
	require.NoError(t, l.RecordCloseProgress(1012, 201, 0))
	assert.False(t, g.CanSubmitClose(1012))

	// 平仓单撤销终结后重新放行
	tr.ApplyOrderEvent(models.OrderEvent{OrderID: 201, Offset: models.Close, Status: models.Cancelled, TradedVolume: 0})
	assert.True(t, g.CanSubmitClose(1012))
}

func TestCanSubmitCloseUnknownOrderConservative(t *testing.T) {
	g, l, _ := newGuard(t)
	require.NoError(t, l.RecordOpenProgress(1012, 101, 5))

	// 账本认识 101 但跟踪器没见过,保守拒绝
	assert.False(t, g.CanSubmitClose(1012))
}

func TestRiskGateVolumeBounds(t *testing.T) {
	gate := NewRiskGate(zap.NewNop().Sugar(), VolumeBounds(30))

	assert.True(t, gate.Allow(models.OrderRequest{Volume: 1, Price: 1000}))
	assert.False(t, gate.Allow(models.OrderRequest{Volume: 0, Price: 1000}))
	assert.False(t, gate.Allow(models.OrderRequest{Volume: 31, Price: 1000}))
}

func TestRiskGatePriceBounds(t *testing.T) {
	gate := NewRiskGate(zap.NewNop().Sugar(), PriceBounds(1020, 1100, 900, 1012))

	assert.True(t, gate.Allow(models.OrderRequest{Direction: models.Long, Volume: 1, Price: 1000}))
	assert.False(t, gate.Allow(models.OrderRequest{Direction: models.Long, Volume: 1, Price: 1016}))
	assert.False(t, gate.Allow(models.OrderRequest{Direction: models.Short, Volume: 1, Price: 1016}))
	assert.True(t, gate.Allow(models.OrderRequest{Direction: models.Short, Volume: 1, Price: 1024}))
}

func TestRiskGateAvailableFunds(t *testing.T) {
	funds := 500.0
	gate := NewRiskGate(zap.NewNop().Sugar(), AvailableFunds(1000, func() float64 { return funds }))

	assert.False(t, gate.Allow(models.OrderRequest{Offset: models.Open, Volume: 1, Price: 1000}))
	// 平仓不受资金下限约束
	assert.True(t, gate.Allow(models.OrderRequest{Offset: models.Close, Volume: 1, Price: 1000}))

	funds = 2000
	assert.True(t, gate.Allow(models.OrderRequest{Offset: models.Open, Volume: 1, Price: 1000}))
}

func TestRiskGateFirstFailureWins(t *testing.T) {
	calls := 0
	probe := func(models.OrderRequest) (bool, string) {
		calls++
		return true, ""
	}
	gate := NewRiskGate(zap.NewNop().Sugar(), VolumeBounds(30), probe)

	gate.Allow(models.OrderRequest{Volume: 0, Price: 1000})
	assert.Equal(t, 0, calls)
}
