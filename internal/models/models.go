package models

import (
	"fmt"
	"time"
)

// Direction 表示交易方向，符号与基准价的相对位置一致：
// 网格线在基准价上方为做空(-1)，下方为做多(+1)。
type Direction int

const (
	Short Direction = -1 // 做空
	Long  Direction = 1  // 做多
)

// Opposite 返回相反方向。
func (d Direction) Opposite() Direction {
	return -d
}

func (d Direction) String() string {
	switch d {
	case Short:
		return "SHORT"
	case Long:
		return "LONG"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Offset 表示开平仓标志。
type Offset int

const (
	Close Offset = 0 // 平仓
	Open  Offset = 1 // 开仓
)

func (o Offset) String() string {
	if o == Open {
		return "OPEN"
	}
	return "CLOSE"
}

// OrderStatus mirrors the status set pushed by the trading terminal's
// order feed. The zero value is Pending on purpose: a freshly submitted
// order has produced no feedback yet.
type OrderStatus int

const (
	Pending OrderStatus = iota
	PartiallyFilled
	PartiallyFilledPartiallyCancelled
	Filled
	Cancelled
	Rejected
	StatusUnknown
)

var statusNames = map[OrderStatus]string{
	Pending:                           "PENDING",
	PartiallyFilled:                   "PARTIALLY_FILLED",
	PartiallyFilledPartiallyCancelled: "PARTIALLY_FILLED_PARTIALLY_CANCELLED",
	Filled:                            "FILLED",
	Cancelled:                         "CANCELLED",
	Rejected:                          "REJECTED",
	StatusUnknown:                     "UNKNOWN",
}

func (s OrderStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OrderStatus(%d)", int(s))
}

// IsTerminal reports whether no further feed events can change the order.
func (s OrderStatus) IsTerminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// OrderID 是终端分配的委托编号。隔夜持仓在引导时使用进程内唯一的负数编号，
// 以便与当日委托区分，但参与所有账本操作。
type OrderID int64

// IsSynthetic reports whether the id was minted locally for a
// bootstrapped overnight line rather than assigned by the terminal.
func (id OrderID) IsSynthetic() bool {
	return id < 0
}

// OrderEvent 是终端推送的委托回报。TradedVolume 为累计成交量。
type OrderEvent struct {
	OrderID         OrderID     `json:"order_id"`
	Instrument      string      `json:"instrument"`
	Direction       Direction   `json:"direction"`
	Offset          Offset      `json:"offset"`
	Status          OrderStatus `json:"status"`
	Price           float64     `json:"price"`
	RequestedVolume int64       `json:"requested_volume"`
	TradedVolume    int64       `json:"traded_volume"`
	Timestamp       time.Time   `json:"timestamp"`
}

// TradeEvent 是终端推送的成交回报。Volume 为本笔成交量（增量）。
// 同一笔成交可能被重复推送，TradeID 用于幂等去重。
type TradeEvent struct {
	OrderID   OrderID   `json:"order_id"`
	TradeID   string    `json:"trade_id"`
	Direction Direction `json:"direction"`
	Offset    Offset    `json:"offset"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Tick 是行情快照中引擎关心的最小子集。
type Tick struct {
	Instrument string    `json:"instrument"`
	LastPrice  float64   `json:"last_price"`
	AskPrice   float64   `json:"ask_price"`
	BidPrice   float64   `json:"bid_price"`
	Timestamp  time.Time `json:"timestamp"`
}

// OrderRequest 是提交给终端网关的委托请求。
type OrderRequest struct {
	Instrument string    `json:"instrument"`
	Direction  Direction `json:"direction"`
	Offset     Offset    `json:"offset"`
	Price      float64   `json:"price"`
	Volume     int64     `json:"volume"`
}

// Snapshot is the persisted subset of the ledger for one instrument:
// price level -> remaining open volume. Fully closed lines are stripped
// before persisting, so the absence of a price key means no open line.
type Snapshot struct {
	Instrument string                   `json:"instrument"`
	SessionID  string                   `json:"session_id,omitempty"`
	Lines      map[float64]SnapshotLine `json:"lines"`
	SavedAt    time.Time                `json:"saved_at"`
}

// SnapshotLine carries the collapsed remaining volume of one grid line.
type SnapshotLine struct {
	RemainingVolume int64 `json:"remaining_volume"`
}

// Error 定义了终端网关返回的错误信息结构。
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("terminal error: code=%d, msg=%s", e.Code, e.Msg)
}
