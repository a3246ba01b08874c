package terminal

import (
	"context"

	"futures-grid-engine/internal/models"
)

// OrderGateway 是引擎对交易终端的唯一出站接口。Submit 返回终端分配的
// 委托编号;Cancel 只是请求撤单,撤销结果以 CANCELLED 回报的形式从
// 事件流到达,调用方不得同步假定撤单已成功。
type OrderGateway interface {
	Submit(ctx context.Context, req models.OrderRequest) (models.OrderID, error)
	Cancel(ctx context.Context, id models.OrderID) error
}

// EventStream delivers the terminal's three inbound feeds. The order
// feed and the trade feed are independent streams: a fill may arrive
// before its acknowledgement or after, and consumers must tolerate both.
type EventStream interface {
	Ticks() <-chan models.Tick
	OrderEvents() <-chan models.OrderEvent
	TradeEvents() <-chan models.TradeEvent
}

// Terminal couples an order gateway with its event feeds.
type Terminal interface {
	OrderGateway
	EventStream
	Close() error
}
