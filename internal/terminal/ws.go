package terminal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"futures-grid-engine/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // must be less than pongWait
	retryWait  = 5 * time.Second
	ackWait    = 10 * time.Second
)

// frame is the JSON envelope every message on the terminal socket uses,
// in both directions.
type frame struct {
	Type  string          `json:"type"`
	ReqID string          `json:"req_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type submitPayload struct {
	models.OrderRequest
}

type cancelPayload struct {
	OrderID models.OrderID `json:"order_id"`
}

type ackPayload struct {
	OrderID models.OrderID `json:"order_id"`
	Error   *models.Error  `json:"error,omitempty"`
}

// WSClient is the live Terminal implementation over a single websocket
// connection. Submissions and cancels go out as request frames and are
// correlated with their acks by request id; tick, order and trade frames
// are fanned out to the engine's channels. The client maintains its own
// reconnect loop with ping/pong heartbeats.
type WSClient struct {
	url    string
	logger *zap.SugaredLogger

	ticks  chan models.Tick
	orders chan models.OrderEvent
	trades chan models.TradeEvent

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan ackPayload

	stopOnce sync.Once
	stop     chan struct{}
}

// NewWSClient dials url and starts the read/heartbeat loops. The feed
// channels are buffered so a slow consumer delays the socket reader
// instead of dropping events.
func NewWSClient(url string, logger *zap.SugaredLogger) (*WSClient, error) {
	c := &WSClient{
		url:     url,
		logger:  logger,
		ticks:   make(chan models.Tick, 1024),
		orders:  make(chan models.OrderEvent, 256),
		trades:  make(chan models.TradeEvent, 256),
		pending: make(map[string]chan ackPayload),
		stop:    make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return errors.Wrapf(err, "dial terminal %s", c.url)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// readLoop 维持连接:断线后等待重连,直到 Close 被调用。
func (c *WSClient) readLoop() {
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if err := c.handleMessages(); err != nil {
			c.logger.Warnw("终端连接中断", "error", err)
		}
		c.failPending()

		select {
		case <-c.stop:
			return
		case <-time.After(retryWait):
		}
		if err := c.connect(); err != nil {
			c.logger.Warnw("终端重连失败", "error", err)
			continue
		}
		c.logger.Info("终端重连成功")
	}
}

func (c *WSClient) handleMessages() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("no connection")
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	pingStop := make(chan struct{})
	defer pingTicker.Stop()
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-c.stop:
				return
			}
		}
	}()

	for {
		select {
		case <-c.stop:
			return c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read terminal frame")
		}
		c.dispatch(message)
	}
}

func (c *WSClient) dispatch(message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		c.logger.Warnw("解析终端消息失败", "error", err)
		return
	}
	switch f.Type {
	case "tick":
		var tick models.Tick
		if err := json.Unmarshal(f.Data, &tick); err != nil {
			c.logger.Warnw("解析行情失败", "error", err)
			return
		}
		c.ticks <- tick
	case "order":
		var ev models.OrderEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			c.logger.Warnw("解析委托回报失败", "error", err)
			return
		}
		c.orders <- ev
	case "trade":
		var ev models.TradeEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			c.logger.Warnw("解析成交回报失败", "error", err)
			return
		}
		c.trades <- ev
	case "ack":
		var ack ackPayload
		if err := json.Unmarshal(f.Data, &ack); err != nil {
			c.logger.Warnw("解析应答失败", "error", err, "req_id", f.ReqID)
			return
		}
		c.resolvePending(f.ReqID, ack)
	default:
		c.logger.Debugw("忽略未知消息类型", "type", f.Type)
	}
}

func (c *WSClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("no connection")
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *WSClient) registerPending(reqID string) chan ackPayload {
	ch := make(chan ackPayload, 1)
	c.mu.Lock()
	c.pending[reqID] = ch
	c.mu.Unlock()
	return ch
}

func (c *WSClient) resolvePending(reqID string, ack ackPayload) {
	c.mu.Lock()
	ch, ok := c.pending[reqID]
	delete(c.pending, reqID)
	c.mu.Unlock()
	if ok {
		ch <- ack
	}
}

// failPending 在断线时让所有等待应答的请求立即失败,而不是等到超时。
func (c *WSClient) failPending() {
	c.mu.Lock()
	for reqID, ch := range c.pending {
		delete(c.pending, reqID)
		ch <- ackPayload{Error: &models.Error{Code: -1, Msg: "connection lost"}}
	}
	c.mu.Unlock()
}

func (c *WSClient) roundTrip(ctx context.Context, f frame) (ackPayload, error) {
	ch := c.registerPending(f.ReqID)
	data, err := json.Marshal(f)
	if err != nil {
		return ackPayload{}, errors.Wrap(err, "marshal request frame")
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		c.resolvePending(f.ReqID, ackPayload{}) // drop registration
		return ackPayload{}, errors.Wrap(err, "write request frame")
	}

	timer := time.NewTimer(ackWait)
	defer timer.Stop()
	select {
	case ack := <-ch:
		return ack, nil
	case <-ctx.Done():
		return ackPayload{}, ctx.Err()
	case <-timer.C:
		return ackPayload{}, errors.Errorf("terminal ack timeout for %s", f.ReqID)
	case <-c.stop:
		return ackPayload{}, errors.New("client closed")
	}
}

// Submit sends the order request and waits for the terminal's ack
// carrying the assigned order id.
func (c *WSClient) Submit(ctx context.Context, req models.OrderRequest) (models.OrderID, error) {
	data, err := json.Marshal(submitPayload{OrderRequest: req})
	if err != nil {
		return 0, errors.Wrap(err, "marshal submit")
	}
	ack, err := c.roundTrip(ctx, frame{Type: "submit", ReqID: uuid.NewString(), Data: data})
	if err != nil {
		return 0, err
	}
	if ack.Error != nil {
		return 0, ack.Error
	}
	return ack.OrderID, nil
}

// Cancel requests cancellation of the order. Success only means the
// terminal accepted the request; the CANCELLED event arrives on the
// order feed later, if at all.
func (c *WSClient) Cancel(ctx context.Context, id models.OrderID) error {
	data, err := json.Marshal(cancelPayload{OrderID: id})
	if err != nil {
		return errors.Wrap(err, "marshal cancel")
	}
	ack, err := c.roundTrip(ctx, frame{Type: "cancel", ReqID: uuid.NewString(), Data: data})
	if err != nil {
		return err
	}
	if ack.Error != nil {
		return ack.Error
	}
	return nil
}

func (c *WSClient) Ticks() <-chan models.Tick             { return c.ticks }
func (c *WSClient) OrderEvents() <-chan models.OrderEvent { return c.orders }
func (c *WSClient) TradeEvents() <-chan models.TradeEvent { return c.trades }

// Close stops the loops and closes the socket.
func (c *WSClient) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
