package streaming

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/veiloq/broker-connector/pkg/interfaces"
	"github.com/veiloq/broker-connector/pkg/logging"
)

// Topics available on the order-event socket. The socket has no symbol
// concept: a topic delivers every event of its kind for the account.
const (
	TopicOrders      = "orders"
	TopicTrades      = "trades"
	TopicPositions   = "positions"
	TopicEdis        = "edis"
	TopicPriceAlerts = "price_alerts"
)

var orderTopics = map[string]struct{}{
	TopicOrders:      {},
	TopicTrades:      {},
	TopicPositions:   {},
	TopicEdis:        {},
	TopicPriceAlerts: {},
}

// OrderUpdate is one lifecycle event for an order.
type OrderUpdate struct {
	OrderID        string          `json:"order_id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	OrderType      string          `json:"order_type"`
	Status         string          `json:"status"`
	Quantity       int64           `json:"qty"`
	FilledQuantity int64           `json:"filled_qty"`
	Price          decimal.Decimal `json:"price"`
	TradedPrice    decimal.Decimal `json:"traded_price"`
	Timestamp      int64           `json:"ts"`
}

// TradeUpdate is one execution against an order.
type TradeUpdate struct {
	TradeID   string          `json:"trade_id"`
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Quantity  int64           `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"ts"`
}

// PositionUpdate is a net position change.
type PositionUpdate struct {
	Symbol       string          `json:"symbol"`
	NetQuantity  int64           `json:"net_qty"`
	AveragePrice decimal.Decimal `json:"avg_price"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
}

type orderFrame struct {
	Type     string          `json:"type"`
	Order    *OrderUpdate    `json:"order,omitempty"`
	Trade    *TradeUpdate    `json:"trade,omitempty"`
	Position *PositionUpdate `json:"position,omitempty"`
	Alert    json.RawMessage `json:"alert,omitempty"`
}

// OrderSocket streams account-level order, trade and position events.
type OrderSocket struct {
	*session

	topics map[string]struct{}

	onOrder    func(OrderUpdate)
	onTrade    func(TradeUpdate)
	onPosition func(PositionUpdate)
}

// NewOrderSocket builds an order-event socket. Call Connect to start
// streaming.
func NewOrderSocket(config Config) *OrderSocket {
	o := &OrderSocket{
		session: newSession(config),
		topics:  make(map[string]struct{}),
	}
	o.session.handleFrame = o.dispatchFrame
	o.session.replay = o.replayLocked
	o.session.clearSubs = func() { o.topics = make(map[string]struct{}) }
	return o
}

// OnOrder registers the order-event callback.
func (o *OrderSocket) OnOrder(h func(OrderUpdate)) { o.onOrder = h }

// OnTrade registers the trade-event callback.
func (o *OrderSocket) OnTrade(h func(TradeUpdate)) { o.onTrade = h }

// OnPosition registers the position-event callback.
func (o *OrderSocket) OnPosition(h func(PositionUpdate)) { o.onPosition = h }

// Subscribe adds topics to the tracked set and issues the subscribe
// frame when connected. Re-subscribing a topic is a no-op for the
// tracked set.
func (o *OrderSocket) Subscribe(topics ...string) error {
	for _, t := range topics {
		if _, ok := orderTopics[t]; !ok {
			return fmt.Errorf("unknown topic %q", t)
		}
	}

	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, t := range topics {
		o.topics[t] = struct{}{}
	}
	if !o.IsConnected() {
		return nil
	}
	return o.send(command{Type: commandSubscribe, Topics: topics})
}

// Unsubscribe removes topics from the tracked set and issues the
// unsubscribe frame when connected.
func (o *OrderSocket) Unsubscribe(topics ...string) error {
	o.subMu.Lock()
	defer o.subMu.Unlock()

	found := false
	for _, t := range topics {
		if _, ok := o.topics[t]; ok {
			delete(o.topics, t)
			found = true
		}
	}
	if !found {
		return interfaces.ErrSubscriptionNotFound
	}
	if !o.IsConnected() {
		return nil
	}
	return o.send(command{Type: commandUnsubscribe, Topics: topics})
}

// Topics returns the tracked topic set.
func (o *OrderSocket) Topics() []string {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	out := make([]string, 0, len(o.topics))
	for t := range o.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// replayLocked re-issues every tracked topic in one frame. Caller
// holds subMu.
func (o *OrderSocket) replayLocked() error {
	if len(o.topics) == 0 {
		return nil
	}
	topics := make([]string, 0, len(o.topics))
	for t := range o.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return o.send(command{Type: commandSubscribe, Topics: topics})
}

func (o *OrderSocket) dispatchFrame(frame []byte) {
	var f orderFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		o.logger.Warn("undecodable order frame", logging.Error(err))
		return
	}

	switch f.Type {
	case frameTypeOrder:
		if f.Order != nil && o.onOrder != nil {
			o.onOrder(*f.Order)
		}
	case frameTypeTrade:
		if f.Trade != nil && o.onTrade != nil {
			o.onTrade(*f.Trade)
		}
	case frameTypePosition:
		if f.Position != nil && o.onPosition != nil {
			o.onPosition(*f.Position)
		}
	case frameTypeAlert:
		// Price alerts have no dedicated callback yet; they are
		// visible through the state and error hooks only.
	default:
		o.logger.Debug("unhandled order frame type", logging.String("type", f.Type))
	}
}
