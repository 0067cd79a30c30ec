package streaming

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/veiloq/broker-connector/pkg/interfaces"
	"github.com/veiloq/broker-connector/pkg/logging"
)

// MaxMarketSymbols is the venue's per-connection symbol ceiling on the
// market-data socket.
const MaxMarketSymbols = 5000

// Quote is a lite tick: last trade plus top of book.
type Quote struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"ltp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	PrevClose decimal.Decimal `json:"prev_close"`
	Volume    int64           `json:"volume"`
	BidPrice  decimal.Decimal `json:"bid"`
	BidSize   int64           `json:"bid_size"`
	AskPrice  decimal.Decimal `json:"ask"`
	AskSize   int64           `json:"ask_size"`
	Timestamp int64           `json:"ts"`
}

// DepthLevel is one price level of the 5-deep market-data book.
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"qty"`
	Orders   int             `json:"orders"`
}

// DepthUpdate is a full 5-level book refresh for one symbol.
type DepthUpdate struct {
	Symbol            string       `json:"symbol"`
	Bids              []DepthLevel `json:"bids"`
	Asks              []DepthLevel `json:"asks"`
	TotalBuyQuantity  int64        `json:"total_buy_qty"`
	TotalSellQuantity int64        `json:"total_sell_qty"`
	Timestamp         int64        `json:"ts"`
}

type marketFrame struct {
	Type  string       `json:"type"`
	Quote *Quote       `json:"quote,omitempty"`
	Depth *DepthUpdate `json:"depth,omitempty"`
}

// MarketDataSocket streams quotes and 5-level depth for up to 5,000
// symbols per connection.
type MarketDataSocket struct {
	*session

	subs map[string]interfaces.DataType

	onQuote func(Quote)
	onDepth func(DepthUpdate)
}

// NewMarketDataSocket builds a market-data socket. Call Connect to
// start streaming.
func NewMarketDataSocket(config Config) *MarketDataSocket {
	m := &MarketDataSocket{
		session: newSession(config),
		subs:    make(map[string]interfaces.DataType),
	}
	m.session.handleFrame = m.dispatchFrame
	m.session.replay = m.replayLocked
	m.session.clearSubs = func() { m.subs = make(map[string]interfaces.DataType) }
	return m
}

// OnQuote registers the quote callback.
func (m *MarketDataSocket) OnQuote(h func(Quote)) { m.onQuote = h }

// OnDepth registers the depth callback.
func (m *MarketDataSocket) OnDepth(h func(DepthUpdate)) { m.onDepth = h }

// Subscribe adds symbols under the given data type. Subscribing a
// symbol again switches its data type instead of duplicating the
// entry. The symbol ceiling is validated before any network write.
func (m *MarketDataSocket) Subscribe(symbols []string, dataType interfaces.DataType) error {
	if dataType != interfaces.DataTypeSymbol && dataType != interfaces.DataTypeDepth {
		return fmt.Errorf("unknown data type %q", dataType)
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols given")
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()

	added := 0
	for _, sym := range symbols {
		if _, ok := m.subs[sym]; !ok {
			added++
		}
	}
	if len(m.subs)+added > MaxMarketSymbols {
		return fmt.Errorf("%w: %d symbols would exceed the %d per connection limit",
			interfaces.ErrTooManySymbols, len(m.subs)+added, MaxMarketSymbols)
	}

	for _, sym := range symbols {
		m.subs[sym] = dataType
	}
	if !m.IsConnected() {
		return nil
	}
	return m.send(command{
		Type:     commandSubscribe,
		Symbols:  symbols,
		DataType: string(dataType),
	})
}

// Unsubscribe removes symbols from the tracked set and issues the
// unsubscribe frame when connected.
func (m *MarketDataSocket) Unsubscribe(symbols []string) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	found := false
	for _, sym := range symbols {
		if _, ok := m.subs[sym]; ok {
			delete(m.subs, sym)
			found = true
		}
	}
	if !found {
		return interfaces.ErrSubscriptionNotFound
	}
	if !m.IsConnected() {
		return nil
	}
	return m.send(command{Type: commandUnsubscribe, Symbols: symbols})
}

// Symbols returns the tracked symbols.
func (m *MarketDataSocket) Symbols() []string {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	out := make([]string, 0, len(m.subs))
	for sym := range m.subs {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// replayLocked re-issues tracked subscriptions, one frame per data
// type. Caller holds subMu.
func (m *MarketDataSocket) replayLocked() error {
	if len(m.subs) == 0 {
		return nil
	}

	byType := make(map[interfaces.DataType][]string)
	for sym, dt := range m.subs {
		byType[dt] = append(byType[dt], sym)
	}
	for _, dt := range []interfaces.DataType{interfaces.DataTypeSymbol, interfaces.DataTypeDepth} {
		symbols := byType[dt]
		if len(symbols) == 0 {
			continue
		}
		sort.Strings(symbols)
		err := m.send(command{
			Type:     commandSubscribe,
			Symbols:  symbols,
			DataType: string(dt),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *MarketDataSocket) dispatchFrame(frame []byte) {
	var f marketFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		m.logger.Warn("undecodable market frame", logging.Error(err))
		return
	}

	switch f.Type {
	case frameTypeQuote:
		if f.Quote != nil && m.onQuote != nil {
			m.onQuote(*f.Quote)
		}
	case frameTypeDepth:
		if f.Depth != nil && m.onDepth != nil {
			m.onDepth(*f.Depth)
		}
	default:
		m.logger.Debug("unhandled market frame type", logging.String("type", f.Type))
	}
}
