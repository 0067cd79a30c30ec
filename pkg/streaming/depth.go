package streaming

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/veiloq/broker-connector/pkg/interfaces"
	"github.com/veiloq/broker-connector/pkg/logging"
)

// Tick-by-tick transport limits.
const (
	// MaxDepthSymbols is the per-connection symbol ceiling on the
	// tick-by-tick socket.
	MaxDepthSymbols = 5

	// MaxDepthChannels is the highest channel id a subscription can be
	// grouped under. Channels shed load at channel granularity: a
	// paused channel stays subscribed but stops delivering.
	MaxDepthChannels = 50

	// BookDepth is the number of price levels per book side.
	BookDepth = 50
)

// BookLevel is one price level of the 50-deep book. Level is the
// 0-based position within its side. A zero Quantity means the level is
// empty.
type BookLevel struct {
	Level    int             `json:"level"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"qty"`
	Orders   int             `json:"orders"`
}

// Book is the assembled 50-level view for one symbol. Bids and Asks
// always hold BookDepth entries indexed by level.
type Book struct {
	Symbol   string
	Sequence int64
	Bids     []BookLevel
	Asks     []BookLevel
}

func newBook(symbol string) *Book {
	b := &Book{
		Symbol: symbol,
		Bids:   make([]BookLevel, BookDepth),
		Asks:   make([]BookLevel, BookDepth),
	}
	for i := range b.Bids {
		b.Bids[i].Level = i
		b.Asks[i].Level = i
	}
	return b
}

func applyLevels(side []BookLevel, levels []BookLevel) {
	for _, lv := range levels {
		if lv.Level < 0 || lv.Level >= BookDepth {
			continue
		}
		side[lv.Level] = lv
	}
}

func (b *Book) clone() Book {
	out := Book{
		Symbol:   b.Symbol,
		Sequence: b.Sequence,
		Bids:     make([]BookLevel, BookDepth),
		Asks:     make([]BookLevel, BookDepth),
	}
	copy(out.Bids, b.Bids)
	copy(out.Asks, b.Asks)
	return out
}

type depthFrame struct {
	Type     string      `json:"type"`
	Symbol   string      `json:"symbol"`
	Channel  int         `json:"channel"`
	Sequence int64       `json:"seq"`
	Bids     []BookLevel `json:"bids"`
	Asks     []BookLevel `json:"asks"`
}

// DepthSocket streams tick-by-tick 50-level books. Subscriptions are
// grouped into channels that can be paused and resumed independently
// of the subscription itself.
type DepthSocket struct {
	*session

	subs   map[string]int // symbol -> channel
	active map[int]bool   // channel -> delivering

	// books is touched only on the dispatcher goroutine.
	books map[string]*Book

	onBook func(Book)
}

// NewDepthSocket builds a tick-by-tick depth socket. Call Connect to
// start streaming.
func NewDepthSocket(config Config) *DepthSocket {
	d := &DepthSocket{
		session: newSession(config),
		subs:    make(map[string]int),
		active:  make(map[int]bool),
		books:   make(map[string]*Book),
	}
	d.session.handleFrame = d.dispatchFrame
	d.session.replay = d.replayLocked
	d.session.clearSubs = func() {
		d.subs = make(map[string]int)
		d.active = make(map[int]bool)
	}
	return d
}

// OnBook registers the callback invoked with the assembled book after
// every applied snapshot or diff on an active channel.
func (d *DepthSocket) OnBook(h func(Book)) { d.onBook = h }

// Subscribe adds symbols under the given channel. Both the symbol
// ceiling and the channel range are validated before any network
// write. A newly used channel starts in the delivering state.
func (d *DepthSocket) Subscribe(symbols []string, channel int) error {
	if channel < 1 || channel > MaxDepthChannels {
		return fmt.Errorf("%w: channel %d outside 1..%d",
			interfaces.ErrInvalidChannel, channel, MaxDepthChannels)
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols given")
	}

	d.subMu.Lock()
	defer d.subMu.Unlock()

	added := 0
	for _, sym := range symbols {
		if _, ok := d.subs[sym]; !ok {
			added++
		}
	}
	if len(d.subs)+added > MaxDepthSymbols {
		return fmt.Errorf("%w: %d symbols would exceed the %d per connection limit",
			interfaces.ErrTooManySymbols, len(d.subs)+added, MaxDepthSymbols)
	}

	for _, sym := range symbols {
		d.subs[sym] = channel
	}
	if _, ok := d.active[channel]; !ok {
		d.active[channel] = true
	}
	if !d.IsConnected() {
		return nil
	}
	return d.send(command{
		Type:    commandSubscribe,
		Symbols: symbols,
		Channel: channel,
	})
}

// Unsubscribe drops symbols from the tracked set and issues the
// unsubscribe frame when connected.
func (d *DepthSocket) Unsubscribe(symbols []string) error {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	found := false
	for _, sym := range symbols {
		if _, ok := d.subs[sym]; ok {
			delete(d.subs, sym)
			found = true
		}
	}
	if !found {
		return interfaces.ErrSubscriptionNotFound
	}
	if !d.IsConnected() {
		return nil
	}
	return d.send(command{Type: commandUnsubscribe, Symbols: symbols})
}

// SwitchChannel resumes and pauses delivery per channel without
// touching the subscriptions grouped under them.
func (d *DepthSocket) SwitchChannel(resume, pause []int) error {
	for _, ch := range append(append([]int{}, resume...), pause...) {
		if ch < 1 || ch > MaxDepthChannels {
			return fmt.Errorf("%w: channel %d outside 1..%d",
				interfaces.ErrInvalidChannel, ch, MaxDepthChannels)
		}
	}

	d.subMu.Lock()
	defer d.subMu.Unlock()

	for _, ch := range resume {
		d.active[ch] = true
	}
	for _, ch := range pause {
		d.active[ch] = false
	}
	if !d.IsConnected() {
		return nil
	}
	return d.send(command{
		Type:   commandSwitchChannel,
		Resume: resume,
		Pause:  pause,
	})
}

// Symbols returns the tracked symbols.
func (d *DepthSocket) Symbols() []string {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	out := make([]string, 0, len(d.subs))
	for sym := range d.subs {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// replayLocked re-issues tracked subscriptions grouped by channel,
// then restores the pause state. Caller holds subMu.
func (d *DepthSocket) replayLocked() error {
	if len(d.subs) == 0 {
		return nil
	}

	byChannel := make(map[int][]string)
	for sym, ch := range d.subs {
		byChannel[ch] = append(byChannel[ch], sym)
	}
	channels := make([]int, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	var paused []int
	for _, ch := range channels {
		symbols := byChannel[ch]
		sort.Strings(symbols)
		err := d.send(command{
			Type:    commandSubscribe,
			Symbols: symbols,
			Channel: ch,
		})
		if err != nil {
			return err
		}
		if !d.active[ch] {
			paused = append(paused, ch)
		}
	}
	if len(paused) > 0 {
		return d.send(command{Type: commandSwitchChannel, Pause: paused})
	}
	return nil
}

func (d *DepthSocket) dispatchFrame(frame []byte) {
	var f depthFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		d.logger.Warn("undecodable depth frame", logging.Error(err))
		return
	}

	switch f.Type {
	case frameTypeBookSnapshot:
		book := newBook(f.Symbol)
		book.Sequence = f.Sequence
		applyLevels(book.Bids, f.Bids)
		applyLevels(book.Asks, f.Asks)
		d.books[f.Symbol] = book
		d.deliver(book)

	case frameTypeBookDiff:
		book, ok := d.books[f.Symbol]
		if !ok {
			// A diff without a prior snapshot cannot be applied.
			d.logger.Debug("depth diff before snapshot dropped",
				logging.String("symbol", f.Symbol))
			return
		}
		book.Sequence = f.Sequence
		applyLevels(book.Bids, f.Bids)
		applyLevels(book.Asks, f.Asks)
		d.deliver(book)

	default:
		d.logger.Debug("unhandled depth frame type", logging.String("type", f.Type))
	}
}

// deliver hands the handler a copy of the book when the symbol's
// channel is delivering. Paused channels still update book state so a
// resume starts from the current picture.
func (d *DepthSocket) deliver(book *Book) {
	if d.onBook == nil {
		return
	}

	d.subMu.Lock()
	ch, subscribed := d.subs[book.Symbol]
	delivering := subscribed && d.active[ch]
	d.subMu.Unlock()

	if !delivering {
		return
	}
	d.onBook(book.clone())
}
