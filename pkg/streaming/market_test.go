package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/broker-connector/pkg/interfaces"
)

func TestMarketSymbolCap(t *testing.T) {
	venue := setupVenue(t)
	sock := NewMarketDataSocket(testConfig(venue.URL()))
	require.NoError(t, sock.Connect(context.Background()))
	defer sock.Close()

	symbols := make([]string, MaxMarketSymbols+1)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("NSE:SYM%04d", i)
	}

	err := sock.Subscribe(symbols, interfaces.DataTypeSymbol)
	assert.ErrorIs(t, err, interfaces.ErrTooManySymbols)
	assert.Zero(t, venue.ReceivedCount(), "rejected subscribe must not write")
	assert.Empty(t, sock.Symbols(), "rejected subscribe must not mutate tracking")
}

func TestMarketInvalidDataType(t *testing.T) {
	venue := setupVenue(t)
	sock := NewMarketDataSocket(testConfig(venue.URL()))

	err := sock.Subscribe([]string{"NSE:INFY"}, interfaces.DataType("L3"))
	require.Error(t, err)
}

func TestMarketResubscribeSwitchesDataType(t *testing.T) {
	venue := setupVenue(t)
	sock := NewMarketDataSocket(testConfig(venue.URL()))

	require.NoError(t, sock.Subscribe([]string{"NSE:INFY"}, interfaces.DataTypeSymbol))
	require.NoError(t, sock.Subscribe([]string{"NSE:INFY"}, interfaces.DataTypeDepth))

	// One tracked entry, now under the depth data type.
	assert.Equal(t, []string{"NSE:INFY"}, sock.Symbols())
}

func TestMarketQuoteAndDepthDispatch(t *testing.T) {
	venue := setupVenue(t)
	sock := NewMarketDataSocket(testConfig(venue.URL()))

	quotes := make(chan Quote, 1)
	depths := make(chan DepthUpdate, 1)
	sock.OnQuote(func(q Quote) { quotes <- q })
	sock.OnDepth(func(d DepthUpdate) { depths <- d })

	require.NoError(t, sock.Connect(context.Background()))
	defer sock.Close()
	require.NoError(t, sock.Subscribe([]string{"NSE:INFY"}, interfaces.DataTypeSymbol))

	require.NoError(t, venue.Broadcast(map[string]interface{}{
		"type": "quote",
		"quote": map[string]interface{}{
			"symbol": "NSE:INFY",
			"ltp":    "1540.55",
			"volume": 123456,
			"bid":    "1540.50",
			"ask":    "1540.60",
		},
	}))

	select {
	case q := <-quotes:
		assert.Equal(t, "NSE:INFY", q.Symbol)
		assert.True(t, q.LastPrice.Equal(decimal.RequireFromString("1540.55")))
		assert.Equal(t, int64(123456), q.Volume)
	case <-time.After(2 * time.Second):
		t.Fatal("quote callback not invoked")
	}

	require.NoError(t, venue.Broadcast(map[string]interface{}{
		"type": "depth",
		"depth": map[string]interface{}{
			"symbol": "NSE:INFY",
			"bids": []map[string]interface{}{
				{"price": "1540.50", "qty": 100, "orders": 3},
			},
			"asks": []map[string]interface{}{
				{"price": "1540.60", "qty": 80, "orders": 2},
			},
			"total_buy_qty":  100,
			"total_sell_qty": 80,
		},
	}))

	select {
	case d := <-depths:
		require.Len(t, d.Bids, 1)
		assert.True(t, d.Bids[0].Price.Equal(decimal.RequireFromString("1540.50")))
		assert.Equal(t, int64(100), d.TotalBuyQuantity)
	case <-time.After(2 * time.Second):
		t.Fatal("depth callback not invoked")
	}
}

func TestMarketReplayGroupsByDataType(t *testing.T) {
	venue := setupVenue(t)
	sock := NewMarketDataSocket(testConfig(venue.URL()))

	require.NoError(t, sock.Subscribe([]string{"NSE:INFY", "NSE:TCS"}, interfaces.DataTypeSymbol))
	require.NoError(t, sock.Subscribe([]string{"NSE:SBIN"}, interfaces.DataTypeDepth))

	require.NoError(t, sock.Connect(context.Background()))
	defer sock.Close()

	require.True(t, venue.WaitForFrames(2, 2*time.Second))
	frames := venue.ReceivedFrames()
	require.Len(t, frames, 2)

	byType := map[string][]string{}
	for _, frame := range frames {
		var cmd command
		require.NoError(t, json.Unmarshal(frame, &cmd))
		assert.Equal(t, commandSubscribe, cmd.Type)
		byType[cmd.DataType] = cmd.Symbols
	}
	assert.Equal(t, []string{"NSE:INFY", "NSE:TCS"}, byType[string(interfaces.DataTypeSymbol)])
	assert.Equal(t, []string{"NSE:SBIN"}, byType[string(interfaces.DataTypeDepth)])
}
