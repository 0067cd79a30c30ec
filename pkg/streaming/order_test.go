package streaming

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/broker-connector/pkg/interfaces"
)

func TestOrderSubscribeUnknownTopic(t *testing.T) {
	venue := setupVenue(t)
	sock := NewOrderSocket(testConfig(venue.URL()))
	require.NoError(t, sock.Connect(context.Background()))
	defer sock.Close()

	err := sock.Subscribe("margin_calls")
	require.Error(t, err)
	assert.Zero(t, venue.ReceivedCount(), "rejected subscribe must not write")
}

func TestOrderSubscribeSendsFrame(t *testing.T) {
	venue := setupVenue(t)
	sock := NewOrderSocket(testConfig(venue.URL()))
	require.NoError(t, sock.Connect(context.Background()))
	defer sock.Close()

	require.NoError(t, sock.Subscribe(TopicOrders, TopicTrades))
	require.True(t, venue.WaitForFrames(1, 2*time.Second))

	var cmd command
	require.NoError(t, json.Unmarshal(venue.ReceivedFrames()[0], &cmd))
	assert.Equal(t, commandSubscribe, cmd.Type)
	assert.Equal(t, []string{TopicOrders, TopicTrades}, cmd.Topics)

	assert.Equal(t, []string{TopicOrders, TopicTrades}, sock.Topics())
}

func TestOrderSubscribeBeforeConnect(t *testing.T) {
	venue := setupVenue(t)
	sock := NewOrderSocket(testConfig(venue.URL()))

	// Tracked while disconnected, replayed on connect.
	require.NoError(t, sock.Subscribe(TopicOrders, TopicPositions))

	require.NoError(t, sock.Connect(context.Background()))
	defer sock.Close()

	require.True(t, venue.WaitForFrames(1, 2*time.Second))
	var cmd command
	require.NoError(t, json.Unmarshal(venue.ReceivedFrames()[0], &cmd))
	assert.Equal(t, []string{TopicOrders, TopicPositions}, cmd.Topics)
}

func TestOrderUnsubscribeUntracked(t *testing.T) {
	venue := setupVenue(t)
	sock := NewOrderSocket(testConfig(venue.URL()))
	require.NoError(t, sock.Connect(context.Background()))
	defer sock.Close()

	assert.ErrorIs(t, sock.Unsubscribe(TopicTrades), interfaces.ErrSubscriptionNotFound)
}

func TestOrderFrameDispatch(t *testing.T) {
	venue := setupVenue(t)
	sock := NewOrderSocket(testConfig(venue.URL()))

	orders := make(chan OrderUpdate, 1)
	trades := make(chan TradeUpdate, 1)
	sock.OnOrder(func(u OrderUpdate) { orders <- u })
	sock.OnTrade(func(u TradeUpdate) { trades <- u })

	require.NoError(t, sock.Connect(context.Background()))
	defer sock.Close()
	require.NoError(t, sock.Subscribe(TopicOrders, TopicTrades))

	require.NoError(t, venue.Broadcast(map[string]interface{}{
		"type": "order",
		"order": map[string]interface{}{
			"order_id": "ORD-1",
			"symbol":   "NSE:INFY",
			"side":     "buy",
			"status":   "filled",
			"qty":      10,
			"price":    "1540.55",
			"ts":       1725100000,
		},
	}))

	select {
	case u := <-orders:
		assert.Equal(t, "ORD-1", u.OrderID)
		assert.Equal(t, "NSE:INFY", u.Symbol)
		assert.True(t, u.Price.Equal(decimal.RequireFromString("1540.55")))
		assert.Equal(t, int64(10), u.Quantity)
	case <-time.After(2 * time.Second):
		t.Fatal("order callback not invoked")
	}

	require.NoError(t, venue.Broadcast(map[string]interface{}{
		"type": "trade",
		"trade": map[string]interface{}{
			"trade_id": "TRD-1",
			"order_id": "ORD-1",
			"symbol":   "NSE:INFY",
			"qty":      10,
			"price":    "1540.55",
		},
	}))

	select {
	case u := <-trades:
		assert.Equal(t, "TRD-1", u.TradeID)
		assert.Equal(t, "ORD-1", u.OrderID)
	case <-time.After(2 * time.Second):
		t.Fatal("trade callback not invoked")
	}
}
