package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/veiloq/broker-connector/pkg/broker"
	"github.com/veiloq/broker-connector/pkg/interfaces"
	"github.com/veiloq/broker-connector/pkg/logging"
	"github.com/veiloq/broker-connector/pkg/streaming"
)

func main() {
	logger := logging.NewZapLogger(logging.WithLogLevel(logging.DEBUG))

	config := broker.ConfigFromEnv()
	config.Logger = logger

	client, err := broker.New(config)
	if err != nil {
		logger.Error("failed to build client", logging.Error(err))
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Try the stored token first, then a refresh when a PIN is set.
	token, err := client.Authenticate(ctx, broker.AuthOptions{
		PIN: os.Getenv("BROKER_PIN"),
	})
	if err != nil {
		var authErr *interfaces.AuthError
		if errors.As(err, &authErr) {
			logger.Error("no usable credential, open the login URL and re-run with the redirect",
				logging.String("login_url", client.SessionURL()))
		} else {
			logger.Error("authentication failed", logging.Error(err))
		}
		os.Exit(1)
	}
	if token.ExpiresAt != nil {
		logger.Info("authenticated", logging.Time("expires_at", *token.ExpiresAt))
	} else {
		logger.Info("authenticated")
	}

	// Fetch the account profile over the rate-limited REST client.
	env, err := client.REST().Get(ctx, "/profile", nil)
	if err != nil {
		logger.Error("profile request failed", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("profile fetched", logging.Int("code", env.Code))

	// Stream quotes for two symbols.
	market, err := client.MarketDataSocket()
	if err != nil {
		logger.Error("failed to build market socket", logging.Error(err))
		os.Exit(1)
	}
	market.OnQuote(func(q streaming.Quote) {
		logger.Info("quote",
			logging.String("symbol", q.Symbol),
			logging.String("ltp", q.LastPrice.String()),
			logging.Int64("volume", q.Volume),
		)
	})
	market.OnError(func(err error) {
		logger.Warn("market socket error", logging.Error(err))
	})
	market.OnErrorMessage(func(code int, msg string) {
		logger.Warn("market socket rejected a request",
			logging.Int("code", code),
			logging.String("message", msg))
	})

	if err := market.Connect(ctx); err != nil {
		logger.Error("failed to connect market socket", logging.Error(err))
		os.Exit(1)
	}
	defer market.Close()

	err = market.Subscribe([]string{"NSE:INFY-EQ", "NSE:TCS-EQ"}, interfaces.DataTypeSymbol)
	if err != nil {
		logger.Error("subscribe failed", logging.Error(err))
		os.Exit(1)
	}

	// Stream order events alongside.
	orders, err := client.OrderSocket()
	if err != nil {
		logger.Error("failed to build order socket", logging.Error(err))
		os.Exit(1)
	}
	orders.OnOrder(func(u streaming.OrderUpdate) {
		logger.Info("order update",
			logging.String("order_id", u.OrderID),
			logging.String("status", u.Status),
		)
	})
	if err := orders.Connect(ctx); err != nil {
		logger.Error("failed to connect order socket", logging.Error(err))
		os.Exit(1)
	}
	defer orders.Close()

	if err := orders.Subscribe(streaming.TopicOrders, streaming.TopicTrades); err != nil {
		logger.Error("subscribe failed", logging.Error(err))
		os.Exit(1)
	}

	// Run until interrupted.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if err := market.KeepRunning(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("market socket stopped", logging.Error(err))
	}
}
