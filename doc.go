// Package broker-connector gives applications authenticated,
// rate-limited access to a trading venue over REST and three real-time
// WebSocket channels.
//
// The SDK is four tightly coupled layers:
//
//   - Token lifecycle (pkg/auth): the OAuth authorize/validate/refresh
//     exchange, a token manager with caching and a pluggable file- or
//     memory-backed token store.
//
//   - Rate limiter (pkg/ratelimit): a three-tier gate (per second, per
//     minute, per calendar day) consulted before every REST call, with
//     the day counter persisted across restarts.
//
//   - HTTP transport (pkg/rest): a resty-backed client that injects the
//     "{clientID}:{accessToken}" identity header, passes the limiter
//     and classifies every response into a typed error. HTTP 200 is
//     never trusted without inspecting the venue's envelope.
//
//   - Streaming (pkg/streaming): order events, symbol/depth market
//     data and tick-by-tick 50-level depth over one shared session
//     core with automatic reconnect and subscription replay.
//
// pkg/broker ties them together behind one Client.
//
// # Standard Errors
//
// Errors are typed in pkg/interfaces so callers can branch on the
// failure class:
//
//   - AuthError: the credential was rejected or is missing; re-run
//     the authentication flow.
//
//   - RateLimitError: a tier ceiling was hit; RetryAfter says how long
//     until a slot frees. Day-tier breaches are an operational stop
//     for the rest of the calendar day.
//
//   - APIError: the venue rejected the business request.
//
//   - NetworkError: the transport failed; retryable by the caller.
//
//   - ErrTokenNotFound: no usable credential in storage.
//
// # Example
//
// Authenticate and issue a REST call:
//
//	client, err := broker.New(broker.ConfigFromEnv())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	token, err := client.Authenticate(ctx, broker.AuthOptions{PIN: pin})
//	if err != nil {
//	    // Send the user to client.SessionURL() and retry with the
//	    // redirect URL.
//	    log.Fatal(err)
//	}
//	_ = token
//
//	env, err := client.REST().Get(ctx, "/profile", nil)
//
// Stream market data:
//
//	market, err := client.MarketDataSocket()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	market.OnQuote(func(q streaming.Quote) {
//	    fmt.Println(q.Symbol, q.LastPrice)
//	})
//	if err := market.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer market.Close()
//
//	err = market.Subscribe([]string{"NSE:INFY-EQ"}, interfaces.DataTypeSymbol)
package brokerconnector
