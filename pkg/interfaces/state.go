package interfaces

// ConnectionState describes where a streaming session is in its lifecycle.
// Transitions follow disconnected -> connecting -> connected, with
// connected dropping either back to disconnected (explicit close),
// to reconnecting (unexpected drop with auto-reconnect enabled), or to
// error (reconnect attempts exhausted or a fatal failure).
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

// String returns the lowercase name of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// DataType selects what a market-data subscription delivers.
type DataType string

const (
	// DataTypeSymbol delivers quote updates (LTP, OHLC, volume).
	DataTypeSymbol DataType = "SymbolUpdate"

	// DataTypeDepth delivers order-book depth updates.
	DataTypeDepth DataType = "DepthUpdate"
)

// ErrorHandler receives transport-level failures on a streaming session.
// These are non-fatal and may precede an automatic reconnect.
type ErrorHandler func(err error)

// ErrorMessageHandler receives provider-side error frames: the connection
// is healthy but the server rejected a request (for example an invalid
// subscription). Distinct from ErrorHandler so callers can tell "the pipe
// broke" apart from "the server said no".
type ErrorMessageHandler func(code int, message string)

// StateHandler is notified on every connection-state transition.
type StateHandler func(state ConnectionState)
