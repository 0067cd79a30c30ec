package streaming

// Frame type discriminators used by the venue on all three sockets.
const (
	frameTypeError = "error"

	frameTypeOrder    = "order"
	frameTypeTrade    = "trade"
	frameTypePosition = "position"
	frameTypeAlert    = "price_alert"

	frameTypeQuote = "quote"
	frameTypeDepth = "depth"

	frameTypeBookSnapshot = "depth_snapshot"
	frameTypeBookDiff     = "depth_diff"
)

// Outbound command verbs.
const (
	commandSubscribe     = "subscribe"
	commandUnsubscribe   = "unsubscribe"
	commandSwitchChannel = "switch_channel"
)

// command is the single outbound frame shape. Unused fields are
// omitted, so each variant produces only the keys its venue endpoint
// expects.
type command struct {
	Type     string   `json:"type"`
	Topics   []string `json:"topics,omitempty"`
	Symbols  []string `json:"symbols,omitempty"`
	DataType string   `json:"data_type,omitempty"`
	Channel  int      `json:"channel,omitempty"`
	Resume   []int    `json:"resume_channels,omitempty"`
	Pause    []int    `json:"pause_channels,omitempty"`
}
