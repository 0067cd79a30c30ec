package rest

import "encoding/json"

const (
	statusOK    = "ok"
	statusError = "error"
)

// Envelope is the standard response wrapper every venue endpoint answers
// with: a status flag, a provider code and message, and the business
// payload alongside. The transport validates S before handing the
// envelope to the caller, so an Envelope returned from Request is always
// a success.
type Envelope struct {
	S       string `json:"s"`
	Code    int    `json:"code"`
	Message string `json:"message"`

	// Raw is the full response body; business payload fields live here
	// next to the envelope fields.
	Raw json.RawMessage `json:"-"`
}

// Decode unmarshals the full response body into v, letting callers pull
// their payload fields out with a typed struct.
func (e *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Raw, v)
}
