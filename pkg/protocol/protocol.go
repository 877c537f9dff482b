// Package protocol defines the wire shapes shared between the goblast
// gateway and its clients (CLI, dashboards): the WebSocket event frame
// and the HTTP error envelope.
package protocol

// Error codes returned in HTTP error envelopes.
const (
	ErrInvalidRequest  = "INVALID_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrNotConnected    = "NOT_CONNECTED"
	ErrNotFound        = "NOT_FOUND"
	ErrPayloadTooLarge = "PAYLOAD_TOO_LARGE"
	ErrUnsupportedType = "UNSUPPORTED_TYPE"
	ErrRateLimited     = "RATE_LIMITED"
	ErrInternal        = "INTERNAL"
)

// ErrorEnvelope is the JSON body of every non-2xx response.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event names pushed over the WebSocket stream.
const (
	EventSessionState = "session.state"
	EventPairing      = "session.pairing"
	EventShutdown     = "shutdown"
)

// EventFrame is pushed from the gateway to WebSocket subscribers.
type EventFrame struct {
	Type    string      `json:"type"` // always "event"
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
	Seq     int64       `json:"seq,omitempty"`
}

// NewEvent builds an event frame.
func NewEvent(event string, payload interface{}) EventFrame {
	return EventFrame{Type: "event", Event: event, Payload: payload}
}

// SessionStatePayload is the body of session.state events and of
// GET /status responses.
type SessionStatePayload struct {
	State           string `json:"state"`
	PairingCode     string `json:"pairing_code,omitempty"`
	RestartAttempts int    `json:"restart_attempts,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	QueueDepth      int    `json:"queue_depth"`
}
