// Package wire defines the frontend/peer message envelopes exchanged over
// the (out of scope) frontend and backup connections. Payload schemas for
// the query/result bodies belong to the serving system's protocol layer;
// this package only carries the framing needed to route and correlate them.
package wire

// MessageType tags a framed frontend/peer message.
type MessageType int

const (
	BackendRequest MessageType = iota
	BackendRelay
	BackendRelayReply
)

// ReplyChannel is the minimal capability needed to dispatch a reply back to
// whoever sent a request — the originating frontend connection, or (for a
// relayed query) the backup link back to the requesting backend.
type ReplyChannel interface {
	Send(payload []byte) error
}

// Request is a query arriving either directly from a frontend
// (BackendRequest) or relayed from a peer backend (BackendRelay).
type Request struct {
	Type      MessageType
	RequestID string
	SessionID string
	Payload   []byte
	Reply     ReplyChannel
}

// RelayReply carries a completed relay's result back to the backend that
// forwarded the original query, matched to the pending task by RequestID.
type RelayReply struct {
	RequestID string
	Status    Status
	Payload   []byte
}

// Status mirrors the reply statuses a Task can complete with.
type Status int

const (
	StatusOK Status = iota
	StatusModelSessionNotLoaded
	StatusTimeout
	StatusForwardError
	StatusRelayFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusModelSessionNotLoaded:
		return "MODEL_SESSION_NOT_LOADED"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusForwardError:
		return "MODEL_FORWARD_ERROR"
	case StatusRelayFailed:
		return "RELAY_FAILED"
	default:
		return "UNKNOWN"
	}
}
