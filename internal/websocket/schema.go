package websocket

import "github.com/stemsi/exot-sync/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action of a client frame.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError  Event = "error"
	EventPong   Event = "pong"
	EventSynced Event = "synced"
)

// SignalMessage tells desks that the authority committed a push. It carries
// no data; receivers pull.
type SignalMessage struct {
	Event      Event            `json:"event"`
	Collection model.Collection `json:"collection,omitempty"`
	UpdatedAt  int64            `json:"updated_at,omitempty"`
	// Origin is the desk that pushed, so it can skip its own echo.
	Origin string `json:"origin,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
