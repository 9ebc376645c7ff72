package models

import "time"

// -----------------------------------------------------------------------------
// Outbound message types
// -----------------------------------------------------------------------------

const (
	MessageInit              = "init"
	MessageUpdate            = "update"
	MessageWatchlist         = "watchlist"
	MessageNotification      = "notification"
	MessageError             = "error"
	MessageHeartbeat         = "heartbeat"
	MessageHeartbeatResponse = "heartbeat_response"
	MessageSystem            = "system"
)

// MOutbound is the envelope of every message pushed to a client.
type MOutbound struct {
	Type      string            `json:"type"`
	Timestamp string            `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Data      interface{}       `json:"data,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}

type MInitPayload struct {
	ClientID   string                `json:"client_id"`
	Timeframe  string                `json:"timeframe"`
	Timeframes []string              `json:"timeframes"`
	Symbols    []string              `json:"symbols"`
	Snapshots  map[string]*MSnapshot `json:"snapshots"`
}

type MWatchlistPayload struct {
	Symbols []string `json:"symbols"`
}

// NewOutbound stamps a message with the current time.
func NewOutbound(msgType string) *MOutbound {
	return &MOutbound{
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// -----------------------------------------------------------------------------
// Inbound client messages
// -----------------------------------------------------------------------------

type MInbound struct {
	Action    string   `json:"action"`
	Symbol    string   `json:"symbol,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	Timeframe string   `json:"timeframe,omitempty"`
}
