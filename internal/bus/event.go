package bus

import "time"

// Event kinds published by the sync core. Subscribers filter by
// namespace prefix, e.g. "message." or "chat.".
const (
	KindChatUpdated   = "chat.updated"
	KindMessageUpsert = "message.upserted"
	KindSendAck       = "message.send_ack"
	KindSendFailed    = "message.send_failed"
	KindConnStatus    = "conn.status_changed"
	KindRTMessage     = "rt.message"
	KindRTConnected   = "rt.connected"
	KindRTDropped     = "rt.disconnected"
	KindSyncDone      = "sync.completed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// New builds an event stamped with the current time.
func New(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
