package store

// Chat types.
const (
	ChatDirect = "direct"
	ChatGroup  = "group"
)

// Message types.
const (
	TypeText   = "text"
	TypeImage  = "image"
	TypeVideo  = "video"
	TypeAudio  = "audio"
	TypeFile   = "file"
	TypeSystem = "system"
)

// Message statuses, ordered pending/failed < sent < delivered < read.
// Upserts never move a message backwards along this chain.
const (
	StatusPending   = "pending"
	StatusFailed    = "failed"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// User represents a synced user profile.
type User struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	LastSeen    int64
	CreatedAt   int64
}

// Chat represents a synced chat.
type Chat struct {
	ID                 string
	Name               string
	Type               string // direct or group
	Participants       []User
	UnreadCount        int
	LastMessageID      string
	LastMessageAt      int64
	LastMessagePreview string
	CreatedAt          int64
	UpdatedAt          int64
}

// Message represents a synced message.
type Message struct {
	Seq        int64
	ID         string
	ChatID     string
	SenderID   string
	SenderName string
	Content    string
	Type       string
	MediaURL   string
	Status     string
	Timestamp  int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatID       string
	Content      string
	MessageType  string
	MediaURL     string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
