package session

// EventType defines the type of event being broadcast.
type EventType string

const (
	EventDetected     EventType = "detected"
	EventStateChanged EventType = "state_changed"
	EventBusy         EventType = "busy"
	EventNotice       EventType = "notice"
)

// Event represents a session change. Data is a Snapshot for every type
// except EventNotice, where it is a Notice.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// Subscriber is a channel that receives events.
type Subscriber chan Event

// Notice levels.
const (
	NoticeInfo  = "info"
	NoticeError = "error"
)

// Notice is a transient, user-visible message.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}
