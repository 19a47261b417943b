package session

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a shard session.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusResuming     Status = "resuming"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
	StatusDestroyed    Status = "destroyed"
)

// Dispatch is one decoded gateway event, forwarded upward in arrival
// order for its shard.
type Dispatch struct {
	ShardID    int
	Event      string
	Data       json.RawMessage
	Seq        int64
	ReceivedAt time.Time
}

// NotificationType classifies a lifecycle notification.
type NotificationType string

const (
	NotifyConnecting   NotificationType = "connecting"
	NotifyReady        NotificationType = "ready"
	NotifyResumed      NotificationType = "resumed"
	NotifyReconnecting NotificationType = "reconnecting"
	NotifyDisconnect   NotificationType = "disconnect"
	NotifyError        NotificationType = "error"
)

// Notification is a lifecycle or diagnostic event from one session.
type Notification struct {
	Type      NotificationType
	ShardID   int
	CloseCode int   // set for disconnect notifications
	Err       error // set for error notifications
}

// Handlers receives events from a session. Callbacks are invoked
// synchronously from the session's own goroutine, which is what
// preserves per-shard dispatch ordering; handlers that need to do real
// work should hand off quickly.
type Handlers struct {
	OnDispatch func(Dispatch)
	OnNotify   func(Notification)
}
