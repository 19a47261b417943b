package payload

import "encoding/json"

// Inbound payload shapes the session core needs to interpret. Dispatch
// event data beyond these passes through as raw JSON.

// HelloData is the payload of OpHello.
type HelloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// ReadyData is the subset of the READY dispatch consumed by the core.
type ReadyData struct {
	SessionID        string            `json:"session_id"`
	ResumeGatewayURL string            `json:"resume_gateway_url"`
	Guilds           []json.RawMessage `json:"guilds"`
	Shard            [2]int            `json:"shard"`
}

// InvalidSession decodes the OpInvalidSession payload: true means the
// session may still be resumed, false forces a fresh identify.
func InvalidSession(data json.RawMessage) bool {
	var resumable bool
	if err := json.Unmarshal(data, &resumable); err != nil {
		return false
	}
	return resumable
}
