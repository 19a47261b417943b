package payload

// Opcode identifies the intent of a gateway envelope.
type Opcode int

// Gateway operation codes, per the platform protocol reference.
const (
	OpDispatch                Opcode = 0  // receive: an event
	OpHeartbeat               Opcode = 1  // send/receive: keepalive
	OpIdentify                Opcode = 2  // send: start a new session
	OpPresenceUpdate          Opcode = 3  // send: update client presence
	OpVoiceStateUpdate        Opcode = 4  // send: join/leave/move voice
	OpResume                  Opcode = 6  // send: resume a dropped session
	OpReconnect               Opcode = 7  // receive: server asks us to reconnect
	OpRequestGuildMembers     Opcode = 8  // send: request member chunks
	OpInvalidSession          Opcode = 9  // receive: session is invalid
	OpHello                   Opcode = 10 // receive: first payload after connect
	OpHeartbeatACK            Opcode = 11 // receive: heartbeat acknowledged
	OpRequestSoundboardSounds Opcode = 31 // send: request soundboard sounds
)

// String returns the opcode name for logging.
func (op Opcode) String() string {
	switch op {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpPresenceUpdate:
		return "presence_update"
	case OpVoiceStateUpdate:
		return "voice_state_update"
	case OpResume:
		return "resume"
	case OpReconnect:
		return "reconnect"
	case OpRequestGuildMembers:
		return "request_guild_members"
	case OpInvalidSession:
		return "invalid_session"
	case OpHello:
		return "hello"
	case OpHeartbeatACK:
		return "heartbeat_ack"
	case OpRequestSoundboardSounds:
		return "request_soundboard_sounds"
	default:
		return "unknown"
	}
}
