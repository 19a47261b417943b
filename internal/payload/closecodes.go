package payload

// CloseCode is a websocket close code received from the gateway.
type CloseCode int

// Gateway close codes, per the platform protocol reference.
const (
	CloseUnknownError         CloseCode = 4000
	CloseUnknownOpcode        CloseCode = 4001
	CloseDecodeError          CloseCode = 4002
	CloseNotAuthenticated     CloseCode = 4003
	CloseAuthenticationFailed CloseCode = 4004
	CloseAlreadyAuthenticated CloseCode = 4005
	CloseInvalidSeq           CloseCode = 4007
	CloseRateLimited          CloseCode = 4008
	CloseSessionTimedOut      CloseCode = 4009
	CloseInvalidShard         CloseCode = 4010
	CloseShardingRequired     CloseCode = 4011
	CloseInvalidAPIVersion    CloseCode = 4012
	CloseInvalidIntents       CloseCode = 4013
	CloseDisallowedIntents    CloseCode = 4014
)

// Fatal reports whether the close code indicates an unrecoverable
// condition. A fatal close must not be retried; the operator has to fix
// the configuration (token, intents, shard count, API version).
func (c CloseCode) Fatal() bool {
	switch c {
	case CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents:
		return true
	}
	return false
}

// Resumable reports whether a session that observed this close code may
// attempt to resume with its stored session id and sequence number.
// Invalid-seq and session-timeout closes reconnect but must identify
// fresh, so they are not resumable. Abnormal closure (1006) carries no
// gateway verdict, so the stored session is assumed still valid.
func (c CloseCode) Resumable() bool {
	if c == 1006 {
		return true
	}
	switch c {
	case CloseUnknownError,
		CloseUnknownOpcode,
		CloseDecodeError,
		CloseNotAuthenticated,
		CloseAlreadyAuthenticated,
		CloseRateLimited:
		return true
	}
	return false
}

// Reconnectable reports whether the session should reconnect at all
// after this close code. Normal closes (1000/1001) and fatal codes do
// not reconnect; everything else does.
func (c CloseCode) Reconnectable() bool {
	if c == 1000 || c == 1001 {
		return false
	}
	return !c.Fatal()
}
