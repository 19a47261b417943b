package payload

import "github.com/google/uuid"

// Outbound command payload shapes. Snowflake ids are decimal strings on
// the wire so the JSON codec never routes them through a float.

// IdentifyProperties describes the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// IdentifyData is the payload for OpIdentify.
type IdentifyData struct {
	Token          string              `json:"token"`
	Properties     IdentifyProperties  `json:"properties"`
	Compress       bool                `json:"compress,omitempty"`
	LargeThreshold int                 `json:"large_threshold,omitempty"`
	Shard          [2]int              `json:"shard"`
	Presence       *PresenceUpdateData `json:"presence,omitempty"`
	Intents        int64               `json:"intents"`
}

// ResumeData is the payload for OpResume.
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// RequestGuildMembersData is the payload for OpRequestGuildMembers.
type RequestGuildMembersData struct {
	GuildID   string   `json:"guild_id"`
	Query     *string  `json:"query,omitempty"`
	Limit     int      `json:"limit"`
	Presences bool     `json:"presences,omitempty"`
	UserIDs   []string `json:"user_ids,omitempty"`
	Nonce     string   `json:"nonce"`
}

// VoiceStateUpdateData is the payload for OpVoiceStateUpdate. A nil
// ChannelID disconnects from voice.
type VoiceStateUpdateData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// Activity is one presence activity entry.
type Activity struct {
	Name  string  `json:"name"`
	Type  int     `json:"type"`
	URL   *string `json:"url,omitempty"`
	State *string `json:"state,omitempty"`
}

// PresenceUpdateData is the payload for OpPresenceUpdate.
type PresenceUpdateData struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

// RequestSoundboardSoundsData is the payload for OpRequestSoundboardSounds.
type RequestSoundboardSoundsData struct {
	GuildIDs []string `json:"guild_ids"`
}

// Heartbeat builds a heartbeat command carrying the last seen sequence
// number, or null before the first dispatch.
func Heartbeat(seq *int64) *Command {
	var data any
	if seq != nil {
		data = *seq
	}
	return &Command{Op: OpHeartbeat, Data: data}
}

// Identify builds a fresh-authentication command.
func Identify(d IdentifyData) *Command {
	if d.Properties == (IdentifyProperties{}) {
		d.Properties = IdentifyProperties{OS: "linux", Browser: "gateway", Device: "gateway"}
	}
	return &Command{Op: OpIdentify, Data: d}
}

// Resume builds a session-resume command.
func Resume(token, sessionID string, seq int64) *Command {
	return &Command{Op: OpResume, Data: ResumeData{Token: token, SessionID: sessionID, Seq: seq}}
}

// RequestGuildMembers builds a member-chunk request. A fresh nonce is
// generated so callers can correlate the resulting chunk dispatches;
// the nonce is returned alongside the command.
func RequestGuildMembers(d RequestGuildMembersData) (*Command, string) {
	if d.Nonce == "" {
		d.Nonce = uuid.NewString()
	}
	return &Command{Op: OpRequestGuildMembers, Data: d}, d.Nonce
}

// RequestSoundboardSounds builds a soundboard-sound request.
func RequestSoundboardSounds(guildIDs []string) *Command {
	return &Command{Op: OpRequestSoundboardSounds, Data: RequestSoundboardSoundsData{GuildIDs: guildIDs}}
}

// UpdateVoiceState builds a voice state command.
func UpdateVoiceState(d VoiceStateUpdateData) *Command {
	return &Command{Op: OpVoiceStateUpdate, Data: d}
}

// UpdatePresence builds a presence command.
func UpdatePresence(d PresenceUpdateData) *Command {
	if d.Status == "" {
		d.Status = "online"
	}
	if d.Activities == nil {
		d.Activities = []Activity{}
	}
	return &Command{Op: OpPresenceUpdate, Data: d}
}
