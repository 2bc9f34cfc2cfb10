package aqua

import "github.com/bwmarrin/discordgo"

// VoicePacketType tags which gateway dispatch a VoicePacket wraps.
type VoicePacketType string

const (
	VoicePacketState  VoicePacketType = "VOICE_STATE_UPDATE"
	VoicePacketServer VoicePacketType = "VOICE_SERVER_UPDATE"
)

// VoicePacket is the sole shape Orchestrator.UpdateVoiceState accepts. A
// caller's discordgo handlers wrap the two gateway dispatches it cares about
// directly into this struct; aqua never touches a discordgo.Session.
type VoicePacket struct {
	Type   VoicePacketType
	State  *discordgo.VoiceStateUpdate
	Server *discordgo.VoiceServerUpdate
	// TxID is stamped by the Orchestrator before dispatch to the owning
	// Player's Connection; callers should leave it zero.
	TxID int64
}

// VoiceJoinPacket is the opaque voice-join/leave packet aqua emits through
// Options.SendVoiceUpdate, matching the Discord gateway's op:4 Voice State
// Update payload. ChannelID == nil means leave.
type VoiceJoinPacket struct {
	Op int           `json:"op"`
	D  VoiceJoinData `json:"d"`
}

type VoiceJoinData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

func newVoiceJoinPacket(guildID, channelID string, selfMute, selfDeaf bool) VoiceJoinPacket {
	var ch *string
	if channelID != "" {
		ch = &channelID
	}
	return VoiceJoinPacket{
		Op: 4,
		D: VoiceJoinData{
			GuildID:  guildID,
			ChannelID: ch,
			SelfMute:  selfMute,
			SelfDeaf:  selfDeaf,
		},
	}
}
