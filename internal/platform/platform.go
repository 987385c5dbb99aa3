// Package platform abstracts the chat platform behind the narrow surface
// the voice core needs: ordered voice-state events in, channel/member/
// permission mutations out.
package platform

// VoiceState is one side of a voice transition. An empty ChannelID means
// "not in voice".
type VoiceState struct {
	GuildID     string
	UserID      string
	Username    string
	ChannelID   string
	ChannelName string
}

// Message is an inbound text message handed to the command router.
type Message struct {
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Content    string
}

// PermissionSet is the fixed permission set the lifecycle manager grants
// and revokes on personal channels.
type PermissionSet struct {
	ManageChannel bool
	Connect       bool
	Speak         bool
	View          bool
}

// ChannelKind distinguishes the channel types the core creates or looks up.
type ChannelKind int

const (
	KindVoice ChannelKind = iota
	KindCategory
)

// CreateChannelInput carries the parameters for a new personal voice
// channel. Zero UserLimit/Bitrate mean the platform defaults.
type CreateChannelInput struct {
	Name      string
	ParentID  string
	UserLimit int
	Bitrate   int
}

// Platform is the outbound call surface. Implementations map failures onto
// shared.ErrNotFound and shared.ErrPermissionDenied where the platform
// reports them.
type Platform interface {
	Guilds() []string
	FindChannelByName(guildID, name string, kind ChannelKind) (string, bool)
	CreateCategory(guildID, name string) (string, error)
	CreateVoiceChannel(guildID string, in CreateChannelInput) (string, error)
	DeleteChannel(channelID string) error
	MoveMember(guildID, userID, channelID string) error
	RenameChannel(channelID, name string) error
	SetMemberPermissions(channelID, userID string, allow, deny PermissionSet) error
	SendMessage(channelID, content string) error
	ChannelMembers(guildID, channelID string) ([]string, error)
	MemberDisplayName(guildID, userID string) string
}

// VoiceHandler receives classified voice transitions. prev or next may be
// nil when the member was not in voice on that side of the transition.
type VoiceHandler func(prev, next *VoiceState)

// MessageHandler receives inbound guild text messages.
type MessageHandler func(msg Message)
