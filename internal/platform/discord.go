package platform

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"voiceward/internal/shared"

	"github.com/bwmarrin/discordgo"
)

// Discord adapts a discordgo session to the Platform interface and fans
// gateway events out to the registered handlers.
type Discord struct {
	session         *discordgo.Session
	voiceHandlers   []VoiceHandler
	messageHandlers []MessageHandler
}

// NewDiscord creates the Discord adapter. Handlers must be registered
// before Start.
func NewDiscord(token string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	d := &Discord{session: session}
	session.AddHandler(d.onVoiceStateUpdate)
	session.AddHandler(d.onMessageCreate)
	return d, nil
}

// OnVoiceState registers a handler for classified voice transitions.
func (d *Discord) OnVoiceState(h VoiceHandler) {
	d.voiceHandlers = append(d.voiceHandlers, h)
}

// OnMessage registers a handler for inbound guild messages.
func (d *Discord) OnMessage(h MessageHandler) {
	d.messageHandlers = append(d.messageHandlers, h)
}

// Start opens the gateway connection.
func (d *Discord) Start() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	return nil
}

// Stop closes the gateway connection.
func (d *Discord) Stop() error {
	return d.session.Close()
}

func (d *Discord) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	next := d.toVoiceState(vs.VoiceState)
	var prev *VoiceState
	if vs.BeforeUpdate != nil {
		prev = d.toVoiceState(vs.BeforeUpdate)
	}

	for _, h := range d.voiceHandlers {
		h(prev, next)
	}
}

func (d *Discord) toVoiceState(vs *discordgo.VoiceState) *VoiceState {
	if vs == nil {
		return nil
	}
	state := &VoiceState{
		GuildID:   vs.GuildID,
		UserID:    vs.UserID,
		ChannelID: vs.ChannelID,
	}
	if vs.Member != nil && vs.Member.User != nil {
		state.Username = vs.Member.User.Username
	}
	if state.Username == "" {
		state.Username = d.MemberDisplayName(vs.GuildID, vs.UserID)
	}
	if vs.ChannelID != "" {
		if ch, err := d.session.State.Channel(vs.ChannelID); err == nil {
			state.ChannelName = ch.Name
		}
	}
	return state
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	msg := Message{
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		Content:    m.Content,
	}
	for _, h := range d.messageHandlers {
		h(msg)
	}
}

// Guilds lists the guilds currently visible to the session.
func (d *Discord) Guilds() []string {
	guilds := d.session.State.Guilds
	ids := make([]string, 0, len(guilds))
	for _, g := range guilds {
		ids = append(ids, g.ID)
	}
	return ids
}

// FindChannelByName returns the ID of an existing channel with the given
// name and kind, so initialization reuses channels instead of duplicating.
func (d *Discord) FindChannelByName(guildID, name string, kind ChannelKind) (string, bool) {
	guild, err := d.session.State.Guild(guildID)
	if err != nil {
		return "", false
	}

	wanted := discordgo.ChannelTypeGuildVoice
	if kind == KindCategory {
		wanted = discordgo.ChannelTypeGuildCategory
	}

	for _, ch := range guild.Channels {
		if ch.Type == wanted && ch.Name == name {
			return ch.ID, true
		}
	}
	return "", false
}

// CreateCategory creates a channel category.
func (d *Discord) CreateCategory(guildID, name string) (string, error) {
	ch, err := d.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildCategory,
	})
	if err != nil {
		return "", mapRESTError("create category", err)
	}
	return ch.ID, nil
}

// CreateVoiceChannel creates a voice channel under the given parent.
func (d *Discord) CreateVoiceChannel(guildID string, in CreateChannelInput) (string, error) {
	data := discordgo.GuildChannelCreateData{
		Name:      in.Name,
		Type:      discordgo.ChannelTypeGuildVoice,
		ParentID:  in.ParentID,
		UserLimit: in.UserLimit,
	}
	if in.Bitrate > 0 {
		data.Bitrate = in.Bitrate * 1000 // config stores kbps, Discord wants bps
	}

	ch, err := d.session.GuildChannelCreateComplex(guildID, data)
	if err != nil {
		return "", mapRESTError("create voice channel", err)
	}
	return ch.ID, nil
}

// DeleteChannel deletes a channel.
func (d *Discord) DeleteChannel(channelID string) error {
	if _, err := d.session.ChannelDelete(channelID); err != nil {
		return mapRESTError("delete channel", err)
	}
	return nil
}

// MoveMember moves a connected member into the given voice channel.
func (d *Discord) MoveMember(guildID, userID, channelID string) error {
	if err := d.session.GuildMemberMove(guildID, userID, &channelID); err != nil {
		return mapRESTError("move member", err)
	}
	return nil
}

// RenameChannel edits a channel's name.
func (d *Discord) RenameChannel(channelID, name string) error {
	if _, err := d.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name}); err != nil {
		return mapRESTError("rename channel", err)
	}
	return nil
}

// SetMemberPermissions writes a member permission overwrite on the channel.
func (d *Discord) SetMemberPermissions(channelID, userID string, allow, deny PermissionSet) error {
	err := d.session.ChannelPermissionSet(channelID, userID,
		discordgo.PermissionOverwriteTypeMember, permissionBits(allow), permissionBits(deny))
	if err != nil {
		return mapRESTError("set member permissions", err)
	}
	return nil
}

func permissionBits(set PermissionSet) int64 {
	var bits int64
	if set.ManageChannel {
		bits |= discordgo.PermissionManageChannels
	}
	if set.Connect {
		bits |= discordgo.PermissionVoiceConnect
	}
	if set.Speak {
		bits |= discordgo.PermissionVoiceSpeak
	}
	if set.View {
		bits |= discordgo.PermissionViewChannel
	}
	return bits
}

// SendMessage posts a text message into the channel.
func (d *Discord) SendMessage(channelID, content string) error {
	if _, err := d.session.ChannelMessageSend(channelID, content); err != nil {
		return mapRESTError("send message", err)
	}
	return nil
}

// ChannelMembers returns the IDs of members currently connected to the
// voice channel, from gateway state.
func (d *Discord) ChannelMembers(guildID, channelID string) ([]string, error) {
	guild, err := d.session.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("channel members: %w", shared.ErrNotFound)
	}

	var members []string
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == channelID {
			members = append(members, vs.UserID)
		}
	}
	return members, nil
}

// MemberDisplayName resolves a member's display name, falling back to the
// raw user ID when the member cannot be fetched.
func (d *Discord) MemberDisplayName(guildID, userID string) string {
	member, err := d.session.State.Member(guildID, userID)
	if err != nil {
		member, err = d.session.GuildMember(guildID, userID)
	}
	if err != nil || member == nil || member.User == nil {
		log.Printf("[DISCORD] could not resolve member %s in guild %s", userID, guildID)
		return userID
	}

	if member.Nick != "" {
		return member.Nick
	}
	if member.User.GlobalName != "" {
		return member.User.GlobalName
	}
	return member.User.Username
}

func mapRESTError(op string, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, shared.ErrNotFound)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w", op, shared.ErrPermissionDenied)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
