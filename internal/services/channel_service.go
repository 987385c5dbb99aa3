package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"voiceward/internal/logging"
	"voiceward/internal/models"
	"voiceward/internal/platform"
	"voiceward/internal/shared"

	"github.com/go-co-op/gocron/v2"
)

// ownerPermissions is the fixed set granted to a personal channel's owner.
var ownerPermissions = platform.PermissionSet{
	ManageChannel: true,
	Connect:       true,
	Speak:         true,
	View:          true,
}

// memberPermissions is what an ex-owner keeps after an ownership transfer.
var memberPermissions = platform.PermissionSet{
	Connect: true,
	Speak:   true,
	View:    true,
}

// ChannelService provisions personal voice channels when members enter the
// lobby, reaps empty ones on an interval, and owns the ownership-transfer
// protocol and the custom-name flag.
type ChannelService struct {
	mu         sync.RWMutex
	managed    map[string]*models.ManagedChannel // channelID -> bookkeeping
	lobbies    map[string]string                 // guildID -> lobby channel ID
	categories map[string]string                 // guildID -> category channel ID

	platform  platform.Platform
	settings  *SettingsService
	scheduler gocron.Scheduler
	now       func() time.Time
}

// NewChannelService creates the channel lifecycle manager.
func NewChannelService(p platform.Platform, settings *SettingsService) *ChannelService {
	return &ChannelService{
		managed:    make(map[string]*models.ManagedChannel),
		lobbies:    make(map[string]string),
		categories: make(map[string]string),
		platform:   p,
		settings:   settings,
		now:        time.Now,
	}
}

// Initialize ensures every visible guild has its category and lobby
// channel, reusing existing channels whose names match. Idempotent.
func (c *ChannelService) Initialize(ctx context.Context) error {
	for _, guildID := range c.platform.Guilds() {
		if err := c.ForceReinitialize(ctx, guildID); err != nil {
			log.Printf("[CHANNEL] failed to initialize guild %s: %v", guildID, err)
		}
	}
	return nil
}

// ForceReinitialize re-resolves (and creates if missing) the managed
// category and lobby channel for one guild.
func (c *ChannelService) ForceReinitialize(ctx context.Context, guildID string) error {
	settings, err := c.settings.GuildSettings(ctx, guildID)
	if err != nil {
		return err
	}

	categoryID, found := c.platform.FindChannelByName(guildID, settings.CategoryName, platform.KindCategory)
	if !found {
		categoryID, err = c.platform.CreateCategory(guildID, settings.CategoryName)
		if err != nil {
			return fmt.Errorf("failed to create category in guild %s: %w", guildID, err)
		}
		log.Printf("[CHANNEL] created category %q (%s) in guild %s", settings.CategoryName, categoryID, guildID)
	}

	lobbyID, found := c.platform.FindChannelByName(guildID, settings.LobbyName, platform.KindVoice)
	if !found {
		lobbyID, err = c.platform.CreateVoiceChannel(guildID, platform.CreateChannelInput{
			Name:     settings.LobbyName,
			ParentID: categoryID,
		})
		if err != nil {
			return fmt.Errorf("failed to create lobby in guild %s: %w", guildID, err)
		}
		log.Printf("[CHANNEL] created lobby %q (%s) in guild %s", settings.LobbyName, lobbyID, guildID)
	}

	c.mu.Lock()
	c.categories[guildID] = categoryID
	c.lobbies[guildID] = lobbyID
	c.mu.Unlock()

	logging.WithGuild(guildID).Debug("lifecycle channels resolved",
		"category_id", categoryID, "lobby_id", lobbyID)
	return nil
}

// LobbyChannelID returns the resolved lobby channel for a guild.
func (c *ChannelService) LobbyChannelID(guildID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.lobbies[guildID]
	return id, ok
}

// HandleVoiceStateUpdate provisions a personal channel when a member
// enters the lobby. Failures are logged and swallowed; the event path
// must keep flowing for other members.
func (c *ChannelService) HandleVoiceStateUpdate(ctx context.Context, prev, next *platform.VoiceState) {
	if next == nil || next.ChannelID == "" {
		return
	}

	c.mu.RLock()
	lobbyID, ok := c.lobbies[next.GuildID]
	c.mu.RUnlock()
	if !ok || next.ChannelID != lobbyID {
		return
	}

	if err := c.provisionChannel(ctx, next); err != nil {
		log.Printf("[CHANNEL] failed to provision channel for %s: %v", next.UserID, err)
	}
}

func (c *ChannelService) provisionChannel(ctx context.Context, member *platform.VoiceState) error {
	settings, err := c.settings.GuildSettings(ctx, member.GuildID)
	if err != nil {
		return err
	}

	input := platform.CreateChannelInput{
		Name: expandNamePattern(settings.NamePattern, member),
	}

	c.mu.RLock()
	input.ParentID = c.categories[member.GuildID]
	c.mu.RUnlock()

	prefs, err := c.settings.Preferences(ctx, member.UserID)
	if err != nil {
		log.Printf("[CHANNEL] failed to load preferences for %s, using defaults: %v", member.UserID, err)
	}
	if prefs != nil {
		if prefs.NamePattern != "" {
			input.Name = expandNamePattern(prefs.NamePattern, member)
		}
		if prefs.UserLimit != nil {
			input.UserLimit = *prefs.UserLimit
		}
		if prefs.Bitrate != nil {
			input.Bitrate = *prefs.Bitrate
		}
	}

	channelID, err := c.platform.CreateVoiceChannel(member.GuildID, input)
	if err != nil {
		return fmt.Errorf("create personal channel: %w", err)
	}

	if err := c.platform.SetMemberPermissions(channelID, member.UserID, ownerPermissions, platform.PermissionSet{}); err != nil {
		log.Printf("[CHANNEL] failed to grant owner permissions on %s: %v", channelID, err)
	}

	// Register the bookkeeping before the move: if the member disconnects
	// between creation and the move, the empty channel must still be
	// visible to the reaper.
	c.mu.Lock()
	c.managed[channelID] = &models.ManagedChannel{
		ChannelID:     channelID,
		GuildID:       member.GuildID,
		OwnerID:       member.UserID,
		HasCustomName: false,
		CreatedAt:     c.now().UTC(),
	}
	c.mu.Unlock()

	if err := c.platform.MoveMember(member.GuildID, member.UserID, channelID); err != nil {
		return fmt.Errorf("move member into personal channel: %w", err)
	}

	log.Printf("[CHANNEL] provisioned %q (%s) for %s in guild %s", input.Name, channelID, member.UserID, member.GuildID)
	return nil
}

func expandNamePattern(pattern string, member *platform.VoiceState) string {
	name := member.Username
	if name == "" {
		name = member.UserID
	}
	return strings.ReplaceAll(pattern, "{username}", name)
}

// StartCleanup registers the interval job that deletes empty personal
// channels.
func (c *ChannelService) StartCleanup(interval time.Duration) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create cleanup scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			c.CleanupEmpty(context.Background())
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule channel cleanup: %w", err)
	}

	scheduler.Start()
	c.scheduler = scheduler
	log.Printf("[CHANNEL] empty-channel cleanup running every %v", interval)
	return nil
}

// StopCleanup stops the interval job.
func (c *ChannelService) StopCleanup() {
	if c.scheduler != nil {
		_ = c.scheduler.Shutdown()
	}
}

// CleanupEmpty deletes managed channels with no connected members and
// drops their bookkeeping. A channel that was already deleted externally
// counts as cleaned, not as an error.
func (c *ChannelService) CleanupEmpty(ctx context.Context) int {
	c.mu.RLock()
	candidates := make([]*models.ManagedChannel, 0, len(c.managed))
	for _, mc := range c.managed {
		candidates = append(candidates, mc)
	}
	c.mu.RUnlock()

	removed := 0
	for _, mc := range candidates {
		members, err := c.platform.ChannelMembers(mc.GuildID, mc.ChannelID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				c.forget(mc.ChannelID)
				removed++
			}
			continue
		}
		if len(members) > 0 {
			continue
		}

		if err := c.platform.DeleteChannel(mc.ChannelID); err != nil && !errors.Is(err, shared.ErrNotFound) {
			log.Printf("[CHANNEL] failed to delete empty channel %s: %v", mc.ChannelID, err)
			continue
		}
		c.forget(mc.ChannelID)
		removed++
	}

	if removed > 0 {
		log.Printf("[CHANNEL] reaped %d empty personal channels", removed)
	}
	return removed
}

func (c *ChannelService) forget(channelID string) {
	c.mu.Lock()
	delete(c.managed, channelID)
	c.mu.Unlock()
}

// ManagedChannel returns a copy of the bookkeeping entry for a channel.
func (c *ChannelService) ManagedChannel(channelID string) (*models.ManagedChannel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mc, ok := c.managed[channelID]
	if !ok {
		return nil, false
	}
	copied := *mc
	return &copied, true
}

// ManagedChannelForOwner finds the channel currently owned by a user in a
// guild, for commands addressed by owner rather than channel.
func (c *ChannelService) ManagedChannelForOwner(guildID, ownerID string) (*models.ManagedChannel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, mc := range c.managed {
		if mc.GuildID == guildID && mc.OwnerID == ownerID {
			copied := *mc
			return &copied, true
		}
	}
	return nil, false
}

// SetCustomChannelName renames a managed channel through the explicit
// rename path. This is the only way HasCustomName becomes true.
func (c *ChannelService) SetCustomChannelName(ctx context.Context, channelID, name string) error {
	c.mu.RLock()
	_, ok := c.managed[channelID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("channel %s is not managed: %w", channelID, shared.ErrNotFound)
	}

	if err := c.platform.RenameChannel(channelID, name); err != nil {
		return err
	}

	c.mu.Lock()
	if mc, ok := c.managed[channelID]; ok {
		mc.HasCustomName = true
		mc.CustomName = name
	}
	c.mu.Unlock()
	return nil
}

// HasCustomName reports whether the channel was explicitly renamed.
func (c *ChannelService) HasCustomName(channelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mc, ok := c.managed[channelID]
	return ok && mc.HasCustomName
}

// GetCustomChannelName returns the explicit custom name, if one was set.
func (c *ChannelService) GetCustomChannelName(channelID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mc, ok := c.managed[channelID]
	if !ok || !mc.HasCustomName {
		return "", false
	}
	return mc.CustomName, true
}

// TransferOwnership hands a managed channel to a new owner. The presence
// check gates every mutation: a failed transfer leaves permissions and the
// channel name untouched.
func (c *ChannelService) TransferOwnership(ctx context.Context, channelID, oldOwnerID, newOwnerID string) error {
	c.mu.RLock()
	mc, ok := c.managed[channelID]
	var guildID string
	var hasCustomName bool
	if ok {
		guildID = mc.GuildID
		hasCustomName = mc.HasCustomName
	}
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("channel %s: %w", channelID, shared.ErrNotFound)
	}

	members, err := c.platform.ChannelMembers(guildID, channelID)
	if err != nil {
		return fmt.Errorf("channel %s: %w", channelID, shared.ErrNotFound)
	}

	present := false
	for _, id := range members {
		if id == newOwnerID {
			present = true
			break
		}
	}
	if !present {
		return fmt.Errorf("user %s: %w", newOwnerID, shared.ErrOwnerNotPresent)
	}

	if err := c.platform.SetMemberPermissions(channelID, newOwnerID, ownerPermissions, platform.PermissionSet{}); err != nil {
		return fmt.Errorf("grant new owner permissions: %w", err)
	}

	if err := c.platform.SetMemberPermissions(channelID, oldOwnerID, memberPermissions, platform.PermissionSet{ManageChannel: true}); err != nil {
		return fmt.Errorf("revoke old owner permissions: %w", err)
	}

	newOwnerName := c.platform.MemberDisplayName(guildID, newOwnerID)
	if !hasCustomName {
		if err := c.platform.RenameChannel(channelID, newOwnerName+"'s Channel"); err != nil {
			return fmt.Errorf("rename after transfer: %w", err)
		}
	}

	notice := fmt.Sprintf("👑 **%s** is now the owner of this channel.", newOwnerName)
	if err := c.platform.SendMessage(channelID, notice); err != nil {
		log.Printf("[CHANNEL] failed to post transfer notice in %s: %v", channelID, err)
	}

	c.mu.Lock()
	if mc, ok := c.managed[channelID]; ok {
		mc.OwnerID = newOwnerID
	}
	c.mu.Unlock()

	log.Printf("[CHANNEL] ownership of %s transferred %s -> %s", channelID, oldOwnerID, newOwnerID)
	return nil
}

// ManagedCount reports how many personal channels are currently tracked.
func (c *ChannelService) ManagedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.managed)
}
