package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"voiceward/internal/config"
	"voiceward/internal/models"
	"voiceward/internal/shared"

	"github.com/patrickmn/go-cache"
)

// SettingsStore is the persistence surface the settings service needs.
type SettingsStore interface {
	GetGuildSettings(ctx context.Context, guildID string) (*models.GuildSettings, error)
	AddExcludedChannel(ctx context.Context, guildID, channelID string) error
	RemoveExcludedChannel(ctx context.Context, guildID, channelID string) error
	GetPreferences(ctx context.Context, userID string) (*models.UserVoicePreferences, error)
	UpsertPreferences(ctx context.Context, prefs *models.UserVoicePreferences) error
}

const (
	minUserLimit = 0
	maxUserLimit = 99
	minBitrate   = 8
	maxBitrate   = 384
)

// SettingsService is the exclusion/preference store: per-guild excluded
// channels and naming overrides plus per-user voice preferences. Guild
// settings are cached briefly; every mutation invalidates the cached entry
// so exclusion changes are visible on the very next voice event.
type SettingsService struct {
	store SettingsStore
	cfg   *config.Config
	cache *cache.Cache
}

// NewSettingsService creates the settings service.
func NewSettingsService(store SettingsStore, cfg *config.Config) *SettingsService {
	return &SettingsService{
		store: store,
		cfg:   cfg,
		cache: cache.New(30*time.Second, time.Minute),
	}
}

// GuildSettings returns the guild's settings with process defaults filled
// in for unset fields.
func (s *SettingsService) GuildSettings(ctx context.Context, guildID string) (*models.GuildSettings, error) {
	if cached, found := s.cache.Get(guildID); found {
		return cached.(*models.GuildSettings), nil
	}

	settings, err := s.store.GetGuildSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}

	if settings.LobbyName == "" {
		settings.LobbyName = s.cfg.LobbyName
	}
	if settings.CategoryName == "" {
		settings.CategoryName = s.cfg.CategoryName
	}
	if settings.NamePattern == "" {
		settings.NamePattern = s.cfg.NamePattern
	}

	s.cache.SetDefault(guildID, settings)
	return settings, nil
}

// IsExcluded reports whether the channel is in the guild's exclusion set.
func (s *SettingsService) IsExcluded(ctx context.Context, guildID, channelID string) bool {
	settings, err := s.GuildSettings(ctx, guildID)
	if err != nil {
		log.Printf("[SETTINGS] failed to load settings for guild %s: %v", guildID, err)
		return false
	}
	for _, id := range settings.ExcludedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

// AddExcludedChannel adds a channel to the guild's exclusion set.
func (s *SettingsService) AddExcludedChannel(ctx context.Context, guildID, channelID string) error {
	if err := s.store.AddExcludedChannel(ctx, guildID, channelID); err != nil {
		return err
	}
	s.cache.Delete(guildID)
	log.Printf("[SETTINGS] excluded channel %s in guild %s", channelID, guildID)
	return nil
}

// RemoveExcludedChannel removes a channel from the guild's exclusion set.
func (s *SettingsService) RemoveExcludedChannel(ctx context.Context, guildID, channelID string) error {
	if err := s.store.RemoveExcludedChannel(ctx, guildID, channelID); err != nil {
		return err
	}
	s.cache.Delete(guildID)
	log.Printf("[SETTINGS] un-excluded channel %s in guild %s", channelID, guildID)
	return nil
}

// ExcludedChannels lists the guild's excluded channel IDs.
func (s *SettingsService) ExcludedChannels(ctx context.Context, guildID string) ([]string, error) {
	settings, err := s.GuildSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return settings.ExcludedChannels, nil
}

// Preferences returns the user's stored voice preferences, or nil when the
// user has none.
func (s *SettingsService) Preferences(ctx context.Context, userID string) (*models.UserVoicePreferences, error) {
	return s.store.GetPreferences(ctx, userID)
}

// SetNamePattern stores the user's channel name pattern.
func (s *SettingsService) SetNamePattern(ctx context.Context, userID, pattern string) error {
	if len(pattern) == 0 || len(pattern) > 100 {
		return fmt.Errorf("name pattern must be 1-100 characters: %w", shared.ErrValidation)
	}
	return s.updatePreferences(ctx, userID, func(prefs *models.UserVoicePreferences) {
		prefs.NamePattern = pattern
	})
}

// SetUserLimit stores the user's channel member limit (0-99, 0 = unlimited).
func (s *SettingsService) SetUserLimit(ctx context.Context, userID string, limit int) error {
	if limit < minUserLimit || limit > maxUserLimit {
		return fmt.Errorf("user limit must be between %d and %d: %w", minUserLimit, maxUserLimit, shared.ErrValidation)
	}
	return s.updatePreferences(ctx, userID, func(prefs *models.UserVoicePreferences) {
		prefs.UserLimit = &limit
	})
}

// SetBitrate stores the user's channel bitrate in kbps (8-384).
func (s *SettingsService) SetBitrate(ctx context.Context, userID string, bitrate int) error {
	if bitrate < minBitrate || bitrate > maxBitrate {
		return fmt.Errorf("bitrate must be between %d and %d kbps: %w", minBitrate, maxBitrate, shared.ErrValidation)
	}
	return s.updatePreferences(ctx, userID, func(prefs *models.UserVoicePreferences) {
		prefs.Bitrate = &bitrate
	})
}

func (s *SettingsService) updatePreferences(ctx context.Context, userID string, apply func(*models.UserVoicePreferences)) error {
	prefs, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		return err
	}
	if prefs == nil {
		prefs = &models.UserVoicePreferences{UserID: userID}
	}
	apply(prefs)
	return s.store.UpsertPreferences(ctx, prefs)
}
