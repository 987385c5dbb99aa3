package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voiceward/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SettingsStore persists per-guild settings (excluded channels, lobby and
// category names) and per-user voice preferences.
type SettingsStore struct {
	db *MongoDB
}

// NewSettingsStore creates a settings store backed by MongoDB.
func NewSettingsStore(db *MongoDB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) guilds() *mongo.Collection {
	return s.db.Database().Collection(CollectionGuildSettings)
}

func (s *SettingsStore) preferences() *mongo.Collection {
	return s.db.Database().Collection(CollectionVoicePreferences)
}

// GetGuildSettings returns the stored settings for a guild. A guild with no
// stored document gets an empty settings value, not an error.
func (s *SettingsStore) GetGuildSettings(ctx context.Context, guildID string) (*models.GuildSettings, error) {
	var settings models.GuildSettings
	err := s.guilds().FindOne(ctx, bson.M{"guildId": guildID}).Decode(&settings)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &models.GuildSettings{GuildID: guildID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load guild settings: %w", err)
	}
	return &settings, nil
}

// AddExcludedChannel adds a channel to the guild's exclusion set.
func (s *SettingsStore) AddExcludedChannel(ctx context.Context, guildID, channelID string) error {
	filter := bson.M{"guildId": guildID}
	update := bson.M{
		"$addToSet": bson.M{"excludedChannels": channelID},
		"$set":      bson.M{"updatedAt": time.Now().UTC()},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := s.guilds().UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to add excluded channel: %w", err)
	}
	return nil
}

// RemoveExcludedChannel removes a channel from the guild's exclusion set.
func (s *SettingsStore) RemoveExcludedChannel(ctx context.Context, guildID, channelID string) error {
	filter := bson.M{"guildId": guildID}
	update := bson.M{
		"$pull": bson.M{"excludedChannels": channelID},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	}

	if _, err := s.guilds().UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to remove excluded channel: %w", err)
	}
	return nil
}

// GetPreferences returns a user's voice preferences, or nil when none are
// stored.
func (s *SettingsStore) GetPreferences(ctx context.Context, userID string) (*models.UserVoicePreferences, error) {
	var prefs models.UserVoicePreferences
	err := s.preferences().FindOne(ctx, bson.M{"userId": userID}).Decode(&prefs)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load voice preferences: %w", err)
	}
	return &prefs, nil
}

// UpsertPreferences replaces the user's stored voice preferences.
func (s *SettingsStore) UpsertPreferences(ctx context.Context, prefs *models.UserVoicePreferences) error {
	prefs.UpdatedAt = time.Now().UTC()

	filter := bson.M{"userId": prefs.UserID}
	opts := options.Replace().SetUpsert(true)

	if _, err := s.preferences().ReplaceOne(ctx, filter, prefs, opts); err != nil {
		return fmt.Errorf("failed to upsert voice preferences: %w", err)
	}
	return nil
}
