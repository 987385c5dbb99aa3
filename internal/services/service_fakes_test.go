package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"voiceward/internal/config"
	"voiceward/internal/models"
	"voiceward/internal/platform"
	"voiceward/internal/shared"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeTrackerStore is an in-memory TrackerStore for tests.
type fakeTrackerStore struct {
	mu        sync.Mutex
	sessions  []models.CompletedSession
	archive   map[string]models.TopUser // guildID:userID -> archived totals
	insertErr error
}

func newFakeTrackerStore() *fakeTrackerStore {
	return &fakeTrackerStore{archive: make(map[string]models.TopUser)}
}

func (f *fakeTrackerStore) InsertCompleted(ctx context.Context, rec *models.CompletedSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	rec.ID = primitive.NewObjectID()
	f.sessions = append(f.sessions, *rec)
	return nil
}

func (f *fakeTrackerStore) UserSessions(ctx context.Context, guildID, userID string, since time.Time) ([]models.CompletedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CompletedSession
	for _, s := range f.sessions {
		if s.GuildID == guildID && s.UserID == userID && (since.IsZero() || !s.JoinedAt.Before(since)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeTrackerStore) GuildSessions(ctx context.Context, guildID string, since time.Time) ([]models.CompletedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CompletedSession
	for _, s := range f.sessions {
		if s.GuildID == guildID && (since.IsZero() || !s.JoinedAt.Before(since)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeTrackerStore) UserLastSeen(ctx context.Context, guildID, userID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last time.Time
	for _, s := range f.sessions {
		if s.GuildID == guildID && s.UserID == userID && s.LeftAt.After(last) {
			last = s.LeftAt
		}
	}
	return last, nil
}

func (f *fakeTrackerStore) UserArchiveTotals(ctx context.Context, guildID, userID string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := f.archive[guildID+":"+userID]
	return entry.TotalSeconds, int64(entry.SessionCount), nil
}

func (f *fakeTrackerStore) GuildArchiveTotals(ctx context.Context, guildID string) (map[string]models.TopUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.TopUser)
	for key, entry := range f.archive {
		prefix := guildID + ":"
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out[key[len(prefix):]] = entry
		}
	}
	return out, nil
}

// fakeSettingsStore is an in-memory SettingsStore for tests.
type fakeSettingsStore struct {
	mu     sync.Mutex
	guilds map[string]*models.GuildSettings
	prefs  map[string]*models.UserVoicePreferences
}

func newFakeSettingsStore() *fakeSettingsStore {
	return &fakeSettingsStore{
		guilds: make(map[string]*models.GuildSettings),
		prefs:  make(map[string]*models.UserVoicePreferences),
	}
}

func (f *fakeSettingsStore) GetGuildSettings(ctx context.Context, guildID string) (*models.GuildSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if settings, ok := f.guilds[guildID]; ok {
		copied := *settings
		copied.ExcludedChannels = append([]string(nil), settings.ExcludedChannels...)
		return &copied, nil
	}
	return &models.GuildSettings{GuildID: guildID}, nil
}

func (f *fakeSettingsStore) AddExcludedChannel(ctx context.Context, guildID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	settings, ok := f.guilds[guildID]
	if !ok {
		settings = &models.GuildSettings{GuildID: guildID}
		f.guilds[guildID] = settings
	}
	for _, id := range settings.ExcludedChannels {
		if id == channelID {
			return nil
		}
	}
	settings.ExcludedChannels = append(settings.ExcludedChannels, channelID)
	return nil
}

func (f *fakeSettingsStore) RemoveExcludedChannel(ctx context.Context, guildID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	settings, ok := f.guilds[guildID]
	if !ok {
		return nil
	}
	kept := settings.ExcludedChannels[:0]
	for _, id := range settings.ExcludedChannels {
		if id != channelID {
			kept = append(kept, id)
		}
	}
	settings.ExcludedChannels = kept
	return nil
}

func (f *fakeSettingsStore) GetPreferences(ctx context.Context, userID string) (*models.UserVoicePreferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prefs, ok := f.prefs[userID]; ok {
		copied := *prefs
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeSettingsStore) UpsertPreferences(ctx context.Context, prefs *models.UserVoicePreferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *prefs
	f.prefs[prefs.UserID] = &copied
	return nil
}

// fakeChannel is one channel inside fakePlatform.
type fakeChannel struct {
	name    string
	kind    platform.ChannelKind
	parent  string
	members []string
}

// permCall records one SetMemberPermissions invocation.
type permCall struct {
	channelID string
	userID    string
	allow     platform.PermissionSet
	deny      platform.PermissionSet
}

// fakePlatform is an in-memory Platform for tests.
type fakePlatform struct {
	mu           sync.Mutex
	guilds       []string
	channels     map[string]*fakeChannel
	displayNames map[string]string
	messages     map[string][]string
	permCalls    []permCall
	renames      map[string][]string
	moves        map[string]string // userID -> channelID
	nextID       int
	createErr    error
	moveErr      error
}

func newFakePlatform(guilds ...string) *fakePlatform {
	return &fakePlatform{
		guilds:       guilds,
		channels:     make(map[string]*fakeChannel),
		displayNames: make(map[string]string),
		messages:     make(map[string][]string),
		renames:      make(map[string][]string),
		moves:        make(map[string]string),
	}
}

func (f *fakePlatform) Guilds() []string { return f.guilds }

func (f *fakePlatform) addChannel(name string, kind platform.ChannelKind, members ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("ch-%d", f.nextID)
	f.channels[id] = &fakeChannel{name: name, kind: kind, members: members}
	return id
}

func (f *fakePlatform) FindChannelByName(guildID, name string, kind platform.ChannelKind) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.channels {
		if ch.name == name && ch.kind == kind {
			return id, true
		}
	}
	return "", false
}

func (f *fakePlatform) CreateCategory(guildID, name string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.addChannel(name, platform.KindCategory), nil
}

func (f *fakePlatform) CreateVoiceChannel(guildID string, in platform.CreateChannelInput) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	id := f.addChannel(in.Name, platform.KindVoice)
	f.mu.Lock()
	f.channels[id].parent = in.ParentID
	f.mu.Unlock()
	return id, nil
}

func (f *fakePlatform) DeleteChannel(channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		return fmt.Errorf("delete channel: %w", shared.ErrNotFound)
	}
	delete(f.channels, channelID)
	return nil
}

func (f *fakePlatform) MoveMember(guildID, userID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return f.moveErr
	}
	ch, ok := f.channels[channelID]
	if !ok {
		return fmt.Errorf("move member: %w", shared.ErrNotFound)
	}
	// Remove from any prior channel first.
	for _, other := range f.channels {
		kept := other.members[:0]
		for _, id := range other.members {
			if id != userID {
				kept = append(kept, id)
			}
		}
		other.members = kept
	}
	ch.members = append(ch.members, userID)
	f.moves[userID] = channelID
	return nil
}

func (f *fakePlatform) RenameChannel(channelID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return fmt.Errorf("rename channel: %w", shared.ErrNotFound)
	}
	ch.name = name
	f.renames[channelID] = append(f.renames[channelID], name)
	return nil
}

func (f *fakePlatform) SetMemberPermissions(channelID, userID string, allow, deny platform.PermissionSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		return fmt.Errorf("set permissions: %w", shared.ErrNotFound)
	}
	f.permCalls = append(f.permCalls, permCall{channelID, userID, allow, deny})
	return nil
}

func (f *fakePlatform) SendMessage(channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[channelID] = append(f.messages[channelID], content)
	return nil
}

func (f *fakePlatform) ChannelMembers(guildID, channelID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel members: %w", shared.ErrNotFound)
	}
	return append([]string(nil), ch.members...), nil
}

func (f *fakePlatform) MemberDisplayName(guildID, userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.displayNames[userID]; ok {
		return name
	}
	return userID
}

func (f *fakePlatform) channelName(channelID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[channelID]; ok {
		return ch.name
	}
	return ""
}

var errStoreDown = errors.New("store down")

func testConfig() *config.Config {
	return &config.Config{
		LobbyName:    "➕ New Channel",
		CategoryName: "Voice Channels",
		NamePattern:  "{username}'s Channel",
	}
}

func newTestSettings() (*SettingsService, *fakeSettingsStore) {
	store := newFakeSettingsStore()
	return NewSettingsService(store, testConfig()), store
}
