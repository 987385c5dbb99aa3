package services

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"voiceward/internal/logging"
	"voiceward/internal/models"
	"voiceward/internal/platform"
)

// TrackerStore is the persistence surface the activity tracker needs.
type TrackerStore interface {
	InsertCompleted(ctx context.Context, rec *models.CompletedSession) error
	UserSessions(ctx context.Context, guildID, userID string, since time.Time) ([]models.CompletedSession, error)
	GuildSessions(ctx context.Context, guildID string, since time.Time) ([]models.CompletedSession, error)
	UserLastSeen(ctx context.Context, guildID, userID string) (time.Time, error)
	UserArchiveTotals(ctx context.Context, guildID, userID string) (seconds int64, count int64, err error)
	GuildArchiveTotals(ctx context.Context, guildID string) (map[string]models.TopUser, error)
}

// TrackerService consumes voice transitions, maintains the in-memory
// active-session table and persists completed sessions. Event failures are
// logged and swallowed so one bad event never stalls the dispatch path.
type TrackerService struct {
	mu       sync.Mutex
	active   map[string]*models.ActiveSession // guildID:userID
	store    TrackerStore
	settings *SettingsService
	now      func() time.Time
}

// NewTrackerService creates the activity tracker.
func NewTrackerService(store TrackerStore, settings *SettingsService) *TrackerService {
	return &TrackerService{
		active:   make(map[string]*models.ActiveSession),
		store:    store,
		settings: settings,
		now:      time.Now,
	}
}

func sessionKey(guildID, userID string) string {
	return guildID + ":" + userID
}

// HandleVoiceStateUpdate classifies the transition as join, leave, move or
// no-op and updates the active table accordingly. It never returns an
// error into the event dispatcher.
func (t *TrackerService) HandleVoiceStateUpdate(ctx context.Context, prev, next *platform.VoiceState) {
	var prevChannel, nextChannel string
	if prev != nil {
		prevChannel = prev.ChannelID
	}
	if next != nil {
		nextChannel = next.ChannelID
	}

	switch {
	case prevChannel == "" && nextChannel != "":
		t.handleJoin(ctx, next)
	case prevChannel != "" && nextChannel == "":
		t.handleLeave(ctx, prev, next)
	case prevChannel != "" && nextChannel != "" && prevChannel != nextChannel:
		t.handleMove(ctx, prev, next)
	default:
		// Same channel on both sides (mute/deafen update) or no voice
		// information at all.
	}
}

func (t *TrackerService) handleJoin(ctx context.Context, next *platform.VoiceState) {
	if t.settings.IsExcluded(ctx, next.GuildID, next.ChannelID) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.startSessionLocked(next)
}

// startSessionLocked creates the active session for a join. A duplicate
// join event overwrites the existing session rather than duplicating it:
// writes are idempotent by replace because gateway delivery may reorder or
// repeat events.
func (t *TrackerService) startSessionLocked(next *platform.VoiceState) {
	key := sessionKey(next.GuildID, next.UserID)
	if existing, ok := t.active[key]; ok {
		log.Printf("[TRACKER] duplicate join for %s, replacing session in %s", next.UserID, existing.ChannelID)
	}

	t.active[key] = &models.ActiveSession{
		UserID:      next.UserID,
		Username:    next.Username,
		GuildID:     next.GuildID,
		ChannelID:   next.ChannelID,
		ChannelName: next.ChannelName,
		JoinedAt:    t.now().UTC(),
	}
}

func (t *TrackerService) handleLeave(ctx context.Context, prev, next *platform.VoiceState) {
	guildID := prev.GuildID
	userID := prev.UserID
	if userID == "" && next != nil {
		guildID, userID = next.GuildID, next.UserID
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.endSessionLocked(ctx, guildID, userID)
}

// endSessionLocked converts the active session into a completed record and
// drops it. A leave with no matching session (event reordering, restart) is
// skipped silently: no record is fabricated.
func (t *TrackerService) endSessionLocked(ctx context.Context, guildID, userID string) {
	key := sessionKey(guildID, userID)
	session, ok := t.active[key]
	if !ok {
		return
	}
	delete(t.active, key)

	leftAt := t.now().UTC()
	duration := int64(leftAt.Sub(session.JoinedAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	rec := &models.CompletedSession{
		UserID:          session.UserID,
		GuildID:         session.GuildID,
		ChannelID:       session.ChannelID,
		ChannelName:     session.ChannelName,
		JoinedAt:        session.JoinedAt,
		LeftAt:          leftAt,
		DurationSeconds: duration,
	}

	if err := t.store.InsertCompleted(ctx, rec); err != nil {
		log.Printf("[TRACKER] failed to persist session for %s: %v", userID, err)
		return
	}
	logging.WithSession(logging.WithGuild(rec.GuildID), rec.UserID, rec.ChannelID).
		Debug("voice session recorded", "duration_seconds", duration)
}

// handleMove closes the old session and opens the new one under a single
// lock acquisition, so no observer ever sees the user without an active
// session mid-move.
func (t *TrackerService) handleMove(ctx context.Context, prev, next *platform.VoiceState) {
	fromTracked := !t.settings.IsExcluded(ctx, prev.GuildID, prev.ChannelID)
	toTracked := !t.settings.IsExcluded(ctx, next.GuildID, next.ChannelID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if fromTracked {
		t.endSessionLocked(ctx, prev.GuildID, prev.UserID)
	}
	if toTracked {
		t.startSessionLocked(next)
	}
}

// GetActiveSession returns the user's current session, or nil when the
// user is not in a tracked voice channel.
func (t *TrackerService) GetActiveSession(guildID, userID string) *models.ActiveSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.active[sessionKey(guildID, userID)]
	if !ok {
		return nil
	}
	copied := *session
	return &copied
}

// ActiveSessionCount reports how many users are currently tracked in voice.
func (t *TrackerService) ActiveSessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *TrackerService) periodStart(period models.Period) time.Time {
	switch period {
	case models.PeriodWeek:
		return t.now().UTC().AddDate(0, 0, -7)
	case models.PeriodMonth:
		return t.now().UTC().AddDate(0, 0, -30)
	default:
		return time.Time{}
	}
}

// GetUserStats sums the user's completed sessions in the period window.
// For alltime it also adds the monthly and yearly summary totals, so a
// truncation run never lowers the reported total. Returns nil when the
// user has no recorded activity at all.
func (t *TrackerService) GetUserStats(ctx context.Context, guildID, userID string, period models.Period) (*models.UserStats, error) {
	since := t.periodStart(period)

	sessions, err := t.store.UserSessions(ctx, guildID, userID, since)
	if err != nil {
		return nil, err
	}

	stats := &models.UserStats{UserID: userID, Sessions: sessions}
	for _, s := range sessions {
		stats.TotalSeconds += s.DurationSeconds
		if s.LeftAt.After(stats.LastSeen) {
			stats.LastSeen = s.LeftAt
		}
	}

	archived := false
	if period == models.PeriodAllTime {
		seconds, count, err := t.store.UserArchiveTotals(ctx, guildID, userID)
		if err != nil {
			return nil, err
		}
		stats.TotalSeconds += seconds
		archived = count > 0
	}

	if len(sessions) == 0 && !archived {
		lastSeen, err := t.store.UserLastSeen(ctx, guildID, userID)
		if err != nil {
			return nil, err
		}
		if lastSeen.IsZero() {
			return nil, nil
		}
		stats.LastSeen = lastSeen
	}

	return stats, nil
}

// GetTopUsers ranks users by total time in the period window, descending.
// Ties break on earlier last-seen first, then user ID, so the ordering is
// stable across runs.
func (t *TrackerService) GetTopUsers(ctx context.Context, guildID string, limit int, period models.Period) ([]models.TopUser, error) {
	since := t.periodStart(period)

	sessions, err := t.store.GuildSessions(ctx, guildID, since)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]models.TopUser)
	for _, s := range sessions {
		entry := totals[s.UserID]
		entry.UserID = s.UserID
		entry.TotalSeconds += s.DurationSeconds
		entry.SessionCount++
		if s.LeftAt.After(entry.LastSeen) {
			entry.LastSeen = s.LeftAt
		}
		totals[s.UserID] = entry
	}

	if period == models.PeriodAllTime {
		archived, err := t.store.GuildArchiveTotals(ctx, guildID)
		if err != nil {
			return nil, err
		}
		for userID, arch := range archived {
			entry := totals[userID]
			entry.UserID = userID
			entry.TotalSeconds += arch.TotalSeconds
			entry.SessionCount += arch.SessionCount
			totals[userID] = entry
		}
	}

	ranked := make([]models.TopUser, 0, len(totals))
	for _, entry := range totals {
		ranked = append(ranked, entry)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalSeconds != ranked[j].TotalSeconds {
			return ranked[i].TotalSeconds > ranked[j].TotalSeconds
		}
		if !ranked[i].LastSeen.Equal(ranked[j].LastSeen) {
			return ranked[i].LastSeen.Before(ranked[j].LastSeen)
		}
		return ranked[i].UserID < ranked[j].UserID
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// GetUserLastSeen returns the most recent leftAt for the user, or the zero
// time when the user has never completed a session.
func (t *TrackerService) GetUserLastSeen(ctx context.Context, guildID, userID string) (time.Time, error) {
	return t.store.UserLastSeen(ctx, guildID, userID)
}
