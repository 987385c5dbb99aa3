package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voiceward/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// VoiceStore provides the persistence operations for completed voice
// sessions and their monthly/yearly rollups. The active-session table is
// deliberately not here: it lives in memory inside the tracker and is never
// touched by retention.
type VoiceStore struct {
	db *MongoDB
}

// NewVoiceStore creates a voice store backed by MongoDB.
func NewVoiceStore(db *MongoDB) *VoiceStore {
	return &VoiceStore{db: db}
}

func (s *VoiceStore) sessions() *mongo.Collection {
	return s.db.Database().Collection(CollectionVoiceSessions)
}

func (s *VoiceStore) monthlies() *mongo.Collection {
	return s.db.Database().Collection(CollectionMonthlySummaries)
}

func (s *VoiceStore) yearlies() *mongo.Collection {
	return s.db.Database().Collection(CollectionYearlySummaries)
}

// InsertCompleted writes one completed session record.
func (s *VoiceStore) InsertCompleted(ctx context.Context, rec *models.CompletedSession) error {
	_, err := s.sessions().InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to insert completed session: %w", err)
	}
	return nil
}

// UserSessions returns a user's completed sessions whose joinedAt is at or
// after since, newest first. A zero since means no lower bound.
func (s *VoiceStore) UserSessions(ctx context.Context, guildID, userID string, since time.Time) ([]models.CompletedSession, error) {
	filter := bson.M{"guildId": guildID, "userId": userID}
	if !since.IsZero() {
		filter["joinedAt"] = bson.M{"$gte": since}
	}

	opts := options.Find().SetSort(bson.D{{Key: "joinedAt", Value: -1}})
	cursor, err := s.sessions().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query user sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.CompletedSession
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode user sessions: %w", err)
	}
	return results, nil
}

// GuildSessions returns all completed sessions in a guild whose joinedAt is
// at or after since. A zero since means no lower bound.
func (s *VoiceStore) GuildSessions(ctx context.Context, guildID string, since time.Time) ([]models.CompletedSession, error) {
	filter := bson.M{"guildId": guildID}
	if !since.IsZero() {
		filter["joinedAt"] = bson.M{"$gte": since}
	}

	cursor, err := s.sessions().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query guild sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.CompletedSession
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode guild sessions: %w", err)
	}
	return results, nil
}

// UserLastSeen returns the most recent leftAt for the user, or the zero
// time when the user has no completed sessions.
func (s *VoiceStore) UserLastSeen(ctx context.Context, guildID, userID string) (time.Time, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "leftAt", Value: -1}})

	var rec models.CompletedSession
	err := s.sessions().FindOne(ctx, bson.M{"guildId": guildID, "userId": userID}, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last seen: %w", err)
	}
	return rec.LeftAt, nil
}

// UserArchiveTotals sums the user's monthly and yearly summary rows. These
// are added to detailed totals for alltime stats so truncation never lowers
// a reported total.
func (s *VoiceStore) UserArchiveTotals(ctx context.Context, guildID, userID string) (seconds int64, count int64, err error) {
	filter := bson.M{"guildId": guildID, "userId": userID}

	monthlySec, monthlyCount, err := sumSummaries(ctx, s.monthlies(), filter)
	if err != nil {
		return 0, 0, err
	}
	yearlySec, yearlyCount, err := sumSummaries(ctx, s.yearlies(), filter)
	if err != nil {
		return 0, 0, err
	}
	return monthlySec + yearlySec, monthlyCount + yearlyCount, nil
}

// GuildArchiveTotals returns per-user archived totals for a guild,
// combining the monthly and yearly tiers.
func (s *VoiceStore) GuildArchiveTotals(ctx context.Context, guildID string) (map[string]models.TopUser, error) {
	totals := make(map[string]models.TopUser)

	for _, coll := range []*mongo.Collection{s.monthlies(), s.yearlies()} {
		pipeline := mongo.Pipeline{
			{{Key: "$match", Value: bson.M{"guildId": guildID}}},
			{{Key: "$group", Value: bson.M{
				"_id":          "$userId",
				"totalSeconds": bson.M{"$sum": "$totalSeconds"},
				"sessionCount": bson.M{"$sum": "$sessionCount"},
			}}},
		}

		cursor, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate archive totals: %w", err)
		}

		var rows []struct {
			UserID       string `bson:"_id"`
			TotalSeconds int64  `bson:"totalSeconds"`
			SessionCount int64  `bson:"sessionCount"`
		}
		if err := cursor.All(ctx, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode archive totals: %w", err)
		}

		for _, row := range rows {
			entry := totals[row.UserID]
			entry.UserID = row.UserID
			entry.TotalSeconds += row.TotalSeconds
			entry.SessionCount += int(row.SessionCount)
			totals[row.UserID] = entry
		}
	}

	return totals, nil
}

func sumSummaries(ctx context.Context, coll *mongo.Collection, filter bson.M) (int64, int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: bson.M{
			"_id":          nil,
			"totalSeconds": bson.M{"$sum": "$totalSeconds"},
			"sessionCount": bson.M{"$sum": "$sessionCount"},
		}}},
	}

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate summaries: %w", err)
	}

	var rows []struct {
		TotalSeconds int64 `bson:"totalSeconds"`
		SessionCount int64 `bson:"sessionCount"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, 0, fmt.Errorf("failed to decode summary totals: %w", err)
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	return rows[0].TotalSeconds, rows[0].SessionCount, nil
}

// SessionsBefore returns completed sessions with joinedAt strictly before
// the cutoff. Used by the truncation fold.
func (s *VoiceStore) SessionsBefore(ctx context.Context, cutoff time.Time) ([]models.CompletedSession, error) {
	cursor, err := s.sessions().Find(ctx, bson.M{"joinedAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions before cutoff: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.CompletedSession
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode sessions before cutoff: %w", err)
	}
	return results, nil
}

// DeleteSessions removes the given session records by ID.
func (s *VoiceStore) DeleteSessions(ctx context.Context, ids []primitive.ObjectID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.sessions().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete folded sessions: %w", err)
	}
	return result.DeletedCount, nil
}

// IncrementMonthly upserts a monthly summary row, adding seconds and count.
func (s *VoiceStore) IncrementMonthly(ctx context.Context, guildID, userID, yearMonth string, seconds, count int64) error {
	filter := bson.M{"guildId": guildID, "userId": userID, "yearMonth": yearMonth}
	update := bson.M{
		"$inc": bson.M{"totalSeconds": seconds, "sessionCount": count},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := s.monthlies().UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert monthly summary: %w", err)
	}
	return nil
}

// MonthliesBefore returns monthly summaries with yearMonth strictly before
// the cutoff ("2006-01" format; lexical order matches chronological order).
func (s *VoiceStore) MonthliesBefore(ctx context.Context, cutoffYearMonth string) ([]models.MonthlySummary, error) {
	cursor, err := s.monthlies().Find(ctx, bson.M{"yearMonth": bson.M{"$lt": cutoffYearMonth}})
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly summaries before cutoff: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.MonthlySummary
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode monthly summaries: %w", err)
	}
	return results, nil
}

// DeleteMonthlies removes the given monthly summary rows by ID.
func (s *VoiceStore) DeleteMonthlies(ctx context.Context, ids []primitive.ObjectID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.monthlies().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete folded monthly summaries: %w", err)
	}
	return result.DeletedCount, nil
}

// IncrementYearly upserts a yearly summary row, adding seconds and count.
func (s *VoiceStore) IncrementYearly(ctx context.Context, guildID, userID string, year int, seconds, count int64) error {
	filter := bson.M{"guildId": guildID, "userId": userID, "year": year}
	update := bson.M{
		"$inc": bson.M{"totalSeconds": seconds, "sessionCount": count},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := s.yearlies().UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert yearly summary: %w", err)
	}
	return nil
}

// DeleteYearliesBefore deletes yearly rows for years strictly before the
// cutoff year. This is the only lossy step in the retention pipeline.
func (s *VoiceStore) DeleteYearliesBefore(ctx context.Context, cutoffYear int) (int64, error) {
	result, err := s.yearlies().DeleteMany(ctx, bson.M{"year": bson.M{"$lt": cutoffYear}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired yearly summaries: %w", err)
	}
	return result.DeletedCount, nil
}

// Ping reports whether the backing store is reachable.
func (s *VoiceStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
