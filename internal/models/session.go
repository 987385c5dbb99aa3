package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ActiveSession is the in-memory record of a user currently inside a
// tracked voice channel. At most one exists per (guildId, userId).
type ActiveSession struct {
	UserID      string
	Username    string
	GuildID     string
	ChannelID   string
	ChannelName string
	JoinedAt    time.Time
}

// CompletedSession is the persisted record written when a user leaves a
// tracked voice channel. DurationSeconds is always LeftAt - JoinedAt >= 0.
type CompletedSession struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID          string             `bson:"userId" json:"user_id"`
	GuildID         string             `bson:"guildId" json:"guild_id"`
	ChannelID       string             `bson:"channelId" json:"channel_id"`
	ChannelName     string             `bson:"channelName" json:"channel_name"`
	JoinedAt        time.Time          `bson:"joinedAt" json:"joined_at"`
	LeftAt          time.Time          `bson:"leftAt" json:"left_at"`
	DurationSeconds int64              `bson:"durationSeconds" json:"duration_seconds"`
}

// MonthlySummary is produced only by the truncation job, folding completed
// sessions older than the detail retention window. YearMonth is "2006-01".
type MonthlySummary struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string             `bson:"userId" json:"user_id"`
	GuildID      string             `bson:"guildId" json:"guild_id"`
	YearMonth    string             `bson:"yearMonth" json:"year_month"`
	TotalSeconds int64              `bson:"totalSeconds" json:"total_seconds"`
	SessionCount int64              `bson:"sessionCount" json:"session_count"`
}

// YearlySummary is produced by folding monthly summaries past the monthly
// retention window. Rows older than the yearly retention are deleted
// outright; there is no coarser tier.
type YearlySummary struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string             `bson:"userId" json:"user_id"`
	GuildID      string             `bson:"guildId" json:"guild_id"`
	Year         int                `bson:"year" json:"year"`
	TotalSeconds int64              `bson:"totalSeconds" json:"total_seconds"`
	SessionCount int64              `bson:"sessionCount" json:"session_count"`
}

// Period selects the stats window for user stats and leaderboards.
type Period string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodAllTime Period = "alltime"
)

// ParsePeriod maps user input to a Period, defaulting to alltime.
func ParsePeriod(s string) Period {
	switch s {
	case "week", "w":
		return PeriodWeek
	case "month", "m":
		return PeriodMonth
	default:
		return PeriodAllTime
	}
}

// UserStats is the aggregate answer for a single user's activity.
type UserStats struct {
	UserID       string             `json:"user_id"`
	TotalSeconds int64              `json:"total_seconds"`
	LastSeen     time.Time          `json:"last_seen"`
	Sessions     []CompletedSession `json:"sessions"`
}

// TopUser is one leaderboard row.
type TopUser struct {
	UserID       string    `json:"user_id"`
	TotalSeconds int64     `json:"total_seconds"`
	SessionCount int       `json:"session_count"`
	LastSeen     time.Time `json:"last_seen"`
}
