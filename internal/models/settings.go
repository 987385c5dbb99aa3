package models

import "time"

// GuildSettings holds per-guild configuration stored in MongoDB and read
// through the settings service. Empty string fields fall back to the
// process-wide defaults from config.
type GuildSettings struct {
	GuildID          string    `bson:"guildId" json:"guild_id"`
	ExcludedChannels []string  `bson:"excludedChannels" json:"excluded_channels"`
	LobbyName        string    `bson:"lobbyName,omitempty" json:"lobby_name,omitempty"`
	CategoryName     string    `bson:"categoryName,omitempty" json:"category_name,omitempty"`
	NamePattern      string    `bson:"namePattern,omitempty" json:"name_pattern,omitempty"`
	UpdatedAt        time.Time `bson:"updatedAt" json:"updated_at"`
}

// UserVoicePreferences are applied when a personal channel is provisioned
// for the user. Nil pointer fields mean "use the platform default".
// UserLimit is 0-99 members, Bitrate is 8-384 kbps.
type UserVoicePreferences struct {
	UserID      string    `bson:"userId" json:"user_id"`
	NamePattern string    `bson:"namePattern,omitempty" json:"name_pattern,omitempty"`
	UserLimit   *int      `bson:"userLimit,omitempty" json:"user_limit,omitempty"`
	Bitrate     *int      `bson:"bitrate,omitempty" json:"bitrate,omitempty"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updated_at"`
}
