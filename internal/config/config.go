package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from the environment.
type Config struct {
	Port         string
	DiscordToken string
	MongoURI     string

	// Defaults used when a guild has no stored override.
	LobbyName    string
	CategoryName string
	NamePattern  string

	// Retention tiers for the truncation job.
	DetailedRetentionDays  int
	MonthlyRetentionMonths int
	YearlyRetentionYears   int

	// CleanupSchedule is a cron expression for the automatic truncation run.
	CleanupSchedule string

	// EmptyChannelInterval is how often empty personal channels are reaped.
	EmptyChannelInterval time.Duration
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "3001"),
		DiscordToken: getEnv("DISCORD_TOKEN", ""),
		MongoURI:     getEnv("MONGODB_URI", ""),

		LobbyName:    getEnv("LOBBY_NAME", "➕ New Channel"),
		CategoryName: getEnv("CATEGORY_NAME", "Voice Channels"),
		NamePattern:  getEnv("NAME_PATTERN", "{username}'s Channel"),

		DetailedRetentionDays:  getIntEnv("DETAILED_RETENTION_DAYS", 30),
		MonthlyRetentionMonths: getIntEnv("MONTHLY_RETENTION_MONTHS", 6),
		YearlyRetentionYears:   getIntEnv("YEARLY_RETENTION_YEARS", 2),

		CleanupSchedule: getEnv("CLEANUP_SCHEDULE", "0 2 * * *"),

		EmptyChannelInterval: getDurationEnv("EMPTY_CHANNEL_INTERVAL", 2*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
