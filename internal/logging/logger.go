package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithGuild returns a logger with guild context fields attached.
// Use this for all logging within guild-scoped event handling.
func WithGuild(guildID string) *slog.Logger {
	return slog.With("guild_id", guildID)
}

// WithSession returns a logger scoped to a single voice session.
func WithSession(logger *slog.Logger, userID, channelID string) *slog.Logger {
	return logger.With(
		"user_id", userID,
		"channel_id", channelID,
	)
}
