package handlers

import (
	"errors"
	"time"

	"voiceward/internal/jobs"
	"voiceward/internal/models"
	"voiceward/internal/services"
	"voiceward/internal/shared"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	tracker  *services.TrackerService
	channels *services.ChannelService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(tracker *services.TrackerService, channels *services.ChannelService) *HealthHandler {
	return &HealthHandler{tracker: tracker, channels: channels}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":           "healthy",
		"active_sessions":  h.tracker.ActiveSessionCount(),
		"managed_channels": h.channels.ManagedCount(),
		"timestamp":        time.Now().Format(time.RFC3339),
	})
}

// CleanupHandler exposes the truncation service over HTTP for operators.
type CleanupHandler struct {
	truncation *jobs.TruncationService
}

// NewCleanupHandler creates a new cleanup handler
func NewCleanupHandler(truncation *jobs.TruncationService) *CleanupHandler {
	return &CleanupHandler{truncation: truncation}
}

// Status returns the truncation service status.
func (h *CleanupHandler) Status(c *fiber.Ctx) error {
	return c.JSON(h.truncation.Status(c.Context()))
}

// Run triggers a cleanup pass. A run already in progress yields 409.
func (h *CleanupHandler) Run(c *fiber.Ctx) error {
	result, err := h.truncation.RunCleanup(c.Context())
	if errors.Is(err, shared.ErrCleanupRunning) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "cleanup already running",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(result)
}

// StatsHandler serves read-only stats queries.
type StatsHandler struct {
	tracker *services.TrackerService
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(tracker *services.TrackerService) *StatsHandler {
	return &StatsHandler{tracker: tracker}
}

// UserStats returns one user's stats for the requested period.
func (h *StatsHandler) UserStats(c *fiber.Ctx) error {
	guildID := c.Params("guildID")
	userID := c.Params("userID")
	period := models.ParsePeriod(c.Query("period", "alltime"))

	stats, err := h.tracker.GetUserStats(c.Context(), guildID, userID, period)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if stats == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no activity recorded for user",
		})
	}
	return c.JSON(stats)
}

// TopUsers returns the guild leaderboard.
func (h *StatsHandler) TopUsers(c *fiber.Ctx) error {
	guildID := c.Params("guildID")
	period := models.ParsePeriod(c.Query("period", "alltime"))
	limit := c.QueryInt("limit", 10)

	top, err := h.tracker.GetTopUsers(c.Context(), guildID, limit, period)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(top)
}
