package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"voiceward/internal/jobs"
	"voiceward/internal/models"
	"voiceward/internal/platform"
	"voiceward/internal/services"
	"voiceward/internal/shared"
	"voiceward/pkg/utils"
)

// commandPrefix starts every bot command.
const commandPrefix = "!voice"

type commandFunc func(ctx context.Context, msg platform.Message, args []string) string

// CommandRouter maps the closed set of command names onto handler
// functions. The table is built once at startup; dispatch is a plain map
// lookup.
type CommandRouter struct {
	tracker    *services.TrackerService
	channels   *services.ChannelService
	settings   *services.SettingsService
	truncation *jobs.TruncationService
	platform   platform.Platform
	commands   map[string]commandFunc
}

// NewCommandRouter builds the dispatch table.
func NewCommandRouter(
	tracker *services.TrackerService,
	channels *services.ChannelService,
	settings *services.SettingsService,
	truncation *jobs.TruncationService,
	p platform.Platform,
) *CommandRouter {
	r := &CommandRouter{
		tracker:    tracker,
		channels:   channels,
		settings:   settings,
		truncation: truncation,
		platform:   p,
	}
	r.commands = map[string]commandFunc{
		"stats":    r.cmdStats,
		"top":      r.cmdTop,
		"seen":     r.cmdSeen,
		"transfer": r.cmdTransfer,
		"name":     r.cmdName,
		"limit":    r.cmdLimit,
		"bitrate":  r.cmdBitrate,
		"exclude":  r.cmdExclude,
		"cleanup":  r.cmdCleanup,
		"help":     r.cmdHelp,
	}
	return r
}

// HandleMessage parses and dispatches one inbound message. Unknown
// commands get the help text; non-commands are ignored.
func (r *CommandRouter) HandleMessage(msg platform.Message) {
	fields := strings.Fields(msg.Content)
	if len(fields) == 0 || fields[0] != commandPrefix {
		return
	}

	name := "stats"
	args := []string{}
	if len(fields) > 1 {
		name = strings.ToLower(fields[1])
		args = fields[2:]
	}

	handler, ok := r.commands[name]
	if !ok {
		// "!voice @user" / "!voice week" shorthand for stats.
		handler = r.cmdStats
		args = fields[1:]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply := handler(ctx, msg, args)
	if reply == "" {
		return
	}
	if err := r.platform.SendMessage(msg.ChannelID, reply); err != nil {
		log.Printf("[COMMANDS] failed to reply in %s: %v", msg.ChannelID, err)
	}
}

func (r *CommandRouter) cmdStats(ctx context.Context, msg platform.Message, args []string) string {
	targetID := msg.AuthorID
	period := models.PeriodAllTime

	for _, arg := range args {
		if utils.IsUserMention(arg) {
			targetID = utils.ExtractUserIDFromMention(arg)
		} else {
			period = models.ParsePeriod(arg)
		}
	}

	stats, err := r.tracker.GetUserStats(ctx, msg.GuildID, targetID, period)
	if err != nil {
		log.Printf("[COMMANDS] stats query failed for %s: %v", targetID, err)
		return "⚠️ Could not load stats right now."
	}
	if stats == nil {
		return fmt.Sprintf("%s has no recorded voice activity.", utils.FormatUserMention(targetID))
	}

	reply := fmt.Sprintf("⏱️ %s — %s voice time: **%s** (%d sessions)",
		utils.FormatUserMention(targetID), period, utils.FormatDuration(stats.TotalSeconds), len(stats.Sessions))

	if active := r.tracker.GetActiveSession(msg.GuildID, targetID); active != nil {
		reply += fmt.Sprintf("\n🎙️ Currently in **%s** since %s", active.ChannelName, active.JoinedAt.Format("15:04 MST"))
	} else if !stats.LastSeen.IsZero() {
		reply += "\n👋 Last seen " + stats.LastSeen.Format("2006-01-02 15:04 MST")
	}
	return reply
}

func (r *CommandRouter) cmdTop(ctx context.Context, msg platform.Message, args []string) string {
	limit := 5
	period := models.PeriodAllTime

	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil && n > 0 {
			if n > 25 {
				n = 25
			}
			limit = n
		} else {
			period = models.ParsePeriod(arg)
		}
	}

	top, err := r.tracker.GetTopUsers(ctx, msg.GuildID, limit, period)
	if err != nil {
		log.Printf("[COMMANDS] top query failed: %v", err)
		return "⚠️ Could not load the leaderboard right now."
	}
	if len(top) == 0 {
		return "No voice activity recorded yet."
	}

	lines := make([]string, 0, len(top)+1)
	lines = append(lines, fmt.Sprintf("🏆 Top voice time (%s):", period))
	for i, entry := range top {
		lines = append(lines, utils.FormatLeaderboardEntry(i+1,
			utils.FormatUserMention(entry.UserID), utils.FormatDuration(entry.TotalSeconds)))
	}
	return strings.Join(lines, "\n")
}

func (r *CommandRouter) cmdSeen(ctx context.Context, msg platform.Message, args []string) string {
	if len(args) == 0 || !utils.IsUserMention(args[0]) {
		return "Usage: `!voice seen @user`"
	}
	targetID := utils.ExtractUserIDFromMention(args[0])

	if active := r.tracker.GetActiveSession(msg.GuildID, targetID); active != nil {
		return fmt.Sprintf("🎙️ %s is in **%s** right now.", utils.FormatUserMention(targetID), active.ChannelName)
	}

	lastSeen, err := r.tracker.GetUserLastSeen(ctx, msg.GuildID, targetID)
	if err != nil {
		log.Printf("[COMMANDS] seen query failed for %s: %v", targetID, err)
		return "⚠️ Could not look that up right now."
	}
	if lastSeen.IsZero() {
		return fmt.Sprintf("%s has never been seen in voice.", utils.FormatUserMention(targetID))
	}
	return fmt.Sprintf("👋 %s was last in voice %s.", utils.FormatUserMention(targetID), lastSeen.Format("2006-01-02 15:04 MST"))
}

func (r *CommandRouter) cmdTransfer(ctx context.Context, msg platform.Message, args []string) string {
	if len(args) == 0 || !utils.IsUserMention(args[0]) {
		return "Usage: `!voice transfer @user`"
	}
	newOwnerID := utils.ExtractUserIDFromMention(args[0])

	mc, ok := r.channels.ManagedChannelForOwner(msg.GuildID, msg.AuthorID)
	if !ok {
		return "You don't own a personal channel."
	}

	err := r.channels.TransferOwnership(ctx, mc.ChannelID, msg.AuthorID, newOwnerID)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, shared.ErrOwnerNotPresent):
		return fmt.Sprintf("%s must be in your channel to receive ownership.", utils.FormatUserMention(newOwnerID))
	case errors.Is(err, shared.ErrNotFound):
		return "That channel no longer exists."
	case errors.Is(err, shared.ErrPermissionDenied):
		return "⚠️ I'm missing permissions to transfer that channel."
	default:
		log.Printf("[COMMANDS] transfer failed: %v", err)
		return "⚠️ Transfer failed, try again later."
	}
}

func (r *CommandRouter) cmdName(ctx context.Context, msg platform.Message, args []string) string {
	if len(args) == 0 {
		return "Usage: `!voice name <new channel name>`"
	}
	name := strings.Join(args, " ")

	mc, ok := r.channels.ManagedChannelForOwner(msg.GuildID, msg.AuthorID)
	if !ok {
		return "You don't own a personal channel."
	}

	if err := r.channels.SetCustomChannelName(ctx, mc.ChannelID, name); err != nil {
		if errors.Is(err, shared.ErrPermissionDenied) {
			return "⚠️ I'm missing permissions to rename that channel."
		}
		log.Printf("[COMMANDS] rename failed: %v", err)
		return "⚠️ Rename failed, try again later."
	}
	return fmt.Sprintf("✏️ Channel renamed to **%s**.", name)
}

func (r *CommandRouter) cmdLimit(ctx context.Context, msg platform.Message, args []string) string {
	if len(args) == 0 {
		return "Usage: `!voice limit <0-99>`"
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return "Usage: `!voice limit <0-99>`"
	}

	if err := r.settings.SetUserLimit(ctx, msg.AuthorID, n); err != nil {
		if errors.Is(err, shared.ErrValidation) {
			return "User limit must be between 0 and 99."
		}
		log.Printf("[COMMANDS] set limit failed: %v", err)
		return "⚠️ Could not save that preference."
	}
	return fmt.Sprintf("✅ Your channels will allow up to %d members.", n)
}

func (r *CommandRouter) cmdBitrate(ctx context.Context, msg platform.Message, args []string) string {
	if len(args) == 0 {
		return "Usage: `!voice bitrate <8-384>`"
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return "Usage: `!voice bitrate <8-384>`"
	}

	if err := r.settings.SetBitrate(ctx, msg.AuthorID, n); err != nil {
		if errors.Is(err, shared.ErrValidation) {
			return "Bitrate must be between 8 and 384 kbps."
		}
		log.Printf("[COMMANDS] set bitrate failed: %v", err)
		return "⚠️ Could not save that preference."
	}
	return fmt.Sprintf("✅ Your channels will use %d kbps.", n)
}

func (r *CommandRouter) cmdExclude(ctx context.Context, msg platform.Message, args []string) string {
	if len(args) == 0 {
		return "Usage: `!voice exclude add|remove #channel` or `!voice exclude list`"
	}

	switch strings.ToLower(args[0]) {
	case "list":
		channels, err := r.settings.ExcludedChannels(ctx, msg.GuildID)
		if err != nil {
			log.Printf("[COMMANDS] exclusion list failed: %v", err)
			return "⚠️ Could not load the exclusion list."
		}
		if len(channels) == 0 {
			return "No channels are excluded from tracking."
		}
		mentions := make([]string, len(channels))
		for i, id := range channels {
			mentions[i] = utils.FormatChannelMention(id)
		}
		return "🚫 Excluded from tracking: " + strings.Join(mentions, ", ")

	case "add", "remove":
		if len(args) < 2 {
			return "Usage: `!voice exclude " + args[0] + " #channel`"
		}
		channelID := utils.ExtractChannelIDFromMention(args[1])
		if channelID == "" {
			return "That doesn't look like a channel mention."
		}

		var err error
		if strings.EqualFold(args[0], "add") {
			err = r.settings.AddExcludedChannel(ctx, msg.GuildID, channelID)
		} else {
			err = r.settings.RemoveExcludedChannel(ctx, msg.GuildID, channelID)
		}
		if err != nil {
			log.Printf("[COMMANDS] exclusion update failed: %v", err)
			return "⚠️ Could not update the exclusion list."
		}
		return "✅ Exclusion list updated."

	default:
		return "Usage: `!voice exclude add|remove #channel` or `!voice exclude list`"
	}
}

func (r *CommandRouter) cmdCleanup(ctx context.Context, msg platform.Message, args []string) string {
	sub := "status"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}

	switch sub {
	case "run":
		result, err := r.truncation.RunCleanup(ctx)
		if errors.Is(err, shared.ErrCleanupRunning) {
			return "⏳ A cleanup run is already in progress."
		}
		if err != nil {
			log.Printf("[COMMANDS] cleanup run failed: %v", err)
			return "⚠️ Cleanup failed to start."
		}
		return fmt.Sprintf("🧹 Cleanup done: %d sessions folded into %d summaries in %dms (%d errors).",
			result.SessionsRemoved, result.DataAggregated, result.ExecutionTimeMs, len(result.Errors))

	case "status":
		status := r.truncation.Status(ctx)
		last := "never"
		if !status.LastCleanupDate.IsZero() {
			last = status.LastCleanupDate.Format("2006-01-02 15:04 MST")
		}
		return fmt.Sprintf("🧹 Cleanup — scheduled: %t, running: %t, store connected: %t, last run: %s",
			status.IsScheduled, status.IsRunning, status.IsConnected, last)

	default:
		return "Usage: `!voice cleanup run|status`"
	}
}

func (r *CommandRouter) cmdHelp(ctx context.Context, msg platform.Message, args []string) string {
	return strings.Join([]string{
		"**voiceward commands**",
		"`!voice stats [@user] [week|month|alltime]` — voice time stats",
		"`!voice top [n] [week|month|alltime]` — leaderboard",
		"`!voice seen @user` — last seen in voice",
		"`!voice transfer @user` — hand your channel to someone present",
		"`!voice name <name>` — rename your channel",
		"`!voice limit <0-99>` / `!voice bitrate <8-384>` — channel preferences",
		"`!voice exclude add|remove #channel` / `!voice exclude list`",
		"`!voice cleanup run|status` — retention maintenance",
	}, "\n")
}
