package models

import "time"

// ManagedChannel is the lifecycle bookkeeping for a personal voice channel
// created from the lobby. HasCustomName flips true only through the explicit
// rename path, never through an ownership-transfer rename.
type ManagedChannel struct {
	ChannelID     string    `json:"channel_id"`
	GuildID       string    `json:"guild_id"`
	OwnerID       string    `json:"owner_id"`
	HasCustomName bool      `json:"has_custom_name"`
	CustomName    string    `json:"custom_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
