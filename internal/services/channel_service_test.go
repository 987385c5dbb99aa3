package services

import (
	"context"
	"errors"
	"testing"

	"voiceward/internal/platform"
	"voiceward/internal/shared"
)

func newTestChannels(guilds ...string) (*ChannelService, *fakePlatform, *SettingsService) {
	p := newFakePlatform(guilds...)
	settings, _ := newTestSettings()
	return NewChannelService(p, settings), p, settings
}

func TestInitializeCreatesCategoryAndLobby(t *testing.T) {
	channels, p, _ := newTestChannels("g1")

	if err := channels.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, found := p.FindChannelByName("g1", "Voice Channels", platform.KindCategory); !found {
		t.Error("expected the category to be created")
	}
	lobbyID, ok := channels.LobbyChannelID("g1")
	if !ok {
		t.Fatal("expected a resolved lobby channel")
	}
	if p.channelName(lobbyID) != "➕ New Channel" {
		t.Errorf("lobby name = %q, want the configured default", p.channelName(lobbyID))
	}
}

func TestInitializeReusesExistingChannels(t *testing.T) {
	channels, p, _ := newTestChannels("g1")

	existingCategory := p.addChannel("Voice Channels", platform.KindCategory)
	existingLobby := p.addChannel("➕ New Channel", platform.KindVoice)

	if err := channels.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	lobbyID, _ := channels.LobbyChannelID("g1")
	if lobbyID != existingLobby {
		t.Errorf("lobby = %s, want reuse of %s", lobbyID, existingLobby)
	}
	if len(p.channels) != 2 {
		t.Errorf("channels = %d, want 2 (no duplicates of %s/%s)", len(p.channels), existingCategory, existingLobby)
	}
}

func TestLobbyJoinProvisionsPersonalChannel(t *testing.T) {
	channels, p, _ := newTestChannels("g1")
	ctx := context.Background()
	if err := channels.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	lobbyID, _ := channels.LobbyChannelID("g1")

	member := &platform.VoiceState{GuildID: "g1", UserID: "u1", Username: "Rina", ChannelID: lobbyID}
	channels.HandleVoiceStateUpdate(ctx, nil, member)

	mc, ok := channels.ManagedChannelForOwner("g1", "u1")
	if !ok {
		t.Fatal("expected a managed channel for the member")
	}
	if mc.HasCustomName {
		t.Error("a freshly provisioned channel must not carry the custom-name flag")
	}
	if got := p.channelName(mc.ChannelID); got != "Rina's Channel" {
		t.Errorf("channel name = %q, want pattern expansion", got)
	}
	if p.moves["u1"] != mc.ChannelID {
		t.Errorf("member moved to %s, want %s", p.moves["u1"], mc.ChannelID)
	}

	var ownerGrant *permCall
	for i := range p.permCalls {
		if p.permCalls[i].userID == "u1" && p.permCalls[i].channelID == mc.ChannelID {
			ownerGrant = &p.permCalls[i]
		}
	}
	if ownerGrant == nil || !ownerGrant.allow.ManageChannel {
		t.Error("owner must be granted ManageChannel on the new channel")
	}
}

func TestLobbyJoinAppliesPreferences(t *testing.T) {
	channels, p, settings := newTestChannels("g1")
	ctx := context.Background()
	if err := channels.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	lobbyID, _ := channels.LobbyChannelID("g1")

	if err := settings.SetNamePattern(ctx, "u1", "🎮 {username} HQ"); err != nil {
		t.Fatalf("SetNamePattern: %v", err)
	}
	if err := settings.SetUserLimit(ctx, "u1", 4); err != nil {
		t.Fatalf("SetUserLimit: %v", err)
	}
	if err := settings.SetBitrate(ctx, "u1", 96); err != nil {
		t.Fatalf("SetBitrate: %v", err)
	}

	member := &platform.VoiceState{GuildID: "g1", UserID: "u1", Username: "Rina", ChannelID: lobbyID}
	channels.HandleVoiceStateUpdate(ctx, nil, member)

	mc, ok := channels.ManagedChannelForOwner("g1", "u1")
	if !ok {
		t.Fatal("expected a managed channel")
	}
	if got := p.channelName(mc.ChannelID); got != "🎮 Rina HQ" {
		t.Errorf("channel name = %q, want the user's pattern applied", got)
	}
}

func TestNonLobbyJoinIgnored(t *testing.T) {
	channels, p, _ := newTestChannels("g1")
	ctx := context.Background()
	if err := channels.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	other := p.addChannel("General", platform.KindVoice)

	channels.HandleVoiceStateUpdate(ctx, nil, &platform.VoiceState{GuildID: "g1", UserID: "u1", ChannelID: other})

	if count := channels.ManagedCount(); count != 0 {
		t.Errorf("managed channels = %d, want 0", count)
	}
}

func TestCleanupEmpty(t *testing.T) {
	channels, p, _ := newTestChannels("g1")
	ctx := context.Background()
	if err := channels.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	lobbyID, _ := channels.LobbyChannelID("g1")

	for _, userID := range []string{"u1", "u2", "u3"} {
		channels.HandleVoiceStateUpdate(ctx, nil, &platform.VoiceState{GuildID: "g1", UserID: userID, Username: userID, ChannelID: lobbyID})
	}
	if count := channels.ManagedCount(); count != 3 {
		t.Fatalf("managed channels = %d, want 3", count)
	}

	// u1 keeps their channel occupied; u2's goes empty; u3's was deleted
	// out from under us.
	mc2, _ := channels.ManagedChannelForOwner("g1", "u2")
	mc3, _ := channels.ManagedChannelForOwner("g1", "u3")
	p.mu.Lock()
	p.channels[mc2.ChannelID].members = nil
	delete(p.channels, mc3.ChannelID)
	p.mu.Unlock()

	removed := channels.CleanupEmpty(ctx)
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if count := channels.ManagedCount(); count != 1 {
		t.Errorf("managed channels = %d, want 1", count)
	}
	if _, ok := channels.ManagedChannelForOwner("g1", "u1"); !ok {
		t.Error("occupied channel must survive cleanup")
	}
	if _, ok := p.channels[mc2.ChannelID]; ok {
		t.Error("empty channel should be deleted")
	}
}

func TestSetCustomChannelName(t *testing.T) {
	channels, p, _ := newTestChannels("g1")
	ctx := context.Background()
	if err := channels.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	lobbyID, _ := channels.LobbyChannelID("g1")
	channels.HandleVoiceStateUpdate(ctx, nil, &platform.VoiceState{GuildID: "g1", UserID: "u1", Username: "Rina", ChannelID: lobbyID})
	mc, _ := channels.ManagedChannelForOwner("g1", "u1")

	if channels.HasCustomName(mc.ChannelID) {
		t.Fatal("custom-name flag must start false")
	}

	if err := channels.SetCustomChannelName(ctx, mc.ChannelID, "Raid Night"); err != nil {
		t.Fatalf("SetCustomChannelName: %v", err)
	}
	if !channels.HasCustomName(mc.ChannelID) {
		t.Error("explicit rename must set the custom-name flag")
	}
	if name, ok := channels.GetCustomChannelName(mc.ChannelID); !ok || name != "Raid Night" {
		t.Errorf("custom name = %q/%t, want Raid Night/true", name, ok)
	}
	if got := p.channelName(mc.ChannelID); got != "Raid Night" {
		t.Errorf("platform name = %q, want Raid Night", got)
	}

	if err := channels.SetCustomChannelName(ctx, "unmanaged", "x"); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("rename of unmanaged channel = %v, want ErrNotFound", err)
	}
}

func setupTransfer(t *testing.T) (*ChannelService, *fakePlatform, string) {
	t.Helper()
	channels, p, _ := newTestChannels("g1")
	ctx := context.Background()
	if err := channels.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	lobbyID, _ := channels.LobbyChannelID("g1")

	p.displayNames["ua"] = "UserA"
	p.displayNames["ub"] = "UserB"
	channels.HandleVoiceStateUpdate(ctx, nil, &platform.VoiceState{GuildID: "g1", UserID: "ua", Username: "UserA", ChannelID: lobbyID})

	mc, ok := channels.ManagedChannelForOwner("g1", "ua")
	if !ok {
		t.Fatal("expected a managed channel for ua")
	}
	return channels, p, mc.ChannelID
}

func TestTransferOwnership(t *testing.T) {
	channels, p, channelID := setupTransfer(t)
	ctx := context.Background()

	// The new owner is present in the channel.
	p.mu.Lock()
	p.channels[channelID].members = append(p.channels[channelID].members, "ub")
	p.mu.Unlock()
	p.permCalls = nil

	if err := channels.TransferOwnership(ctx, channelID, "ua", "ub"); err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}

	mc, ok := channels.ManagedChannel(channelID)
	if !ok || mc.OwnerID != "ub" {
		t.Errorf("owner = %s, want ub", mc.OwnerID)
	}
	if got := p.channelName(channelID); got != "UserB's Channel" {
		t.Errorf("channel name = %q, want rename to the new owner", got)
	}

	if len(p.permCalls) != 2 {
		t.Fatalf("perm calls = %d, want 2", len(p.permCalls))
	}
	grant, revoke := p.permCalls[0], p.permCalls[1]
	if grant.userID != "ub" || !grant.allow.ManageChannel {
		t.Errorf("first call must grant ub ManageChannel, got %+v", grant)
	}
	if revoke.userID != "ua" || !revoke.deny.ManageChannel || !revoke.allow.Connect {
		t.Errorf("second call must strip ua to member permissions, got %+v", revoke)
	}

	if msgs := p.messages[channelID]; len(msgs) != 1 {
		t.Errorf("transfer notices = %d, want 1", len(msgs))
	}
}

func TestTransferOwnershipKeepsCustomName(t *testing.T) {
	channels, p, channelID := setupTransfer(t)
	ctx := context.Background()

	if err := channels.SetCustomChannelName(ctx, channelID, "Raid Night"); err != nil {
		t.Fatalf("SetCustomChannelName: %v", err)
	}
	p.mu.Lock()
	p.channels[channelID].members = append(p.channels[channelID].members, "ub")
	p.mu.Unlock()

	if err := channels.TransferOwnership(ctx, channelID, "ua", "ub"); err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}

	if got := p.channelName(channelID); got != "Raid Night" {
		t.Errorf("channel name = %q, custom name must survive transfer", got)
	}
	if mc, _ := channels.ManagedChannel(channelID); mc.OwnerID != "ub" {
		t.Errorf("owner = %s, want ub", mc.OwnerID)
	}
}

func TestTransferOwnershipTargetNotPresent(t *testing.T) {
	channels, p, channelID := setupTransfer(t)
	ctx := context.Background()
	nameBefore := p.channelName(channelID)
	p.permCalls = nil

	err := channels.TransferOwnership(ctx, channelID, "ua", "ub")
	if !errors.Is(err, shared.ErrOwnerNotPresent) {
		t.Fatalf("err = %v, want ErrOwnerNotPresent", err)
	}

	// A failed transfer leaves everything untouched.
	if mc, _ := channels.ManagedChannel(channelID); mc.OwnerID != "ua" {
		t.Errorf("owner = %s, want unchanged ua", mc.OwnerID)
	}
	if len(p.permCalls) != 0 {
		t.Errorf("perm calls = %d, want 0", len(p.permCalls))
	}
	if got := p.channelName(channelID); got != nameBefore {
		t.Errorf("channel name changed to %q on failed transfer", got)
	}
	if len(p.messages[channelID]) != 0 {
		t.Error("no notice should be posted on a failed transfer")
	}
}

func TestTransferOwnershipUnmanagedChannel(t *testing.T) {
	channels, _, _ := newTestChannels("g1")

	err := channels.TransferOwnership(context.Background(), "nope", "ua", "ub")
	if !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMoveFailureLeavesChannelToReaper(t *testing.T) {
	channels, p, _ := newTestChannels("g1")
	ctx := context.Background()
	if err := channels.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	lobbyID, _ := channels.LobbyChannelID("g1")

	// The member disconnects between channel creation and the move.
	p.moveErr = errStoreDown
	channels.HandleVoiceStateUpdate(ctx, nil, &platform.VoiceState{GuildID: "g1", UserID: "u1", Username: "Rina", ChannelID: lobbyID})

	// The orphaned channel must still be registered so the reaper sees it.
	mc, ok := channels.ManagedChannelForOwner("g1", "u1")
	if !ok {
		t.Fatal("expected the orphaned channel to be tracked")
	}

	if removed := channels.CleanupEmpty(ctx); removed != 1 {
		t.Errorf("removed = %d, want the orphaned channel reaped", removed)
	}
	if _, exists := p.channels[mc.ChannelID]; exists {
		t.Error("orphaned channel should be deleted from the platform")
	}
	if count := channels.ManagedCount(); count != 0 {
		t.Errorf("managed channels = %d, want 0", count)
	}
}

func TestProvisionFailureKeepsDispatchAlive(t *testing.T) {
	channels, p, _ := newTestChannels("g1")
	ctx := context.Background()
	if err := channels.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	lobbyID, _ := channels.LobbyChannelID("g1")

	p.createErr = errStoreDown
	channels.HandleVoiceStateUpdate(ctx, nil, &platform.VoiceState{GuildID: "g1", UserID: "u1", ChannelID: lobbyID})
	if count := channels.ManagedCount(); count != 0 {
		t.Errorf("managed channels = %d, want 0 after failed provisioning", count)
	}

	p.createErr = nil
	channels.HandleVoiceStateUpdate(ctx, nil, &platform.VoiceState{GuildID: "g1", UserID: "u1", ChannelID: lobbyID})
	if _, ok := channels.ManagedChannelForOwner("g1", "u1"); !ok {
		t.Error("provisioning should recover once the platform does")
	}
}
