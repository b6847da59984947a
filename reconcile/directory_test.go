package reconcile

import (
	"context"
	"testing"
)

func TestLobbyResolutionIdempotent(t *testing.T) {
	fp := newFakePlatform()
	store := newMemStore()
	dir := NewDirectory(fp, fastExecutor(), store)
	ctx := context.Background()

	first, err := dir.GetOrCreateLobby(ctx, fp.guild.ID, "Lobby")
	if err != nil {
		t.Fatalf("first resolution: %v", err)
	}
	second, err := dir.GetOrCreateLobby(ctx, fp.guild.ID, "Lobby")
	if err != nil {
		t.Fatalf("second resolution: %v", err)
	}
	if first != second {
		t.Errorf("lobby id changed across resolutions: %q then %q", first, second)
	}
	if fp.createCalls != 1 {
		t.Errorf("createCalls = %d, want exactly 1", fp.createCalls)
	}
}

func TestLobbyFoundByNameCaseInsensitive(t *testing.T) {
	fp := newFakePlatform()
	existing := fp.addVoiceChannel("LOBBY")
	dir := NewDirectory(fp, fastExecutor(), newMemStore())

	id, err := dir.GetOrCreateLobby(context.Background(), fp.guild.ID, "lobby")
	if err != nil {
		t.Fatalf("resolution: %v", err)
	}
	if id != existing.ID {
		t.Errorf("resolved %q, want existing channel %q", id, existing.ID)
	}
	if fp.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0", fp.createCalls)
	}
}

func TestLobbySelfHealsAfterRemoteDeletion(t *testing.T) {
	fp := newFakePlatform()
	dir := NewDirectory(fp, fastExecutor(), newMemStore())
	ctx := context.Background()

	first, err := dir.GetOrCreateLobby(ctx, fp.guild.ID, "Lobby")
	if err != nil {
		t.Fatalf("first resolution: %v", err)
	}
	// Admin deletes the channel behind our back.
	fp.removeChannel(first)

	second, err := dir.GetOrCreateLobby(ctx, fp.guild.ID, "Lobby")
	if err != nil {
		t.Fatalf("second resolution: %v", err)
	}
	if second == first {
		t.Error("stale cached id returned after remote deletion")
	}
	if fp.createCalls != 2 {
		t.Errorf("createCalls = %d, want 2", fp.createCalls)
	}
}

func TestLobbyCachedIDSurvivesRename(t *testing.T) {
	fp := newFakePlatform()
	dir := NewDirectory(fp, fastExecutor(), newMemStore())
	ctx := context.Background()

	first, err := dir.GetOrCreateLobby(ctx, fp.guild.ID, "Lobby")
	if err != nil {
		t.Fatalf("first resolution: %v", err)
	}
	// Admin renames the channel; the cached id still points at a live voice
	// channel, so no duplicate is created.
	fp.renameChannel(first, "Waiting Room")

	second, err := dir.GetOrCreateLobby(ctx, fp.guild.ID, "Lobby")
	if err != nil {
		t.Fatalf("second resolution: %v", err)
	}
	if second != first {
		t.Errorf("cached id not reused after rename: %q then %q", first, second)
	}
	if fp.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", fp.createCalls)
	}
}

func TestTeamChannelNameFromTemplate(t *testing.T) {
	fp := newFakePlatform()
	dir := NewDirectory(fp, fastExecutor(), newMemStore())

	id, err := dir.GetOrCreateTeamChannel(context.Background(), fp.guild.ID, "Red", "Team %s")
	if err != nil {
		t.Fatalf("resolution: %v", err)
	}
	var name string
	for _, ch := range fp.channels {
		if ch.ID == id {
			name = ch.Name
		}
	}
	if name != "Team Red" {
		t.Errorf("created channel named %q, want Team Red", name)
	}
}

func TestTeamChannelTemplateWithoutPlaceholder(t *testing.T) {
	fp := newFakePlatform()
	dir := NewDirectory(fp, fastExecutor(), newMemStore())

	for _, template := range []string{"", "Scrims"} {
		id, err := dir.GetOrCreateTeamChannel(context.Background(), fp.guild.ID, "Red", template)
		if err != nil {
			t.Fatalf("template %q: %v", template, err)
		}
		var name string
		for _, ch := range fp.channels {
			if ch.ID == id {
				name = ch.Name
			}
		}
		if name != "Team Red" {
			t.Errorf("template %q produced channel %q, want Team Red", template, name)
		}
	}
}

func TestTeamChannelLookupCaseInsensitive(t *testing.T) {
	fp := newFakePlatform()
	dir := NewDirectory(fp, fastExecutor(), newMemStore())
	ctx := context.Background()

	first, err := dir.GetOrCreateTeamChannel(ctx, fp.guild.ID, "Red", "Team %s")
	if err != nil {
		t.Fatalf("first resolution: %v", err)
	}
	second, err := dir.GetOrCreateTeamChannel(ctx, fp.guild.ID, "RED", "Team %s")
	if err != nil {
		t.Fatalf("second resolution: %v", err)
	}
	if second != first {
		t.Errorf("case variant resolved a different channel: %q then %q", first, second)
	}
	if fp.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", fp.createCalls)
	}
	if len(dir.TeamChannels()) != 1 {
		t.Errorf("team entries = %d, want 1", len(dir.TeamChannels()))
	}
}

func TestDirectorySnapshotRoundTrip(t *testing.T) {
	fp := newFakePlatform()
	store := newMemStore()
	ctx := context.Background()

	dir := NewDirectory(fp, fastExecutor(), store)
	lobby, err := dir.GetOrCreateLobby(ctx, fp.guild.ID, "Lobby")
	if err != nil {
		t.Fatalf("lobby: %v", err)
	}
	team, err := dir.GetOrCreateTeamChannel(ctx, fp.guild.ID, "Blue", "Team %s")
	if err != nil {
		t.Fatalf("team: %v", err)
	}

	restored := NewDirectory(fp, fastExecutor(), store)
	restored.Load(ctx)
	if restored.Lobby() != lobby {
		t.Errorf("restored lobby = %q, want %q", restored.Lobby(), lobby)
	}
	if got := restored.TeamChannels()["Blue"]; got != team {
		t.Errorf("restored team channel = %q, want %q", got, team)
	}
}

func TestDirectoryLoadToleratesMissingAndCorruptSnapshots(t *testing.T) {
	fp := newFakePlatform()
	ctx := context.Background()

	empty := NewDirectory(fp, fastExecutor(), newMemStore())
	empty.Load(ctx)
	if empty.Lobby() != "" || len(empty.TeamChannels()) != 0 {
		t.Error("missing snapshot should load an empty directory")
	}

	store := newMemStore()
	store.data[directoryKey] = "{not json"
	corrupt := NewDirectory(fp, fastExecutor(), store)
	corrupt.Load(ctx)
	if corrupt.Lobby() != "" || len(corrupt.TeamChannels()) != 0 {
		t.Error("corrupt snapshot should load an empty directory")
	}
}

func TestForgetTeamChannelCaseInsensitive(t *testing.T) {
	fp := newFakePlatform()
	dir := NewDirectory(fp, fastExecutor(), newMemStore())

	if _, err := dir.GetOrCreateTeamChannel(context.Background(), fp.guild.ID, "Red", "Team %s"); err != nil {
		t.Fatalf("resolution: %v", err)
	}
	dir.ForgetTeamChannel("red")
	if len(dir.TeamChannels()) != 0 {
		t.Error("entry survived a case-variant forget")
	}
}
