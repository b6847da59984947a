package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/onnwee/voicebridge/discordapi"
	"github.com/onnwee/voicebridge/telemetry"
)

// directoryKey is the kv key holding the persisted directory snapshot.
const directoryKey = "channel_directory"

// directorySnapshot is the persisted wire form of the directory.
type directorySnapshot struct {
	LobbyChannelID string            `json:"lobby_channel_id"`
	TeamChannels   map[string]string `json:"team_channels"`
}

// Directory is the channel cache: one lobby slot plus team name -> channel id.
// It is a cache, never the source of truth; the remote platform is authoritative,
// so every cached id is revalidated against the live channel list before reuse.
// Resolution order is always cache -> remote-name-search -> create, which makes
// manual admin renames and out-of-band deletions self-healing.
type Directory struct {
	platform Platform
	exec     *Executor
	store    SnapshotStore

	mu    sync.Mutex
	lobby string
	teams map[string]string // team name as given -> channel id
}

// NewDirectory builds an empty directory; call Load to restore a snapshot.
func NewDirectory(platform Platform, exec *Executor, store SnapshotStore) *Directory {
	return &Directory{
		platform: platform,
		exec:     exec,
		store:    store,
		teams:    make(map[string]string),
	}
}

// Load restores the directory from the snapshot store. A missing or corrupt
// record leaves the directory empty; it never fails the host process.
func (d *Directory) Load(ctx context.Context) {
	raw, ok, err := d.store.Get(ctx, directoryKey)
	if err != nil {
		slog.Warn("channel directory load failed, starting empty", slog.Any("err", err), slog.String("component", "directory"))
		return
	}
	if !ok {
		return
	}
	var snap directorySnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		slog.Warn("channel directory snapshot corrupt, starting empty", slog.Any("err", err), slog.String("component", "directory"))
		return
	}
	d.mu.Lock()
	d.lobby = snap.LobbyChannelID
	d.teams = make(map[string]string, len(snap.TeamChannels))
	for name, id := range snap.TeamChannels {
		d.teams[name] = id
	}
	d.mu.Unlock()
	slog.Info("channel directory loaded",
		slog.Int("team_channels", len(snap.TeamChannels)),
		slog.Bool("lobby_cached", snap.LobbyChannelID != ""),
		slog.String("component", "directory"))
}

// Persist writes the full directory snapshot. Errors are returned for the caller
// to log; in-memory state stays valid either way.
func (d *Directory) Persist(ctx context.Context) error {
	d.mu.Lock()
	snap := directorySnapshot{
		LobbyChannelID: d.lobby,
		TeamChannels:   make(map[string]string, len(d.teams)),
	}
	for name, id := range d.teams {
		snap.TeamChannels[name] = id
	}
	d.mu.Unlock()

	buf, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode directory snapshot: %w", err)
	}
	return d.store.Put(ctx, directoryKey, string(buf))
}

// GetOrCreateLobby resolves the lobby channel: cached id if the platform still
// reports it as a voice channel, else case-insensitive name search, else create.
// The winning id is cached and persisted before returning.
func (d *Directory) GetOrCreateLobby(ctx context.Context, guildID, desiredName string) (string, error) {
	d.mu.Lock()
	cached := d.lobby
	d.mu.Unlock()

	id, created, err := d.resolve(ctx, guildID, cached, desiredName)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	changed := d.lobby != id
	d.lobby = id
	d.mu.Unlock()
	if created && telemetry.ChannelsCreated != nil {
		telemetry.ChannelsCreated.Inc()
	}
	if changed || created {
		if err := d.Persist(ctx); err != nil {
			slog.Warn("persist directory after lobby resolution", slog.Any("err", err), slog.String("component", "directory"))
		}
	}
	return id, nil
}

// GetOrCreateTeamChannel resolves one team's channel with the same three-tier
// logic, deriving the display name from the template.
func (d *Directory) GetOrCreateTeamChannel(ctx context.Context, guildID, teamName, nameTemplate string) (string, error) {
	// Sprintf with a placeholder-less template would mangle the channel name.
	if !strings.Contains(nameTemplate, "%s") {
		nameTemplate = "Team %s"
	}
	displayName := fmt.Sprintf(nameTemplate, teamName)

	d.mu.Lock()
	cached := d.teamLocked(teamName)
	d.mu.Unlock()

	id, created, err := d.resolve(ctx, guildID, cached, displayName)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	prev := d.teamLocked(teamName)
	d.forgetTeamLocked(teamName)
	d.teams[teamName] = id
	d.mu.Unlock()
	if created && telemetry.ChannelsCreated != nil {
		telemetry.ChannelsCreated.Inc()
	}
	if created || prev != id {
		if err := d.Persist(ctx); err != nil {
			slog.Warn("persist directory after team resolution", slog.Any("err", err), slog.String("component", "directory"))
		}
	}
	return id, nil
}

// resolve implements cache -> name search -> create against one channel listing.
func (d *Directory) resolve(ctx context.Context, guildID, cachedID, name string) (id string, created bool, err error) {
	channels, err := Execute(ctx, d.exec, "list_channels", func(callCtx context.Context) ([]discordapi.Channel, error) {
		return d.platform.ListChannels(callCtx, guildID)
	})
	if err != nil {
		return "", false, err
	}

	for _, ch := range channels {
		if ch.Type != discordapi.ChannelTypeGuildVoice {
			continue
		}
		if cachedID != "" && ch.ID == cachedID {
			return cachedID, false, nil
		}
	}
	for _, ch := range channels {
		if ch.Type == discordapi.ChannelTypeGuildVoice && strings.EqualFold(ch.Name, name) {
			return ch.ID, false, nil
		}
	}

	ch, err := Execute(ctx, d.exec, "create_channel", func(callCtx context.Context) (discordapi.Channel, error) {
		return d.platform.CreateVoiceChannel(callCtx, guildID, name)
	})
	if err != nil {
		return "", false, err
	}
	slog.Info("voice channel created", slog.String("name", name), slog.String("channel_id", ch.ID), slog.String("component", "directory"))
	return ch.ID, true, nil
}

// ForgetTeamChannel drops a team's cache entry (case-insensitive). It does not
// delete the remote channel.
func (d *Directory) ForgetTeamChannel(teamName string) {
	d.mu.Lock()
	d.forgetTeamLocked(teamName)
	d.mu.Unlock()
}

// Lobby returns the cached lobby channel id, if any.
func (d *Directory) Lobby() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lobby
}

// TeamChannels returns a copy of the team -> channel map.
func (d *Directory) TeamChannels() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.teams))
	for name, id := range d.teams {
		out[name] = id
	}
	return out
}

// teamLocked looks up a team entry case-insensitively. Caller holds d.mu.
func (d *Directory) teamLocked(teamName string) string {
	for name, id := range d.teams {
		if strings.EqualFold(name, teamName) {
			return id
		}
	}
	return ""
}

// forgetTeamLocked removes a team entry case-insensitively. Caller holds d.mu.
func (d *Directory) forgetTeamLocked(teamName string) {
	for name := range d.teams {
		if strings.EqualFold(name, teamName) {
			delete(d.teams, name)
		}
	}
}
