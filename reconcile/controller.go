package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/voicebridge/config"
	"github.com/onnwee/voicebridge/discordapi"
	"github.com/onnwee/voicebridge/gateway"
)

// connectAttempts bounds gateway bring-up; connecting is a one-time higher-latency
// operation with its own policy, distinct from the executor's per-call retries.
const connectAttempts = 3

// Controller owns the engine's lifecycle: it wires the REST client, executor,
// directory, linkage, gateway session, and reconciler together, brings the remote
// connection up on Start, and tears everything down on Stop. The surrounding
// application talks only to the controller.
type Controller struct {
	cfg   *config.Config
	store SnapshotStore

	exec  *Executor
	dir   *Directory
	links *Linkage
	gw    *gateway.Session
	rec   *Reconciler

	mu      sync.Mutex
	started bool
}

// NewController builds the full engine from configuration and a snapshot store.
func NewController(cfg *config.Config, store SnapshotStore) *Controller {
	client := discordapi.NewClient(cfg.DiscordAPIURL, cfg.DiscordToken)
	exec := &Executor{Policy: RetryPolicy{
		MaxAttempts: cfg.RemoteMaxAttempts,
		BaseDelay:   cfg.RemoteBackoffBase,
		CallTimeout: cfg.RemoteCallTimeout,
	}}
	dir := NewDirectory(client, exec, store)
	links := NewLinkage(store)
	gw := gateway.NewSession(cfg.DiscordGatewayURL, cfg.DiscordToken, cfg.DiscordGuildID)
	rec := New(client, exec, dir, links, store, Options{
		GuildID:      cfg.DiscordGuildID,
		LobbyName:    cfg.LobbyChannelName,
		TeamTemplate: cfg.TeamChannelTemplate,
		QueueSize:    cfg.SyncQueueSize,
		Presence:     gw,
	})
	return &Controller{cfg: cfg, store: store, exec: exec, dir: dir, links: links, gw: gw, rec: rec}
}

// Start loads persisted state, connects the gateway with a small bounded retry,
// starts the reconciliation worker, resolves the lobby, and sweeps leftover
// members back to it when no team channels survive from a previous session.
// A missing Discord configuration degrades to link-only mode instead of failing.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.dir.Load(ctx)
	c.links.Load(ctx)

	if err := c.cfg.ValidateSyncReady(); err != nil {
		slog.Warn("discord not configured, reconciliation disabled", slog.Any("err", err), slog.String("component", "controller"))
		c.rec.Start()
		return nil
	}

	c.connectGateway(ctx)
	c.rec.Start()

	c.rec.EnsureLobby()
	if len(c.dir.TeamChannels()) == 0 {
		// Fresh session with no round in flight: herd anyone left in stale team
		// channels from a previous run back into the lobby.
		c.rec.SyncRoundEnd()
	}
	return nil
}

func (c *Controller) connectGateway(ctx context.Context) {
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		connectCtx, cancel := context.WithTimeout(ctx, c.cfg.GatewayConnectTimeout)
		err := c.gw.Connect(connectCtx)
		cancel()
		if err == nil {
			return
		}
		slog.Warn("gateway connect failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", connectAttempts),
			slog.Any("err", err),
			slog.String("component", "controller"))
		if attempt < connectAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second * time.Duration(attempt)):
			}
		}
	}
	slog.Warn("gateway unavailable, falling back to REST voice-state lookups", slog.String("component", "controller"))
}

// Stop drains the worker, closes the gateway, and persists directory and linkage
// one final time. Errors are logged, never returned to the caller.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	c.rec.Stop()
	if err := c.gw.Close(); err != nil {
		slog.Warn("gateway close", slog.Any("err", err), slog.String("component", "controller"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.dir.Persist(ctx); err != nil {
		slog.Warn("final directory persist", slog.Any("err", err), slog.String("component", "controller"))
	}
	if err := c.links.Persist(ctx); err != nil {
		slog.Warn("final linkage persist", slog.Any("err", err), slog.String("component", "controller"))
	}
	slog.Info("reconciliation engine stopped", slog.String("component", "controller"))
}

// OnRoundStart is the fire-and-forget round-start trigger.
func (c *Controller) OnRoundStart(roster Roster) bool {
	return c.rec.SyncRoundStart(roster)
}

// OnRoundEnd is the fire-and-forget round-end trigger.
func (c *Controller) OnRoundEnd() bool {
	return c.rec.SyncRoundEnd()
}

// LinkPlayer validates and stores a player -> Discord account link.
func (c *Controller) LinkPlayer(ctx context.Context, player, discordID string) bool {
	return c.links.Link(ctx, player, discordID)
}

// UnlinkPlayer removes a player's link, reporting whether one existed.
func (c *Controller) UnlinkPlayer(ctx context.Context, player string) bool {
	return c.links.Unlink(ctx, player)
}

// ResolveLink returns the Discord id linked to a player, if any.
func (c *Controller) ResolveLink(player string) (string, bool) {
	return c.links.Resolve(player)
}

// Status summarizes engine state for the /status endpoint.
type Status struct {
	GatewayConnected bool              `json:"gateway_connected"`
	QueueDepth       int               `json:"queue_depth"`
	LobbyChannelID   string            `json:"lobby_channel_id,omitempty"`
	TeamChannels     map[string]string `json:"team_channels"`
	LinkedPlayers    int               `json:"linked_players"`
}

// Status reports the current engine state.
func (c *Controller) Status() Status {
	return Status{
		GatewayConnected: c.gw.Connected(),
		QueueDepth:       c.rec.QueueDepth(),
		LobbyChannelID:   c.dir.Lobby(),
		TeamChannels:     c.dir.TeamChannels(),
		LinkedPlayers:    c.links.Count(),
	}
}
