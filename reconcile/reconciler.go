package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/voicebridge/telemetry"
)

// Roster is the round's team-to-player assignment, supplied by the game.
type Roster map[string][]string

// kv keys for reconciliation heartbeats, surfaced by /status.
const (
	lastRoundStartKey = "last_round_start"
	lastRoundEndKey   = "last_round_end"
)

type jobKind int

const (
	jobEnsureLobby jobKind = iota
	jobRoundStart
	jobRoundEnd
)

func (k jobKind) String() string {
	switch k {
	case jobEnsureLobby:
		return "ensure_lobby"
	case jobRoundStart:
		return "round_start"
	case jobRoundEnd:
		return "round_end"
	default:
		return "unknown"
	}
}

type job struct {
	id     string
	kind   jobKind
	roster Roster
}

// Options configure a Reconciler.
type Options struct {
	GuildID      string
	LobbyName    string
	TeamTemplate string
	QueueSize    int
	Presence     PresenceSource // optional; REST voice-state lookup is the fallback
}

// Reconciler computes and applies the remote operations needed to make the
// guild's voice channels match the round's roster. Entry points are
// fire-and-forget: they enqueue jobs onto a bounded queue drained by a single
// worker goroutine, so overlapping round transitions serialize in submission
// order instead of racing.
type Reconciler struct {
	platform Platform
	exec     *Executor
	dir      *Directory
	links    *Linkage
	store    SnapshotStore
	opts     Options

	jobs chan job
	quit chan struct{}
	done chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds a Reconciler; call Start before submitting work.
func New(platform Platform, exec *Executor, dir *Directory, links *Linkage, store SnapshotStore, opts Options) *Reconciler {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	return &Reconciler{
		platform: platform,
		exec:     exec,
		dir:      dir,
		links:    links,
		store:    store,
		opts:     opts,
		jobs:     make(chan job, opts.QueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine. Idempotent.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	go r.run()
}

// Stop drains the in-flight job and stops the worker. Idempotent.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.quit)
	if started {
		<-r.done
	}
}

// EnsureLobby enqueues an idempotent lobby resolution. Safe to call on every
// round boundary and at startup.
func (r *Reconciler) EnsureLobby() bool {
	return r.enqueue(job{id: uuid.New().String(), kind: jobEnsureLobby})
}

// SyncRoundStart enqueues a round-start reconciliation for the given roster.
// Returns false when the queue is full or the reconciler is stopped; the
// request is dropped, never blocked on.
func (r *Reconciler) SyncRoundStart(roster Roster) bool {
	return r.enqueue(job{id: uuid.New().String(), kind: jobRoundStart, roster: roster})
}

// SyncRoundEnd enqueues a round-end reconciliation.
func (r *Reconciler) SyncRoundEnd() bool {
	return r.enqueue(job{id: uuid.New().String(), kind: jobRoundEnd})
}

// QueueDepth returns the number of queued jobs.
func (r *Reconciler) QueueDepth() int {
	return len(r.jobs)
}

func (r *Reconciler) enqueue(j job) bool {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		slog.Debug("reconciler stopped, dropping job", slog.String("kind", j.kind.String()))
		return false
	}
	select {
	case r.jobs <- j:
		if telemetry.SyncsEnqueued != nil {
			telemetry.SyncsEnqueued.Inc()
		}
		telemetry.SetSyncQueueDepth(len(r.jobs))
		return true
	default:
		if telemetry.SyncsDropped != nil {
			telemetry.SyncsDropped.Inc()
		}
		slog.Warn("sync queue full, dropping job", slog.String("kind", j.kind.String()), slog.String("job_id", j.id))
		return false
	}
}

func (r *Reconciler) run() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			return
		case j := <-r.jobs:
			telemetry.SetSyncQueueDepth(len(r.jobs))
			r.process(j)
		}
	}
}

func (r *Reconciler) process(j job) {
	ctx := telemetry.WithCorrelation(context.Background(), j.id)
	ctx, span := telemetry.StartSpan(ctx, "reconciler", j.kind.String())
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("job", j.kind.String()))

	start := time.Now()
	switch j.kind {
	case jobEnsureLobby:
		if _, err := r.ensureLobby(ctx, log); err != nil {
			telemetry.RecordError(span, err)
		}
	case jobRoundStart:
		r.syncRoundStart(ctx, log, j.roster)
	case jobRoundEnd:
		r.syncRoundEnd(ctx, log)
	}
	elapsed := time.Since(start)
	if telemetry.SyncDuration != nil {
		telemetry.SyncDuration.Observe(elapsed.Seconds())
	}
	if telemetry.SyncsCompleted != nil {
		telemetry.SyncsCompleted.Inc()
	}
	log.Debug("reconciliation job finished", slog.Duration("elapsed", elapsed))
}

// ensureLobby resolves the guild and then the lobby channel. When prerequisites
// are absent (no guild configured, platform unset) it is a logged no-op.
func (r *Reconciler) ensureLobby(ctx context.Context, log *slog.Logger) (string, error) {
	if r.platform == nil || r.opts.GuildID == "" {
		log.Debug("reconciliation prerequisites absent, skipping")
		return "", nil
	}
	if _, err := Execute(ctx, r.exec, "resolve_guild", func(callCtx context.Context) (struct{}, error) {
		_, err := r.platform.ResolveGuild(callCtx, r.opts.GuildID)
		return struct{}{}, err
	}); err != nil {
		log.Warn("guild resolution failed", slog.Any("err", err))
		return "", err
	}
	lobbyID, err := r.dir.GetOrCreateLobby(ctx, r.opts.GuildID, r.opts.LobbyName)
	if err != nil {
		log.Warn("lobby resolution failed", slog.Any("err", err))
		return "", err
	}
	return lobbyID, nil
}

func (r *Reconciler) syncRoundStart(ctx context.Context, log *slog.Logger, roster Roster) {
	if r.platform == nil || r.opts.GuildID == "" {
		log.Debug("reconciliation prerequisites absent, skipping")
		return
	}
	if len(roster) == 0 {
		log.Warn("round start with empty roster, nothing to sync")
		return
	}

	if _, err := r.ensureLobby(ctx, log); err != nil {
		// Lobby trouble doesn't block team channels; individual moves fail on
		// their own if the guild is truly unreachable.
		log.Warn("continuing round start without lobby", slog.Any("err", err))
	}

	for team, members := range roster {
		teamName := strings.TrimSpace(team)
		if teamName == "" {
			log.Debug("skipping unnamed team")
			continue
		}
		if len(members) == 0 {
			log.Debug("skipping empty team", slog.String("team", teamName))
			continue
		}
		channelID, err := r.dir.GetOrCreateTeamChannel(ctx, r.opts.GuildID, teamName, r.opts.TeamTemplate)
		if err != nil {
			log.Warn("team channel resolution failed, skipping team", slog.String("team", teamName), slog.Any("err", err))
			continue
		}
		for _, player := range members {
			r.movePlayer(ctx, log, player, channelID)
		}
	}

	if err := r.dir.Persist(ctx); err != nil {
		log.Warn("persist directory after round start", slog.Any("err", err))
	}
	r.heartbeat(ctx, lastRoundStartKey)
	log.Info("round start sync complete", slog.Int("teams", len(roster)))
}

func (r *Reconciler) syncRoundEnd(ctx context.Context, log *slog.Logger) {
	if r.platform == nil || r.opts.GuildID == "" {
		log.Debug("reconciliation prerequisites absent, skipping")
		return
	}

	lobbyID, err := r.ensureLobby(ctx, log)
	if err == nil && lobbyID != "" {
		for _, discordID := range r.links.All() {
			r.moveAccount(ctx, log, discordID, lobbyID)
		}
	} else {
		log.Warn("lobby unavailable, skipping member sweep", slog.Any("err", err))
	}

	for team, channelID := range r.dir.TeamChannels() {
		delErr := r.exec.Do(ctx, "delete_channel", func(callCtx context.Context) error {
			return r.platform.DeleteChannel(callCtx, channelID)
		})
		if delErr != nil {
			log.Warn("team channel deletion failed", slog.String("team", team), slog.String("channel_id", channelID), slog.Any("err", delErr))
		} else if telemetry.ChannelsDeleted != nil {
			telemetry.ChannelsDeleted.Inc()
		}
		// The entry is cleared either way; the remote platform stays authoritative
		// and a leaked channel gets rediscovered by name next round.
		r.dir.ForgetTeamChannel(team)
	}

	if err := r.dir.Persist(ctx); err != nil {
		log.Warn("persist directory after round end", slog.Any("err", err))
	}
	r.heartbeat(ctx, lastRoundEndKey)
	log.Info("round end sync complete")
}

// movePlayer resolves the player's link and moves them if voice-connected and
// not already in place. Unlinked, disconnected, and already-in-place members are
// expected steady states, not failures.
func (r *Reconciler) movePlayer(ctx context.Context, log *slog.Logger, player, targetChannel string) {
	discordID, ok := r.links.Resolve(player)
	if !ok {
		log.Debug("player not linked, skipping", slog.String("player", player))
		return
	}
	r.moveAccount(ctx, log, discordID, targetChannel)
}

func (r *Reconciler) moveAccount(ctx context.Context, log *slog.Logger, discordID, targetChannel string) {
	current, connected := r.presenceOf(ctx, log, discordID)
	if !connected {
		log.Debug("member not voice-connected, skipping", slog.String("discord_id", discordID))
		return
	}
	if current == targetChannel {
		log.Debug("member already in target channel, skipping", slog.String("discord_id", discordID))
		return
	}
	err := r.exec.Do(ctx, "move_member", func(callCtx context.Context) error {
		return r.platform.MoveMember(callCtx, r.opts.GuildID, discordID, targetChannel)
	})
	if err != nil {
		log.Warn("member move failed", slog.String("discord_id", discordID), slog.String("target", targetChannel), slog.Any("err", err))
		return
	}
	if telemetry.MembersMoved != nil {
		telemetry.MembersMoved.Inc()
	}
}

// presenceOf answers which channel the account occupies: the gateway cache when
// the socket is up, the REST voice-state endpoint otherwise.
func (r *Reconciler) presenceOf(ctx context.Context, log *slog.Logger, discordID string) (string, bool) {
	if r.opts.Presence != nil && r.opts.Presence.Connected() {
		return r.opts.Presence.VoiceChannelOf(discordID)
	}
	channelID, err := Execute(ctx, r.exec, "get_voice_state", func(callCtx context.Context) (string, error) {
		return r.platform.GetVoiceState(callCtx, r.opts.GuildID, discordID)
	})
	if err != nil {
		log.Warn("voice state lookup failed", slog.String("discord_id", discordID), slog.Any("err", err))
		return "", false
	}
	return channelID, channelID != ""
}

func (r *Reconciler) heartbeat(ctx context.Context, key string) {
	if r.store == nil {
		return
	}
	if err := r.store.Put(ctx, key, time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Debug("heartbeat write failed", slog.String("key", key), slog.Any("err", err))
	}
}
