package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/onnwee/voicebridge/discordapi"
)

// linkageKey is the kv key holding the persisted link snapshot.
const linkageKey = "member_links"

// Linkage maps player identities to Discord account ids. One account per player,
// last write wins; links never expire and are removed only by an explicit Unlink.
type Linkage struct {
	store SnapshotStore

	mu    sync.RWMutex
	links map[string]string
}

// NewLinkage builds an empty linkage; call Load to restore a snapshot.
func NewLinkage(store SnapshotStore) *Linkage {
	return &Linkage{store: store, links: make(map[string]string)}
}

// Load restores links from the snapshot store; missing or corrupt records leave
// the linkage empty with a logged warning.
func (l *Linkage) Load(ctx context.Context) {
	raw, ok, err := l.store.Get(ctx, linkageKey)
	if err != nil {
		slog.Warn("member links load failed, starting empty", slog.Any("err", err), slog.String("component", "linkage"))
		return
	}
	if !ok {
		return
	}
	var links map[string]string
	if err := json.Unmarshal([]byte(raw), &links); err != nil {
		slog.Warn("member links snapshot corrupt, starting empty", slog.Any("err", err), slog.String("component", "linkage"))
		return
	}
	// Rebuild rather than adopt: a JSON null unmarshals to a nil map.
	l.mu.Lock()
	l.links = make(map[string]string, len(links))
	for player, id := range links {
		l.links[player] = id
	}
	l.mu.Unlock()
	slog.Info("member links loaded", slog.Int("count", len(links)), slog.String("component", "linkage"))
}

// Persist writes the full link snapshot.
func (l *Linkage) Persist(ctx context.Context) error {
	l.mu.RLock()
	links := make(map[string]string, len(l.links))
	for player, id := range l.links {
		links[player] = id
	}
	l.mu.RUnlock()

	buf, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("encode link snapshot: %w", err)
	}
	return l.store.Put(ctx, linkageKey, string(buf))
}

// Link validates discordID against snowflake syntax and stores the mapping.
// A malformed id is rejected with no mutation; any prior link stays intact.
func (l *Linkage) Link(ctx context.Context, player, discordID string) bool {
	if player == "" || !discordapi.ValidSnowflake(discordID) {
		slog.Debug("link rejected", slog.String("player", player), slog.String("discord_id", discordID), slog.String("component", "linkage"))
		return false
	}
	l.mu.Lock()
	l.links[player] = discordID
	l.mu.Unlock()
	if err := l.Persist(ctx); err != nil {
		slog.Warn("persist member links", slog.Any("err", err), slog.String("component", "linkage"))
	}
	slog.Info("player linked", slog.String("player", player), slog.String("discord_id", discordID), slog.String("component", "linkage"))
	return true
}

// Unlink removes a player's link, reporting whether one existed.
func (l *Linkage) Unlink(ctx context.Context, player string) bool {
	l.mu.Lock()
	_, existed := l.links[player]
	delete(l.links, player)
	l.mu.Unlock()
	if !existed {
		return false
	}
	if err := l.Persist(ctx); err != nil {
		slog.Warn("persist member links", slog.Any("err", err), slog.String("component", "linkage"))
	}
	slog.Info("player unlinked", slog.String("player", player), slog.String("component", "linkage"))
	return true
}

// Resolve returns the Discord id linked to player, if any. Pure lookup.
func (l *Linkage) Resolve(player string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.links[player]
	return id, ok
}

// All returns a copy of every link, used for the round-end lobby sweep.
func (l *Linkage) All() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]string, len(l.links))
	for player, id := range l.links {
		out[player] = id
	}
	return out
}

// Count returns the number of linked players.
func (l *Linkage) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.links)
}
