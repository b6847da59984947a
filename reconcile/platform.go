// Package reconcile contains the voice-channel reconciliation engine: the remote
// call executor, the channel directory, member linkage, the reconciler worker, and
// the lifecycle controller that owns them.
package reconcile

import (
	"context"

	"github.com/onnwee/voicebridge/discordapi"
)

// Platform is the remote surface the engine reconciles against. The direct
// Discord REST client implements it; a sidecar-proxied transport can implement
// the same interface without touching the reconciler.
type Platform interface {
	ResolveGuild(ctx context.Context, guildID string) (discordapi.Guild, error)
	ListChannels(ctx context.Context, guildID string) ([]discordapi.Channel, error)
	CreateVoiceChannel(ctx context.Context, guildID, name string) (discordapi.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	GetVoiceState(ctx context.Context, guildID, userID string) (string, error)
	MoveMember(ctx context.Context, guildID, userID, channelID string) error
}

// SnapshotStore persists full-record state snapshots. Each Put replaces the whole
// value for a key atomically; readers never see a partial write.
type SnapshotStore interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
}

// PresenceSource answers which voice channel a user currently occupies, typically
// backed by the gateway's voice-state cache.
type PresenceSource interface {
	VoiceChannelOf(userID string) (string, bool)
	Connected() bool
}
