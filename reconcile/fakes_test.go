package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onnwee/voicebridge/discordapi"
)

// memStore is an in-memory SnapshotStore.
type memStore struct {
	mu      sync.Mutex
	data    map[string]string
	failPut error
	failGet error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (m *memStore) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	m.data[key] = value
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return "", false, m.failGet
	}
	v, ok := m.data[key]
	return v, ok, nil
}

type moveRecord struct {
	UserID    string
	ChannelID string
}

// fakePlatform is an in-memory Platform with per-operation error injection and
// call counting.
type fakePlatform struct {
	mu       sync.Mutex
	guild    discordapi.Guild
	channels []discordapi.Channel
	voice    map[string]string // userID -> channelID
	nextID   int

	errOn map[string]error // operation -> injected error

	listCalls   int
	createCalls int
	moveCalls   int
	deleteCalls int
	moves       []moveRecord
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		guild: discordapi.Guild{ID: "123456789012345678", Name: "Test Guild"},
		voice: make(map[string]string),
		errOn: make(map[string]error),
	}
}

func (f *fakePlatform) addVoiceChannel(name string) discordapi.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addVoiceChannelLocked(name)
}

func (f *fakePlatform) addVoiceChannelLocked(name string) discordapi.Channel {
	f.nextID++
	ch := discordapi.Channel{
		ID:   fmt.Sprintf("90000000000000%04d", f.nextID),
		Name: name,
		Type: discordapi.ChannelTypeGuildVoice,
	}
	f.channels = append(f.channels, ch)
	return ch
}

func (f *fakePlatform) removeChannel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.channels[:0]
	for _, ch := range f.channels {
		if ch.ID != id {
			out = append(out, ch)
		}
	}
	f.channels = out
}

func (f *fakePlatform) renameChannel(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.channels {
		if f.channels[i].ID == id {
			f.channels[i].Name = name
		}
	}
}

func (f *fakePlatform) voiceOf(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voice[userID]
}

func (f *fakePlatform) connect(userID, channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voice[userID] = channelID
}

func (f *fakePlatform) inject(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errOn, op)
	} else {
		f.errOn[op] = err
	}
}

func (f *fakePlatform) ResolveGuild(_ context.Context, guildID string) (discordapi.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errOn["resolve_guild"]; err != nil {
		return discordapi.Guild{}, err
	}
	if guildID != f.guild.ID {
		return discordapi.Guild{}, &discordapi.APIError{Status: 404, Code: 10004, Message: "Unknown Guild"}
	}
	return f.guild, nil
}

func (f *fakePlatform) ListChannels(_ context.Context, guildID string) ([]discordapi.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if err := f.errOn["list_channels"]; err != nil {
		return nil, err
	}
	out := make([]discordapi.Channel, len(f.channels))
	copy(out, f.channels)
	return out, nil
}

func (f *fakePlatform) CreateVoiceChannel(_ context.Context, guildID, name string) (discordapi.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if err := f.errOn["create_channel"]; err != nil {
		return discordapi.Channel{}, err
	}
	return f.addVoiceChannelLocked(name), nil
}

func (f *fakePlatform) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	f.deleteCalls++
	if err := f.errOn["delete_channel"]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	f.removeChannel(channelID)
	return nil
}

func (f *fakePlatform) GetVoiceState(_ context.Context, guildID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errOn["get_voice_state"]; err != nil {
		return "", err
	}
	return f.voice[userID], nil
}

func (f *fakePlatform) MoveMember(_ context.Context, guildID, userID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moveCalls++
	if err := f.errOn["move_member"]; err != nil {
		return err
	}
	f.voice[userID] = channelID
	f.moves = append(f.moves, moveRecord{UserID: userID, ChannelID: channelID})
	return nil
}

// fastExecutor keeps test retries quick.
func fastExecutor() *Executor {
	return &Executor{Policy: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, CallTimeout: time.Second}}
}
