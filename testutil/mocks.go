package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockDiscordServer creates a test server that mocks Discord REST API responses
type MockDiscordServer struct {
	*httptest.Server
	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
}

// NewMockDiscordServer creates a new mock Discord API server. Handlers are
// keyed by "METHOD /path"; unmatched requests get a 404 with Discord's error
// body shape.
func NewMockDiscordServer(t *testing.T) *MockDiscordServer {
	t.Helper()
	m := &MockDiscordServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		handler, ok := m.Handlers[r.Method+" "+r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "message": "404: Not Found"})
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for "METHOD /path".
func (m *MockDiscordServer) Handle(methodAndPath string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[methodAndPath] = h
}

// MockGuild adds a handler for GET /guilds/{id}
func (m *MockDiscordServer) MockGuild(guildID, name string) {
	m.Handle("GET /guilds/"+guildID, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": guildID, "name": name})
	})
}

// MockChannels adds a handler for GET /guilds/{id}/channels returning the given
// channel objects.
func (m *MockDiscordServer) MockChannels(guildID string, channels []map[string]any) {
	m.Handle("GET /guilds/"+guildID+"/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(channels)
	})
}

// MockVoiceState adds a handler for GET /guilds/{id}/voice-states/{user}. An
// empty channelID answers 404, Discord's shape for a member with no voice state.
func (m *MockDiscordServer) MockVoiceState(guildID, userID, channelID string) {
	m.Handle("GET /guilds/"+guildID+"/voice-states/"+userID, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if channelID == "" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 10065, "message": "Unknown Voice State"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"channel_id": channelID, "user_id": userID})
	})
}
