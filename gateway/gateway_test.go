package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// fakeGateway accepts one connection, performs the hello/identify handshake, and
// then plays back the given dispatch events.
func fakeGateway(t *testing.T, events []payload) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		ctx := r.Context()

		hello := map[string]any{"op": opHello, "d": map[string]any{"heartbeat_interval": 45000}}
		if err := wsjson.Write(ctx, conn, hello); err != nil {
			t.Errorf("write hello: %v", err)
			return
		}

		var identify struct {
			Op int `json:"op"`
			D  struct {
				Token   string `json:"token"`
				Intents int    `json:"intents"`
			} `json:"d"`
		}
		if err := wsjson.Read(ctx, conn, &identify); err != nil {
			t.Errorf("read identify: %v", err)
			return
		}
		if identify.Op != opIdentify {
			t.Errorf("first client payload op = %d, want identify", identify.Op)
		}
		if identify.D.Token != "test-token" {
			t.Errorf("identify token = %q", identify.D.Token)
		}
		if identify.D.Intents&(1<<7) == 0 {
			t.Errorf("identify intents %d missing voice states bit", identify.D.Intents)
		}

		for _, ev := range events {
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}

		// Hold the connection open; drain heartbeats until the client leaves.
		for {
			var p payload
			if err := wsjson.Read(ctx, conn, &p); err != nil {
				return
			}
		}
	}))
}

func dispatch(t *testing.T, event string, seq int64, d any) payload {
	t.Helper()
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal dispatch: %v", err)
	}
	return payload{Op: opDispatch, T: event, S: &seq, D: raw}
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSessionVoiceStateTracking(t *testing.T) {
	guild := "123456789012345678"
	events := []payload{
		dispatch(t, "GUILD_CREATE", 1, map[string]any{
			"id": guild,
			"voice_states": []map[string]any{
				{"user_id": "400000000000000001", "channel_id": "300000000000000001"},
				{"user_id": "400000000000000002", "channel_id": "300000000000000001"},
			},
		}),
		dispatch(t, "VOICE_STATE_UPDATE", 2, map[string]any{
			"guild_id":   guild,
			"user_id":    "400000000000000002",
			"channel_id": "300000000000000002",
		}),
		dispatch(t, "VOICE_STATE_UPDATE", 3, map[string]any{
			"guild_id":   guild,
			"user_id":    "400000000000000001",
			"channel_id": nil,
		}),
	}
	server := fakeGateway(t, events)
	defer server.Close()

	s := NewSession(wsURL(server), "test-token", guild)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()

	if !s.Connected() {
		t.Fatal("Connected() = false after Connect")
	}

	// p2 ends up moved, p1 disconnected.
	waitFor(t, 3*time.Second, func() bool {
		ch, ok := s.VoiceChannelOf("400000000000000002")
		if !ok || ch != "300000000000000002" {
			return false
		}
		_, p1 := s.VoiceChannelOf("400000000000000001")
		return !p1
	})
}

func TestSessionIgnoresOtherGuilds(t *testing.T) {
	events := []payload{
		dispatch(t, "GUILD_CREATE", 1, map[string]any{
			"id": "999999999999999999",
			"voice_states": []map[string]any{
				{"user_id": "400000000000000009", "channel_id": "300000000000000009"},
			},
		}),
		dispatch(t, "GUILD_CREATE", 2, map[string]any{
			"id": "123456789012345678",
			"voice_states": []map[string]any{
				{"user_id": "400000000000000001", "channel_id": "300000000000000001"},
			},
		}),
	}
	server := fakeGateway(t, events)
	defer server.Close()

	s := NewSession(wsURL(server), "test-token", "123456789012345678")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()

	waitFor(t, 3*time.Second, func() bool {
		_, ok := s.VoiceChannelOf("400000000000000001")
		return ok
	})
	if _, ok := s.VoiceChannelOf("400000000000000009"); ok {
		t.Error("voice state from foreign guild was tracked")
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	server := fakeGateway(t, nil)
	defer server.Close()

	s := NewSession(wsURL(server), "test-token", "123456789012345678")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if s.Connected() {
		t.Error("Connected() = true after Close")
	}
	if err := s.Connect(ctx); err != ErrClosed {
		t.Errorf("Connect() after Close = %v, want ErrClosed", err)
	}
}

func TestSessionReconnectAdoptsNewHeartbeatInterval(t *testing.T) {
	heartbeats := make(chan struct{}, 16)
	var connCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()

		// First connection advertises an hour-long cadence, then drops right
		// after the handshake. The reconnected hello advertises 50ms; observing
		// heartbeats at all proves the new interval took effect.
		n := atomic.AddInt32(&connCount, 1)
		interval := 3600000
		if n > 1 {
			interval = 50
		}
		hello := map[string]any{"op": opHello, "d": map[string]any{"heartbeat_interval": interval}}
		if err := wsjson.Write(ctx, conn, hello); err != nil {
			return
		}
		var identify payload
		if err := wsjson.Read(ctx, conn, &identify); err != nil {
			return
		}
		if n == 1 {
			_ = conn.Close(websocket.StatusNormalClosure, "try again")
			return
		}
		for {
			var p payload
			if err := wsjson.Read(ctx, conn, &p); err != nil {
				return
			}
			if p.Op == opHeartbeat {
				select {
				case heartbeats <- struct{}{}:
				default:
				}
			}
		}
	}))
	defer server.Close()

	s := NewSession(wsURL(server), "test-token", "123456789012345678")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()

	// Reconnect backoff is one second; two heartbeats at the renegotiated
	// cadence should land well inside the deadline.
	for i := 0; i < 2; i++ {
		select {
		case <-heartbeats:
		case <-time.After(8 * time.Second):
			t.Fatal("heartbeat at renegotiated interval not observed")
		}
	}
}

func TestSessionConnectFailsFast(t *testing.T) {
	s := NewSession("ws://127.0.0.1:1/", "test-token", "123456789012345678")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err == nil {
		t.Fatal("Connect() to dead endpoint succeeded")
	}
	if s.Connected() {
		t.Error("Connected() = true after failed connect")
	}
}
