// Package gateway maintains the long-lived Discord gateway socket. It identifies
// with the voice-state intent, heartbeats at the advertised interval, and keeps an
// in-memory cache of which voice channel each guild member currently occupies.
// The reconciler reads that cache and falls back to the REST voice-state endpoint
// while the socket is down.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/onnwee/voicebridge/telemetry"
)

// Gateway opcodes (subset).
const (
	opDispatch     = 0
	opHeartbeat    = 1
	opIdentify     = 2
	opHello        = 10
	opHeartbeatACK = 11
)

// Identify intents: GUILDS | GUILD_VOICE_STATES.
const identifyIntents = (1 << 0) | (1 << 7)

type payload struct {
	Op int             `json:"op"`
	T  string          `json:"t,omitempty"`
	S  *int64          `json:"s,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

type voiceState struct {
	UserID    string  `json:"user_id"`
	ChannelID *string `json:"channel_id"`
}

// Session is a single-guild gateway connection with automatic reconnect.
type Session struct {
	URL     string
	Token   string
	GuildID string

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	voice     map[string]string // userID -> channelID
	connected bool
	closed    bool
	lastSeq   *int64
	cancel    context.CancelFunc

	// intervals carries the heartbeat interval advertised by each fresh hello
	// so the heartbeat loop can re-pace after a reconnect.
	intervals chan time.Duration
}

// NewSession builds a session; Connect must be called before use.
func NewSession(url, token, guildID string) *Session {
	return &Session{
		URL:       url,
		Token:     token,
		GuildID:   guildID,
		voice:     make(map[string]string),
		intervals: make(chan time.Duration, 1),
	}
}

// Connect dials the gateway, completes the hello/identify handshake, and starts
// the read, heartbeat, and reconnect loops. The supplied context bounds only the
// initial handshake; the session then lives until Close.
func (s *Session) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrClosed
	}
	s.cancel = cancel
	s.mu.Unlock()

	interval, err := s.dial(ctx)
	if err != nil {
		cancel()
		return err
	}

	go s.heartbeatLoop(runCtx, interval)
	go s.readLoop(runCtx)
	return nil
}

// dial establishes one connection and performs hello + identify. It returns the
// heartbeat interval advertised by the gateway.
func (s *Session) dial(ctx context.Context) (time.Duration, error) {
	conn, _, err := websocket.Dial(ctx, s.URL, nil)
	if err != nil {
		return 0, err
	}

	var hello payload
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "no hello")
		return 0, err
	}
	var helloData struct {
		HeartbeatInterval int64 `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &helloData); err != nil || helloData.HeartbeatInterval <= 0 {
		_ = conn.Close(websocket.StatusProtocolError, "bad hello")
		return 0, ErrHandshake
	}

	identify := map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token":   s.Token,
			"intents": identifyIntents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "voicebridge",
				"device":  "voicebridge",
			},
		},
	}
	if err := wsjson.Write(ctx, conn, identify); err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "identify failed")
		return 0, err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	telemetry.SetGatewayConnected(true)
	slog.Info("gateway connected", slog.String("guild_id", s.GuildID), slog.String("component", "gateway"))

	return time.Duration(helloData.HeartbeatInterval) * time.Millisecond, nil
}

// readLoop consumes dispatch events until the connection drops, then reconnects
// with capped backoff until Close is called.
func (s *Session) readLoop(ctx context.Context) {
	backoff := time.Second
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		err := s.consume(ctx, conn)
		telemetry.SetGatewayConnected(false)
		s.mu.Lock()
		s.connected = false
		closed := s.closed
		s.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}
		slog.Warn("gateway read loop ended, reconnecting", slog.Any("err", err), slog.Duration("backoff", backoff), slog.String("component", "gateway"))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 60*time.Second {
			backoff *= 2
		}

		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		interval, err := s.dial(dialCtx)
		cancel()
		if err != nil {
			continue
		}
		// The fresh hello may advertise a different cadence.
		select {
		case s.intervals <- interval:
		default:
		}
		backoff = time.Second
	}
}

// consume reads payloads from one connection until it fails.
func (s *Session) consume(ctx context.Context, conn *websocket.Conn) error {
	for {
		var p payload
		if err := wsjson.Read(ctx, conn, &p); err != nil {
			return err
		}
		if p.S != nil {
			s.mu.Lock()
			s.lastSeq = p.S
			s.mu.Unlock()
		}
		switch p.Op {
		case opDispatch:
			s.handleDispatch(p.T, p.D)
		case opHeartbeat:
			// Gateway requested an immediate heartbeat.
			s.sendHeartbeat(ctx)
		case opHeartbeatACK:
			// Nothing to track; zombie detection happens via read errors.
		}
	}
}

func (s *Session) handleDispatch(event string, data json.RawMessage) {
	switch event {
	case "GUILD_CREATE":
		var d struct {
			ID          string       `json:"id"`
			VoiceStates []voiceState `json:"voice_states"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			slog.Warn("gateway guild_create decode failed", slog.Any("err", err), slog.String("component", "gateway"))
			return
		}
		if s.GuildID != "" && d.ID != s.GuildID {
			return
		}
		s.mu.Lock()
		s.voice = make(map[string]string, len(d.VoiceStates))
		for _, vs := range d.VoiceStates {
			if vs.ChannelID != nil {
				s.voice[vs.UserID] = *vs.ChannelID
			}
		}
		s.mu.Unlock()
	case "VOICE_STATE_UPDATE":
		var d struct {
			GuildID string `json:"guild_id"`
			voiceState
		}
		if err := json.Unmarshal(data, &d); err != nil {
			slog.Warn("gateway voice_state decode failed", slog.Any("err", err), slog.String("component", "gateway"))
			return
		}
		if s.GuildID != "" && d.GuildID != "" && d.GuildID != s.GuildID {
			return
		}
		s.mu.Lock()
		if d.ChannelID == nil {
			delete(s.voice, d.UserID)
		} else {
			s.voice[d.UserID] = *d.ChannelID
		}
		s.mu.Unlock()
	}
}

func (s *Session) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case next := <-s.intervals:
			ticker.Reset(next)
		case <-ticker.C:
			s.sendHeartbeat(ctx)
		}
	}
}

func (s *Session) sendHeartbeat(ctx context.Context) {
	s.mu.Lock()
	conn := s.conn
	seq := s.lastSeq
	connected := s.connected
	s.mu.Unlock()
	if !connected || conn == nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(wctx, conn, payload{Op: opHeartbeat, S: seq}); err != nil {
		slog.Debug("gateway heartbeat write failed", slog.Any("err", err), slog.String("component", "gateway"))
	}
}

// VoiceChannelOf returns the voice channel the user occupies, if known.
func (s *Session) VoiceChannelOf(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.voice[userID]
	return ch, ok
}

// Connected reports whether the socket is currently up.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	conn := s.conn
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	telemetry.SetGatewayConnected(false)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	return nil
}
