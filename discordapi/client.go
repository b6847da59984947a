// Package discordapi contains a minimal client for the Discord REST API, covering
// only the guild, voice-channel, and member operations the reconciler needs.
package discordapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Client calls the Discord REST API with bot-token auth.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a client for baseURL authenticating with the given bot token.
func NewClient(baseURL, token string) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bot"})
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: oauth2.NewClient(context.Background(), ts),
	}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// do issues one request and decodes a JSON response into out (when non-nil).
// Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var detail struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&detail); err == nil {
			apiErr.Code = detail.Code
			apiErr.Message = detail.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ResolveGuild fetches a guild by id.
func (c *Client) ResolveGuild(ctx context.Context, guildID string) (Guild, error) {
	if guildID == "" {
		return Guild{}, fmt.Errorf("guildID empty")
	}
	var g Guild
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID, nil, &g); err != nil {
		return Guild{}, err
	}
	return g, nil
}

// ListChannels lists all channels of a guild.
func (c *Client) ListChannels(ctx context.Context, guildID string) ([]Channel, error) {
	if guildID == "" {
		return nil, fmt.Errorf("guildID empty")
	}
	var chans []Channel
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/channels", nil, &chans); err != nil {
		return nil, err
	}
	return chans, nil
}

// FindVoiceChannelByName returns the first voice channel whose name matches
// case-insensitively, if any.
func (c *Client) FindVoiceChannelByName(ctx context.Context, guildID, name string) (Channel, bool, error) {
	chans, err := c.ListChannels(ctx, guildID)
	if err != nil {
		return Channel{}, false, err
	}
	for _, ch := range chans {
		if ch.Type == ChannelTypeGuildVoice && strings.EqualFold(ch.Name, name) {
			return ch, true, nil
		}
	}
	return Channel{}, false, nil
}

// CreateVoiceChannel creates a new voice channel in the guild.
func (c *Client) CreateVoiceChannel(ctx context.Context, guildID, name string) (Channel, error) {
	if guildID == "" {
		return Channel{}, fmt.Errorf("guildID empty")
	}
	if name == "" {
		return Channel{}, fmt.Errorf("channel name empty")
	}
	body := map[string]any{"name": name, "type": ChannelTypeGuildVoice}
	var ch Channel
	if err := c.do(ctx, http.MethodPost, "/guilds/"+guildID+"/channels", body, &ch); err != nil {
		return Channel{}, err
	}
	return ch, nil
}

// DeleteChannel deletes a channel by id.
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	if channelID == "" {
		return fmt.Errorf("channelID empty")
	}
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID, nil, nil)
}

// GetVoiceState returns the id of the voice channel the user currently occupies,
// or empty string if the user is not voice-connected.
func (c *Client) GetVoiceState(ctx context.Context, guildID, userID string) (string, error) {
	if guildID == "" || userID == "" {
		return "", fmt.Errorf("guildID and userID required")
	}
	var vs struct {
		ChannelID *string `json:"channel_id"`
	}
	err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/voice-states/"+userID, nil, &vs)
	if err != nil {
		if IsNotFound(err) {
			// Not voice-connected; a steady state, not a failure.
			return "", nil
		}
		return "", err
	}
	if vs.ChannelID == nil {
		return "", nil
	}
	return *vs.ChannelID, nil
}

// MoveMember moves a voice-connected member into the target channel.
func (c *Client) MoveMember(ctx context.Context, guildID, userID, channelID string) error {
	if guildID == "" || userID == "" || channelID == "" {
		return fmt.Errorf("guildID, userID and channelID required")
	}
	body := map[string]any{"channel_id": channelID}
	return c.do(ctx, http.MethodPatch, "/guilds/"+guildID+"/members/"+userID, body, nil)
}
