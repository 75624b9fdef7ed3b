package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// CamillaDSP audio backend
// ============================================================================
// CamillaDSP speaks JSON over a websocket. Requests are either a bare string
// ("GetVolume") or a single-key object ({"SetVolume": -20.0}); replies are
// {"<Command>": {"result": "Ok", "value": ...}}.
//
// The main fader is mapped linearly from [minDB, maxDB] to [0, 1].
// ============================================================================

// CamillaDSPClient manages the websocket connection. One request at a time.
type CamillaDSPClient struct {
	mu          sync.Mutex
	conn        *websocket.Conn
	url         string
	logger      *slog.Logger
	readTimeout time.Duration
	dialer      websocket.Dialer
}

// NewCamillaDSPClient validates the URL and dials once.
func NewCamillaDSPClient(ctx context.Context, wsURL string, readTimeoutMS int, logger *slog.Logger) (*CamillaDSPClient, error) {
	if _, err := url.Parse(wsURL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	c := &CamillaDSPClient{
		url:         wsURL,
		logger:      logger,
		readTimeout: time.Duration(readTimeoutMS) * time.Millisecond,
		dialer:      websocket.Dialer{HandshakeTimeout: 2 * time.Second},
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.dialLocked(ctx); err != nil {
		return nil, err
	}
	c.logger.Info("connected to CamillaDSP", "url", c.url)
	return c, nil
}

func (c *CamillaDSPClient) dialLocked(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial camilladsp: %w", err)
	}
	c.conn = conn
	return nil
}

// request sends cmd and decodes the reply for key into value (if non-nil).
// A broken connection is dropped and redialed on the next request.
func (c *CamillaDSPClient) request(ctx context.Context, cmd any, key string, value any) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.logger.Warn("camilladsp connection lost; reconnecting")
		if err := c.dialLocked(ctx); err != nil {
			return err
		}
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.dropLocked()
		return fmt.Errorf("%s: %w", key, err)
	}

	deadline := time.Now().Add(c.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		c.dropLocked()
		return fmt.Errorf("%s: %w", key, err)
	}
	_ = c.conn.SetReadDeadline(time.Time{})

	return decodeCamillaReply(msg, key, value)
}

func decodeCamillaReply(msg []byte, key string, value any) error {
	var reply map[string]struct {
		Result string          `json:"result"`
		Value  json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(msg, &reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", key, err)
	}
	r, ok := reply[key]
	if !ok {
		return fmt.Errorf("decode %s reply: missing %q in %s", key, key, msg)
	}
	if r.Result != "Ok" {
		return fmt.Errorf("%s: result %q", key, r.Result)
	}
	if value == nil {
		return nil
	}
	if err := json.Unmarshal(r.Value, value); err != nil {
		return fmt.Errorf("decode %s value: %w", key, err)
	}
	return nil
}

func (c *CamillaDSPClient) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close closes the websocket connection.
func (c *CamillaDSPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}

// GetVolume returns the main fader level in dB.
func (c *CamillaDSPClient) GetVolume(ctx context.Context) (float64, error) {
	var db float64
	if err := c.request(ctx, "GetVolume", "GetVolume", &db); err != nil {
		return 0, err
	}
	c.logger.Debug("GetVolume", "volume_db", db)
	return db, nil
}

// SetVolume sets the main fader level in dB.
func (c *CamillaDSPClient) SetVolume(ctx context.Context, db float64) error {
	if err := c.request(ctx, map[string]any{"SetVolume": db}, "SetVolume", nil); err != nil {
		return err
	}
	c.logger.Debug("SetVolume", "target_db", db)
	return nil
}

// GetMute returns the main fader mute flag.
func (c *CamillaDSPClient) GetMute(ctx context.Context) (bool, error) {
	var muted bool
	if err := c.request(ctx, "GetMute", "GetMute", &muted); err != nil {
		return false, err
	}
	return muted, nil
}

// SetMute sets the main fader mute flag.
func (c *CamillaDSPClient) SetMute(ctx context.Context, mute bool) error {
	return c.request(ctx, map[string]any{"SetMute": mute}, "SetMute", nil)
}

// camillaFader is the subset of CamillaDSPClient the audio endpoint needs.
type camillaFader interface {
	GetVolume(ctx context.Context) (float64, error)
	SetVolume(ctx context.Context, db float64) error
	GetMute(ctx context.Context) (bool, error)
	SetMute(ctx context.Context, mute bool) error
}

// CamillaAudio exposes a CamillaDSP fader as an AudioEndpoint.
type CamillaAudio struct {
	fader camillaFader
	minDB float64
	maxDB float64
}

// NewCamillaAudio maps fractions onto [minDB, maxDB].
func NewCamillaAudio(fader camillaFader, minDB, maxDB float64) *CamillaAudio {
	return &CamillaAudio{fader: fader, minDB: minDB, maxDB: maxDB}
}

func (a *CamillaAudio) Volume(ctx context.Context) (float64, error) {
	db, err := a.fader.GetVolume(ctx)
	if err != nil {
		return 0, err
	}
	return a.dbToFraction(db), nil
}

func (a *CamillaAudio) SetVolume(ctx context.Context, fraction float64) error {
	return a.fader.SetVolume(ctx, a.fractionToDB(fraction))
}

func (a *CamillaAudio) Muted(ctx context.Context) (bool, error) {
	return a.fader.GetMute(ctx)
}

func (a *CamillaAudio) SetMuted(ctx context.Context, muted bool) error {
	return a.fader.SetMute(ctx, muted)
}

func (a *CamillaAudio) dbToFraction(db float64) float64 {
	span := a.maxDB - a.minDB
	if span <= 0 {
		return 0
	}
	return clampFraction((db - a.minDB) / span)
}

func (a *CamillaAudio) fractionToDB(fraction float64) float64 {
	return a.minDB + clampFraction(fraction)*(a.maxDB-a.minDB)
}
