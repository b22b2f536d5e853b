// Package vts delivers expression commands to VTube Studio over its public
// WebSocket API. Expressions map to model hotkeys; SetExpression tracks
// toggle parity per hotkey so an idempotent command never double-flips one.
package vts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	apiName    = "VTubeStudioPublicAPI"
	apiVersion = "1.0"
)

// Config configures the VTube Studio connection.
type Config struct {
	URL        string
	PluginName string
	PluginDev  string
	TokenFile  string
	Timeout    time.Duration
}

type apiRequest struct {
	APIName     string `json:"apiName"`
	APIVersion  string `json:"apiVersion"`
	RequestID   string `json:"requestID"`
	MessageType string `json:"messageType"`
	Data        any    `json:"data,omitempty"`
}

type apiResponse struct {
	MessageType string          `json:"messageType"`
	RequestID   string          `json:"requestID"`
	Data        json.RawMessage `json:"data"`
}

type apiError struct {
	ErrorID int    `json:"errorID"`
	Message string `json:"message"`
}

// Client is an expression sink backed by VTube Studio hotkeys.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex // serializes request/response round trips
	conn      *websocket.Conn
	connected bool
	reqID     int

	hotkeys map[string]string // hotkey name -> id
	active  map[string]bool   // toggle parity per hotkey
}

// New creates a client; call Connect before emitting commands.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.With().Str("component", "vts").Logger(),
		hotkeys: make(map[string]string),
		active:  make(map[string]bool),
	}
}

// Connect dials VTube Studio, authenticates the plugin and loads the hotkey
// table for the current model.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.Timeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to VTube Studio at %s: %w", c.cfg.URL, err)
	}
	c.conn = conn

	if err := c.authenticateLocked(); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}
	if err := c.loadHotkeysLocked(); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}

	c.connected = true
	c.logger.Info().Str("url", c.cfg.URL).Int("hotkeys", len(c.hotkeys)).Msg("connected to VTube Studio")
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// Connected reports the connection state.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetExpression drives a hotkey toward the requested state. Re-asserting the
// current state is a no-op at the transport so the toggle never double-flips.
func (c *Client) SetExpression(name string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active[name] == on {
		return nil
	}
	if err := c.triggerLocked(name); err != nil {
		return err
	}
	c.active[name] = on
	return nil
}

// PulseExpression fires a one-shot hotkey.
func (c *Client) PulseExpression(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggerLocked(name)
}

func (c *Client) triggerLocked(name string) error {
	hotkeyID, ok := c.hotkeys[name]
	if !ok {
		return fmt.Errorf("hotkey %q not found in current model", name)
	}
	var out struct {
		HotkeyID string `json:"hotkeyID"`
	}
	if err := c.roundTripLocked("HotkeyTriggerRequest", map[string]any{"hotkeyID": hotkeyID}, &out); err != nil {
		return fmt.Errorf("failed to trigger hotkey %q: %w", name, err)
	}
	c.logger.Debug().Str("hotkey", name).Msg("hotkey triggered")
	return nil
}

func (c *Client) authenticateLocked() error {
	token, err := c.loadToken()
	if err != nil {
		return err
	}

	var auth struct {
		Authenticated bool   `json:"authenticated"`
		Reason        string `json:"reason"`
	}
	err = c.roundTripLocked("AuthenticationRequest", map[string]any{
		"pluginName":          c.cfg.PluginName,
		"pluginDeveloper":     c.cfg.PluginDev,
		"authenticationToken": token,
	}, &auth)
	if err != nil {
		return err
	}
	if !auth.Authenticated {
		// Token may be stale; a fresh one needs the user to re-approve.
		os.Remove(c.cfg.TokenFile)
		return fmt.Errorf("VTube Studio authentication refused: %s", auth.Reason)
	}
	c.logger.Info().Msg("plugin authenticated")
	return nil
}

// loadToken returns the persisted token, requesting a new one (which pops an
// allow/deny dialog in VTube Studio) when none is stored.
func (c *Client) loadToken() (string, error) {
	if data, err := os.ReadFile(c.cfg.TokenFile); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	}

	var out struct {
		AuthenticationToken string `json:"authenticationToken"`
	}
	err := c.roundTripLocked("AuthenticationTokenRequest", map[string]any{
		"pluginName":      c.cfg.PluginName,
		"pluginDeveloper": c.cfg.PluginDev,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.AuthenticationToken == "" {
		return "", fmt.Errorf("token request denied in VTube Studio")
	}
	if err := os.WriteFile(c.cfg.TokenFile, []byte(out.AuthenticationToken), 0600); err != nil {
		c.logger.Warn().Err(err).Msg("could not persist VTS token")
	}
	return out.AuthenticationToken, nil
}

func (c *Client) loadHotkeysLocked() error {
	var out struct {
		AvailableHotkeys []struct {
			Name     string `json:"name"`
			HotkeyID string `json:"hotkeyID"`
		} `json:"availableHotkeys"`
	}
	if err := c.roundTripLocked("HotkeysInCurrentModelRequest", map[string]any{}, &out); err != nil {
		return err
	}

	c.hotkeys = make(map[string]string, len(out.AvailableHotkeys))
	for _, hk := range out.AvailableHotkeys {
		c.hotkeys[hk.Name] = hk.HotkeyID
	}
	if len(c.hotkeys) == 0 {
		c.logger.Warn().Msg("no hotkeys returned; is a model with expressions loaded?")
	}
	return nil
}

// roundTripLocked sends one request and decodes the matching response. The
// caller must hold c.mu; VTS answers requests in order on a single socket.
func (c *Client) roundTripLocked(messageType string, data any, out any) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.reqID++
	req := apiRequest{
		APIName:     apiName,
		APIVersion:  apiVersion,
		RequestID:   fmt.Sprintf("req_%d", c.reqID),
		MessageType: messageType,
		Data:        data,
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s: %w", messageType, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
	var rsp apiResponse
	if err := c.conn.ReadJSON(&rsp); err != nil {
		return fmt.Errorf("read %s response: %w", messageType, err)
	}

	if rsp.MessageType == "APIError" {
		var apiErr apiError
		if err := json.Unmarshal(rsp.Data, &apiErr); err == nil {
			return fmt.Errorf("VTS error %d: %s", apiErr.ErrorID, apiErr.Message)
		}
		return fmt.Errorf("VTS error on %s", messageType)
	}
	if out != nil {
		if err := json.Unmarshal(rsp.Data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", messageType, err)
		}
	}
	return nil
}
