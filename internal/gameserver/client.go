package gameserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerStatus is the game server's liveness snapshot.
type ServerStatus struct {
	Online         bool `json:"online"`
	CurrentPlayers int  `json:"currentPlayers"`
	MaxPlayers     int  `json:"maxPlayers"`
}

// PlayerInfo describes a currently connected player.
type PlayerInfo struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
}

// DeliverResult is the bridge's answer to a delivery command.
type DeliverResult struct {
	Success         bool `json:"success"`
	RecipientOnline bool `json:"recipientOnline"`
}

// Client is the game-server boundary. All calls are bounded by the
// configured HTTP timeout (default 10s).
type Client interface {
	GetStatus(ctx context.Context) (*ServerStatus, error)
	IsOnline(ctx context.Context, identity string) (*PlayerInfo, error)
	Deliver(ctx context.Context, identity string, grantType string, payload json.RawMessage, transactionID string) (*DeliverResult, error)
	Kick(ctx context.Context, identity, reason string) (bool, error)
	SendMessage(ctx context.Context, identity, text string) (bool, error)
}

// Identity strings are namespaced tags like "mc:069a79f4-...". Only these
// namespaces may be sent to the bridge.
var allowedNamespaces = map[string]bool{
	"mc":    true,
	"steam": true,
	"fivem": true,
}

// ValidateIdentity checks the namespace prefix against the allow-list.
func ValidateIdentity(identity string) error {
	ns, rest, found := strings.Cut(identity, ":")
	if !found || ns == "" || rest == "" {
		return fmt.Errorf("identity %q is not namespaced", identity)
	}
	if !allowedNamespaces[ns] {
		return fmt.Errorf("identity namespace %q not allowed", ns)
	}
	return nil
}

// HTTPClient talks to the in-game bridge plugin's HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient builds a client from viper config.
func NewHTTPClient() *HTTPClient {
	viper.SetDefault("gameserver.base_url", "http://localhost:25580")
	viper.SetDefault("gameserver.timeout", 10*time.Second)

	return &HTTPClient{
		baseURL: strings.TrimRight(viper.GetString("gameserver.base_url"), "/"),
		token:   viper.GetString("gameserver.token"),
		client:  &http.Client{Timeout: viper.GetDuration("gameserver.timeout")},
	}
}

func (c *HTTPClient) GetStatus(ctx context.Context) (*ServerStatus, error) {
	var status ServerStatus
	if err := c.call(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *HTTPClient) IsOnline(ctx context.Context, identity string) (*PlayerInfo, error) {
	if err := ValidateIdentity(identity); err != nil {
		return nil, err
	}

	var resp struct {
		Online bool        `json:"online"`
		Player *PlayerInfo `json:"player"`
	}
	body := map[string]string{"identity": identity}
	if err := c.call(ctx, http.MethodPost, "/players/lookup", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Online {
		return nil, nil
	}
	return resp.Player, nil
}

func (c *HTTPClient) Deliver(ctx context.Context, identity string, grantType string, payload json.RawMessage, transactionID string) (*DeliverResult, error) {
	if err := ValidateIdentity(identity); err != nil {
		return nil, err
	}

	body := map[string]any{
		"identity":  identity,
		"grantType": grantType,
		"payload":   payload,
	}
	if transactionID != "" {
		body["transactionId"] = transactionID
	}

	var result DeliverResult
	if err := c.call(ctx, http.MethodPost, "/deliver", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) Kick(ctx context.Context, identity, reason string) (bool, error) {
	if err := ValidateIdentity(identity); err != nil {
		return false, err
	}

	var resp struct {
		Success bool `json:"success"`
	}
	body := map[string]string{"identity": identity, "reason": reason}
	if err := c.call(ctx, http.MethodPost, "/kick", body, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, identity, text string) (bool, error) {
	if err := ValidateIdentity(identity); err != nil {
		return false, err
	}

	var resp struct {
		Success bool `json:"success"`
	}
	body := map[string]string{"identity": identity, "text": text}
	if err := c.call(ctx, http.MethodPost, "/message", body, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (c *HTTPClient) call(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("[GAMESERVER] Request %s %s failed: %v", method, path, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[GAMESERVER] %s returned status %d", path, resp.StatusCode)
		return fmt.Errorf("game server returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
