package kibitz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the kibitz server (e.g. "http://localhost:8080").
	BaseURL string

	// Name identifies this client. Must match a registered front-door key.
	Name string

	// Key is the client's secret. The client exchanges it for a bearer
	// token on first use and refreshes transparently on expiry.
	Key string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the kibitz chat front door.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	name    string
	key     string
	client  *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		name:    cfg.Name,
		key:     cfg.Key,
		client:  httpClient,
	}
}

// Chat sends one message to the assistant and returns its reply. The
// reply is empty when no module answered. Optional module names restrict
// which modules are consulted for this message.
func (c *Client) Chat(ctx context.Context, content string, moduleNames ...string) (string, error) {
	body := map[string]any{"content": content}
	if len(moduleNames) > 0 {
		body["modules"] = moduleNames
	}

	token, err := c.bearerToken(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("kibitz: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("kibitz: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("kibitz: send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("kibitz: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp.StatusCode, raw)
	}
	return string(raw), nil
}

// Modules lists the module names available to this client.
func (c *Client) Modules(ctx context.Context) ([]string, error) {
	reply, err := c.Chat(ctx, ":list_modules")
	if err != nil {
		return nil, err
	}
	if reply == "" {
		return nil, nil
	}
	return strings.Split(reply, ", "), nil
}

// SelectModules restricts all subsequent messages from this client to
// the named modules. Call with no names to clear the restriction.
func (c *Client) SelectModules(ctx context.Context, moduleNames ...string) error {
	_, err := c.Chat(ctx, ":select_modules "+strings.Join(moduleNames, " "))
	return err
}

// bearerToken returns a valid token, exchanging the client key for a
// fresh one when none is cached or the cached one is near expiry.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Until(c.expiresAt) > time.Minute {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{"name": c.name, "key": c.key})
	if err != nil {
		return "", fmt.Errorf("kibitz: encode token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("kibitz: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("kibitz: send token request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("kibitz: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp.StatusCode, raw)
	}

	var envelope struct {
		Data struct {
			Token     string    `json:"token"`
			ExpiresAt time.Time `json:"expires_at"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("kibitz: decode token response: %w", err)
	}
	if envelope.Data.Token == "" {
		return "", fmt.Errorf("kibitz: token response missing token")
	}

	c.token = envelope.Data.Token
	c.expiresAt = envelope.Data.ExpiresAt
	return c.token, nil
}
