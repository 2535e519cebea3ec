// Package control is the HTTP client for the session control service.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goodwinteam/avatarcall/internal/core"
	"github.com/goodwinteam/avatarcall/internal/domain"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

// New builds a client for the control service rooted at baseURL,
// e.g. "https://host/api/liveavatar".
func New(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: defaultTimeout},
		log:  log.With().Str("module", "adapters.control").Logger(),
	}
}

type errBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// details picks the most specific human-readable message from an error
// response, falling back when the service sent none.
func (b errBody) details(fallback string) string {
	if b.Details != "" {
		return b.Details
	}
	if b.Error != "" {
		return b.Error
	}
	return fallback
}

func (c *Client) Token(ctx context.Context, language, callContext string) (string, string, error) {
	req := map[string]string{"language": language}
	if callContext != "" {
		req["context"] = callContext
	}
	var resp struct {
		SessionID    string `json:"session_id"`
		SessionToken string `json:"session_token"`
	}
	if msg, err := c.post(ctx, "/token", req, &resp); err != nil {
		if msg != "" {
			return "", "", &domain.TokenError{Message: msg}
		}
		return "", "", &domain.TokenError{Message: err.Error()}
	}
	return resp.SessionID, resp.SessionToken, nil
}

func (c *Client) Start(ctx context.Context, sessionToken string) (core.StartResult, error) {
	req := map[string]string{"session_token": sessionToken}

	// The start response comes in two shapes: a nested data envelope or
	// the same fields flat at the top level. Accept both.
	type transportData struct {
		LivekitURL         string `json:"livekit_url"`
		LivekitClientToken string `json:"livekit_client_token"`
	}
	var resp struct {
		transportData
		Data *transportData `json:"data"`
	}
	if msg, err := c.post(ctx, "/start", req, &resp); err != nil {
		if msg != "" {
			return core.StartResult{}, &domain.StartError{Message: msg}
		}
		return core.StartResult{}, &domain.StartError{Message: err.Error()}
	}

	data := resp.transportData
	if resp.Data != nil {
		data = *resp.Data
	}
	return core.StartResult{
		TransportURL:   data.LivekitURL,
		TransportToken: data.LivekitClientToken,
	}, nil
}

func (c *Client) Stop(ctx context.Context, sessionID, sessionToken string) error {
	req := map[string]string{
		"session_id":    sessionID,
		"session_token": sessionToken,
	}
	if msg, err := c.post(ctx, "/stop", req, nil); err != nil {
		if msg != "" {
			return fmt.Errorf("session stop: %s", msg)
		}
		return err
	}
	return nil
}

func (c *Client) CreateRecord(ctx context.Context, sessionID, callContext string) error {
	req := map[string]string{
		"sessionId": sessionID,
		"context":   callContext,
	}
	_, err := c.post(ctx, "/sessions", req, nil)
	return err
}

func (c *Client) EndRecord(ctx context.Context, sessionID string, duration time.Duration) error {
	req := map[string]int64{"duration": int64(duration.Seconds())}
	_, err := c.post(ctx, "/sessions/"+sessionID+"/end", req, nil)
	return err
}

// post sends a JSON body and decodes a JSON response. On a non-2xx status
// it returns the service-provided details message alongside the error.
func (c *Client) post(ctx context.Context, path string, body, out any) (details string, err error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.details(fmt.Sprintf("%s returned %d", path, resp.StatusCode))
		c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Str("details", msg).Msg("control request failed")
		return msg, fmt.Errorf("%s: %s", path, msg)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
	}
	return "", nil
}
