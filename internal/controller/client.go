// Package controller implements the controller session client (C1):
// HTTPS + binary WebSocket transport to the recorder, session management
// with auto-reauth, bootstrap retrieval and video export.
package controller

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/apperr"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/domain"
	"github.com/stphnsmpsn/unifi-protect-backup/internal/logging"
)

// MaxRetries bounds the total number of attempts a 401-triggering request
// makes, per spec.md §4.1: one initial attempt plus one reauth retry.
const MaxRetries = 2

const tokenCookieName = "TOKEN"

// Client talks to one UniFi Protect recorder.
type Client struct {
	baseURL    string
	username   string
	password   string
	verifySSL  bool
	httpClient *http.Client
	auth       *authBox
	log        *logging.Logger
}

// Config describes how to reach and authenticate to a recorder.
type Config struct {
	Address   string
	Port      int
	Username  string
	Password  string
	VerifySSL bool
}

// New constructs a Client. No network call is made until Login.
func New(cfg Config) *Client {
	transport := &http.Transport{}
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- operator-acknowledged, spec.md §4.1 TLS policy
	}
	return &Client{
		baseURL:    fmt.Sprintf("https://%s:%d", cfg.Address, cfg.Port),
		username:   cfg.Username,
		password:   cfg.Password,
		verifySSL:  cfg.VerifySSL,
		httpClient: &http.Client{Transport: transport},
		auth:       newAuthBox(),
		log:        logging.L().With(logging.String("component", "controller")),
	}
}

// Login authenticates and atomically installs the resulting session. Safe
// to call concurrently; overlapping calls serialize on the reauth mutex.
func (c *Client) Login(ctx context.Context) error {
	c.auth.mu.Lock()
	defer c.auth.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"username": c.username,
		"password": c.password,
		"remember": false,
	})
	if err != nil {
		return &apperr.AuthError{Op: "login", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return &apperr.AuthError{Op: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apperr.AuthError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperr.AuthError{Op: "login", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apperr.AuthError{Op: "login", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var token string
	for _, cookie := range resp.Cookies() {
		if cookie.Name == tokenCookieName {
			token = cookie.Value
		}
	}
	if token == "" {
		return &apperr.AuthError{Op: "login", Err: fmt.Errorf("no %s cookie in response", tokenCookieName)}
	}

	var parsed struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return &apperr.AuthError{Op: "login", Err: fmt.Errorf("parsing login body: %w", err)}
	}
	if parsed.CSRFToken == "" {
		return &apperr.AuthError{Op: "login", Err: fmt.Errorf("no csrfToken in login response")}
	}

	c.auth.store(session{token: token, csrfToken: parsed.CSRFToken})
	c.log.Info("login succeeded")
	return nil
}

// authedDo executes req with the current session's headers attached,
// retrying once through the reauth path on a 401 per spec.md §4.1. req is
// rebuilt by getReq on each attempt since an http.Request's body cannot be
// replayed after being consumed.
func (c *Client) authedDo(ctx context.Context, getReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		req, err := getReq()
		if err != nil {
			return nil, err
		}
		s := c.auth.load()
		req.Header.Set("Cookie", tokenCookieName+"="+s.token)
		req.Header.Set("X-CSRF-Token", s.csrfToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		resp.Body.Close()
		lastErr = fmt.Errorf("status %d", resp.StatusCode)

		if attempt == MaxRetries {
			break
		}

		// Acquire the reauth mutex: another task may have already
		// refreshed the session while we were waiting, in which case the
		// next attempt reuses the freshened cookie without logging in again.
		c.auth.mu.Lock()
		var reloginErr error
		if c.auth.load() == s {
			reloginErr = c.loginLocked(ctx)
		}
		c.auth.mu.Unlock()
		if reloginErr != nil {
			return nil, reloginErr
		}
	}
	return nil, &apperr.AuthError{Op: "authenticated request", Err: lastErr}
}

// GetBootstrap fetches the recorder's camera/identity snapshot.
func (c *Client) GetBootstrap(ctx context.Context) (domain.Bootstrap, error) {
	resp, err := c.authedDo(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/proxy/protect/api/bootstrap", nil)
	})
	if err != nil {
		return domain.Bootstrap{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Bootstrap{}, &apperr.ApiError{Op: "get_bootstrap", StatusCode: resp.StatusCode}
	}

	var parsed struct {
		Cameras []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			MAC         string `json:"mac"`
			Type        string `json:"type"`
			IsConnected bool   `json:"isConnected"`
		} `json:"cameras"`
		Nvr struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Version  string `json:"version"`
			Timezone string `json:"timezone"`
		} `json:"nvr"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.Bootstrap{}, &apperr.ApiError{Op: "get_bootstrap", Err: fmt.Errorf("decoding body: %w", err)}
	}

	cameras := make(map[string]domain.Camera, len(parsed.Cameras))
	for _, cam := range parsed.Cameras {
		cameras[cam.ID] = domain.Camera{
			ID:          cam.ID,
			Name:        cam.Name,
			MAC:         cam.MAC,
			Model:       cam.Type,
			IsConnected: cam.IsConnected,
		}
	}
	return domain.Bootstrap{
		Cameras: cameras,
		Nvr: domain.Nvr{
			ID:       parsed.Nvr.ID,
			Name:     parsed.Nvr.Name,
			Version:  parsed.Nvr.Version,
			Timezone: parsed.Nvr.Timezone,
		},
	}, nil
}

// DownloadEventVideo fetches the raw video export bytes for one event's
// time range.
func (c *Client) DownloadEventVideo(ctx context.Context, cameraID string, startMs, endMs int64) ([]byte, error) {
	q := url.Values{
		"camera": {cameraID},
		"start":  {strconv.FormatInt(startMs, 10)},
		"end":    {strconv.FormatInt(endMs, 10)},
	}
	endpoint := c.baseURL + "/proxy/protect/api/video/export?" + q.Encode()

	resp, err := c.authedDo(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperr.ApiError{Op: "download_event_video", StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperr.ApiError{Op: "download_event_video", Err: err}
	}
	return data, nil
}

// ConnectEvents opens the recorder's binary push WebSocket. Callers read
// frames with conn.ReadMessage and must Close the connection.
func (c *Client) ConnectEvents(ctx context.Context) (*websocket.Conn, error) {
	s := c.auth.load()

	wsURL := c.baseURL
	wsURL = "wss" + wsURL[len("https"):] + "/proxy/protect/ws/updates"

	header := http.Header{}
	header.Set("Cookie", tokenCookieName+"="+s.token)
	header.Set("X-CSRF-Token", s.csrfToken)

	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if !c.verifySSL {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- operator-acknowledged, spec.md §4.1 TLS policy
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, &apperr.WsError{Op: "connect_events", Err: err}
	}
	return conn, nil
}
