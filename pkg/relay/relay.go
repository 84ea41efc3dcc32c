// Package relay is the reference bridge.Receiver: it carries device
// lifecycle events onward to the push gateway's HTTP API and hands
// remote-notification payloads to an app-supplied fetch handler.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// TokenSource supplies the bearer token for gateway calls. The gateway
// derives the user from it, so the relay never carries identity itself.
type TokenSource func(ctx context.Context) (string, error)

// FetchHandler is the application's background-fetch logic: given the
// notification metadata, download whatever is new and report how it went.
// The context carries the fetch deadline the bridge enforces.
type FetchHandler func(ctx context.Context, userInfo map[string]string) (bridge.FetchResult, error)

// Config holds the relay's connection settings.
type Config struct {
	// BaseURL of the push gateway, without a trailing slash.
	BaseURL string
	// HTTPClient overrides the default client (10s timeout) when set.
	HTTPClient *http.Client
}

type Receiver struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	fetch      FetchHandler
	logger     *slog.Logger
}

// New assembles a relay. fetch may be nil, in which case every remote
// notification completes with FetchNoData.
func New(cfg Config, tokens TokenSource, fetch FetchHandler, logger *slog.Logger) *Receiver {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Receiver{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
		tokens:     tokens,
		fetch:      fetch,
		logger:     logger.With("component", "BridgeRelay"),
	}
}

// TokenRegistered uploads the device token, hex-encoded, so the gateway can
// address this installation. Registration is idempotent server-side; the app
// may call this on every launch.
func (r *Receiver) TokenRegistered(ctx context.Context, token bridge.DeviceToken) error {
	if len(token) == 0 {
		return errors.New("empty device token")
	}
	return r.post(ctx, "/api/v1/devices/apns", registerTokenRequest{Token: token.String()})
}

// RegistrationFailed reports the OS error descriptor to the gateway.
func (r *Receiver) RegistrationFailed(ctx context.Context, cause bridge.RegistrationError) error {
	return r.post(ctx, "/api/v1/events/registration-failure", push.RegistrationFailure{
		Platform:    push.PlatformAPNS,
		Domain:      cause.Domain,
		Code:        cause.Code,
		Description: cause.Description,
	})
}

// RemoteNotification runs the fetch handler and resolves the completion from
// its outcome. With no handler, or nothing in the payload to act on, the safe
// answer is "no new data".
func (r *Receiver) RemoteNotification(ctx context.Context, userInfo map[string]string, completion *bridge.Completion) {
	if r.fetch == nil || len(userInfo) == 0 {
		completion.Resolve(bridge.FetchNoData)
		return
	}

	result, err := r.fetch(ctx, userInfo)
	if err != nil {
		r.logger.Error("Fetch handler failed", "err", err)
		completion.Resolve(bridge.FetchFailed)
		return
	}
	completion.Resolve(result)
}

// NotificationResponse forwards the user's interaction to the gateway, which
// publishes it for downstream routing.
func (r *Receiver) NotificationResponse(ctx context.Context, resp bridge.Response) error {
	return r.post(ctx, "/api/v1/events/response", push.NotificationResponse{
		ActionID:       resp.ActionID,
		NotificationID: resp.NotificationID,
		UserText:       resp.UserText,
		UserInfo:       resp.UserInfo,
	})
}

type registerTokenRequest struct {
	Token string `json:"token"`
}

func (r *Receiver) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if r.tokens != nil {
		token, err := r.tokens(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway call %s failed: %w", path, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		// The gateway's error bodies are small JSON blobs; keep a slice for context.
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("gateway call %s returned %d: %s", path, res.StatusCode, detail)
	}
	return nil
}
