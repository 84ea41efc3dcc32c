// Package api contains the HTTP handlers the device bridge talks to:
// registration of the tokens it receives from the OS, and the lifecycle
// events it forwards.
package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-bridge/internal/events"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

type DeviceAPI struct {
	Store  dispatch.DeviceStore
	Events events.Publisher
	Logger *slog.Logger
}

func NewDeviceAPI(store dispatch.DeviceStore, publisher events.Publisher, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Store:  store,
		Events: publisher,
		Logger: logger,
	}
}

// userFromRequest resolves the authenticated user the JWKS middleware put on
// the context.
func (api *DeviceAPI) userFromRequest(r *http.Request) (urn.URN, bool) {
	var zero urn.URN
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		return zero, false
	}
	userURN, err := urn.Parse(userID)
	if err != nil {
		api.Logger.Warn("Authenticated subject is not a valid urn", "subject", userID, "err", err)
		return zero, false
	}
	return userURN, true
}

// --- Token registration (APNs / FCM) ---

type registerTokenRequest struct {
	Token string `json:"token"`
}

// RegisterAPNS stores the device token the bridge received from the OS. The
// token arrives hex-encoded, the canonical rendering for APNs tokens.
func (api *DeviceAPI) RegisterAPNS(w http.ResponseWriter, r *http.Request) {
	api.registerToken(w, r, push.PlatformAPNS)
}

func (api *DeviceAPI) RegisterFCM(w http.ResponseWriter, r *http.Request) {
	api.registerToken(w, r, push.PlatformFCM)
}

func (api *DeviceAPI) registerToken(w http.ResponseWriter, r *http.Request, platform string) {
	ctx := r.Context()
	userURN, ok := api.userFromRequest(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req registerTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}
	if platform == push.PlatformAPNS {
		if _, err := hex.DecodeString(req.Token); err != nil {
			response.WriteJSONError(w, http.StatusBadRequest, "token is not hex-encoded")
			return
		}
	}

	if err := api.Store.RegisterToken(ctx, userURN, platform, req.Token); err != nil {
		api.Logger.Error("failed to register token", "platform", platform, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *DeviceAPI) UnregisterAPNS(w http.ResponseWriter, r *http.Request) {
	api.unregisterToken(w, r, push.PlatformAPNS)
}

func (api *DeviceAPI) UnregisterFCM(w http.ResponseWriter, r *http.Request) {
	api.unregisterToken(w, r, push.PlatformFCM)
}

func (api *DeviceAPI) unregisterToken(w http.ResponseWriter, r *http.Request, platform string) {
	ctx := r.Context()
	userURN, ok := api.userFromRequest(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req registerTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	// Unregister stays idempotent: an unknown token is logged, not failed.
	if err := api.Store.UnregisterToken(ctx, userURN, platform, req.Token); err != nil {
		api.Logger.Warn("failed to unregister token", "platform", platform, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Web Push subscriptions ---

func (api *DeviceAPI) RegisterWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.userFromRequest(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var sub push.WebSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		api.Logger.Error("RegisterWeb: JSON decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
		return
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		api.Logger.Warn("RegisterWeb: validation failed", "reason", "missing fields")
		response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
		return
	}

	if err := api.Store.RegisterWeb(ctx, userURN, sub); err != nil {
		api.Logger.Error("failed to register web subscription", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type unregisterWebRequest struct {
	Endpoint string `json:"endpoint"`
}

func (api *DeviceAPI) UnregisterWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.userFromRequest(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req unregisterWebRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Endpoint == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing endpoint")
		return
	}

	if err := api.Store.UnregisterWeb(ctx, userURN, req.Endpoint); err != nil {
		api.Logger.Warn("failed to unregister web subscription", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Lifecycle events ---

// ReportRegistrationFailure accepts the error descriptor the bridge forwards
// when the OS refused remote-notification registration, and publishes it for
// downstream consumers.
func (api *DeviceAPI) ReportRegistrationFailure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.userFromRequest(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var report push.RegistrationFailure
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if report.Description == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing description")
		return
	}
	if report.Platform == "" {
		report.Platform = push.PlatformAPNS
	}

	event := push.DeviceEvent{
		ID:                  uuid.NewString(),
		Type:                push.EventRegistrationFailure,
		User:                userURN,
		Occurred:            time.Now().UTC(),
		RegistrationFailure: &report,
	}
	if err := api.Events.Publish(ctx, event); err != nil {
		api.Logger.Error("failed to publish registration failure", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "publish failed")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// RecordNotificationResponse accepts a user-interaction response forwarded by
// the bridge and publishes it for downstream routing.
func (api *DeviceAPI) RecordNotificationResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.userFromRequest(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var resp push.NotificationResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if resp.ActionID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing action_id")
		return
	}

	event := push.DeviceEvent{
		ID:                   uuid.NewString(),
		Type:                 push.EventNotificationResponse,
		User:                 userURN,
		Occurred:             time.Now().UTC(),
		NotificationResponse: &resp,
	}
	if err := api.Events.Publish(ctx, event); err != nil {
		api.Logger.Error("failed to publish notification response", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "publish failed")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
