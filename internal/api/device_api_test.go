package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-bridge/internal/api"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// --- Mocks ---

type MockDeviceStore struct {
	mock.Mock
}

func (m *MockDeviceStore) RegisterToken(ctx context.Context, u urn.URN, platform, token string) error {
	return m.Called(ctx, u, platform, token).Error(0)
}
func (m *MockDeviceStore) UnregisterToken(ctx context.Context, u urn.URN, platform, token string) error {
	return m.Called(ctx, u, platform, token).Error(0)
}
func (m *MockDeviceStore) RegisterWeb(ctx context.Context, u urn.URN, sub push.WebSubscription) error {
	return m.Called(ctx, u, sub).Error(0)
}
func (m *MockDeviceStore) UnregisterWeb(ctx context.Context, u urn.URN, endpoint string) error {
	return m.Called(ctx, u, endpoint).Error(0)
}
func (m *MockDeviceStore) Fetch(ctx context.Context, u urn.URN) (*push.DeviceSet, error) {
	args := m.Called(ctx, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.DeviceSet), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event push.DeviceEvent) error {
	return m.Called(ctx, event).Error(0)
}

// --- Setup ---

func setupAPI(t *testing.T) (*api.DeviceAPI, *MockDeviceStore, *MockPublisher) {
	t.Helper()
	mockStore := new(MockDeviceStore)
	mockPublisher := new(MockPublisher)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return api.NewDeviceAPI(mockStore, mockPublisher, logger), mockStore, mockPublisher
}

// withUser injects the authenticated subject, simulating the auth middleware.
// The handlers read the handle claim, so it must be populated here; the plain
// user-ID context key is a different slot.
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUser(req.Context(), userID, userID, "")
	return req.WithContext(ctx)
}

// --- Tests ---

func TestRegisterAPNS(t *testing.T) {
	apiHandler, mockStore, _ := setupAPI(t)
	targetURN, _ := urn.Parse("urn:test:user:123")

	t.Run("Success", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"token": "deadbeef"})
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices/apns", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("RegisterToken", mock.Anything, targetURN, push.PlatformAPNS, "deadbeef").Return(nil)

		apiHandler.RegisterAPNS(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Rejects Empty Token", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"token": ""})
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices/apns", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.RegisterAPNS(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects Non-Hex Token", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"token": "not-hex!"})
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices/apns", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.RegisterAPNS(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects Unauthenticated", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"token": "deadbeef"})
		req := httptest.NewRequest("POST", "/api/v1/devices/apns", bytes.NewReader(body))
		w := httptest.NewRecorder()

		apiHandler.RegisterAPNS(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestUnregisterAPNS_Idempotent(t *testing.T) {
	apiHandler, mockStore, _ := setupAPI(t)
	targetURN, _ := urn.Parse("urn:test:user:123")

	// Store failure must not surface; unregister is best effort.
	mockStore.On("UnregisterToken", mock.Anything, targetURN, push.PlatformAPNS, "deadbeef").
		Return(assert.AnError)

	body, _ := json.Marshal(map[string]string{"token": "deadbeef"})
	req := withUser(httptest.NewRequest("POST", "/api/v1/devices/apns/unregister", bytes.NewReader(body)), targetURN.String())
	w := httptest.NewRecorder()

	apiHandler.UnregisterAPNS(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	mockStore.AssertExpectations(t)
}

func TestRegisterWeb(t *testing.T) {
	apiHandler, mockStore, _ := setupAPI(t)
	targetURN, _ := urn.Parse("urn:test:user:123")

	validSub := push.WebSubscription{
		Endpoint: "https://fcm.googleapis.com/fcm/send/xyz",
		Keys: push.SubscriptionKeys{
			P256dh: "BNc0zxW0vR_Zw",
			Auth:   "dGVzdC1hdXRo",
		},
	}

	t.Run("Success", func(t *testing.T) {
		body, _ := json.Marshal(validSub)
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices/web", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("RegisterWeb", mock.Anything, targetURN, validSub).Return(nil)

		apiHandler.RegisterWeb(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Rejects Missing Keys", func(t *testing.T) {
		invalidPayload := `{"endpoint": "https://valid.com"}`
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices/web", bytes.NewReader([]byte(invalidPayload))), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.RegisterWeb(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestReportRegistrationFailure(t *testing.T) {
	targetURN, _ := urn.Parse("urn:test:user:123")

	t.Run("Publishes Event", func(t *testing.T) {
		apiHandler, _, mockPublisher := setupAPI(t)

		mockPublisher.On("Publish", mock.Anything, mock.MatchedBy(func(ev push.DeviceEvent) bool {
			return ev.Type == push.EventRegistrationFailure &&
				ev.User == targetURN &&
				ev.ID != "" &&
				ev.RegistrationFailure != nil &&
				ev.RegistrationFailure.Description == "simulator cannot register" &&
				ev.RegistrationFailure.Platform == push.PlatformAPNS
		})).Return(nil)

		body, _ := json.Marshal(push.RegistrationFailure{
			Domain:      "NSCocoaErrorDomain",
			Code:        3010,
			Description: "simulator cannot register",
		})
		req := withUser(httptest.NewRequest("POST", "/api/v1/events/registration-failure", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.ReportRegistrationFailure(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		mockPublisher.AssertExpectations(t)
	})

	t.Run("Rejects Missing Description", func(t *testing.T) {
		apiHandler, _, _ := setupAPI(t)

		body, _ := json.Marshal(push.RegistrationFailure{Platform: "apns"})
		req := withUser(httptest.NewRequest("POST", "/api/v1/events/registration-failure", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.ReportRegistrationFailure(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRecordNotificationResponse(t *testing.T) {
	targetURN, _ := urn.Parse("urn:test:user:123")

	t.Run("Publishes Event", func(t *testing.T) {
		apiHandler, _, mockPublisher := setupAPI(t)

		mockPublisher.On("Publish", mock.Anything, mock.MatchedBy(func(ev push.DeviceEvent) bool {
			return ev.Type == push.EventNotificationResponse &&
				ev.NotificationResponse != nil &&
				ev.NotificationResponse.ActionID == "REPLY_ACTION"
		})).Return(nil)

		body, _ := json.Marshal(push.NotificationResponse{
			ActionID:       "REPLY_ACTION",
			NotificationID: "req-42",
			UserText:       "on my way",
		})
		req := withUser(httptest.NewRequest("POST", "/api/v1/events/response", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.RecordNotificationResponse(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		mockPublisher.AssertExpectations(t)
	})

	t.Run("Publish Failure Surfaces As 500", func(t *testing.T) {
		apiHandler, _, mockPublisher := setupAPI(t)
		mockPublisher.On("Publish", mock.Anything, mock.Anything).Return(assert.AnError)

		body, _ := json.Marshal(push.NotificationResponse{ActionID: "REPLY_ACTION"})
		req := withUser(httptest.NewRequest("POST", "/api/v1/events/response", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.RecordNotificationResponse(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
