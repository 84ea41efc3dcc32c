package web_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-bridge/internal/platform/web"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// newSubscriptionKeys builds a key set the webpush library can actually
// encrypt against: a real P-256 public point plus a 16-byte auth secret.
func newSubscriptionKeys(t *testing.T) push.SubscriptionKeys {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	return push.SubscriptionKeys{
		P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

func TestDispatch_Lifecycle(t *testing.T) {
	// Simulates the browser vendor's push service.
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/success":
			w.WriteHeader(http.StatusCreated)
		case "/expired":
			w.WriteHeader(http.StatusGone)
		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer mockServer.Close()

	// The VAPID pair must be real so request signing succeeds.
	vapidPrivate, vapidPublic, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	dispatcher := web.NewDispatcher(web.Config{
		PrivateKey:      vapidPrivate,
		PublicKey:       vapidPublic,
		SubscriberEmail: "mailto:push@tinywideclouds.com",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx := context.Background()
	content := push.Content{Title: "New message", Body: "Hello"}
	data := map[string]string{"conversation_id": "c-1"}

	validSub := push.WebSubscription{
		Endpoint: mockServer.URL + "/success",
		Keys:     newSubscriptionKeys(t),
	}
	expiredSub := push.WebSubscription{
		Endpoint: mockServer.URL + "/expired",
		Keys:     newSubscriptionKeys(t),
	}
	brokenSub := push.WebSubscription{
		Endpoint: mockServer.URL + "/error",
		Keys:     newSubscriptionKeys(t),
	}

	receipt, invalid, err := dispatcher.Dispatch(ctx, []push.WebSubscription{validSub, expiredSub, brokenSub}, content, data)

	// 410 and 500 are reported through the receipt, never as an error.
	require.NoError(t, err)
	assert.Contains(t, receipt, "success:1")
	assert.Contains(t, receipt, "invalid:1")

	// Only the expired subscription comes back for cleanup.
	require.Len(t, invalid, 1)
	assert.Equal(t, expiredSub.Endpoint, invalid[0].Endpoint)
}

func TestDispatch_EmptyBatch(t *testing.T) {
	dispatcher := web.NewDispatcher(web.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	receipt, invalid, err := dispatcher.Dispatch(context.Background(), nil, push.Content{}, nil)

	require.NoError(t, err)
	assert.Empty(t, invalid)
	assert.Equal(t, "skipped: no subscriptions", receipt)
}
