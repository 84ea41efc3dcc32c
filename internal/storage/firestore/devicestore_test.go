//go:build integration

package firestore_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	fs "github.com/tinywideclouds/go-push-bridge/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

func setupSuite(t *testing.T) (context.Context, *fs.DeviceStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-device-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, fs.NewDeviceStore(client)
}

func TestDeviceStore_Integration(t *testing.T) {
	ctx, store := setupSuite(t)
	userURN, _ := urn.Parse("urn:contacts:user:test-user")

	t.Run("APNS Registration Lifecycle", func(t *testing.T) {
		token := "deadbeefcafebabe"
		require.NoError(t, store.RegisterToken(ctx, userURN, push.PlatformAPNS, token))

		set, err := store.Fetch(ctx, userURN)
		require.NoError(t, err)
		assert.Contains(t, set.APNS, token)
		assert.Empty(t, set.FCM)
		assert.Empty(t, set.Web)

		// Re-registering the same token upserts rather than duplicates.
		require.NoError(t, store.RegisterToken(ctx, userURN, push.PlatformAPNS, token))
		set, err = store.Fetch(ctx, userURN)
		require.NoError(t, err)
		assert.Len(t, set.APNS, 1)

		require.NoError(t, store.UnregisterToken(ctx, userURN, push.PlatformAPNS, token))
		set, err = store.Fetch(ctx, userURN)
		require.NoError(t, err)
		assert.Empty(t, set.APNS)
	})

	t.Run("Rejects Token Registration For Web Platform", func(t *testing.T) {
		err := store.RegisterToken(ctx, userURN, push.PlatformWeb, "not-a-token")
		assert.Error(t, err)
	})

	t.Run("Web Push Registration Lifecycle", func(t *testing.T) {
		sub := push.WebSubscription{
			Endpoint: "https://fcm.googleapis.com/fcm/send/abc-123",
			Keys: push.SubscriptionKeys{
				P256dh: "BNc0zxW0vR_Zw",
				Auth:   "dGVzdC1hdXRo",
			},
		}

		require.NoError(t, store.RegisterWeb(ctx, userURN, sub))

		set, err := store.Fetch(ctx, userURN)
		require.NoError(t, err)
		require.Len(t, set.Web, 1)
		assert.Equal(t, sub.Endpoint, set.Web[0].Endpoint)
		assert.Equal(t, sub.Keys, set.Web[0].Keys)

		require.NoError(t, store.UnregisterWeb(ctx, userURN, sub.Endpoint))

		set, err = store.Fetch(ctx, userURN)
		require.NoError(t, err)
		assert.Empty(t, set.Web)
	})

	t.Run("Fan-Out Fetch (Mixed Platforms)", func(t *testing.T) {
		mixedUser, _ := urn.Parse("urn:contacts:user:mixed-user")
		apnsToken := "feedface"
		fcmToken := "token-android-mix"
		webSub := push.WebSubscription{
			Endpoint: "https://web.push/mix",
			Keys:     push.SubscriptionKeys{P256dh: "key", Auth: "auth"},
		}

		require.NoError(t, store.RegisterToken(ctx, mixedUser, push.PlatformAPNS, apnsToken))
		require.NoError(t, store.RegisterToken(ctx, mixedUser, push.PlatformFCM, fcmToken))
		require.NoError(t, store.RegisterWeb(ctx, mixedUser, webSub))

		set, err := store.Fetch(ctx, mixedUser)
		require.NoError(t, err)

		assert.Equal(t, []string{apnsToken}, set.APNS)
		assert.Equal(t, []string{fcmToken}, set.FCM)
		require.Len(t, set.Web, 1)
		assert.Equal(t, webSub.Endpoint, set.Web[0].Endpoint)
	})

	t.Run("Fetch For Unknown User Is Empty Not Error", func(t *testing.T) {
		ghost, _ := urn.Parse("urn:contacts:user:ghost")
		set, err := store.Fetch(ctx, ghost)
		require.NoError(t, err)
		assert.True(t, set.Empty())
	})
}
