// Package dispatch contains the public contracts of the push gateway:
// platform dispatchers and the device store.
package dispatch

import (
	"context"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// Dispatcher sends notification content to a batch of platform tokens
// (APNs device tokens, FCM registration tokens). It returns a human-readable
// receipt and the tokens the platform reported as permanently dead; those are
// unregistered by the pipeline. A non-nil error marks the batch retryable.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, content push.Content, data map[string]string) (receipt string, invalid []string, err error)
}

// WebDispatcher is the Web Push variant: subscriptions are structured
// objects rather than token strings, and dead ones are identified by
// endpoint.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []push.WebSubscription, content push.Content, data map[string]string) (receipt string, invalid []push.WebSubscription, err error)
}

// DeviceStore manages a user's registered devices. Registration is an
// upsert and unregistration of an unknown device is not an error, so the
// bridge may safely repeat either on every app launch.
type DeviceStore interface {
	// RegisterToken adds or refreshes a token for a token-based platform
	// (push.PlatformAPNS, push.PlatformFCM).
	RegisterToken(ctx context.Context, user urn.URN, platform string, token string) error

	// UnregisterToken removes a token-based device.
	UnregisterToken(ctx context.Context, user urn.URN, platform string, token string) error

	// RegisterWeb adds or refreshes a Web Push subscription.
	RegisterWeb(ctx context.Context, user urn.URN, sub push.WebSubscription) error

	// UnregisterWeb removes a subscription by its endpoint URL.
	UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error

	// Fetch returns all of the user's devices bucketed by platform.
	Fetch(ctx context.Context, user urn.URN) (*push.DeviceSet, error)
}
