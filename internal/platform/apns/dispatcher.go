// Package apns provides the dispatcher for the Apple Push Notification
// service, the platform the device bridge registers tokens for.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// APNSClient is the subset of apns2.Client methods we use. It exists so unit
// tests can mock the HTTP/2 connection.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs provider tokens.
type Config struct {
	KeyID  string
	TeamID string
	// BundleID doubles as the APNs topic.
	BundleID string
	// P8KeyContent is the raw content of the .p8 signing key.
	P8KeyContent string
}

type Dispatcher struct {
	client APNSClient
	topic  string
	logger *slog.Logger
}

// NewDispatcher creates a configured APNs dispatcher. The P8 key is parsed
// immediately so bad credentials fail on startup rather than on first send.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})

	return &Dispatcher{
		client: client,
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}, nil
}

// Dispatch sends the notification to a batch of APNs device tokens. The APNs
// HTTP/2 API is unary, so tokens are sent one by one; this runs inside a
// scaled pipeline worker where serial per-user sends are acceptable.
//
// Silent content becomes a background push: content-available with low
// priority, which is what wakes the app's remote-notification entry point
// for a fetch. Titled content becomes a regular alert push.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	tokens []string,
	content push.Content,
	data map[string]string,
) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	builder := payload.NewPayload()
	pushType := apns2.PushTypeAlert
	priority := apns2.PriorityHigh
	if content.Silent() {
		builder.ContentAvailable()
		pushType = apns2.PushTypeBackground
		// APNs rejects background pushes sent at high priority.
		priority = apns2.PriorityLow
	} else {
		builder.AlertTitle(content.Title).AlertBody(content.Body)
		if content.Sound != "" {
			builder.Sound(content.Sound)
		}
	}
	for k, v := range data {
		builder.Custom(k, v)
	}

	var invalidTokens []string
	successCount := 0
	failureCount := 0

	for _, deviceToken := range tokens {
		n := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       d.topic,
			Payload:     builder,
			PushType:    pushType,
			Priority:    priority,
		}

		res, err := d.client.PushWithContext(ctx, n)
		if err != nil {
			// Transport failure. Best effort: log and move to the next token.
			d.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
			failureCount++
			continue
		}

		if res.Sent() {
			successCount++
			continue
		}

		failureCount++
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			// The token is dead; hand it back for cleanup.
			invalidTokens = append(invalidTokens, deviceToken)
		default:
			// Other rejections usually mean our payload or topic is wrong,
			// not that the token is bad, so the token survives.
			d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(invalidTokens), failureCount)
	return receipt, invalidTokens, nil
}
