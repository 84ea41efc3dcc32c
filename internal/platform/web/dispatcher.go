// Package web provides the Web Push (VAPID) dispatcher used for the app's
// browser subscriptions.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// Config holds the VAPID key pair identifying this sender.
type Config struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

// Dispatch sends the notification to each subscription in turn and returns
// the subscriptions the push service reported gone, keyed for cleanup by
// endpoint.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	subs []push.WebSubscription,
	content push.Content,
	data map[string]string,
) (string, []push.WebSubscription, error) {
	if len(subs) == 0 {
		return "skipped: no subscriptions", nil, nil
	}

	payloadBytes, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{
			"title": content.Title,
			"body":  content.Body,
		},
		"data": data,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var invalidSubs []push.WebSubscription
	successCount := 0
	failureCount := 0

	for _, sub := range subs {
		s := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.Keys.P256dh,
				Auth:   sub.Keys.Auth,
			},
		}

		resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, s, &webpush.Options{
			Subscriber:      d.subscriber,
			VAPIDPublicKey:  d.publicKey,
			VAPIDPrivateKey: d.privateKey,
			TTL:             60,
			HTTPClient:      d.httpClient,
		})
		if err != nil {
			// Transport error. Log and skip; the subscription may be fine.
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			failureCount++
			continue
		}
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			successCount++
		case http.StatusGone, http.StatusNotFound:
			// The subscription expired or was revoked; hand it back for cleanup.
			invalidSubs = append(invalidSubs, sub)
			failureCount++
		default:
			d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			failureCount++
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(invalidSubs), failureCount)
	return receipt, invalidSubs, nil
}
