package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// NewProcessor builds the fan-out stage. The incoming request carries only
// the recipient and content; the store resolves which devices that means.
// Token platforms route through the dispatcher registry; Web Push has its own
// door because subscriptions are objects rather than strings.
func NewProcessor(
	dispatchers map[string]dispatch.Dispatcher,
	webDispatcher dispatch.WebDispatcher,
	store dispatch.DeviceStore,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[push.Request] {

	return func(ctx context.Context, original messagepipeline.Message, request *push.Request) error {
		procLogger := logger.With(
			"recipient", request.Recipient.String(),
			"pubsub_msg_id", original.ID,
		)

		devices, err := store.Fetch(ctx, request.Recipient)
		if err != nil {
			procLogger.Error("Failed to fetch devices", "err", err)
			return err
		}

		routes := []struct {
			platform string
			tokens   []string
		}{
			{push.PlatformAPNS, devices.APNS},
			{push.PlatformFCM, devices.FCM},
		}

		for _, route := range routes {
			if len(route.tokens) == 0 {
				continue
			}
			d, ok := dispatchers[route.platform]
			if !ok {
				procLogger.Warn("No dispatcher configured for platform", "platform", route.platform)
				continue
			}

			receipt, invalidTokens, err := d.Dispatch(ctx, route.tokens, request.Content, request.Data)

			// Self-healing: tokens the platform reports dead are removed so
			// the next fan-out no longer wastes sends on them.
			if len(invalidTokens) > 0 {
				procLogger.Info("Cleaning up invalid tokens", "platform", route.platform, "count", len(invalidTokens))
				for _, t := range invalidTokens {
					if err := store.UnregisterToken(ctx, request.Recipient, route.platform, t); err != nil {
						procLogger.Warn("Failed to delete token", "platform", route.platform, "token", t, "err", err)
					}
				}
			}

			if err != nil {
				procLogger.Error("Dispatch failed", "platform", route.platform, "err", err)
				return err // Retryable
			}
			procLogger.Info("Dispatched", "platform", route.platform, "receipt", receipt)
		}

		if len(devices.Web) > 0 {
			receipt, invalidSubs, err := webDispatcher.Dispatch(ctx, devices.Web, request.Content, request.Data)

			if len(invalidSubs) > 0 {
				procLogger.Info("Cleaning up invalid web subscriptions", "count", len(invalidSubs))
				for _, sub := range invalidSubs {
					if err := store.UnregisterWeb(ctx, request.Recipient, sub.Endpoint); err != nil {
						procLogger.Warn("Failed to delete web subscription", "endpoint", sub.Endpoint, "err", err)
					}
				}
			}

			if err != nil {
				procLogger.Error("Web dispatch failed", "err", err)
				return err // Retryable
			}
			procLogger.Info("Dispatched", "platform", push.PlatformWeb, "receipt", receipt)
		}

		if devices.Empty() {
			procLogger.Info("No devices registered for user; dropping notification.")
		}

		return nil
	}
}
