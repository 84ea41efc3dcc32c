// Package fcm provides the Firebase Cloud Messaging dispatcher used for the
// app's Android installations.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// MessagingClient is the subset of the Firebase messaging API we use,
// extracted so unit tests can mock the client. *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Dispatch multicasts the notification to a batch of FCM registration
// tokens. Silent content is sent as a data-only message so the client wakes
// for a background fetch instead of showing an empty notification.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, content push.Content, data map[string]string) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
	}
	if !content.Silent() {
		msg.Notification = &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		}
	}

	br, err := d.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		// A whole-batch InvalidArgument means the message itself is
		// malformed; retrying the same payload can never succeed, so the
		// batch is dropped rather than returned as retryable.
		if messaging.IsInvalidArgument(err) {
			d.logger.Error("FCM rejected batch as InvalidArgument (dropping)", "err", err)
			return "skipped: invalid_argument", nil, nil
		}
		return "", nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	var invalidTokens []string
	retryableErrors := 0

	if br.FailureCount > 0 {
		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
				invalidTokens = append(invalidTokens, tokens[idx])
				continue
			}
			retryableErrors++
		}
	}

	if retryableErrors > 0 {
		return "", nil, fmt.Errorf("batch had %d retryable errors", retryableErrors)
	}

	receipt := fmt.Sprintf("success:%d invalid:%d", br.SuccessCount, len(invalidTokens))
	return receipt, invalidTokens, nil
}
