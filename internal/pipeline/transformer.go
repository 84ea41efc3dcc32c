// Package pipeline contains the message processing stages of the gateway's
// send path.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// PushRequestTransformer unmarshals a raw message payload into a validated
// push.Request. Validation (including recipient URN parsing) happens inside
// the type's UnmarshalJSON, so a single call covers both.
//
// Failures return skip=true so the streaming service can Nack the message
// towards the dead-letter topic instead of retrying a payload that can never
// parse.
func PushRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*push.Request, bool, error) {
	var req push.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push request from message %s: %w", msg.ID, err)
	}
	return &req, false, nil
}
