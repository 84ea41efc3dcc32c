// Package push contains the shared wire and domain types of the gateway:
// the content and addressing of an outbound notification, the per-platform
// device buckets, and the device lifecycle events published for downstream
// consumers.
package push

import (
	"encoding/json"
	"fmt"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Platform identifiers used in device records and dispatcher registries.
const (
	PlatformAPNS = "apns"
	PlatformFCM  = "fcm"
	PlatformWeb  = "web"
)

// Content is the user-visible part of a notification.
type Content struct {
	Title string `json:"title" firestore:"title"`
	Body  string `json:"body" firestore:"body"`
	Sound string `json:"sound,omitempty" firestore:"sound,omitempty"`
}

// Silent reports whether the content describes a data-only push: nothing to
// show, the payload exists purely to wake the app for a background fetch.
func (c Content) Silent() bool {
	return c.Title == "" && c.Body == ""
}

// SubscriptionKeys holds the client keys of a Web Push subscription,
// base64url-encoded as the browser hands them out.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh" firestore:"p256dh"`
	Auth   string `json:"auth" firestore:"auth"`
}

// WebSubscription is a browser push subscription as returned by the
// PushManager API.
type WebSubscription struct {
	Endpoint string           `json:"endpoint" firestore:"endpoint"`
	Keys     SubscriptionKeys `json:"keys" firestore:"keys"`
}

// DeviceSet buckets a user's registered devices by platform. It is what the
// store hands the pipeline for fan-out.
type DeviceSet struct {
	User urn.URN           `json:"user"`
	APNS []string          `json:"apns,omitempty"`
	FCM  []string          `json:"fcm,omitempty"`
	Web  []WebSubscription `json:"web,omitempty"`
}

// Empty reports whether the user has no registered devices at all.
func (s *DeviceSet) Empty() bool {
	return len(s.APNS) == 0 && len(s.FCM) == 0 && len(s.Web) == 0
}

// Request is the inbound send order consumed from Pub/Sub: who to notify and
// with what. Device addressing is resolved by the gateway, never carried on
// the wire.
type Request struct {
	Recipient urn.URN
	Content   Content
	Data      map[string]string
}

type requestWire struct {
	RecipientID string            `json:"recipient_id"`
	Content     Content           `json:"content"`
	Data        map[string]string `json:"data,omitempty"`
}

// UnmarshalJSON parses and validates the wire form. A recipient that is not a
// well-formed URN fails here so malformed messages never reach the pipeline.
// Note urn.Parse upgrades a bare single-part recipient to a legacy user URN
// (urn:sm:user:<id>) rather than rejecting it; only multi-part strings with
// the wrong shape fail.
func (r *Request) UnmarshalJSON(b []byte) error {
	var wire requestWire
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	recipient, err := urn.Parse(wire.RecipientID)
	if err != nil {
		return fmt.Errorf("invalid recipient urn %q: %w", wire.RecipientID, err)
	}
	r.Recipient = recipient
	r.Content = wire.Content
	r.Data = wire.Data
	return nil
}

func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestWire{
		RecipientID: r.Recipient.String(),
		Content:     r.Content,
		Data:        r.Data,
	})
}

// EventType tags the device lifecycle events the gateway publishes.
type EventType string

const (
	EventRegistrationFailure  EventType = "registration_failure"
	EventNotificationResponse EventType = "notification_response"
)

// RegistrationFailure reports that a device could not register for remote
// notifications. Domain and code carry the platform error descriptor.
type RegistrationFailure struct {
	Platform    string `json:"platform"`
	Domain      string `json:"domain,omitempty"`
	Code        int    `json:"code,omitempty"`
	Description string `json:"description"`
}

// NotificationResponse records which action a user took on a delivered
// notification.
type NotificationResponse struct {
	ActionID       string            `json:"action_id"`
	NotificationID string            `json:"notification_id,omitempty"`
	UserText       string            `json:"user_text,omitempty"`
	UserInfo       map[string]string `json:"user_info,omitempty"`
}

// DeviceEvent is the envelope published to the device-events topic. Exactly
// one of the payload fields is set, matching Type.
type DeviceEvent struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	User     urn.URN   `json:"user"`
	Occurred time.Time `json:"occurred"`

	RegistrationFailure  *RegistrationFailure  `json:"registration_failure,omitempty"`
	NotificationResponse *NotificationResponse `json:"notification_response,omitempty"`
}
