// Package bridge exposes the push-notification lifecycle callbacks of a
// mobile host to the rest of the application. The host side calls one of the
// four entry points when the OS delivers an event; the bridge hands the event
// to a pluggable Receiver without storing or transforming it.
//
// The one hard contract lives in RemoteNotificationReceived: the OS hands
// over a completion callback that must be invoked exactly once, within the
// background-fetch time budget, no matter how handling goes. The bridge
// enforces this with a single-shot Completion and a watchdog deadline.
package bridge

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DeviceToken is the opaque token the push service issued for this app
// installation. The bridge never interprets it.
type DeviceToken []byte

// String renders the token in its canonical hex form.
func (t DeviceToken) String() string {
	return hex.EncodeToString(t)
}

// RegistrationError is the structured descriptor the OS supplies when remote
// notification registration fails.
type RegistrationError struct {
	Domain      string
	Code        int
	Description string
}

func (e RegistrationError) Error() string {
	return fmt.Sprintf("registration failed: %s (%s:%d)", e.Description, e.Domain, e.Code)
}

// Action identifiers the OS reports for the two built-in interactions.
const (
	DefaultActionID = "com.apple.UNNotificationDefaultActionIdentifier"
	DismissActionID = "com.apple.UNNotificationDismissActionIdentifier"
)

// Response records how the user interacted with a delivered notification.
type Response struct {
	// ActionID is the identifier of the action the user took: a custom
	// category action, or one of the built-in identifiers above.
	ActionID string
	// NotificationID identifies the delivered notification request.
	NotificationID string
	// UserText carries the typed reply for text-input actions.
	UserText string
	// UserInfo is the metadata of the notification the user acted on.
	UserInfo map[string]string
}

// Receiver is the integration seam behind the bridge. Implementations carry
// the events onward; the reference implementation lives in pkg/relay.
//
// RemoteNotification owns the completion: it must eventually Resolve it. The
// bridge backstops implementations that panic or stall, so a missed Resolve
// is a logged defect rather than a process penalty.
type Receiver interface {
	TokenRegistered(ctx context.Context, token DeviceToken) error
	RegistrationFailed(ctx context.Context, cause RegistrationError) error
	RemoteNotification(ctx context.Context, userInfo map[string]string, completion *Completion)
	NotificationResponse(ctx context.Context, resp Response) error
}

// DefaultFetchTimeout bounds how long a Receiver may hold a completion. The
// OS allows roughly thirty seconds for background fetches; resolving a little
// early leaves room for the callback itself to run.
const DefaultFetchTimeout = 25 * time.Second

// Config holds the bridge tunables.
type Config struct {
	// FetchTimeout overrides DefaultFetchTimeout when positive.
	FetchTimeout time.Duration
}

// Bridge is a stateless forwarding facade. Each call is independent; the
// bridge performs no deduplication and keeps nothing between calls.
type Bridge struct {
	receiver     Receiver
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// New assembles a bridge around the given receiver.
func New(cfg Config, receiver Receiver, logger *slog.Logger) *Bridge {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Bridge{
		receiver:     receiver,
		fetchTimeout: timeout,
		logger:       logger.With("component", "NotificationBridge"),
	}
}

// TokenRegistered forwards a successful registration. The token is passed
// through untouched; rendering and upload are the receiver's concern.
func (b *Bridge) TokenRegistered(ctx context.Context, deviceToken []byte) {
	if err := b.receiver.TokenRegistered(ctx, DeviceToken(deviceToken)); err != nil {
		b.logger.Error("Failed to forward device token", "err", err)
	}
}

// RegistrationFailed forwards a registration failure report.
func (b *Bridge) RegistrationFailed(ctx context.Context, cause RegistrationError) {
	if err := b.receiver.RegistrationFailed(ctx, cause); err != nil {
		b.logger.Error("Failed to forward registration failure", "err", err)
	}
}

// RemoteNotificationReceived forwards a remote notification together with the
// OS fetch callback. The callback fires exactly once on every path: the
// receiver resolves it, the receiver panics, or the watchdog deadline passes.
// A nil metadata mapping is forwarded as an empty one.
func (b *Bridge) RemoteNotificationReceived(ctx context.Context, userInfo map[string]string, complete func(FetchResult)) {
	completion := NewCompletion(complete)
	if userInfo == nil {
		userInfo = map[string]string{}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, b.fetchTimeout)

	go func() {
		defer cancel()
		select {
		case <-completion.Done():
		case <-fetchCtx.Done():
			if completion.Resolve(FetchFailed) {
				b.logger.Warn("Receiver missed the fetch deadline", "timeout", b.fetchTimeout)
			}
		}
	}()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Receiver panicked handling remote notification", "panic", r)
				completion.Resolve(FetchFailed)
			}
		}()
		b.receiver.RemoteNotification(fetchCtx, userInfo, completion)
	}()
}

// NotificationResponseReceived forwards a user-interaction response.
func (b *Bridge) NotificationResponseReceived(ctx context.Context, resp Response) {
	if err := b.receiver.NotificationResponse(ctx, resp); err != nil {
		b.logger.Error("Failed to forward notification response", "err", err)
	}
}

// The host side usually has no natural place to thread an instance through,
// so the package also offers a configured singleton behind static entry
// points, mirroring the class-level dispatch of the native seam.
var std atomic.Pointer[Bridge]

// Configure installs the bridge used by the package-level entry points.
// Call it once during startup, before the OS can deliver events.
func Configure(b *Bridge) {
	std.Store(b)
}

// TokenRegistered is the package-level form of Bridge.TokenRegistered.
func TokenRegistered(deviceToken []byte) {
	if b := std.Load(); b != nil {
		b.TokenRegistered(context.Background(), deviceToken)
	}
}

// RegistrationFailed is the package-level form of Bridge.RegistrationFailed.
func RegistrationFailed(cause RegistrationError) {
	if b := std.Load(); b != nil {
		b.RegistrationFailed(context.Background(), cause)
	}
}

// RemoteNotificationReceived is the package-level form of
// Bridge.RemoteNotificationReceived. Even with no bridge configured the OS
// callback still gets its answer: no data.
func RemoteNotificationReceived(userInfo map[string]string, complete func(FetchResult)) {
	b := std.Load()
	if b == nil {
		if complete != nil {
			complete(FetchNoData)
		}
		return
	}
	b.RemoteNotificationReceived(context.Background(), userInfo, complete)
}

// NotificationResponseReceived is the package-level form of
// Bridge.NotificationResponseReceived.
func NotificationResponseReceived(resp Response) {
	if b := std.Load(); b != nil {
		b.NotificationResponseReceived(context.Background(), resp)
	}
}
