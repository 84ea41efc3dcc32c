// Package firestore implements the device store on Google Cloud Firestore,
// the gateway's source of truth for where a user can be reached.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// DeviceStore implements dispatch.DeviceStore using Firestore.
type DeviceStore struct {
	client *firestore.Client
}

func NewDeviceStore(client *firestore.Client) *DeviceStore {
	return &DeviceStore{client: client}
}

// deviceRecord is the stored representation. Token-based platforms fill
// Token; web fills WebSubscription.
type deviceRecord struct {
	Platform        string                `firestore:"platform"`
	Token           string                `firestore:"token,omitempty"`
	WebSubscription *push.WebSubscription `firestore:"web_subscription,omitempty"`
	UpdatedAt       time.Time             `firestore:"updated_at"`
}

// RegisterToken upserts a token-based device. The document ID is a hash of
// the token, so re-registering the same device on every app launch is a
// cheap overwrite rather than a duplicate.
func (s *DeviceStore) RegisterToken(ctx context.Context, user urn.URN, platform string, token string) error {
	if platform != push.PlatformAPNS && platform != push.PlatformFCM {
		return fmt.Errorf("platform %q is not token-based", platform)
	}

	record := deviceRecord{
		Platform:  platform,
		Token:     token,
		UpdatedAt: time.Now(),
	}
	_, err := s.deviceRef(user, hashKey(token)).Set(ctx, record)
	return err
}

func (s *DeviceStore) UnregisterToken(ctx context.Context, user urn.URN, _ string, token string) error {
	_, err := s.deviceRef(user, hashKey(token)).Delete(ctx)
	return err
}

// RegisterWeb upserts a Web Push subscription, keyed by its endpoint URL.
func (s *DeviceStore) RegisterWeb(ctx context.Context, user urn.URN, sub push.WebSubscription) error {
	record := deviceRecord{
		Platform:        push.PlatformWeb,
		WebSubscription: &sub,
		UpdatedAt:       time.Now(),
	}
	_, err := s.deviceRef(user, hashKey(sub.Endpoint)).Set(ctx, record)
	return err
}

func (s *DeviceStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	_, err := s.deviceRef(user, hashKey(endpoint)).Delete(ctx)
	return err
}

// Fetch reads every device registered for the user and buckets them by
// platform for the fan-out.
func (s *DeviceStore) Fetch(ctx context.Context, user urn.URN) (*push.DeviceSet, error) {
	iter := s.devicesCollection(user).Documents(ctx)
	defer iter.Stop()

	set := &push.DeviceSet{
		User: user,
		APNS: make([]string, 0),
		FCM:  make([]string, 0),
		Web:  make([]push.WebSubscription, 0),
	}

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// A corrupt row should not block delivery to the rest.
			continue
		}

		switch {
		case record.Platform == push.PlatformWeb && record.WebSubscription != nil:
			set.Web = append(set.Web, *record.WebSubscription)
		case record.Platform == push.PlatformAPNS && record.Token != "":
			set.APNS = append(set.APNS, record.Token)
		case record.Token != "":
			set.FCM = append(set.FCM, record.Token)
		}
	}

	return set, nil
}

// deviceRef: users/{urn}/devices/{hash}
func (s *DeviceStore) deviceRef(user urn.URN, docID string) *firestore.DocumentRef {
	return s.devicesCollection(user).Doc(docID)
}

func (s *DeviceStore) devicesCollection(user urn.URN) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(user.String()).Collection("devices")
}

// hashKey derives the document ID. Hashing avoids both duplicates and
// hot-spotting on sequential token prefixes.
func hashKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}
