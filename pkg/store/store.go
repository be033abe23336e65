// Package store persists contacts, per-conversation settings, worldbook lore
// and message logs in a key-value backend and tells subscribers when any of
// them change.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by KV.Get for a missing key.
var ErrNotFound = errors.New("key not found")

// KV is the storage backend. Values are opaque bytes (JSON in practice).
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	// Keys lists every key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

const ContactsKey = "contacts"

func SettingsKey(conversationID string) string {
	return "settings:" + conversationID
}

func GlobalLoreKey(app string) string {
	return "worldbook:global:" + app
}

func LocalLoreKey(conversationID string) string {
	return "worldbook:local:" + conversationID
}

func MessagesKey(conversationID string) string {
	return "messages:" + conversationID
}
