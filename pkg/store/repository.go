package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"xiaoshouji/pkg/persona"
)

// ErrContactNotFound is returned when an operation names an unknown contact.
var ErrContactNotFound = errors.New("contact not found")

// Repository is the typed view over a KV. Corrupt stored JSON is logged and
// treated as absent; only backend failures surface as errors.
type Repository struct {
	kv     KV
	broker *Broker

	// contactsMu serialises read-modify-write of the contact list.
	contactsMu sync.Mutex
}

func NewRepository(kv KV, broker *Broker) *Repository {
	if broker == nil {
		broker = NewBroker()
	}
	return &Repository{kv: kv, broker: broker}
}

func (r *Repository) Broker() *Broker {
	return r.broker
}

// LoadJSON decodes key into dst. It reports false when the key is missing or
// holds something that does not decode.
func (r *Repository) LoadJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := r.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Ignoring corrupt stored value")
		return false, nil
	}
	return true, nil
}

// SaveJSON encodes v under key and announces the change.
func (r *Repository) SaveJSON(ctx context.Context, key string, v any, change Change) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	r.broker.Publish(change)
	return nil
}

// Contacts

func (r *Repository) Contacts(ctx context.Context) ([]persona.Contact, error) {
	var contacts []persona.Contact
	if _, err := r.LoadJSON(ctx, ContactsKey, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (r *Repository) Contact(ctx context.Context, id string) (persona.Contact, error) {
	contacts, err := r.Contacts(ctx)
	if err != nil {
		return persona.Contact{}, err
	}
	for _, c := range contacts {
		if c.ID == id {
			return c, nil
		}
	}
	return persona.Contact{}, ErrContactNotFound
}

func (r *Repository) AddContact(ctx context.Context, name, remark string) (persona.Contact, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return persona.Contact{}, errors.New("contact name is required")
	}

	r.contactsMu.Lock()
	defer r.contactsMu.Unlock()

	contacts, err := r.Contacts(ctx)
	if err != nil {
		return persona.Contact{}, err
	}
	c := persona.NewContact(name, strings.TrimSpace(remark))
	contacts = append(contacts, c)

	if err := r.SaveJSON(ctx, ContactsKey, contacts, Change{Topic: TopicContacts}); err != nil {
		return persona.Contact{}, err
	}
	return c, nil
}

// EnsureContact returns the contact with id, creating it under that id when
// it does not exist yet.
func (r *Repository) EnsureContact(ctx context.Context, id, name string) (persona.Contact, error) {
	r.contactsMu.Lock()
	defer r.contactsMu.Unlock()

	c, err := r.Contact(ctx, id)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrContactNotFound) {
		return persona.Contact{}, err
	}

	contacts, err := r.Contacts(ctx)
	if err != nil {
		return persona.Contact{}, err
	}
	c = persona.NewContact(name, "")
	c.ID = id
	contacts = append(contacts, c)

	if err := r.SaveJSON(ctx, ContactsKey, contacts, Change{Topic: TopicContacts}); err != nil {
		return persona.Contact{}, err
	}
	return c, nil
}

func (r *Repository) SetRemark(ctx context.Context, id, remark string) (persona.Contact, error) {
	r.contactsMu.Lock()
	defer r.contactsMu.Unlock()

	contacts, err := r.Contacts(ctx)
	if err != nil {
		return persona.Contact{}, err
	}
	for i := range contacts {
		if contacts[i].ID == id {
			contacts[i].Remark = strings.TrimSpace(remark)
			if err := r.SaveJSON(ctx, ContactsKey, contacts, Change{Topic: TopicContacts, ConversationID: id}); err != nil {
				return persona.Contact{}, err
			}
			return contacts[i], nil
		}
	}
	return persona.Contact{}, ErrContactNotFound
}

// DeleteContact removes the contact and everything stored for its conversation.
func (r *Repository) DeleteContact(ctx context.Context, id string) error {
	r.contactsMu.Lock()
	defer r.contactsMu.Unlock()

	contacts, err := r.Contacts(ctx)
	if err != nil {
		return err
	}

	kept := contacts[:0]
	found := false
	for _, c := range contacts {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return ErrContactNotFound
	}

	if err := r.SaveJSON(ctx, ContactsKey, kept, Change{Topic: TopicContacts, ConversationID: id}); err != nil {
		return err
	}
	return r.ClearConversation(ctx, id)
}

// Settings

// Settings returns the stored settings for a conversation, or the defaults.
func (r *Repository) Settings(ctx context.Context, conversationID string) (persona.CharacterSettings, error) {
	settings := persona.DefaultSettings()
	found, err := r.LoadJSON(ctx, SettingsKey(conversationID), &settings)
	if err != nil {
		return persona.DefaultSettings(), err
	}
	if !found {
		settings = persona.DefaultSettings()
	}
	settings.Normalize()
	return settings, nil
}

// SaveSettings normalises and stores settings, returning what was stored.
func (r *Repository) SaveSettings(ctx context.Context, conversationID string, settings persona.CharacterSettings) (persona.CharacterSettings, error) {
	settings.Normalize()
	err := r.SaveJSON(ctx, SettingsKey(conversationID), settings, Change{
		Topic:          TopicSettings,
		ConversationID: conversationID,
	})
	return settings, err
}

// Worldbook

// GlobalLore returns the global worldbook for app with the default rules
// seeded or re-synced. A re-sync is written back.
func (r *Repository) GlobalLore(ctx context.Context, app string) ([]persona.WorldbookEntry, error) {
	var entries []persona.WorldbookEntry
	if _, err := r.LoadJSON(ctx, GlobalLoreKey(app), &entries); err != nil {
		return nil, err
	}

	if app != persona.DefaultApp {
		return entries, nil
	}

	synced, changed := persona.SyncDefaultLore(entries)
	if changed {
		log.Info().Str("app", app).Int("version", persona.DefaultLoreVersion).Msg("Synced default worldbook rules")
		if err := r.SaveJSON(ctx, GlobalLoreKey(app), synced, Change{Topic: TopicWorldbook}); err != nil {
			return nil, err
		}
	}
	return synced, nil
}

func (r *Repository) SaveGlobalLore(ctx context.Context, app string, entries []persona.WorldbookEntry) ([]persona.WorldbookEntry, error) {
	entries = persona.EnsureItemIDs(entries)
	return entries, r.SaveJSON(ctx, GlobalLoreKey(app), entries, Change{Topic: TopicWorldbook})
}

func (r *Repository) LocalLore(ctx context.Context, conversationID string) ([]persona.WorldbookEntry, error) {
	var entries []persona.WorldbookEntry
	if _, err := r.LoadJSON(ctx, LocalLoreKey(conversationID), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Repository) SaveLocalLore(ctx context.Context, conversationID string, entries []persona.WorldbookEntry) ([]persona.WorldbookEntry, error) {
	entries = persona.EnsureItemIDs(entries)
	return entries, r.SaveJSON(ctx, LocalLoreKey(conversationID), entries, Change{
		Topic:          TopicWorldbook,
		ConversationID: conversationID,
	})
}

// ClearConversation forgets settings, local lore and messages of a conversation.
func (r *Repository) ClearConversation(ctx context.Context, conversationID string) error {
	if err := r.kv.Delete(ctx,
		SettingsKey(conversationID),
		LocalLoreKey(conversationID),
		MessagesKey(conversationID),
	); err != nil {
		return fmt.Errorf("failed to clear conversation %s: %w", conversationID, err)
	}

	for _, topic := range []Topic{TopicSettings, TopicWorldbook, TopicMessages} {
		r.broker.Publish(Change{Topic: topic, ConversationID: conversationID})
	}
	return nil
}

// Conversations lists conversation ids that have a message log.
func (r *Repository) Conversations(ctx context.Context) ([]string, error) {
	keys, err := r.kv.Keys(ctx, MessagesKey(""))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, MessagesKey("")))
	}
	return ids, nil
}
