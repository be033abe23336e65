package persona

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Contact is one entry of the contact list; its ID doubles as the conversation id.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Remark    string    `json:"remark,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewContact creates a contact with a fresh id.
func NewContact(name, remark string) Contact {
	return Contact{
		ID:        uuid.NewString(),
		Name:      name,
		Remark:    remark,
		CreatedAt: time.Now(),
	}
}

// DisplayName prefers the remark, then the persona nickname, then the contact name.
func (c Contact) DisplayName(s CharacterSettings) string {
	if c.Remark != "" {
		return c.Remark
	}
	if name := s.DisplayName(); name != "" {
		return name
	}
	return c.Name
}

// WorldbookEntryItem is one block of lore text.
type WorldbookEntryItem struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Enabled bool   `json:"enabled"`
}

// WorldbookEntry groups lore items under a title.
type WorldbookEntry struct {
	ID    string               `json:"id"`
	Title string               `json:"title"`
	Items []WorldbookEntryItem `json:"items"`
	// Builtin entries are seeded by the app and re-synced when SchemaVersion is behind.
	Builtin       bool `json:"builtin,omitempty"`
	SchemaVersion int  `json:"schemaVersion,omitempty"`
}

// Validate checks that item ids are present and unique within the entry.
func (e WorldbookEntry) Validate() error {
	seen := make(map[string]struct{}, len(e.Items))
	for _, item := range e.Items {
		if item.ID == "" {
			return fmt.Errorf("worldbook entry %q: item %q has no id", e.ID, item.Title)
		}
		if _, ok := seen[item.ID]; ok {
			return fmt.Errorf("worldbook entry %q: duplicate item id %q", e.ID, item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

// AddItem appends an item, assigning a fresh id when it has none or its id is taken.
func (e *WorldbookEntry) AddItem(item WorldbookEntryItem) WorldbookEntryItem {
	if item.ID == "" || e.hasItem(item.ID) {
		item.ID = uuid.NewString()
	}
	e.Items = append(e.Items, item)
	return item
}

func (e WorldbookEntry) hasItem(id string) bool {
	for _, item := range e.Items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// EnabledItems flattens the enabled items of entries in order.
func EnabledItems(entries []WorldbookEntry) []WorldbookEntryItem {
	var items []WorldbookEntryItem
	for _, entry := range entries {
		for _, item := range entry.Items {
			if item.Enabled {
				items = append(items, item)
			}
		}
	}
	return items
}

// EnsureItemIDs assigns ids to items that lack one or collide within their entry.
func EnsureItemIDs(entries []WorldbookEntry) []WorldbookEntry {
	out := make([]WorldbookEntry, len(entries))
	for i, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		items := entry.Items
		entry.Items = make([]WorldbookEntryItem, 0, len(items))
		for _, item := range items {
			entry.AddItem(item)
		}
		out[i] = entry
	}
	return out
}
