package persona

// DefaultLoreVersion is bumped whenever the builtin rule wording changes.
const DefaultLoreVersion = 3

const (
	DefaultApp            = "wechat"
	DefaultRulesEntryID   = "wechat-default-rules"
	ChatModeRulesItemID   = "chat-mode-rules"
	StoryModeRulesItemID  = "story-mode-rules"
	defaultRulesEntryName = "默认行为规则"
)

// ModeRulesItemID returns the id of the global lore item designated for mode.
func ModeRulesItemID(mode Mode) string {
	if mode == ModeStory {
		return StoryModeRulesItemID
	}
	return ChatModeRulesItemID
}

func isModeRulesItem(id string) bool {
	return id == ChatModeRulesItemID || id == StoryModeRulesItemID
}

func defaultRuleItems() []WorldbookEntryItem {
	return []WorldbookEntryItem{
		{
			ID:      ChatModeRulesItemID,
			Title:   "聊天模式",
			Content: chatModeLore,
			Enabled: true,
		},
		{
			ID:      StoryModeRulesItemID,
			Title:   "剧情模式",
			Content: storyModeLore,
			Enabled: true,
		},
	}
}

// DefaultGlobalLore is the lore seeded for an app that has none stored.
func DefaultGlobalLore() []WorldbookEntry {
	return []WorldbookEntry{{
		ID:            DefaultRulesEntryID,
		Title:         defaultRulesEntryName,
		Items:         defaultRuleItems(),
		Builtin:       true,
		SchemaVersion: DefaultLoreVersion,
	}}
}

// SyncDefaultLore seeds the builtin rules entry when missing and rewrites its
// builtin items when the stored schema version is behind. Enabled flags and
// user-added items are kept. The second result reports whether anything changed.
func SyncDefaultLore(entries []WorldbookEntry) ([]WorldbookEntry, bool) {
	idx := -1
	for i, entry := range entries {
		if entry.ID == DefaultRulesEntryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return append(DefaultGlobalLore(), entries...), true
	}

	entry := entries[idx]
	if entry.SchemaVersion >= DefaultLoreVersion {
		return entries, false
	}

	latest := defaultRuleItems()
	byID := make(map[string]WorldbookEntryItem, len(latest))
	for _, item := range latest {
		byID[item.ID] = item
	}

	items := make([]WorldbookEntryItem, 0, len(entry.Items)+len(latest))
	seen := make(map[string]bool, len(latest))
	for _, item := range entry.Items {
		if fresh, ok := byID[item.ID]; ok {
			fresh.Enabled = item.Enabled
			items = append(items, fresh)
			seen[item.ID] = true
			continue
		}
		items = append(items, item)
	}
	for _, item := range latest {
		if !seen[item.ID] {
			items = append(items, item)
		}
	}

	entry.Items = items
	entry.Builtin = true
	entry.Title = defaultRulesEntryName
	entry.SchemaVersion = DefaultLoreVersion

	out := make([]WorldbookEntry, len(entries))
	copy(out, entries)
	out[idx] = entry
	return out, true
}
