package persona

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGlobalLore() []WorldbookEntry {
	lore := DefaultGlobalLore()
	lore = append(lore, WorldbookEntry{
		ID:    "city",
		Title: "城市",
		Items: []WorldbookEntryItem{
			{ID: "g1", Title: "雾港", Content: "雾港是一座常年下雨的海边城市。", Enabled: true},
			{ID: "g2", Title: "禁用", Content: "这条不应该出现。", Enabled: false},
		},
	})
	return lore
}

func TestBuildSystemPrompt_SectionOrder(t *testing.T) {
	settings := DefaultSettings()
	settings.RealName = "林夏"
	local := []WorldbookEntry{{
		ID: "local",
		Items: []WorldbookEntryItem{
			{ID: "l1", Title: "过去", Content: "你们是大学同学。", Enabled: true},
		},
	}}

	prompt := BuildSystemPrompt(settings, "夏夏", testGlobalLore(), local, ModeChat)

	markers := []string{
		"显示的名字是：夏夏",                 // 1 preamble
		"【当前模式：聊天模式】",               // 2 mode guidance
		chatModeLore,                   // 3 designated global item
		"【雾港】雾港是一座常年下雨的海边城市。",      // 4 other global items
		"【过去】（本地设定）你们是大学同学。",       // 5 local items
		"【通用行为准则】",                   // 6 universal guidance
		"【聊天功能说明】",                   // 7 chat auxiliary rules
		"你的真实姓名是林夏。",                 // 8 settings facts
		chatReplyStyle,                 // 9 reply style
		"<STATUS_UPDATE>",              // 10 status block
	}

	last := -1
	for _, m := range markers {
		idx := strings.Index(prompt, m)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", m)
		assert.Greater(t, idx, last, "section %q out of order", m)
		last = idx
	}

	assert.NotContains(t, prompt, "这条不应该出现")
	assert.NotContains(t, prompt, storyModeLore, "the other mode's rules are excluded")
	assert.NotContains(t, prompt, "【剧情规则】")
}

func TestBuildSystemPrompt_StoryMode(t *testing.T) {
	prompt := BuildSystemPrompt(DefaultSettings(), "夏夏", testGlobalLore(), nil, ModeStory)

	assert.Contains(t, prompt, "【当前模式：剧情模式】")
	assert.Contains(t, prompt, storyModeLore)
	assert.Contains(t, prompt, "【剧情规则】")
	assert.Contains(t, prompt, storyReplyStyle)
	assert.NotContains(t, prompt, chatModeLore)
	assert.NotContains(t, prompt, "【聊天功能说明】")
	assert.Less(t, strings.Index(prompt, storyModeLore), strings.Index(prompt, "【雾港】"))
}

func TestBuildSystemPrompt_DisabledLocalLoreContributesNothing(t *testing.T) {
	settings := DefaultSettings()
	disabled := []WorldbookEntry{{
		ID: "local",
		Items: []WorldbookEntryItem{
			{ID: "l1", Title: "a", Content: "one", Enabled: false},
			{ID: "l2", Title: "b", Content: "two", Enabled: false},
		},
	}}

	withDisabled := BuildSystemPrompt(settings, "x", testGlobalLore(), disabled, ModeChat)
	withNone := BuildSystemPrompt(settings, "x", testGlobalLore(), nil, ModeChat)

	assert.Equal(t, withNone, withDisabled)
}

func TestBuildSystemPrompt_DeletedDefaultLoreKeepsHardcodedGuidance(t *testing.T) {
	prompt := BuildSystemPrompt(DefaultSettings(), "x", nil, nil, ModeChat)

	assert.Contains(t, prompt, "【当前模式：聊天模式】")
	assert.Contains(t, prompt, "<VOICE 秒数>")
	assert.NotContains(t, prompt, chatModeLore)
}

func TestBuildSystemPrompt_ContactNameFallback(t *testing.T) {
	settings := DefaultSettings()
	settings.Nickname = "小林"

	prompt := BuildSystemPrompt(settings, "", nil, nil, ModeChat)

	assert.Contains(t, prompt, "显示的名字是：小林")
}

func TestBuildSystemPrompt_OnlyNonEmptyFacts(t *testing.T) {
	settings := DefaultSettings()
	settings.CallMeAs = "哥哥"

	prompt := BuildSystemPrompt(settings, "x", nil, nil, ModeChat)

	assert.Contains(t, prompt, "你称呼我为哥哥。")
	assert.NotContains(t, prompt, "你的真实姓名是")
	assert.NotContains(t, prompt, "你的聊天风格")
}

func TestBuildSystemPrompt_EmbedsCurrentState(t *testing.T) {
	settings := DefaultSettings()
	settings.Clothing = "睡衣"
	settings.Favorability = 73

	prompt := BuildSystemPrompt(settings, "x", nil, nil, ModeChat)

	assert.Contains(t, prompt, "穿着：睡衣")
	assert.Contains(t, prompt, "好感度：73/100")
	assert.Contains(t, prompt, "穿着状态：无")
}

func TestBuildSystemPrompt_Deterministic(t *testing.T) {
	settings := DefaultSettings()
	a := BuildSystemPrompt(settings, "x", testGlobalLore(), nil, ModeChat)
	b := BuildSystemPrompt(settings, "x", testGlobalLore(), nil, ModeChat)
	assert.Equal(t, a, b)
}
