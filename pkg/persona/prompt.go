package persona

import (
	"fmt"
	"strings"
)

// BuildSystemPrompt assembles the system prompt sent with every completion.
// The section order is fixed: later sections tend to win over earlier ones
// with most models, so mode rules and the status block come last.
func BuildSystemPrompt(settings CharacterSettings, contactName string, global, local []WorldbookEntry, mode Mode) string {
	if contactName == "" {
		contactName = settings.DisplayName()
	}

	var sections []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sections = append(sections, s)
		}
	}

	add(fmt.Sprintf(rolePreamble, contactName))

	if mode == ModeStory {
		add(storyModeGuidance)
	} else {
		add(chatModeGuidance)
	}

	// Designated mode rules first, then every other enabled global item.
	globalItems := EnabledItems(global)
	modeID := ModeRulesItemID(mode)
	for _, item := range globalItems {
		if item.ID == modeID {
			add(item.Content)
			break
		}
	}
	for _, item := range globalItems {
		if isModeRulesItem(item.ID) {
			continue
		}
		add(loreLine(item, false))
	}

	for _, item := range EnabledItems(local) {
		add(loreLine(item, true))
	}

	add(universalGuidance)

	if mode == ModeStory {
		add(storyAuxiliaryRules)
	} else {
		add(chatAuxiliaryRules)
	}

	add(settingsFacts(settings))

	if mode == ModeStory {
		add(storyReplyStyle)
	} else {
		add(chatReplyStyle)
	}

	add(fmt.Sprintf(statusInstruction, StatusSummary(settings)))

	return strings.Join(sections, "\n\n")
}

func loreLine(item WorldbookEntryItem, local bool) string {
	content := strings.TrimSpace(item.Content)
	if content == "" {
		return ""
	}
	if local {
		return fmt.Sprintf("【%s】（本地设定）%s", item.Title, content)
	}
	return fmt.Sprintf("【%s】%s", item.Title, content)
}

// settingsFacts renders one sentence per non-empty settings field.
func settingsFacts(s CharacterSettings) string {
	facts := []struct {
		value  string
		format string
	}{
		{s.RealName, "你的真实姓名是%s。"},
		{s.Nickname, "你的微信昵称是%s。"},
		{s.CallMeAs, "你称呼我为%s。"},
		{s.TheirGender, "你的性别是%s。"},
		{s.TheirIdentity, "你的身份是：%s。"},
		{s.MyGender, "我的性别是%s。"},
		{s.MyIdentity, "我的身份是：%s。"},
		{s.ChatStyle, "你的聊天风格：%s。"},
		{s.OpeningLine, "你们第一次聊天时，你说的第一句话是：%s"},
	}

	var b strings.Builder
	for _, f := range facts {
		v := strings.TrimSpace(f.value)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, f.format, v)
	}
	return b.String()
}

// StatusSummary renders the current role-play state for the status block.
func StatusSummary(s CharacterSettings) string {
	orNone := func(v string) string {
		if strings.TrimSpace(v) == "" {
			return "无"
		}
		return v
	}

	var b strings.Builder
	fmt.Fprintf(&b, "穿着：%s\n", orNone(s.Clothing))
	fmt.Fprintf(&b, "穿着状态：%s\n", orNone(s.ClothingState))
	fmt.Fprintf(&b, "内心想法：%s\n", orNone(s.InnerThoughts))
	fmt.Fprintf(&b, "身体状态：%s\n", orNone(s.GenitalState))
	fmt.Fprintf(&b, "正在做的事：%s\n", orNone(s.Action))
	fmt.Fprintf(&b, "欲望值：%d/100\n", s.Desire)
	fmt.Fprintf(&b, "心情：%d/100\n", s.Mood)
	fmt.Fprintf(&b, "好感度：%d/100\n", s.Favorability)
	fmt.Fprintf(&b, "嫉妒值：%d/100", s.Jealousy)
	return b.String()
}
