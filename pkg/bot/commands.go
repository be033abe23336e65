package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"xiaoshouji/pkg/chat"
	"xiaoshouji/pkg/persona"
)

// handleCommand runs a "!" command and reports whether content was one.
func (h *Handler) handleCommand(ctx context.Context, s Session, channelID, content string) bool {
	if !strings.HasPrefix(content, "!") {
		return false
	}

	var notice string
	switch strings.ToLower(strings.Fields(content)[0]) {
	case "!chat":
		notice = h.switchMode(ctx, channelID, persona.ModeChat)
	case "!story":
		notice = h.switchMode(ctx, channelID, persona.ModeStory)
	case "!regen":
		startTyping(s, channelID)
		out, err := h.svc.Regenerate(ctx, channelID)
		h.handleResult(s, channelID, out, err)
		return true
	case "!open":
		notice = h.openLatestRedPacket(ctx, channelID)
	case "!status":
		settings, err := h.repo.Settings(ctx, channelID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load settings")
			return true
		}
		notice = persona.StatusSummary(settings)
	case "!reset":
		if err := h.svc.ClearConversation(ctx, channelID); err != nil {
			log.Error().Err(err).Msg("Failed to clear conversation")
			return true
		}
		notice = "（聊天记录已清空）"
	default:
		return false
	}

	if notice != "" {
		if _, err := s.ChannelMessageSend(channelID, notice); err != nil {
			log.Error().Err(err).Msg("Error sending command reply")
		}
	}
	return true
}

func (h *Handler) switchMode(ctx context.Context, channelID string, mode persona.Mode) string {
	settings, err := h.repo.Settings(ctx, channelID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load settings")
		return ""
	}
	settings.Mode = mode
	if _, err := h.repo.SaveSettings(ctx, channelID, settings); err != nil {
		log.Error().Err(err).Msg("Failed to save settings")
		return ""
	}
	if mode == persona.ModeStory {
		return "（已切换到剧情模式）"
	}
	return "（已切换到聊天模式）"
}

// openLatestRedPacket opens the newest unopened red packet from the companion.
func (h *Handler) openLatestRedPacket(ctx context.Context, channelID string) string {
	msgs, err := h.svc.Log().Messages(ctx, channelID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load messages")
		return ""
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Sender != chat.SenderAI || m.RedPacket == nil || m.RedPacket.OpenedBy != chat.OpenedByNone {
			continue
		}
		opened, err := h.svc.OpenRedPacket(ctx, channelID, m.ID)
		if err != nil {
			log.Warn().Err(err).Str("message", m.ID).Msg("Failed to open red packet")
			return ""
		}
		return fmt.Sprintf("（你领取了红包 ¥%.2f）", opened.RedPacket.Amount)
	}
	return "（没有可以领取的红包）"
}
