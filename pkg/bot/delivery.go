package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"xiaoshouji/pkg/chat"
	"xiaoshouji/pkg/persona"
)

// discordLimit stays under Discord's 2000 character message cap.
const discordLimit = 1900

// deliver sends one appended companion message. Chat-mode text is split into
// bubbles the same way the phone UI would show it.
func (h *Handler) deliver(s Session, channelID string, msg chat.Message, mood int) {
	if msg.Mode == persona.ModeChat && msg.Voice == nil && msg.RedPacket == nil {
		for _, bubble := range h.chunker.Chunk(msg.Content) {
			h.send(s, channelID, bubble, mood)
		}
		return
	}
	h.send(s, channelID, formatMessage(msg), mood)
}

func (h *Handler) send(s Session, channelID, content string, mood int) {
	for _, part := range splitForDiscord(content, discordLimit) {
		h.SimulateTyping(s, channelID, utf8.RuneCountInString(part), mood)
		post(s, channelID, part)
	}
}

// sendPaced posts a bubble the pacer already held back, so no typing delay is
// added on top.
func (h *Handler) sendPaced(s Session, channelID, content string) {
	for _, part := range splitForDiscord(content, discordLimit) {
		post(s, channelID, part)
	}
}

func post(s Session, channelID, part string) {
	if _, err := s.ChannelMessageSend(channelID, part); err != nil {
		log.Error().Err(err).Str("channel", channelID).Msg("Error sending message part")
	}
}

func startTyping(s Session, channelID string) {
	if err := s.ChannelTyping(channelID); err != nil {
		log.Warn().Err(err).Str("channel", channelID).Msg("Error starting typing indicator")
	}
}

func formatMessage(msg chat.Message) string {
	switch {
	case msg.Voice != nil:
		return fmt.Sprintf("🎤 语音 %d″\n> %s", msg.Voice.Duration, msg.Content)
	case msg.RedPacket != nil:
		s := fmt.Sprintf("🧧 红包 ¥%.2f｜%s", msg.RedPacket.Amount, msg.RedPacket.Note)
		if msg.RedPacket.OpenedBy == chat.OpenedByNone {
			s += "\n（发送 !open 领取）"
		}
		return s
	}
	return msg.Content
}

// splitForDiscord cuts content into parts of at most limit runes, preferring
// to cut at a line break.
func splitForDiscord(content string, limit int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var parts []string
	runes := []rune(content)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		if part := strings.TrimSpace(string(runes[:cut])); part != "" {
			parts = append(parts, part)
		}
		runes = runes[cut:]
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}
