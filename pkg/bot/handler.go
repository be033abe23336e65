// Package bot is the Discord frontend: every DM channel is one conversation
// with the companion.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"xiaoshouji/pkg/chat"
	"xiaoshouji/pkg/persona"
	"xiaoshouji/pkg/reply"
	"xiaoshouji/pkg/store"
)

// replyTimeout bounds one Discord message from receipt to the last bubble.
const replyTimeout = 3 * time.Minute

type Handler struct {
	svc     *chat.Service
	repo    *store.Repository
	botID   string
	typing  TypingConfig
	chunker reply.Chunker
	sleep   func(time.Duration)

	// channels holds the DM channels this handler has talked in.
	channels   map[string]struct{}
	channelsMu sync.RWMutex
}

func NewHandler(svc *chat.Service) *Handler {
	return &Handler{
		svc:      svc,
		repo:     svc.Repository(),
		typing:   DefaultTypingConfig,
		chunker:  reply.DefaultChunker,
		sleep:    time.Sleep,
		channels: make(map[string]struct{}),
	}
}

func (h *Handler) SetBotID(id string) {
	h.botID = id
}

func (h *Handler) SetTypingConfig(cfg TypingConfig) {
	h.typing = cfg
}

func (h *Handler) SetChunker(c reply.Chunker) {
	h.chunker = c
}

func (h *Handler) track(channelID string) {
	h.channelsMu.Lock()
	h.channels[channelID] = struct{}{}
	h.channelsMu.Unlock()
}

func (h *Handler) tracked(channelID string) bool {
	h.channelsMu.RLock()
	defer h.channelsMu.RUnlock()
	_, ok := h.channels[channelID]
	return ok
}

func (h *Handler) MessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	h.HandleMessage(&DiscordSession{s}, m)
}

func (h *Handler) HandleMessage(s Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == h.botID || m.Author.Bot {
		return
	}

	// Only DMs: a group channel has no single conversation partner.
	channel, err := s.Channel(m.ChannelID)
	if err != nil || channel.Type != discordgo.ChannelTypeDM {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	displayName := m.Author.Username
	if m.Author.GlobalName != "" {
		displayName = m.Author.GlobalName
	}
	if _, err := h.repo.EnsureContact(ctx, m.ChannelID, displayName); err != nil {
		log.Error().Err(err).Str("channel", m.ChannelID).Msg("Failed to register contact")
		return
	}
	h.track(m.ChannelID)

	content := strings.TrimSpace(m.Content)
	if h.handleCommand(ctx, s, m.ChannelID, content) {
		return
	}

	in := chat.Input{Text: content}
	for _, att := range m.Attachments {
		if strings.HasPrefix(att.ContentType, "image/") {
			in.Image = &chat.Image{URL: att.URL, Description: att.Filename}
			break
		}
	}

	startTyping(s, m.ChannelID)
	out, err := h.svc.Send(ctx, m.ChannelID, in)
	h.handleResult(s, m.ChannelID, out, err)
}

// handleResult sends what the service appended directly. Paced bubbles
// arrive through Run instead.
func (h *Handler) handleResult(s Session, channelID string, out chat.Reply, err error) {
	if err != nil {
		h.notifyError(s, channelID, err)
		return
	}

	mood := persona.DefaultMood
	if out.Settings != nil {
		mood = out.Settings.Mood
		h.updatePresence(s, *out.Settings)
	}
	for _, msg := range out.Appended {
		h.deliver(s, channelID, msg, mood)
	}
}

func (h *Handler) notifyError(s Session, channelID string, err error) {
	var notice string
	switch {
	case errors.Is(err, chat.ErrBusy):
		notice = "（对方正在输入中…）"
	case errors.Is(err, chat.ErrEmptyInput):
		return
	case errors.Is(err, chat.ErrEmptyReply):
		notice = "（对方没有回复）"
	default:
		log.Error().Err(err).Str("channel", channelID).Msg("Reply failed")
		notice = "（消息发送失败，请稍后再试）"
	}
	if _, err := s.ChannelMessageSend(channelID, notice); err != nil {
		log.Error().Err(err).Msg("Error sending notice")
	}
}

// Run relays bubbles the pacer releases for DM conversations until ctx ends.
func (h *Handler) Run(ctx context.Context, s Session) {
	events, cancel := h.svc.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !h.tracked(ev.ConversationID) {
				continue
			}
			h.sendPaced(s, ev.ConversationID, formatMessage(ev.Message))
		}
	}
}

// updatePresence mirrors the companion's signature into the bot's custom status.
func (h *Handler) updatePresence(s Session, settings persona.CharacterSettings) {
	if settings.Signature == "" {
		return
	}
	err := s.UpdateStatusComplex(discordgo.UpdateStatusData{
		Activities: []*discordgo.Activity{
			{
				Name:  "Signature",
				Type:  discordgo.ActivityTypeCustom,
				State: settings.Signature,
			},
		},
		Status: "online",
	})
	if err != nil {
		log.Warn().Err(err).Msg("Error updating status")
	}
}
