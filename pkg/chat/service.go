// Package chat drives one companion conversation: it records what the user
// sends, asks the model for a reply, applies the reply's state directives and
// delivers the rest as messages.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"xiaoshouji/pkg/completion"
	"xiaoshouji/pkg/media"
	"xiaoshouji/pkg/metrics"
	"xiaoshouji/pkg/pacer"
	"xiaoshouji/pkg/persona"
	"xiaoshouji/pkg/reply"
	"xiaoshouji/pkg/store"
)

var (
	// ErrBusy is returned while a reply for the same conversation is in flight.
	ErrBusy = errors.New("a reply is already being generated for this conversation")
	// ErrEmptyReply is returned when the model produced nothing usable.
	ErrEmptyReply = errors.New("the model produced no content")
	// ErrEmptyInput is returned for a send with neither text nor payload.
	ErrEmptyInput = errors.New("nothing to send")
)

// Input is what the user sends. At most one of Image and RedPacket is used.
type Input struct {
	Text      string
	Mode      persona.Mode
	Image     *Image
	RedPacket *RedPacketInput
}

type RedPacketInput struct {
	Amount float64
	Note   string
}

// Reply describes what one completion turned into.
type Reply struct {
	Mode persona.Mode `json:"mode"`
	// Appended holds messages written to the log right away.
	Appended []Message `json:"appended"`
	// Queued is how many bubbles were handed to the pacer instead.
	Queued int `json:"queued"`
	// Settings is set when directives changed the persona state.
	Settings *persona.CharacterSettings `json:"settings,omitempty"`
}

type EventType string

const EventBubble EventType = "bubble"

// Event is pushed to subscribers when the pacer releases a bubble.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	Message        Message   `json:"message"`
}

type Options struct {
	// App names the global worldbook used in prompts.
	App     string
	History HistoryWindow
	Chunker reply.Chunker
	Pacer   []pacer.Option
	Images  *media.ImageProcessor
}

type Service struct {
	repo      *store.Repository
	log       *Log
	completer completion.Completer
	pacer     *pacer.Queue
	opts      Options

	mu     sync.Mutex
	active string
	busy   map[string]bool

	subsMu sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
}

func NewService(repo *store.Repository, completer completion.Completer, opts Options) *Service {
	if opts.App == "" {
		opts.App = persona.DefaultApp
	}
	if opts.Chunker.MaxChars <= 0 {
		opts.Chunker = reply.DefaultChunker
	}
	if opts.Images == nil {
		opts.Images = media.NewImageProcessor(media.DefaultOptions)
	}

	s := &Service{
		repo:      repo,
		log:       NewLog(repo),
		completer: completer,
		opts:      opts,
		busy:      make(map[string]bool),
		subs:      make(map[uint64]chan Event),
	}
	s.pacer = pacer.New(s.deliverBubble, opts.Pacer...)
	return s
}

func (s *Service) Log() *Log {
	return s.log
}

func (s *Service) Repository() *store.Repository {
	return s.repo
}

// SetActive marks the conversation the user is looking at. Bubbles still
// queued for the previous one are discarded.
func (s *Service) SetActive(conversationID string) {
	s.mu.Lock()
	prev := s.active
	s.active = conversationID
	s.mu.Unlock()

	if prev != "" && prev != conversationID {
		s.pacer.Clear(prev)
	}
}

func (s *Service) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Subscribe returns released bubbles and a function that stops delivery.
func (s *Service) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)

	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) publish(ev Event) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("conversation", ev.ConversationID).Msg("Event subscriber is full, bubble event dropped")
		}
	}
}

// deliverBubble persists a released bubble and tells subscribers. A bubble
// cleared after its release is dropped.
func (s *Service) deliverBubble(b pacer.Bubble) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := messageFromSegment(b.Segment, persona.ModeChat)
	kept, err := s.log.appendIf(ctx, b.ConversationID, func() bool { return s.pacer.Live(b) }, msg)
	if err != nil {
		log.Error().Err(err).Str("conversation", b.ConversationID).Msg("Failed to persist bubble")
		return
	}
	if !kept {
		log.Debug().Str("conversation", b.ConversationID).Msg("Dropped bubble cleared after release")
		return
	}
	s.publish(Event{Type: EventBubble, ConversationID: b.ConversationID, Message: msg})
}

// ClearConversation stops pending bubbles and forgets everything stored for
// the conversation.
func (s *Service) ClearConversation(ctx context.Context, conversationID string) error {
	s.pacer.Clear(conversationID)
	return s.log.Clear(ctx, conversationID)
}

// DeleteContact removes the contact along with its conversation.
func (s *Service) DeleteContact(ctx context.Context, id string) error {
	s.pacer.Clear(id)
	err := s.log.exclusive(func() error {
		return s.repo.DeleteContact(ctx, id)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.active == id {
		s.active = ""
	}
	s.mu.Unlock()
	return nil
}

func (s *Service) acquire(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[conversationID] {
		return ErrBusy
	}
	s.busy[conversationID] = true
	return nil
}

func (s *Service) release(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, conversationID)
}

// Send records the user's message and produces the companion's reply. The
// user's message stays in the log even when the completion fails.
func (s *Service) Send(ctx context.Context, conversationID string, in Input) (Reply, error) {
	msg, err := userMessage(in)
	if err != nil {
		return Reply{}, err
	}
	if err := s.acquire(conversationID); err != nil {
		return Reply{}, err
	}
	defer s.release(conversationID)

	settings, err := s.repo.Settings(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}
	mode := settings.Mode
	if in.Mode != "" {
		mode = persona.ParseMode(string(in.Mode))
	}
	msg.Mode = mode

	if err := s.log.Append(ctx, conversationID, msg); err != nil {
		return Reply{}, fmt.Errorf("failed to record message: %w", err)
	}

	if settings.Mode != mode {
		settings.Mode = mode
		if _, err := s.repo.SaveSettings(ctx, conversationID, settings); err != nil {
			return Reply{}, err
		}
	}

	return s.generate(ctx, conversationID, mode)
}

// Regenerate discards the companion's last turn and asks again.
func (s *Service) Regenerate(ctx context.Context, conversationID string) (Reply, error) {
	if err := s.acquire(conversationID); err != nil {
		return Reply{}, err
	}
	defer s.release(conversationID)

	s.pacer.Clear(conversationID)
	dropped, err := s.log.DropTrailingReplies(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}
	log.Debug().Str("conversation", conversationID).Int("dropped", dropped).Msg("Regenerating reply")

	settings, err := s.repo.Settings(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}
	return s.generate(ctx, conversationID, settings.Mode)
}

// OpenRedPacket opens a companion's red packet on the player's behalf.
func (s *Service) OpenRedPacket(ctx context.Context, conversationID, messageID string) (Message, error) {
	return s.log.Update(ctx, conversationID, messageID, func(m *Message) error {
		return m.OpenRedPacket()
	})
}

func userMessage(in Input) (Message, error) {
	text := strings.TrimSpace(in.Text)
	msg := newMessage(SenderMe, persona.ModeChat, text)

	switch {
	case in.RedPacket != nil:
		if in.RedPacket.Amount <= 0 {
			return Message{}, fmt.Errorf("red packet amount must be positive")
		}
		note := strings.TrimSpace(in.RedPacket.Note)
		if note == "" {
			note = reply.DefaultRedPacketNote
		}
		msg.RedPacket = &RedPacket{
			Amount:   reply.ClampAmount(in.RedPacket.Amount),
			Note:     note,
			OpenedBy: OpenedByNone,
		}
		if msg.Content == "" {
			msg.Content = note
		}
	case in.Image != nil:
		if !media.IsImageRef(in.Image.URL) {
			return Message{}, fmt.Errorf("image url is not an image reference")
		}
		msg.Image = &Image{
			URL:         strings.TrimSpace(in.Image.URL),
			Description: strings.TrimSpace(in.Image.Description),
		}
	case text == "":
		return Message{}, ErrEmptyInput
	}
	return msg, nil
}

func (s *Service) generate(ctx context.Context, conversationID string, mode persona.Mode) (Reply, error) {
	settings, err := s.repo.Settings(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}
	global, err := s.repo.GlobalLore(ctx, s.opts.App)
	if err != nil {
		return Reply{}, err
	}
	local, err := s.repo.LocalLore(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}
	history, err := s.log.Messages(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}

	contactName := ""
	if contact, err := s.repo.Contact(ctx, conversationID); err == nil {
		contactName = contact.DisplayName(settings)
	}

	turns, tokens := s.opts.History.Build(history)
	metrics.AddPromptTokens(tokens)

	messages := make([]completion.Message, 0, len(turns)+1)
	messages = append(messages, completion.Message{
		Role:    completion.RoleSystem,
		Content: persona.BuildSystemPrompt(settings, contactName, global, local, mode),
	})
	messages = append(messages, turns...)

	raw, err := s.completer.Complete(ctx, messages)
	if err != nil {
		if errors.Is(err, completion.ErrEmptyCompletion) {
			metrics.IncReplyFailure("empty")
			return Reply{}, ErrEmptyReply
		}
		metrics.IncReplyFailure("completion")
		return Reply{}, fmt.Errorf("completion failed: %w", err)
	}

	parsed := reply.Parse(raw, mode)
	metrics.AddDirectivesDropped(parsed.Dropped)

	out := Reply{Mode: mode}
	if updated, changed := s.applyDirectives(settings, parsed, history); changed {
		saved, err := s.repo.SaveSettings(ctx, conversationID, updated)
		if err != nil {
			return Reply{}, err
		}
		out.Settings = &saved
	}

	if len(parsed.Segments) == 0 {
		if out.Settings != nil {
			return out, nil
		}
		metrics.IncReplyFailure("empty")
		return Reply{}, ErrEmptyReply
	}
	metrics.IncReplies(string(mode))

	if mode == persona.ModeStory {
		msg := newMessage(SenderAI, mode, parsed.Segments[0].Text)
		if err := s.log.Append(ctx, conversationID, msg); err != nil {
			return Reply{}, err
		}
		out.Appended = []Message{msg}
		return out, nil
	}

	bubbles := s.toBubbles(parsed.Segments)
	if s.Active() == conversationID {
		s.pacer.Enqueue(conversationID, bubbles)
		out.Queued = len(bubbles)
		return out, nil
	}

	// Nobody is watching: write the reply straight to the log, unchunked.
	for _, seg := range parsed.Segments {
		out.Appended = append(out.Appended, messageFromSegment(seg, mode))
	}
	if err := s.log.Append(ctx, conversationID, out.Appended...); err != nil {
		return Reply{}, err
	}
	return out, nil
}

// toBubbles chunks text segments; voice and red packets pass through whole.
func (s *Service) toBubbles(segments []reply.Segment) []pacer.Bubble {
	var bubbles []pacer.Bubble
	for _, seg := range segments {
		if seg.Kind != reply.SegmentText {
			bubbles = append(bubbles, pacer.Bubble{Segment: seg})
			continue
		}
		for _, text := range s.opts.Chunker.Chunk(seg.Text) {
			bubbles = append(bubbles, pacer.Bubble{Segment: reply.Segment{Kind: reply.SegmentText, Text: text}})
		}
	}
	return bubbles
}

// applyDirectives merges the reply's state directives into settings. Absent
// keys are never reset.
func (s *Service) applyDirectives(settings persona.CharacterSettings, parsed reply.Result, history []Message) (persona.CharacterSettings, bool) {
	changed := false

	if parsed.Status != nil && !parsed.Status.Empty() {
		settings.ApplyStatus(*parsed.Status)
		changed = true
	}
	if parsed.Signature != nil {
		settings.Signature = *parsed.Signature
		changed = true
	}
	if parsed.Avatar != nil {
		if ref, ok := s.pickImage(*parsed.Avatar, history, s.opts.Images.NormalizeAvatar); ok {
			settings.Avatar = ref
			changed = true
		}
	}
	if parsed.MomentsCover != nil {
		if ref, ok := s.pickImage(*parsed.MomentsCover, history, s.opts.Images.NormalizeCover); ok {
			settings.MomentsCover = ref
			changed = true
		}
	}
	return settings, changed
}

// pickImage prefers the latest image the user sent; a text payload is used
// only when it is itself an image reference.
func (s *Service) pickImage(payload string, history []Message, normalize func(string) (string, error)) (string, bool) {
	ref := lastUserImage(history)
	if ref == "" {
		if !media.IsImageRef(payload) {
			log.Debug().Str("payload", payload).Msg("Ignoring image update without an image")
			return "", false
		}
		ref = payload
	}
	normalized, err := normalize(ref)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to normalise image")
		return "", false
	}
	return normalized, true
}

func lastUserImage(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if m := history[i]; m.Sender == SenderMe && m.Image != nil && m.Image.URL != "" {
			return m.Image.URL
		}
	}
	return ""
}
