package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"xiaoshouji/pkg/store"
)

var ErrMessageNotFound = errors.New("message not found")

// Log is the append-only message log of every conversation, persisted after
// each mutation.
type Log struct {
	repo *store.Repository
	mu   sync.Mutex
}

func NewLog(repo *store.Repository) *Log {
	return &Log{repo: repo}
}

func (l *Log) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx, conversationID)
}

func (l *Log) load(ctx context.Context, conversationID string) ([]Message, error) {
	var msgs []Message
	if _, err := l.repo.LoadJSON(ctx, store.MessagesKey(conversationID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (l *Log) save(ctx context.Context, conversationID string, msgs []Message) error {
	return l.repo.SaveJSON(ctx, store.MessagesKey(conversationID), msgs, store.Change{
		Topic:          store.TopicMessages,
		ConversationID: conversationID,
	})
}

// Append validates and appends msgs.
func (l *Log) Append(ctx context.Context, conversationID string, msgs ...Message) error {
	_, err := l.appendIf(ctx, conversationID, nil, msgs...)
	return err
}

// appendIf appends msgs only if keep, checked under the log lock, still
// agrees. A nil keep always appends.
func (l *Log) appendIf(ctx context.Context, conversationID string, keep func() bool, msgs ...Message) (bool, error) {
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return false, fmt.Errorf("invalid message: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if keep != nil && !keep() {
		return false, nil
	}
	existing, err := l.load(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return true, l.save(ctx, conversationID, append(existing, msgs...))
}

// Clear forgets the conversation's messages, settings and local lore.
func (l *Log) Clear(ctx context.Context, conversationID string) error {
	return l.exclusive(func() error {
		return l.repo.ClearConversation(ctx, conversationID)
	})
}

// exclusive runs fn with no log mutation in progress.
func (l *Log) exclusive(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

// Update applies fn to the message with id and persists the result. Nothing is
// written when fn fails.
func (l *Log) Update(ctx context.Context, conversationID, id string, fn func(*Message) error) (Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs, err := l.load(ctx, conversationID)
	if err != nil {
		return Message{}, err
	}
	for i := range msgs {
		if msgs[i].ID != id {
			continue
		}
		updated := msgs[i]
		if updated.RedPacket != nil {
			rp := *updated.RedPacket
			updated.RedPacket = &rp
		}
		if err := fn(&updated); err != nil {
			return Message{}, err
		}
		msgs[i] = updated
		return updated, l.save(ctx, conversationID, msgs)
	}
	return Message{}, ErrMessageNotFound
}

// DropTrailingReplies removes the companion messages after the last user
// message and returns how many were removed.
func (l *Log) DropTrailingReplies(ctx context.Context, conversationID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs, err := l.load(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	end := len(msgs)
	for end > 0 && msgs[end-1].Sender == SenderAI {
		end--
	}
	dropped := len(msgs) - end
	if dropped == 0 {
		return 0, nil
	}
	return dropped, l.save(ctx, conversationID, msgs[:end])
}
