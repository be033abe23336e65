package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiaoshouji/pkg/persona"
	"xiaoshouji/pkg/store"
)

func newTestLog() (*Log, *store.Repository) {
	repo := store.NewRepository(store.NewMemoryKV(), store.NewBroker())
	return NewLog(repo), repo
}

func TestLog_AppendAndReload(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLog()

	first := newMessage(SenderMe, persona.ModeChat, "早")
	second := newMessage(SenderAI, persona.ModeChat, "早呀")
	require.NoError(t, l.Append(ctx, "c1", first))
	require.NoError(t, l.Append(ctx, "c1", second))

	msgs, err := NewLog(repo).Messages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, second.ID, msgs[1].ID)

	other, err := l.Messages(ctx, "c2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestLog_AppendRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog()

	bad := newMessage(SenderAI, persona.ModeChat, "")
	bad.Voice = &Voice{Duration: 0}

	assert.Error(t, l.Append(ctx, "c1", newMessage(SenderMe, persona.ModeChat, "ok"), bad))

	msgs, err := l.Messages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLog_AppendPublishesChange(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLog()
	changes, cancel := repo.Broker().Subscribe(4)
	defer cancel()

	require.NoError(t, l.Append(ctx, "c1", newMessage(SenderMe, persona.ModeChat, "hi")))

	c := <-changes
	assert.Equal(t, store.TopicMessages, c.Topic)
	assert.Equal(t, "c1", c.ConversationID)
}

func TestLog_UpdateLeavesLogUntouchedOnError(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog()

	rp := newMessage(SenderAI, persona.ModeChat, "红包")
	rp.RedPacket = &RedPacket{Amount: 1, Note: "红包", OpenedBy: OpenedByNone}
	require.NoError(t, l.Append(ctx, "c1", rp))

	opened, err := l.Update(ctx, "c1", rp.ID, func(m *Message) error { return m.OpenRedPacket() })
	require.NoError(t, err)
	assert.Equal(t, OpenedByPlayer, opened.RedPacket.OpenedBy)

	_, err = l.Update(ctx, "c1", rp.ID, func(m *Message) error { return m.OpenRedPacket() })
	assert.ErrorIs(t, err, ErrAlreadyOpened)

	_, err = l.Update(ctx, "c1", "missing", func(*Message) error { return nil })
	assert.ErrorIs(t, err, ErrMessageNotFound)

	msgs, err := l.Messages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, OpenedByPlayer, msgs[0].RedPacket.OpenedBy)
}

func TestLog_DropTrailingReplies(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog()

	require.NoError(t, l.Append(ctx, "c1",
		newMessage(SenderAI, persona.ModeChat, "开场白"),
		newMessage(SenderMe, persona.ModeChat, "你好"),
		newMessage(SenderAI, persona.ModeChat, "嗨"),
		newMessage(SenderAI, persona.ModeChat, "在干嘛"),
	))

	n, err := l.DropTrailingReplies(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	msgs, err := l.Messages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "你好", msgs[1].Content)

	n, err = l.DropTrailingReplies(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLog_AppendIfSkipsWhenRejected(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog()

	kept, err := l.appendIf(ctx, "c1", func() bool { return false }, newMessage(SenderAI, persona.ModeChat, "迟到的"))
	require.NoError(t, err)
	assert.False(t, kept)

	kept, err = l.appendIf(ctx, "c1", func() bool { return true }, newMessage(SenderAI, persona.ModeChat, "准时的"))
	require.NoError(t, err)
	assert.True(t, kept)

	msgs, err := l.Messages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "准时的", msgs[0].Content)
}

func TestLog_Clear(t *testing.T) {
	ctx := context.Background()
	l, repo := newTestLog()

	require.NoError(t, l.Append(ctx, "c1", newMessage(SenderMe, persona.ModeChat, "hi")))
	_, err := repo.SaveSettings(ctx, "c1", persona.DefaultSettings())
	require.NoError(t, err)

	require.NoError(t, l.Clear(ctx, "c1"))

	msgs, err := l.Messages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	ids, err := repo.Conversations(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, "c1")
}
