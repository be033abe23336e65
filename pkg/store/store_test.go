package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiaoshouji/pkg/persona"
	"xiaoshouji/pkg/surreal"
)

func TestMemoryKV(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "messages:b", []byte("2")))
	require.NoError(t, kv.Set(ctx, "messages:a", []byte("1")))
	require.NoError(t, kv.Set(ctx, "settings:a", []byte("x")))

	v, err := kv.Get(ctx, "messages:a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	keys, err := kv.Keys(ctx, "messages:")
	require.NoError(t, err)
	assert.Equal(t, []string{"messages:a", "messages:b"}, keys)

	require.NoError(t, kv.Delete(ctx, "messages:a", "nope"))
	_, err = kv.Get(ctx, "messages:a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker()
	first, cancelFirst := b.Subscribe(4)
	second, cancelSecond := b.Subscribe(4)
	defer cancelSecond()

	b.Publish(Change{Topic: TopicSettings, ConversationID: "c1"})

	for _, ch := range []<-chan Change{first, second} {
		select {
		case c := <-ch:
			assert.Equal(t, TopicSettings, c.Topic)
			assert.Equal(t, "c1", c.ConversationID)
			assert.Equal(t, b.ID(), c.Origin)
			assert.False(t, c.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("change not delivered")
		}
	}

	cancelFirst()
	cancelFirst()
	_, open := <-first
	assert.False(t, open, "cancel closes the channel")

	// a full subscriber does not block publishers
	for i := 0; i < 10; i++ {
		b.Publish(Change{Topic: TopicMessages})
	}
}

func TestDecodeChange(t *testing.T) {
	c, err := decodeChange(`{"topic":"messages","conversationId":"x","origin":"other"}`)
	require.NoError(t, err)
	assert.Equal(t, TopicMessages, c.Topic)

	_, err = decodeChange(`{"topic":"messages"}`)
	assert.Error(t, err)

	_, err = decodeChange(`not json`)
	assert.Error(t, err)
}

func newTestRepository() (*Repository, *MemoryKV) {
	kv := NewMemoryKV()
	return NewRepository(kv, NewBroker()), kv
}

func TestRepository_SettingsDefaultsAndNormalize(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository()

	s, err := repo.Settings(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, persona.DefaultSettings(), s)

	s.Desire = 150
	s.Mood = -10
	saved, err := repo.SaveSettings(ctx, "c1", s)
	require.NoError(t, err)
	assert.Equal(t, 100, saved.Desire)
	assert.Equal(t, 0, saved.Mood)

	loaded, err := repo.Settings(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestRepository_CorruptValuesFallBack(t *testing.T) {
	ctx := context.Background()
	repo, kv := newTestRepository()

	require.NoError(t, kv.Set(ctx, SettingsKey("c1"), []byte("{not json")))
	require.NoError(t, kv.Set(ctx, LocalLoreKey("c1"), []byte("[[[")))
	require.NoError(t, kv.Set(ctx, ContactsKey, []byte("nope")))

	s, err := repo.Settings(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, persona.DefaultSettings(), s)

	lore, err := repo.LocalLore(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, lore)

	contacts, err := repo.Contacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, contacts)
}

func TestRepository_PartialSettingsKeepDefaults(t *testing.T) {
	ctx := context.Background()
	repo, kv := newTestRepository()

	require.NoError(t, kv.Set(ctx, SettingsKey("c1"), []byte(`{"nickname":"夏夏"}`)))

	s, err := repo.Settings(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "夏夏", s.Nickname)
	assert.Equal(t, persona.DefaultMood, s.Mood)
}

type failingKV struct{ *MemoryKV }

func (failingKV) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestRepository_BackendErrorsSurface(t *testing.T) {
	repo := NewRepository(failingKV{NewMemoryKV()}, nil)

	_, err := repo.Settings(context.Background(), "c1")
	assert.ErrorContains(t, err, "connection refused")
}

func TestRepository_GlobalLoreSeedsDefaults(t *testing.T) {
	ctx := context.Background()
	repo, kv := newTestRepository()

	lore, err := repo.GlobalLore(ctx, persona.DefaultApp)
	require.NoError(t, err)
	require.NotEmpty(t, lore)
	assert.Equal(t, persona.DefaultRulesEntryID, lore[0].ID)

	_, err = kv.Get(ctx, GlobalLoreKey(persona.DefaultApp))
	assert.NoError(t, err, "seeded lore is written back")

	other, err := repo.GlobalLore(ctx, "weibo")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRepository_LoreSaveAssignsIDs(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository()

	saved, err := repo.SaveLocalLore(ctx, "c1", []persona.WorldbookEntry{{
		Title: "过去",
		Items: []persona.WorldbookEntryItem{{Title: "a", Content: "x", Enabled: true}},
	}})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.NotEmpty(t, saved[0].ID)
	assert.NotEmpty(t, saved[0].Items[0].ID)

	loaded, err := repo.LocalLore(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestRepository_Contacts(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository()

	_, err := repo.AddContact(ctx, "  ", "")
	assert.Error(t, err)

	c, err := repo.AddContact(ctx, "林夏", "")
	require.NoError(t, err)

	updated, err := repo.SetRemark(ctx, c.ID, "宝贝")
	require.NoError(t, err)
	assert.Equal(t, "宝贝", updated.Remark)

	ensured, err := repo.EnsureContact(ctx, "discord-123", "dm")
	require.NoError(t, err)
	assert.Equal(t, "discord-123", ensured.ID)

	again, err := repo.EnsureContact(ctx, "discord-123", "other")
	require.NoError(t, err)
	assert.Equal(t, "dm", again.Name)

	contacts, err := repo.Contacts(ctx)
	require.NoError(t, err)
	assert.Len(t, contacts, 2)

	_, err = repo.Contact(ctx, "missing")
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestRepository_DeleteContactClearsConversation(t *testing.T) {
	ctx := context.Background()
	repo, kv := newTestRepository()

	c, err := repo.AddContact(ctx, "林夏", "")
	require.NoError(t, err)
	_, err = repo.SaveSettings(ctx, c.ID, persona.DefaultSettings())
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, MessagesKey(c.ID), []byte("[]")))

	changes, cancel := repo.Broker().Subscribe(16)
	defer cancel()

	require.NoError(t, repo.DeleteContact(ctx, c.ID))

	keys, err := kv.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{ContactsKey}, keys)

	var topics []Topic
	for len(changes) > 0 {
		topics = append(topics, (<-changes).Topic)
	}
	assert.Contains(t, topics, TopicContacts)
	assert.Contains(t, topics, TopicMessages)

	assert.ErrorIs(t, repo.DeleteContact(ctx, c.ID), ErrContactNotFound)
}

func TestRepository_ConcurrentContactWrites(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := repo.AddContact(ctx, fmt.Sprintf("联系人%d", i), "")
				assert.NoError(t, err)
				return
			}
			_, err := repo.EnsureContact(ctx, fmt.Sprintf("dm-%d", i), "discord")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	contacts, err := repo.Contacts(ctx)
	require.NoError(t, err)
	assert.Len(t, contacts, 20)
}

func TestRepository_Conversations(t *testing.T) {
	ctx := context.Background()
	repo, kv := newTestRepository()

	require.NoError(t, kv.Set(ctx, MessagesKey("a"), []byte("[]")))
	require.NoError(t, kv.Set(ctx, MessagesKey("b"), []byte("[]")))

	ids, err := repo.Conversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

// fakeSurreal records queries and answers from a canned row set.
type fakeSurreal struct {
	queries []string
	vars    []map[string]interface{}
	rows    []interface{}
}

func (f *fakeSurreal) Rows(_ context.Context, sql string, vars map[string]interface{}) ([]interface{}, error) {
	f.queries = append(f.queries, sql)
	f.vars = append(f.vars, vars)
	return f.rows, nil
}

func (f *fakeSurreal) Close(context.Context) {}

func TestSurrealKV(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSurreal{}

	_, err := newSurrealKV(ctx, fake, "kv; REMOVE TABLE kv")
	assert.Error(t, err)

	kv, err := newSurrealKV(ctx, fake, "kv")
	require.NoError(t, err)
	assert.Contains(t, fake.queries[0], "DEFINE TABLE IF NOT EXISTS kv")

	_, err = kv.Get(ctx, "settings:a")
	assert.ErrorIs(t, err, ErrNotFound)

	fake.rows = []interface{}{map[string]interface{}{"value": `{"mood":1}`}}
	v, err := kv.Get(ctx, "settings:a")
	require.NoError(t, err)
	assert.Equal(t, `{"mood":1}`, string(v))
	assert.Equal(t, "settings:a", fake.vars[len(fake.vars)-1]["key"])

	require.NoError(t, kv.Set(ctx, "settings:a", []byte("{}")))
	assert.Contains(t, fake.queries[len(fake.queries)-1], "INSERT INTO kv")
	assert.Equal(t, "{}", fake.vars[len(fake.vars)-1]["value"])

	fake.rows = []interface{}{"messages:a", "messages:b", 7}
	keys, err := kv.Keys(ctx, "messages:")
	require.NoError(t, err)
	assert.Equal(t, []string{"messages:a", "messages:b"}, keys)

	fake.rows = nil
	require.NoError(t, kv.Delete(ctx, "a", "b"))
	assert.True(t, strings.HasPrefix(fake.queries[len(fake.queries)-1], "DELETE"))
}

func TestRedisKV_Integration(t *testing.T) {
	if err := godotenv.Load("../../.env"); err != nil {
		t.Log("Warning: Error loading .env file")
	}
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping Redis test: REDIS_URL not set")
	}

	ctx := context.Background()
	kv, err := NewRedisKV(url, "xiaoshouji_test")
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Set(ctx, "messages:it", []byte("[]")))
	defer kv.Delete(ctx, "messages:it")

	v, err := kv.Get(ctx, "messages:it")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(v))

	keys, err := kv.Keys(ctx, "messages:")
	require.NoError(t, err)
	assert.Contains(t, keys, "messages:it")

	_, err = kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSurrealKV_Integration(t *testing.T) {
	if err := godotenv.Load("../../.env"); err != nil {
		t.Log("Warning: Error loading .env file")
	}
	host := os.Getenv("SURREAL_DB_HOST")
	user := os.Getenv("SURREAL_DB_USER")
	pass := os.Getenv("SURREAL_DB_PASS")
	if host == "" || user == "" || pass == "" {
		t.Skip("Skipping SurrealDB test: Missing environment variables")
	}

	ctx := context.Background()
	client, err := surreal.NewClient(ctx, surreal.NormalizeHost(host), user, pass, "xiaoshouji", "test")
	require.NoError(t, err)

	kv, err := NewSurrealKV(ctx, client, "kv_test")
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Set(ctx, "settings:it", []byte(`{"mood":7}`)))
	defer kv.Delete(ctx, "settings:it")

	v, err := kv.Get(ctx, "settings:it")
	require.NoError(t, err)
	assert.JSONEq(t, `{"mood":7}`, string(v))
}
