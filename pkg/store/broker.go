package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Topic names what kind of record changed.
type Topic string

const (
	TopicContacts  Topic = "contacts"
	TopicSettings  Topic = "settings"
	TopicWorldbook Topic = "worldbook"
	TopicMessages  Topic = "messages"
)

// Change announces that a record was written. Origin is the ID of the broker
// the write happened behind.
type Change struct {
	Topic          Topic     `json:"topic"`
	ConversationID string    `json:"conversationId,omitempty"`
	Origin         string    `json:"origin"`
	At             time.Time `json:"at"`
}

// Broker fans changes out to in-process subscribers. Slow subscribers miss
// changes rather than blocking the writer.
type Broker struct {
	id   string
	mu   sync.RWMutex
	subs map[uint64]chan Change
	next uint64
}

func NewBroker() *Broker {
	return &Broker{
		id:   uuid.NewString(),
		subs: make(map[uint64]chan Change),
	}
}

// ID identifies this process on shared channels.
func (b *Broker) ID() string {
	return b.id
}

// Publish stamps c with this broker's ID and time when unset and delivers it.
func (b *Broker) Publish(c Change) {
	if c.Origin == "" {
		c.Origin = b.id
	}
	if c.At.IsZero() {
		c.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- c:
		default:
			log.Warn().Uint64("subscriber", id).Str("topic", string(c.Topic)).Msg("Subscriber queue full, change dropped")
		}
	}
}

// Subscribe returns a channel of changes and a function that unsubscribes and
// closes it.
func (b *Broker) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Change, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
