// Package pacer releases the bubbles of one reply a few hundred milliseconds
// apart so they read like someone typing them out.
package pacer

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"xiaoshouji/pkg/metrics"
	"xiaoshouji/pkg/reply"
)

// Bubble is one paced unit of a reply.
type Bubble struct {
	ConversationID string
	reply.Segment

	gen uint64
}

// Timer is the part of *time.Timer the queue needs.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. time.AfterFunc is the default.
type Scheduler func(d time.Duration, f func()) Timer

func realScheduler(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Queue holds the pending bubbles of the one conversation currently being
// delivered. Enqueueing for another conversation discards whatever is left of
// the previous one.
//
// The emit callback runs without the queue locked, one bubble at a time. It
// may call Live to find out whether the bubble was cleared meanwhile.
type Queue struct {
	mu      sync.Mutex
	owner   string
	pending []Bubble
	timer   Timer
	gen     uint64

	emit     func(Bubble)
	delay    func(Bubble) time.Duration
	schedule Scheduler
}

type Option func(*Queue)

// WithDelay sets the per-bubble delay policy.
func WithDelay(cfg DelayConfig) Option {
	return func(q *Queue) { q.delay = cfg.Delay }
}

// WithDelayFunc overrides the delay policy with an arbitrary function.
func WithDelayFunc(f func(Bubble) time.Duration) Option {
	return func(q *Queue) { q.delay = f }
}

// WithScheduler replaces time.AfterFunc.
func WithScheduler(s Scheduler) Option {
	return func(q *Queue) { q.schedule = s }
}

// New returns an empty queue that hands released bubbles to onBubbleReady.
func New(onBubbleReady func(Bubble), opts ...Option) *Queue {
	q := &Queue{
		emit:     onBubbleReady,
		delay:    DefaultDelayConfig.Delay,
		schedule: realScheduler,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds bubbles for conversationID. If nothing is in flight the first
// one is released right away on the scheduler.
func (q *Queue) Enqueue(conversationID string, bubbles []Bubble) {
	if len(bubbles) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.owner != conversationID {
		q.clearLocked()
		q.owner = conversationID
	}

	for _, b := range bubbles {
		b.ConversationID = conversationID
		q.pending = append(q.pending, b)
	}

	if q.timer == nil {
		q.scheduleLocked(0)
	}
}

// Clear drops everything queued for conversationID. It is a no-op when the
// queue belongs to another conversation.
func (q *Queue) Clear(conversationID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.owner == conversationID {
		q.clearLocked()
	}
}

// ClearAll drops everything queued and forgets the owner.
func (q *Queue) ClearAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.clearLocked()
	q.owner = ""
}

// Live reports whether b still belongs to what the queue is delivering, that
// is no Clear or conversation switch happened since it was released.
func (q *Queue) Live(b Bubble) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return b.gen == q.gen && b.ConversationID == q.owner
}

// Owner returns the conversation the queue is delivering for.
func (q *Queue) Owner() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.owner
}

// Pending returns how many bubbles are waiting to be released.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) clearLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	// Bumping the generation makes any callback already past Stop a no-op.
	q.gen++

	if n := len(q.pending); n > 0 {
		log.Debug().Str("conversation", q.owner).Int("discarded", n).Msg("Cleared reply pacer")
		metrics.AddBubblesDiscarded(n)
	}
	q.pending = nil
}

func (q *Queue) scheduleLocked(d time.Duration) {
	gen := q.gen
	q.timer = q.schedule(d, func() { q.fire(gen) })
}

// fire releases the head bubble. The timer stays set while emit runs so that
// Enqueue leaves the rescheduling to this call.
func (q *Queue) fire(gen uint64) {
	q.mu.Lock()
	if gen != q.gen || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	next := q.pending[0]
	next.gen = gen
	q.pending = q.pending[1:]
	q.mu.Unlock()

	q.emit(next)
	metrics.IncBubblesEmitted()

	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		return
	}
	if len(q.pending) == 0 {
		q.timer = nil
		return
	}
	q.scheduleLocked(q.delay(q.pending[0]))
}
