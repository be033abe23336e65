package pacer

import (
	"time"
	"unicode/utf8"

	"xiaoshouji/pkg/reply"
)

// DelayConfig controls how long the pacer waits before releasing a bubble.
type DelayConfig struct {
	// Characters "typed" per second for text bubbles
	CharsPerSecond float64
	// Fixed thinking time added to every text bubble
	Thinking time.Duration
	// Clamp for text bubbles
	MinDelay time.Duration
	MaxDelay time.Duration
	// Fixed delay for voice and red packet bubbles
	MediaDelay time.Duration
}

// DefaultDelayConfig mimics a person typing short chat messages.
var DefaultDelayConfig = DelayConfig{
	CharsPerSecond: 16,
	Thinking:       200 * time.Millisecond,
	MinDelay:       280 * time.Millisecond,
	MaxDelay:       1200 * time.Millisecond,
	MediaDelay:     500 * time.Millisecond,
}

// Delay returns the wait before b is shown.
func (c DelayConfig) Delay(b Bubble) time.Duration {
	if b.Kind != reply.SegmentText {
		return c.MediaDelay
	}
	if c.CharsPerSecond <= 0 {
		return c.MaxDelay
	}

	chars := utf8.RuneCountInString(b.Text)
	d := time.Duration(float64(chars)/c.CharsPerSecond*float64(time.Second)) + c.Thinking

	if d < c.MinDelay {
		d = c.MinDelay
	}
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}
