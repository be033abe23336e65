package bot

import (
	"math/rand"
	"time"

	"xiaoshouji/pkg/persona"
)

// TypingConfig controls typing simulation behavior
type TypingConfig struct {
	// Base characters per second for "typing"
	BaseCharsPerSecond float64
	// Minimum typing duration
	MinDuration time.Duration
	// Maximum typing duration
	MaxDuration time.Duration
	// Random variation factor (0.0 - 1.0)
	Variation float64
}

// DefaultTypingConfig is tuned for Chinese text, which reads denser than English.
var DefaultTypingConfig = TypingConfig{
	BaseCharsPerSecond: 8.0,
	MinDuration:        600 * time.Millisecond,
	MaxDuration:        4 * time.Second,
	Variation:          0.3,
}

// CalculateTypingDuration determines how long to "type" a bubble of
// messageLength runes. A happy companion types faster, a sulking one slower.
func CalculateTypingDuration(messageLength int, mood int, config TypingConfig) time.Duration {
	if config.BaseCharsPerSecond <= 0 {
		return config.MinDuration
	}
	baseDuration := time.Duration(float64(messageLength) / config.BaseCharsPerSecond * float64(time.Second))

	// mood 0 -> x1.4, 50 -> x1.0, 100 -> x0.6
	mood = persona.ClampMeter(mood)
	moodMultiplier := float64(140-mood*80/100) / 100

	adjustedDuration := time.Duration(float64(baseDuration) * moodMultiplier)

	if config.Variation > 0 {
		variation := 1.0 + (rand.Float64()*2-1)*config.Variation
		adjustedDuration = time.Duration(float64(adjustedDuration) * variation)
	}

	if adjustedDuration < config.MinDuration {
		adjustedDuration = config.MinDuration
	}
	if adjustedDuration > config.MaxDuration {
		adjustedDuration = config.MaxDuration
	}

	return adjustedDuration
}

// SimulateTyping shows the typing indicator for the calculated duration.
// Discord drops the indicator after about ten seconds, so long waits refresh it.
func (h *Handler) SimulateTyping(s Session, channelID string, messageLength int, mood int) {
	duration := CalculateTypingDuration(messageLength, mood, h.typing)
	if duration <= 0 {
		return
	}

	startTyping(s, channelID)

	refreshInterval := 8 * time.Second
	elapsed := time.Duration(0)

	for elapsed < duration {
		sleepTime := min(duration-elapsed, refreshInterval)
		h.sleep(sleepTime)
		elapsed += sleepTime

		if elapsed < duration {
			startTyping(s, channelID)
		}
	}
}
