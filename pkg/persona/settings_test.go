package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 50, s.Mood)
	assert.Equal(t, 50, s.Favorability)
	assert.Equal(t, 0, s.Desire)
	assert.Equal(t, 0, s.Jealousy)
	assert.Equal(t, ModeChat, s.Mode)
}

func TestNormalize_ClampsMeters(t *testing.T) {
	s := DefaultSettings()
	s.Desire = 150
	s.Mood = -10
	s.Favorability = 100
	s.Jealousy = 101
	s.Mode = "bogus"

	s.Normalize()

	assert.Equal(t, 100, s.Desire)
	assert.Equal(t, 0, s.Mood)
	assert.Equal(t, 100, s.Favorability)
	assert.Equal(t, 100, s.Jealousy)
	assert.Equal(t, ModeChat, s.Mode)
}

func TestApplyStatus_MergesPresentKeysOnly(t *testing.T) {
	s := DefaultSettings()
	s.Clothing = "white dress"
	s.InnerThoughts = "missing you"
	s.Jealousy = 30

	s.ApplyStatus(StatusUpdate{
		Action: strPtr("making tea"),
		Mood:   intPtr(80),
		Desire: intPtr(250),
	})

	assert.Equal(t, "white dress", s.Clothing, "absent keys must not be reset")
	assert.Equal(t, "missing you", s.InnerThoughts)
	assert.Equal(t, 30, s.Jealousy)
	assert.Equal(t, "making tea", s.Action)
	assert.Equal(t, 80, s.Mood)
	assert.Equal(t, 100, s.Desire, "meters are clamped on update")
}

func TestApplyStatus_EmptyStringIsAValue(t *testing.T) {
	s := DefaultSettings()
	s.Action = "reading"

	s.ApplyStatus(StatusUpdate{Action: strPtr("")})

	assert.Equal(t, "", s.Action)
}

func TestStatusUpdateMerge(t *testing.T) {
	first := StatusUpdate{Mood: intPtr(10), Clothing: strPtr("coat")}
	second := StatusUpdate{Mood: intPtr(20), Jealousy: intPtr(5)}

	merged := first.Merge(second)

	assert.Equal(t, 20, *merged.Mood)
	assert.Equal(t, 5, *merged.Jealousy)
	assert.Equal(t, "coat", *merged.Clothing)
	assert.Nil(t, merged.Desire)
	assert.False(t, merged.Empty())
	assert.True(t, StatusUpdate{}.Empty())
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeStory, ParseMode("story"))
	assert.Equal(t, ModeStory, ParseMode(" STORY "))
	assert.Equal(t, ModeChat, ParseMode("chat"))
	assert.Equal(t, ModeChat, ParseMode(""))
	assert.Equal(t, ModeChat, ParseMode("whatever"))
}
