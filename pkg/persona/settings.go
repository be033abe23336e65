package persona

import "strings"

// Mode selects how the companion replies.
type Mode string

const (
	// ModeChat is short-form messaging: tags are parsed and replies are chunked into bubbles.
	ModeChat Mode = "chat"
	// ModeStory is long-form third-person narration delivered as one message.
	ModeStory Mode = "story"
)

// ParseMode maps free input to a Mode, defaulting to chat.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeStory)) {
		return ModeStory
	}
	return ModeChat
}

const (
	MeterMin = 0
	MeterMax = 100

	DefaultMood         = 50
	DefaultFavorability = 50
)

// CharacterSettings is the per-conversation persona and role-play state.
type CharacterSettings struct {
	RealName      string `json:"realName"`
	Nickname      string `json:"nickname"`
	CallMeAs      string `json:"callMeAs"`
	MyGender      string `json:"myGender"`
	MyIdentity    string `json:"myIdentity"`
	TheirGender   string `json:"theirGender"`
	TheirIdentity string `json:"theirIdentity"`

	ChatStyle   string `json:"chatStyle"`
	OpeningLine string `json:"openingLine"`

	Clothing      string `json:"clothing"`
	ClothingState string `json:"clothingState"`
	InnerThoughts string `json:"innerThoughts"`
	GenitalState  string `json:"genitalState"`
	Action        string `json:"action"`

	Desire       int `json:"desire"`
	Mood         int `json:"mood"`
	Favorability int `json:"favorability"`
	Jealousy     int `json:"jealousy"`

	Avatar          string `json:"avatar"`
	BackgroundType  string `json:"backgroundType"`
	BackgroundValue string `json:"backgroundValue"`
	Signature       string `json:"signature"`
	MomentsCover    string `json:"momentsCover"`

	Mode Mode `json:"mode"`
}

// DefaultSettings returns the settings a conversation starts with.
func DefaultSettings() CharacterSettings {
	return CharacterSettings{
		Mood:         DefaultMood,
		Favorability: DefaultFavorability,
		Mode:         ModeChat,
	}
}

// Normalize clamps every meter into [0,100] and fills an unset mode.
func (s *CharacterSettings) Normalize() {
	s.Desire = ClampMeter(s.Desire)
	s.Mood = ClampMeter(s.Mood)
	s.Favorability = ClampMeter(s.Favorability)
	s.Jealousy = ClampMeter(s.Jealousy)
	if s.Mode != ModeStory {
		s.Mode = ModeChat
	}
}

// DisplayName is the name the companion goes by when no contact remark is set.
func (s CharacterSettings) DisplayName() string {
	if s.Nickname != "" {
		return s.Nickname
	}
	return s.RealName
}

func ClampMeter(v int) int {
	if v < MeterMin {
		return MeterMin
	}
	if v > MeterMax {
		return MeterMax
	}
	return v
}

// StatusUpdate carries the keys present in one STATUS_UPDATE directive.
// Nil fields were absent and must not touch the settings.
type StatusUpdate struct {
	Clothing      *string
	ClothingState *string
	InnerThoughts *string
	GenitalState  *string
	Action        *string
	Desire        *int
	Mood          *int
	Favorability  *int
	Jealousy      *int
}

// Empty reports whether the update carries no keys.
func (u StatusUpdate) Empty() bool {
	return u.Clothing == nil && u.ClothingState == nil && u.InnerThoughts == nil &&
		u.GenitalState == nil && u.Action == nil && u.Desire == nil && u.Mood == nil &&
		u.Favorability == nil && u.Jealousy == nil
}

// Merge overlays the keys present in next onto u.
func (u StatusUpdate) Merge(next StatusUpdate) StatusUpdate {
	pickStr := func(a, b *string) *string {
		if b != nil {
			return b
		}
		return a
	}
	pickInt := func(a, b *int) *int {
		if b != nil {
			return b
		}
		return a
	}
	return StatusUpdate{
		Clothing:      pickStr(u.Clothing, next.Clothing),
		ClothingState: pickStr(u.ClothingState, next.ClothingState),
		InnerThoughts: pickStr(u.InnerThoughts, next.InnerThoughts),
		GenitalState:  pickStr(u.GenitalState, next.GenitalState),
		Action:        pickStr(u.Action, next.Action),
		Desire:        pickInt(u.Desire, next.Desire),
		Mood:          pickInt(u.Mood, next.Mood),
		Favorability:  pickInt(u.Favorability, next.Favorability),
		Jealousy:      pickInt(u.Jealousy, next.Jealousy),
	}
}

// ApplyStatus merges the present keys of u and re-clamps the meters.
func (s *CharacterSettings) ApplyStatus(u StatusUpdate) {
	if u.Clothing != nil {
		s.Clothing = *u.Clothing
	}
	if u.ClothingState != nil {
		s.ClothingState = *u.ClothingState
	}
	if u.InnerThoughts != nil {
		s.InnerThoughts = *u.InnerThoughts
	}
	if u.GenitalState != nil {
		s.GenitalState = *u.GenitalState
	}
	if u.Action != nil {
		s.Action = *u.Action
	}
	if u.Desire != nil {
		s.Desire = *u.Desire
	}
	if u.Mood != nil {
		s.Mood = *u.Mood
	}
	if u.Favorability != nil {
		s.Favorability = *u.Favorability
	}
	if u.Jealousy != nil {
		s.Jealousy = *u.Jealousy
	}
	s.Normalize()
}
