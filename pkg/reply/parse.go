package reply

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"xiaoshouji/pkg/persona"
)

// DefaultRedPacketNote is used when a REDPACKET tag carries no note.
const DefaultRedPacketNote = "恭喜发财，大吉大利"

const (
	DefaultVoiceSeconds = 8
	MinVoiceSeconds     = 1
	MaxVoiceSeconds     = 120

	MinRedPacketAmount = 0.01
	MaxRedPacketAmount = 200.0
)

type SegmentKind string

const (
	SegmentText      SegmentKind = "text"
	SegmentVoice     SegmentKind = "voice"
	SegmentRedPacket SegmentKind = "redpacket"
)

// Segment is one displayable unit of a reply. Text holds the bubble text for
// text segments and the transcript for voice segments.
type Segment struct {
	Kind     SegmentKind
	Text     string
	Duration int
	Amount   float64
	Note     string
}

// Result is everything Parse extracted from one completion.
type Result struct {
	CleanedText  string
	Status       *persona.StatusUpdate
	Avatar       *string
	Signature    *string
	MomentsCover *string
	Segments     []Segment
	// Dropped counts directives that were recognised but could not be used.
	Dropped int
}

var (
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
	intPrefix       = regexp.MustCompile(`^[+-]?\d+`)
	floatPrefix     = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`)
)

// Parse strips state directives from a raw completion and splits what is left
// into segments. VOICE and REDPACKET tags are only interpreted in chat mode.
func Parse(raw string, mode persona.Mode) Result {
	var res Result
	if strings.TrimSpace(raw) == "" {
		return res
	}

	res.CleanedText = extractMeta(raw, &res)

	if res.CleanedText == "" {
		return res
	}
	if mode == persona.ModeStory {
		res.Segments = []Segment{{Kind: SegmentText, Text: res.CleanedText}}
		return res
	}
	res.Segments = splitSegments(res.CleanedText, &res)
	return res
}

func extractMeta(raw string, res *Result) string {
	metas := Tokenize(raw, metaKinds...)
	if len(metas) == 0 {
		return strings.TrimSpace(raw)
	}

	var b strings.Builder
	last := 0
	for _, d := range metas {
		b.WriteString(raw[last:d.Start])
		last = d.End

		switch d.Kind {
		case KindStatus:
			update, err := parseStatus(d.Body, raw)
			if err != nil {
				log.Warn().Err(err).Msg("Dropping malformed status update")
				res.Dropped++
				continue
			}
			if res.Status == nil {
				res.Status = &persona.StatusUpdate{}
			}
			merged := res.Status.Merge(update)
			res.Status = &merged
		case KindAvatar:
			setPayload(&res.Avatar, d.Body)
		case KindSignature:
			setPayload(&res.Signature, d.Body)
		case KindMomentsCover:
			setPayload(&res.MomentsCover, d.Body)
		}
	}
	b.WriteString(raw[last:])

	cleaned := blankRunPattern.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(cleaned)
}

func setPayload(dst **string, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	*dst = &body
}

func splitSegments(text string, res *Result) []Segment {
	tags := Tokenize(text, mediaKinds...)
	if len(tags) == 0 {
		return []Segment{{Kind: SegmentText, Text: text}}
	}

	var segments []Segment
	addText := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, Segment{Kind: SegmentText, Text: s})
		}
	}

	last := 0
	for _, d := range tags {
		addText(text[last:d.Start])
		last = d.End

		var (
			seg Segment
			ok  bool
		)
		switch d.Kind {
		case KindVoice:
			seg, ok = voiceSegment(d)
		case KindRedPacket:
			seg, ok = redPacketSegment(d)
		}
		if !ok {
			res.Dropped++
			continue
		}
		segments = append(segments, seg)
	}
	addText(text[last:])
	return segments
}

func voiceSegment(d Directive) (Segment, bool) {
	content := strings.TrimSpace(d.Body)
	if content == "" {
		return Segment{}, false
	}
	return Segment{Kind: SegmentVoice, Text: content, Duration: voiceSeconds(d.Args)}, true
}

func voiceSeconds(args string) int {
	m := intPrefix.FindString(strings.TrimSpace(args))
	if m == "" {
		return DefaultVoiceSeconds
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		// overflow
		if strings.HasPrefix(m, "-") {
			return MinVoiceSeconds
		}
		return MaxVoiceSeconds
	}
	return ClampDuration(n)
}

func redPacketSegment(d Directive) (Segment, bool) {
	fields := strings.Fields(d.Args)
	if len(fields) == 0 {
		return Segment{}, false
	}
	amount, ok := redPacketAmount(fields[0])
	if !ok {
		return Segment{}, false
	}

	note := strings.TrimSpace(strings.Join(fields[1:], " "))
	if note == "" {
		note = strings.TrimSpace(d.Body)
	}
	if note == "" {
		note = DefaultRedPacketNote
	}
	return Segment{Kind: SegmentRedPacket, Amount: amount, Note: note}, true
}

func redPacketAmount(s string) (float64, bool) {
	m := floatPrefix.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	return ClampAmount(f), true
}

// ClampAmount clamps a red packet amount into range and rounds it to cents.
func ClampAmount(f float64) float64 {
	f = math.Min(math.Max(f, MinRedPacketAmount), MaxRedPacketAmount)
	return math.Round(f*100) / 100
}

// ClampDuration clamps a voice message duration into range.
func ClampDuration(n int) int {
	return min(max(n, MinVoiceSeconds), MaxVoiceSeconds)
}
