package reply

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"xiaoshouji/pkg/persona"
)

var errNoStatusObject = errors.New("no status object found")

var (
	statusStringFields = []string{"clothing", "clothingState", "innerThoughts", "genitalState", "action"}
	statusMeterFields  = []string{"desire", "mood", "favorability", "jealousy"}
)

// parseStatus decodes a STATUS_UPDATE body. When the body is not valid JSON it
// is repaired; failing that, the first brace-delimited object in the whole
// reply that names a status field is tried.
func parseStatus(body, whole string) (persona.StatusUpdate, error) {
	body = stripCodeFence(body)

	update, err := decodeStatus(body)
	if err == nil {
		return update, nil
	}
	firstErr := err

	if repaired, rerr := jsonrepair.JSONRepair(body); rerr == nil {
		if update, err := decodeStatus(repaired); err == nil {
			return update, nil
		}
	}

	candidate := firstStatusObject(whole)
	if candidate == "" {
		return persona.StatusUpdate{}, fmt.Errorf("%w: %v", errNoStatusObject, firstErr)
	}
	if update, err := decodeStatus(candidate); err == nil {
		return update, nil
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return persona.StatusUpdate{}, fmt.Errorf("repair status object: %w", err)
	}
	return decodeStatus(repaired)
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")
		if len(lines) >= 2 {
			s = strings.Join(lines[1:], "\n")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func decodeStatus(s string) (persona.StatusUpdate, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return persona.StatusUpdate{}, err
	}

	var u persona.StatusUpdate
	strs := map[string]**string{
		"clothing":      &u.Clothing,
		"clothingState": &u.ClothingState,
		"innerThoughts": &u.InnerThoughts,
		"genitalState":  &u.GenitalState,
		"action":        &u.Action,
	}
	for key, dst := range strs {
		if v, ok := raw[key].(string); ok {
			v := v
			*dst = &v
		}
	}

	meters := map[string]**int{
		"desire":       &u.Desire,
		"mood":         &u.Mood,
		"favorability": &u.Favorability,
		"jealousy":     &u.Jealousy,
	}
	for key, dst := range meters {
		if v, ok := meterValue(raw[key]); ok {
			*dst = &v
		}
	}
	return u, nil
}

// meterValue accepts JSON numbers and numeric strings, rounds and clamps them.
func meterValue(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return persona.ClampMeter(int(math.Round(f))), true
}

// firstStatusObject returns the first balanced {...} substring of text that
// mentions a status field name.
func firstStatusObject(text string) string {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		// An unclosed brace, such as one in an emoticon, is skipped.
		if end := matchBrace(text, start); end >= 0 {
			candidate := text[start : end+1]
			if mentionsStatusField(candidate) {
				return candidate
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			return ""
		}
		start += 1 + next
	}
	return ""
}

// matchBrace returns the index of the brace closing the one at open, ignoring
// braces inside JSON strings, or -1.
func matchBrace(text string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func mentionsStatusField(s string) bool {
	for _, name := range statusStringFields {
		if strings.Contains(s, name) {
			return true
		}
	}
	for _, name := range statusMeterFields {
		if strings.Contains(s, name) {
			return true
		}
	}
	return false
}
