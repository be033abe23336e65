package reply

import (
	"regexp"
	"sort"
)

// Kind identifies one directive tag.
type Kind string

const (
	KindStatus       Kind = "STATUS_UPDATE"
	KindAvatar       Kind = "UPDATE_AVATAR"
	KindSignature    Kind = "UPDATE_SIGNATURE"
	KindMomentsCover Kind = "UPDATE_MOMENTS_COVER"
	KindVoice        Kind = "VOICE"
	KindRedPacket    Kind = "REDPACKET"
)

// Directive is one tag occurrence in a reply. Start and End are byte offsets
// of the whole tag including its closing tag.
type Directive struct {
	Kind  Kind
	Start int
	End   int
	Args  string
	Body  string
}

// tagPattern matches <NAME args>body</NAME>; names are case-insensitive and
// whitespace inside the brackets is tolerated.
func tagPattern(name Kind) *regexp.Regexp {
	return regexp.MustCompile(`(?is)<\s*` + string(name) + `(?:\s+([^>]*?))?\s*>(.*?)<\s*/\s*` + string(name) + `\s*>`)
}

var tagPatterns = map[Kind]*regexp.Regexp{
	KindStatus:       tagPattern(KindStatus),
	KindAvatar:       tagPattern(KindAvatar),
	KindSignature:    tagPattern(KindSignature),
	KindMomentsCover: tagPattern(KindMomentsCover),
	KindVoice:        tagPattern(KindVoice),
	KindRedPacket:    tagPattern(KindRedPacket),
}

var (
	metaKinds  = []Kind{KindStatus, KindAvatar, KindSignature, KindMomentsCover}
	mediaKinds = []Kind{KindVoice, KindRedPacket}
)

// Tokenize returns every directive of the given kinds in text, ordered by
// start offset. A match that overlaps an earlier one is ignored.
func Tokenize(text string, kinds ...Kind) []Directive {
	var found []Directive
	for _, kind := range kinds {
		re, ok := tagPatterns[kind]
		if !ok {
			continue
		}
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			d := Directive{Kind: kind, Start: m[0], End: m[1]}
			if m[2] >= 0 {
				d.Args = text[m[2]:m[3]]
			}
			if m[4] >= 0 {
				d.Body = text[m[4]:m[5]]
			}
			found = append(found, d)
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Start < found[j].Start
	})

	out := found[:0]
	end := 0
	for _, d := range found {
		if d.Start < end {
			continue
		}
		out = append(out, d)
		end = d.End
	}
	return out
}
