package reply

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Chunker splits a long text segment into short chat bubbles. All lengths are
// counted in runes.
type Chunker struct {
	// MaxChars is the target bubble size; text at or below it is never split.
	MaxChars int
	// PackSlack is how far past MaxChars sentences may be packed together.
	PackSlack int
	// LongFormChars is the size above which text is kept whole.
	LongFormChars int
}

// DefaultChunker holds the stock bubble sizes.
var DefaultChunker = Chunker{MaxChars: 70, PackSlack: 10, LongFormChars: 240}

var (
	paragraphBreak  = regexp.MustCompile(`\n\s*\n`)
	sentencePattern = regexp.MustCompile(`[^。！？!?]*[。！？!?]+|[^。！？!?]+`)
)

const fullStops = "。！？"

// ChunkIntoBubbles splits text with DefaultChunker.
func ChunkIntoBubbles(text string) []string {
	return DefaultChunker.Chunk(text)
}

// Chunk returns the bubbles for text. Short and very long texts come back as a
// single trimmed bubble; everything else is split on paragraphs, then packed
// sentence by sentence.
func (c Chunker) Chunk(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	n := utf8.RuneCountInString(trimmed)
	if n <= c.MaxChars || n > c.LongFormChars {
		return []string{trimmed}
	}

	var bubbles []string
	for _, para := range paragraphBreak.Split(trimmed, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= c.MaxChars {
			bubbles = append(bubbles, para)
			continue
		}
		for _, chunk := range c.pack(sentencePattern.FindAllString(para, -1)) {
			if utf8.RuneCountInString(chunk) > c.hardWrapAt() && !strings.ContainsAny(chunk, fullStops) {
				bubbles = append(bubbles, hardWrap(chunk, c.MaxChars)...)
				continue
			}
			bubbles = append(bubbles, chunk)
		}
	}

	out := bubbles[:0]
	for _, b := range bubbles {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c Chunker) hardWrapAt() int {
	return c.MaxChars * 3 / 2
}

func (c Chunker) pack(sentences []string) []string {
	limit := c.MaxChars + c.PackSlack
	var (
		chunks  []string
		current string
		size    int
	)
	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		if current != "" && size+n > limit {
			chunks = append(chunks, current)
			current, size = "", 0
		}
		current += s
		size += n
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

func hardWrap(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}
	runes := []rune(s)
	var out []string
	for len(runes) > 0 {
		end := min(width, len(runes))
		out = append(out, string(runes[:end]))
		runes = runes[end:]
	}
	return out
}
