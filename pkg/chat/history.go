package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"xiaoshouji/pkg/completion"
)

// TokenCounter estimates how many tokens a string costs.
type TokenCounter interface {
	Count(s string) int
}

type tiktokenCounter struct {
	tke *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(s string) int {
	return len(c.tke.Encode(s, nil, nil))
}

// RuneCounter charges one token per rune, which over-counts English and is
// close for Chinese.
type RuneCounter struct{}

func (RuneCounter) Count(s string) int {
	return utf8.RuneCountInString(s)
}

// NewTokenCounter returns a tiktoken encoder for model, or RuneCounter when
// the model is unknown to tiktoken.
func NewTokenCounter(model string) TokenCounter {
	tke, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tke, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		log.Warn().Err(err).Str("model", model).Msg("No tokenizer available, estimating tokens from runes")
		return RuneCounter{}
	}
	return tiktokenCounter{tke: tke}
}

// HistoryWindow bounds how much of the log is sent with each request.
type HistoryWindow struct {
	MaxMessages int
	MaxTokens   int
	Counter     TokenCounter
	// Vision sends image URLs to the model instead of only their description.
	Vision bool
}

// Build renders the most recent messages as chat turns. Consecutive messages
// from the same side are merged into one turn. Older turns are dropped until
// the rest fits MaxTokens; the newest turn is always kept.
func (w HistoryWindow) Build(msgs []Message) ([]completion.Message, int) {
	if w.MaxMessages > 0 && len(msgs) > w.MaxMessages {
		msgs = msgs[len(msgs)-w.MaxMessages:]
	}

	var turns []completion.Message
	for _, m := range msgs {
		role := completion.RoleUser
		if m.Sender == SenderAI {
			role = completion.RoleAssistant
		}
		text := renderForModel(m)
		if text == "" {
			continue
		}

		imageURL := ""
		if w.Vision && m.Image != nil && m.Sender == SenderMe {
			imageURL = m.Image.URL
		}

		if n := len(turns); n > 0 && turns[n-1].Role == role && imageURL == "" && turns[n-1].ImageURL == "" {
			turns[n-1].Content += "\n" + text
			continue
		}
		turns = append(turns, completion.Message{Role: role, Content: text, ImageURL: imageURL})
	}

	counter := w.Counter
	if counter == nil {
		counter = RuneCounter{}
	}
	costs := make([]int, len(turns))
	total := 0
	for i, t := range turns {
		costs[i] = counter.Count(t.Content)
		total += costs[i]
	}

	start := 0
	for w.MaxTokens > 0 && total > w.MaxTokens && start < len(turns)-1 {
		total -= costs[start]
		start++
	}
	return turns[start:], total
}

// renderForModel is how a message reads in the prompt history. Companion
// media is echoed back in its tag form so the model keeps using it.
func renderForModel(m Message) string {
	switch {
	case m.Voice != nil:
		if m.Sender == SenderAI {
			return fmt.Sprintf("<VOICE %d>%s</VOICE>", m.Voice.Duration, m.Content)
		}
		return fmt.Sprintf("[语音 %d秒] %s", m.Voice.Duration, m.Content)

	case m.RedPacket != nil:
		rp := m.RedPacket
		if m.Sender == SenderAI {
			s := fmt.Sprintf("<REDPACKET %.2f %s></REDPACKET>", rp.Amount, rp.Note)
			if rp.OpenedBy == OpenedByPlayer {
				s += "\n[对方已领取了你的红包]"
			}
			return s
		}
		return fmt.Sprintf("[我给你发了一个红包：¥%.2f，%s]", rp.Amount, rp.Note)

	case m.Image != nil:
		var b strings.Builder
		b.WriteString("[我发送了一张图片")
		if d := strings.TrimSpace(m.Image.Description); d != "" {
			b.WriteString("，图片内容：")
			b.WriteString(d)
		}
		b.WriteString("]")
		if c := strings.TrimSpace(m.Content); c != "" {
			b.WriteString(" ")
			b.WriteString(c)
		}
		return b.String()
	}
	return strings.TrimSpace(m.Content)
}
