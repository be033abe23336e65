package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"xiaoshouji/pkg/persona"
	"xiaoshouji/pkg/reply"
)

type Sender string

const (
	SenderMe Sender = "me"
	SenderAI Sender = "ai"
)

// OpenedBy is the red packet state. The only legal transition is
// OpenedByNone to OpenedByPlayer.
type OpenedBy string

const (
	OpenedByNone      OpenedBy = "none"
	OpenedByPlayer    OpenedBy = "me"
	OpenedByCompanion OpenedBy = "ai"
)

var (
	ErrAlreadyOpened = errors.New("red packet already opened")
	ErrOwnRedPacket  = errors.New("cannot open your own red packet")
	ErrNotRedPacket  = errors.New("message is not a red packet")
)

type Voice struct {
	Duration int `json:"duration"`
}

type RedPacket struct {
	Amount   float64  `json:"amount"`
	Note     string   `json:"note"`
	OpenedBy OpenedBy `json:"openedBy"`
}

// Image is a picture the user sent. Description is shown to the model only.
type Image struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Message is one entry of a conversation log. At most one of Voice,
// RedPacket and Image is set.
type Message struct {
	ID        string       `json:"id"`
	Sender    Sender       `json:"sender"`
	Content   string       `json:"content"`
	Mode      persona.Mode `json:"mode"`
	CreatedAt time.Time    `json:"createdAt"`

	Voice     *Voice     `json:"voice,omitempty"`
	RedPacket *RedPacket `json:"redPacket,omitempty"`
	Image     *Image     `json:"image,omitempty"`
}

func newMessage(sender Sender, mode persona.Mode, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   content,
		Mode:      mode,
		CreatedAt: time.Now(),
	}
}

// Validate checks the per-kind invariants.
func (m Message) Validate() error {
	kinds := 0
	if m.Voice != nil {
		kinds++
		if m.Voice.Duration < reply.MinVoiceSeconds || m.Voice.Duration > reply.MaxVoiceSeconds {
			return fmt.Errorf("voice duration %d out of range", m.Voice.Duration)
		}
	}
	if m.RedPacket != nil {
		kinds++
		if m.RedPacket.Amount < reply.MinRedPacketAmount || m.RedPacket.Amount > reply.MaxRedPacketAmount {
			return fmt.Errorf("red packet amount %.2f out of range", m.RedPacket.Amount)
		}
		switch m.RedPacket.OpenedBy {
		case OpenedByNone, OpenedByPlayer, OpenedByCompanion:
		default:
			return fmt.Errorf("unknown red packet state %q", m.RedPacket.OpenedBy)
		}
	}
	if m.Image != nil {
		kinds++
		if strings.TrimSpace(m.Image.URL) == "" {
			return errors.New("image message without url")
		}
	}
	if kinds > 1 {
		return errors.New("message carries more than one payload kind")
	}
	if m.Sender != SenderMe && m.Sender != SenderAI {
		return fmt.Errorf("unknown sender %q", m.Sender)
	}
	return nil
}

// OpenRedPacket moves a companion's unopened red packet to opened-by-player.
func (m *Message) OpenRedPacket() error {
	if m.RedPacket == nil {
		return ErrNotRedPacket
	}
	if m.Sender == SenderMe {
		return ErrOwnRedPacket
	}
	if m.RedPacket.OpenedBy != OpenedByNone && m.RedPacket.OpenedBy != "" {
		return ErrAlreadyOpened
	}
	m.RedPacket.OpenedBy = OpenedByPlayer
	return nil
}

// messageFromSegment materialises one reply segment as a companion message.
func messageFromSegment(seg reply.Segment, mode persona.Mode) Message {
	switch seg.Kind {
	case reply.SegmentVoice:
		m := newMessage(SenderAI, mode, seg.Text)
		m.Voice = &Voice{Duration: reply.ClampDuration(seg.Duration)}
		return m
	case reply.SegmentRedPacket:
		m := newMessage(SenderAI, mode, seg.Note)
		m.RedPacket = &RedPacket{
			Amount:   reply.ClampAmount(seg.Amount),
			Note:     seg.Note,
			OpenedBy: OpenedByNone,
		}
		return m
	default:
		return newMessage(SenderAI, mode, seg.Text)
	}
}
