package ws

import (
	"time"

	"github.com/driftchat/drift/internal/chat"
	"github.com/driftchat/drift/internal/domain"
)

// inbound is a client command frame.
type inbound struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// outbound is a server event frame.
type outbound struct {
	Type    string   `json:"type"`
	Text    string   `json:"text,omitempty"`
	Code    string   `json:"code,omitempty"`
	Summary *summary `json:"summary,omitempty"`
}

type summary struct {
	PairID        string `json:"pair_id"`
	DurationSecs  int64  `json:"duration_secs"`
	MessagesTotal int    `json:"messages_total"`
}

func outboundFromEvent(ev chat.Event) outbound {
	switch ev.Kind {
	case chat.EventMatched:
		return outbound{Type: "matched", Text: "Connected to a stranger. Say hi!"}
	case chat.EventMessage:
		return outbound{Type: "message", Text: ev.Body}
	case chat.EventTyping:
		return outbound{Type: "typing"}
	case chat.EventPartnerLeft:
		return outbound{Type: "partner_left", Text: "Your partner left the chat."}
	default:
		return outbound{Type: string(ev.Kind), Text: ev.Body}
	}
}

func outboundSummary(s *domain.PairSummary) outbound {
	return outbound{
		Type: "ended",
		Summary: &summary{
			PairID:        s.PairID,
			DurationSecs:  int64(s.Duration / time.Second),
			MessagesTotal: s.MessagesTotal,
		},
	}
}
