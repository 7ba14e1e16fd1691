package types

import (
	"github.com/DoyleJ11/comic-readalong-backend/internal/casting"
	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
	"github.com/DoyleJ11/comic-readalong-backend/internal/engine"
)

// ClientMessage is anything a reader sends over the socket. Navigation
// types carry no fields.
type ClientMessage struct {
	Type      string `json:"type"`
	Character string `json:"character,omitempty"`
	Slot      *int   `json:"slot,omitempty"`
	Name      string `json:"name,omitempty"`
	Count     int    `json:"count,omitempty"`
}

type ServerMessage struct {
	Type    string        `json:"type"` // "StateSnapshot" | "Error"
	Version int           `json:"version,omitempty"`
	State   *ReadingState `json:"state,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type ReadingState struct {
	Phase        engine.Phase    `json:"phase"`
	Cursor       engine.Cursor   `json:"cursor"`
	Bubble       *comic.Bubble   `json:"bubble,omitempty"`
	Turn         *engine.Speaker `json:"turn,omitempty"`
	PanelBubbles int             `json:"panel_bubbles"`
	BubbleCount  int             `json:"bubble_count"`
	Players      []string        `json:"players"`
	Seats        []casting.Seat  `json:"seats"`
	AICharacters []string        `json:"ai_characters"`
}
