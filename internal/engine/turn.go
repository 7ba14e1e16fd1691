package engine

import (
	"github.com/DoyleJ11/comic-readalong-backend/internal/casting"
	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
)

// Speaker says who voices a bubble. A nil Slot means the AI narrator.
type Speaker struct {
	Character  string        `json:"character"`
	IsPlayer   bool          `json:"is_player"`
	Slot       *casting.Slot `json:"slot,omitempty"`
	PlayerName string        `json:"player_name,omitempty"`
	Color      string        `json:"color,omitempty"`
}

func IsPlayerTurn(t *casting.Table, b comic.Bubble) bool {
	_, ok := t.FindOwner(b.Character)
	return ok
}

// ClassifyTurn reads the table as it is right now. Callers must not keep the
// result across assignment changes.
func ClassifyTurn(t *casting.Table, b comic.Bubble) Speaker {
	slot, a, ok := t.Owner(b.Character)
	if !ok {
		return Speaker{Character: b.Character}
	}
	return Speaker{
		Character:  b.Character,
		IsPlayer:   true,
		Slot:       &slot,
		PlayerName: a.PlayerName,
		Color:      a.Color,
	}
}
