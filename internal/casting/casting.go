// Package casting tracks which player voices which comic character.
//
// A character belongs to at most one player slot at a time. Characters no
// slot claims are voiced by the AI narrator.
package casting

import (
	"errors"
	"fmt"
	"slices"
)

var ErrInvalidPlayerCount = errors.New("player count must be at least 1")
var ErrSlotOutOfRange = errors.New("player slot out of range")
var ErrNoHumanPlayers = errors.New("at least one character must be assigned to a player")

// Palette is indexed by slot, so a slot keeps its color no matter which
// order characters were handed out in.
var Palette = []string{
	"#3b82f6", // blue
	"#ef4444", // red
	"#22c55e", // green
	"#f59e0b", // yellow
	"#8b5cf6", // purple
	"#ec4899", // pink
}

// Slot is a player's position in the table. It doubles as the assignment key.
type Slot int

func (s Slot) String() string { return fmt.Sprintf("Player %d", int(s)+1) }

func ColorFor(slot Slot) string {
	return Palette[int(slot)%len(Palette)]
}

type Assignment struct {
	PlayerName string   `json:"player_name"`
	Characters []string `json:"characters"`
	Color      string   `json:"color"`
}

type Table struct {
	names    []string
	assigned []*Assignment // same length as names; nil until the slot claims a character
}

// NewTable returns a table with n default-named players and no assignments.
func NewTable(n int) (*Table, error) {
	t := &Table{}
	if err := t.SetPlayerCount(n); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) PlayerCount() int { return len(t.names) }

func (t *Table) PlayerName(slot Slot) (string, error) {
	if !t.inRange(slot) {
		return "", ErrSlotOutOfRange
	}
	return t.names[slot], nil
}

// SetPlayerCount resizes the slot list and clears every assignment: slots are
// the assignment keys, so old character-to-slot pairs are meaningless after a resize.
func (t *Table) SetPlayerCount(n int) error {
	if n < 1 {
		return ErrInvalidPlayerCount
	}
	names := make([]string, n)
	for i := range names {
		if i < len(t.names) {
			names[i] = t.names[i]
		} else {
			names[i] = Slot(i).String()
		}
	}
	t.names = names
	t.assigned = make([]*Assignment, n)
	return nil
}

func (t *Table) RenamePlayer(slot Slot, name string) error {
	if !t.inRange(slot) {
		return ErrSlotOutOfRange
	}
	t.names[slot] = name
	return nil
}

// Assign hands character to slot, taking it away from any previous owner.
func (t *Table) Assign(character string, slot Slot) error {
	if !t.inRange(slot) {
		return ErrSlotOutOfRange
	}
	if owner, ok := t.FindOwner(character); ok && owner == slot {
		return nil
	}
	t.Unassign(character)

	a := t.assigned[slot]
	if a == nil {
		a = &Assignment{Color: ColorFor(slot)}
		t.assigned[slot] = a
	}
	a.Characters = append(a.Characters, character)
	return nil
}

func (t *Table) Unassign(character string) {
	for _, a := range t.assigned {
		if a == nil {
			continue
		}
		a.Characters = slices.DeleteFunc(a.Characters, func(c string) bool { return c == character })
	}
}

func (t *Table) FindOwner(character string) (Slot, bool) {
	for i, a := range t.assigned {
		if a != nil && slices.Contains(a.Characters, character) {
			return Slot(i), true
		}
	}
	return 0, false
}

// Owner returns the assignment holding character, with the current player name.
func (t *Table) Owner(character string) (Slot, Assignment, bool) {
	slot, ok := t.FindOwner(character)
	if !ok {
		return 0, Assignment{}, false
	}
	return slot, t.assignment(slot), true
}

// Unassigned returns the characters of all that nobody voices, in input order.
func (t *Table) Unassigned(all []string) []string {
	out := []string{}
	for _, c := range all {
		if _, ok := t.FindOwner(c); !ok && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

func (t *Table) CanStart() bool {
	for _, a := range t.assigned {
		if a != nil && len(a.Characters) > 0 {
			return true
		}
	}
	return false
}

// Validate rejects a table nobody plays in.
func (t *Table) Validate() error {
	if !t.CanStart() {
		return ErrNoHumanPlayers
	}
	return nil
}

// Seat is an assignment together with the slot that owns it.
type Seat struct {
	Slot Slot `json:"slot"`
	Assignment
}

// Seats returns copies of the slot records that exist, in slot order.
func (t *Table) Seats() []Seat {
	out := []Seat{}
	for i, a := range t.assigned {
		if a == nil {
			continue
		}
		out = append(out, Seat{Slot: Slot(i), Assignment: t.assignment(Slot(i))})
	}
	return out
}

func (t *Table) assignment(slot Slot) Assignment {
	a := t.assigned[slot]
	return Assignment{
		PlayerName: t.names[slot],
		Characters: append([]string{}, a.Characters...),
		Color:      a.Color,
	}
}

func (t *Table) inRange(slot Slot) bool {
	return slot >= 0 && int(slot) < len(t.names)
}
