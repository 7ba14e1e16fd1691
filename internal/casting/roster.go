package casting

import "slices"

// Roster is the stored form of a table, as sessions persist it.
// AICharacters is derived on write and ignored on read.
type Roster struct {
	Players      []Assignment `json:"players"`
	AICharacters []string     `json:"ai_characters"`
}

// Roster keeps only players with at least one character, like the reader
// always sent when starting a session.
func (t *Table) Roster(all []string) Roster {
	r := Roster{Players: []Assignment{}, AICharacters: t.Unassigned(all)}
	for _, seat := range t.Seats() {
		if len(seat.Characters) > 0 {
			r.Players = append(r.Players, seat.Assignment)
		}
	}
	return r
}

// FromRoster rebuilds a table from its stored form. Players take slots in
// stored order and keep their stored colors. A character listed under two
// players stays with the first.
func FromRoster(r Roster) *Table {
	n := max(len(r.Players), 1)
	t := &Table{names: make([]string, n), assigned: make([]*Assignment, n)}
	for i := range t.names {
		t.names[i] = Slot(i).String()
	}

	for i, p := range r.Players {
		slot := Slot(i)
		if p.PlayerName != "" {
			t.names[i] = p.PlayerName
		}
		color := p.Color
		if color == "" {
			color = ColorFor(slot)
		}
		a := &Assignment{Color: color, Characters: []string{}}
		for _, c := range p.Characters {
			if _, taken := t.FindOwner(c); taken || slices.Contains(a.Characters, c) {
				continue
			}
			a.Characters = append(a.Characters, c)
		}
		t.assigned[i] = a
	}
	return t
}
