package comic

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var ErrInvalidDocument = errors.New("invalid document")

// Validate checks the structural guarantees navigation relies on.
func (d *Document) Validate() error {
	if len(d.Pages) == 0 {
		return ErrEmptyDocument
	}

	seen := make(map[int]bool, len(d.Pages))
	for _, p := range d.Pages {
		if p.PageNumber < 1 {
			return fmt.Errorf("%w: page number %d must be positive", ErrInvalidDocument, p.PageNumber)
		}
		if seen[p.PageNumber] {
			return fmt.Errorf("%w: duplicate page number %d", ErrInvalidDocument, p.PageNumber)
		}
		seen[p.PageNumber] = true

		for _, panel := range p.Panels {
			if panel.Order < 1 {
				return fmt.Errorf("%w: page %d has panel order %d", ErrInvalidDocument, p.PageNumber, panel.Order)
			}
			for _, b := range panel.Bubbles {
				if b.Order < 1 {
					return fmt.Errorf("%w: bubble %q has order %d", ErrInvalidDocument, b.ID, b.Order)
				}
				if !validKind(b.Kind) {
					return fmt.Errorf("%w: bubble %q has type %q", ErrInvalidDocument, b.ID, b.Kind)
				}
			}
		}
	}

	switch d.ReadingDirection {
	case LeftToRight, RightToLeft:
	default:
		return fmt.Errorf("%w: reading direction %q", ErrInvalidDocument, d.ReadingDirection)
	}
	switch d.Style {
	case StyleWestern, StyleManga:
	default:
		return fmt.Errorf("%w: style %q", ErrInvalidDocument, d.Style)
	}
	return nil
}

func validKind(k BubbleKind) bool {
	switch k {
	case KindSpeech, KindThought, KindNarration, KindSound:
		return true
	}
	return false
}

// Normalize cleans up analyzer output before it is stored. Character names
// are NFC-normalized so the same name typed two ways matches one assignment.
func (d *Document) Normalize() {
	if d.ReadingDirection == "" {
		d.ReadingDirection = LeftToRight
	}
	if d.Style == "" {
		d.Style = StyleWestern
	}

	chars := make([]string, 0, len(d.Characters))
	for _, c := range d.Characters {
		if c = CharacterName(c); c != "" && !slices.Contains(chars, c) {
			chars = append(chars, c)
		}
	}

	for i := range d.Pages {
		for j := range d.Pages[i].Panels {
			panel := &d.Pages[i].Panels[j]
			for k := range panel.Bubbles {
				b := &panel.Bubbles[k]
				b.Character = CharacterName(b.Character)
				if b.Kind == "" {
					b.Kind = KindSpeech
				}
				// Speakers the analyzer forgot to list still need to be castable.
				if b.Character != "" && !slices.Contains(chars, b.Character) {
					chars = append(chars, b.Character)
				}
			}
		}
	}
	d.Characters = chars
}

// CharacterName is the canonical form of a character name.
func CharacterName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func (d *Document) HasCharacter(name string) bool {
	return slices.Contains(d.Characters, name)
}
