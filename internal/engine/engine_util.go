package engine

import (
	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
)

func NewState(doc *comic.Document, c Cursor) State {
	return State{Cursor: c, Phase: DerivePhase(doc, c)}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// Moved reports whether the events changed (page, panel), i.e. whether the
// move has to be persisted.
func Moved(events []Event) bool {
	return ContainsEvent(events, EvtPanelChanged)
}

func DerivePhase(doc *comic.Document, c Cursor) Phase {
	if _, ok := doc.NextPage(c.Page); !ok {
		if page, err := doc.Page(c.Page); err == nil {
			if _, more := page.NextPanel(c.Panel); !more {
				bubbles, _ := doc.BubblesAt(c.Page, c.Panel)
				if c.Bubble >= len(bubbles)-1 {
					return PhaseEnd
				}
			}
		}
	}

	if c.Bubble == 0 {
		if _, ok := doc.PrevPage(c.Page); !ok {
			if page, err := doc.Page(c.Page); err == nil {
				if _, prev := page.PrevPanel(c.Panel); !prev {
					return PhaseStart
				}
			}
		}
	}
	return PhaseReading
}

// Locate turns a persisted (page, panel) into a cursor on this document.
// Missing pages or panels are comic.ErrNotFound; a page without panels
// accepts panel 1.
func Locate(doc *comic.Document, page, panel int) (Cursor, error) {
	if _, err := doc.BubblesAt(page, panel); err != nil {
		return Cursor{}, err
	}
	return Cursor{Page: page, Panel: panel, Bubble: 0}, nil
}

// CurrentBubble returns the bubble under the cursor, if the panel has any.
func CurrentBubble(doc *comic.Document, c Cursor) (comic.Bubble, bool) {
	bubbles, err := doc.BubblesAt(c.Page, c.Panel)
	if err != nil || c.Bubble < 0 || c.Bubble >= len(bubbles) {
		return comic.Bubble{}, false
	}
	return bubbles[c.Bubble], true
}
