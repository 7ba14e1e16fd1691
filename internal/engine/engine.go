package engine

import (
	"errors"

	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
)

var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseStart   Phase = "start"
	PhaseReading Phase = "reading"
	PhaseEnd     Phase = "end"
)

// Cursor is the reading position. Only Page and Panel are ever persisted;
// Bubble resets to 0 whenever the panel changes.
type Cursor struct {
	Page   int `json:"page"`
	Panel  int `json:"panel"`
	Bubble int `json:"bubble_index"`
}

var Start = Cursor{Page: 1, Panel: 1, Bubble: 0}

type State struct {
	Phase  Phase
	Cursor Cursor
}

type CommandType string

const (
	CmdNextBubble CommandType = "NextBubble"
	CmdPrevBubble CommandType = "PrevBubble"
	CmdNextPanel  CommandType = "NextPanel"
	CmdPrevPanel  CommandType = "PrevPanel"
	CmdNextPage   CommandType = "NextPage"
	CmdPrevPage   CommandType = "PrevPage"
	CmdReplay     CommandType = "Replay"
)

/*
	CmdNextBubble -> EvtBubbleAdvanced, or falls through to CmdNextPanel
	CmdNextPanel  -> EvtPanelChanged, or falls through to CmdNextPage
	CmdNextPage   -> EvtPageChanged + EvtPanelChanged, or EvtEndOfDocument
	Prev* mirror these and stop with EvtStartOfDocument.
	CmdReplay     -> EvtReplayed, never persisted
*/

type Command struct {
	Type CommandType
}

type EventType string

const (
	EvtBubbleAdvanced  EventType = "BubbleAdvanced"
	EvtBubbleRetreated EventType = "BubbleRetreated"
	EvtPanelChanged    EventType = "PanelChanged"
	EvtPageChanged     EventType = "PageChanged"
	EvtEndOfDocument   EventType = "EndOfDocument"
	EvtStartOfDocument EventType = "StartOfDocument"
	EvtReplayed        EventType = "Replayed"
)

type Event struct {
	Type  EventType
	Page  int
	Panel int
}

func Apply(doc *comic.Document, s State, cmd Command) ([]Event, State, error) {
	if len(doc.Pages) == 0 {
		return nil, s, comic.ErrEmptyDocument
	}

	var next Cursor
	var events []Event

	switch cmd.Type {
	case CmdNextBubble:
		next, events = AdvanceBubble(doc, s.Cursor)
	case CmdPrevBubble:
		next, events = RetreatBubble(doc, s.Cursor)
	case CmdNextPanel:
		next, events = AdvancePanel(doc, s.Cursor)
	case CmdPrevPanel:
		next, events = RetreatPanel(doc, s.Cursor)
	case CmdNextPage:
		next, events = AdvancePage(doc, s.Cursor)
	case CmdPrevPage:
		next, events = RetreatPage(doc, s.Cursor)
	case CmdReplay:
		next = Replay(s.Cursor)
		events = []Event{{Type: EvtReplayed, Page: next.Page, Panel: next.Panel}}
	default:
		return nil, s, ErrUnsupportedCommand
	}

	newState := State{Cursor: next, Phase: DerivePhase(doc, next)}
	return events, newState, nil
}

func AdvanceBubble(doc *comic.Document, c Cursor) (Cursor, []Event) {
	bubbles, _ := doc.BubblesAt(c.Page, c.Panel)
	if c.Bubble < len(bubbles)-1 {
		c.Bubble++
		return c, []Event{{Type: EvtBubbleAdvanced, Page: c.Page, Panel: c.Panel}}
	}
	return AdvancePanel(doc, c)
}

func AdvancePanel(doc *comic.Document, c Cursor) (Cursor, []Event) {
	page, err := doc.Page(c.Page)
	if err != nil {
		return AdvancePage(doc, c)
	}
	order, ok := page.NextPanel(c.Panel)
	if !ok {
		return AdvancePage(doc, c)
	}
	c.Panel = order
	c.Bubble = 0
	return c, []Event{{Type: EvtPanelChanged, Page: c.Page, Panel: c.Panel}}
}

func AdvancePage(doc *comic.Document, c Cursor) (Cursor, []Event) {
	num, ok := doc.NextPage(c.Page)
	if !ok {
		// Terminal: reading stalls at the end of the document.
		return c, []Event{{Type: EvtEndOfDocument, Page: c.Page, Panel: c.Panel}}
	}
	page, _ := doc.Page(num)
	c = Cursor{Page: num, Panel: page.FirstPanelOrder(), Bubble: 0}
	return c, []Event{
		{Type: EvtPageChanged, Page: c.Page, Panel: c.Panel},
		{Type: EvtPanelChanged, Page: c.Page, Panel: c.Panel},
	}
}

func RetreatBubble(doc *comic.Document, c Cursor) (Cursor, []Event) {
	if c.Bubble > 0 {
		c.Bubble--
		return c, []Event{{Type: EvtBubbleRetreated, Page: c.Page, Panel: c.Panel}}
	}
	return RetreatPanel(doc, c)
}

// RetreatPanel lands on the first bubble of the previous panel, not its last.
func RetreatPanel(doc *comic.Document, c Cursor) (Cursor, []Event) {
	page, err := doc.Page(c.Page)
	if err != nil {
		return RetreatPage(doc, c)
	}
	order, ok := page.PrevPanel(c.Panel)
	if !ok {
		return RetreatPage(doc, c)
	}
	c.Panel = order
	c.Bubble = 0
	return c, []Event{{Type: EvtPanelChanged, Page: c.Page, Panel: c.Panel}}
}

func RetreatPage(doc *comic.Document, c Cursor) (Cursor, []Event) {
	num, ok := doc.PrevPage(c.Page)
	if !ok {
		return c, []Event{{Type: EvtStartOfDocument, Page: c.Page, Panel: c.Panel}}
	}
	page, _ := doc.Page(num)
	c = Cursor{Page: num, Panel: page.LastPanelOrder(), Bubble: 0}
	return c, []Event{
		{Type: EvtPageChanged, Page: c.Page, Panel: c.Panel},
		{Type: EvtPanelChanged, Page: c.Page, Panel: c.Panel},
	}
}

// Replay rewinds to the first bubble of the current panel.
func Replay(c Cursor) Cursor {
	c.Bubble = 0
	return c
}
