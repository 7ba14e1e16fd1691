// Package comic is the read-only view over an analyzed comic: pages hold
// panels, panels hold bubbles, and every lookup works on order-sorted data.
package comic

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

var ErrNotFound = errors.New("not found")
var ErrPageNotFound = fmt.Errorf("page %w", ErrNotFound)
var ErrPanelNotFound = fmt.Errorf("panel %w", ErrNotFound)
var ErrEmptyDocument = errors.New("document has no pages")
var ErrUnknownCharacter = errors.New("character is not in this comic")

type ReadingDirection string

const (
	LeftToRight ReadingDirection = "ltr"
	RightToLeft ReadingDirection = "rtl"
)

type Style string

const (
	StyleWestern Style = "western"
	StyleManga   Style = "manga"
)

type BubbleKind string

const (
	KindSpeech    BubbleKind = "speech"
	KindThought   BubbleKind = "thought"
	KindNarration BubbleKind = "narration"
	KindSound     BubbleKind = "sound"
)

type Document struct {
	Title            string           `json:"title"`
	Characters       []string         `json:"characters"`
	ReadingDirection ReadingDirection `json:"reading_direction"`
	Style            Style            `json:"style"`
	Pages            []Page           `json:"pages"`
}

type Page struct {
	PageNumber int     `json:"page_number"`
	Panels     []Panel `json:"panels"`
}

type Panel struct {
	ID      string   `json:"panel_id"`
	Order   int      `json:"order"`
	Bubbles []Bubble `json:"bubbles"`
}

type Bubble struct {
	ID        string     `json:"bubble_id"`
	Text      string     `json:"text"`
	Order     int        `json:"order"`
	Character string     `json:"character"`
	Kind      BubbleKind `json:"bubble_type"`
}

// Page returns the page numbered n.
func (d *Document) Page(n int) (*Page, error) {
	for i := range d.Pages {
		if d.Pages[i].PageNumber == n {
			return &d.Pages[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrPageNotFound, n)
}

// PageNumbers lists page numbers ascending.
func (d *Document) PageNumbers() []int {
	nums := make([]int, 0, len(d.Pages))
	for _, p := range d.Pages {
		nums = append(nums, p.PageNumber)
	}
	slices.Sort(nums)
	return nums
}

func (d *Document) FirstPage() (int, bool) {
	nums := d.PageNumbers()
	if len(nums) == 0 {
		return 0, false
	}
	return nums[0], true
}

func (d *Document) LastPage() (int, bool) {
	nums := d.PageNumbers()
	if len(nums) == 0 {
		return 0, false
	}
	return nums[len(nums)-1], true
}

// NextPage returns the smallest page number greater than n.
func (d *Document) NextPage(n int) (int, bool) {
	for _, num := range d.PageNumbers() {
		if num > n {
			return num, true
		}
	}
	return 0, false
}

// PrevPage returns the largest page number smaller than n.
func (d *Document) PrevPage(n int) (int, bool) {
	nums := d.PageNumbers()
	for i := len(nums) - 1; i >= 0; i-- {
		if nums[i] < n {
			return nums[i], true
		}
	}
	return 0, false
}

// BubbleCount is the number of bubbles across the whole document.
func (d *Document) BubbleCount() int {
	total := 0
	for _, p := range d.Pages {
		for _, panel := range p.Panels {
			total += len(panel.Bubbles)
		}
	}
	return total
}

// Panel returns the panel with the given order on this page.
func (p *Page) Panel(order int) (*Panel, error) {
	for i := range p.Panels {
		if p.Panels[i].Order == order {
			return &p.Panels[i], nil
		}
	}
	return nil, fmt.Errorf("%w: page %d order %d", ErrPanelNotFound, p.PageNumber, order)
}

// SortedPanels returns the panels in visiting order. Ties keep document order.
func (p *Page) SortedPanels() []Panel {
	out := slices.Clone(p.Panels)
	slices.SortStableFunc(out, func(a, b Panel) int { return cmp.Compare(a.Order, b.Order) })
	return out
}

func (p *Page) panelOrders() []int {
	orders := make([]int, 0, len(p.Panels))
	for _, panel := range p.SortedPanels() {
		orders = append(orders, panel.Order)
	}
	return slices.Compact(orders)
}

// FirstPanelOrder is the first panel order on the page, or 1 when the page
// has no panels.
func (p *Page) FirstPanelOrder() int {
	orders := p.panelOrders()
	if len(orders) == 0 {
		return 1
	}
	return orders[0]
}

// LastPanelOrder is the last panel order on the page, or 1 when the page has
// no panels.
func (p *Page) LastPanelOrder() int {
	orders := p.panelOrders()
	if len(orders) == 0 {
		return 1
	}
	return orders[len(orders)-1]
}

func (p *Page) NextPanel(order int) (int, bool) {
	for _, o := range p.panelOrders() {
		if o > order {
			return o, true
		}
	}
	return 0, false
}

func (p *Page) PrevPanel(order int) (int, bool) {
	orders := p.panelOrders()
	for i := len(orders) - 1; i >= 0; i-- {
		if orders[i] < order {
			return orders[i], true
		}
	}
	return 0, false
}

// SortedBubbles returns the bubbles in speaking order. Storage order is
// never meaningful; ties keep document order.
func (p *Panel) SortedBubbles() []Bubble {
	out := slices.Clone(p.Bubbles)
	slices.SortStableFunc(out, func(a, b Bubble) int { return cmp.Compare(a.Order, b.Order) })
	return out
}

// BubblesAt looks up the sorted bubbles of a panel by page number and order.
// A page without panels yields an empty slice for order 1.
func (d *Document) BubblesAt(page, panel int) ([]Bubble, error) {
	pg, err := d.Page(page)
	if err != nil {
		return nil, err
	}
	if len(pg.Panels) == 0 && panel == 1 {
		return nil, nil
	}
	p, err := pg.Panel(panel)
	if err != nil {
		return nil, err
	}
	return p.SortedBubbles(), nil
}
