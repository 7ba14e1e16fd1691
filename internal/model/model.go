// Package model holds the records the persistence layer owns.
package model

import (
	"time"

	"github.com/DoyleJ11/comic-readalong-backend/internal/casting"
	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
)

type Comic struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	UserID    string         `json:"user_id"`
	Metadata  comic.Document `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Session is the durable projection of a reading: where the group is
// (page and panel only) and who plays whom.
type Session struct {
	ID                   string         `json:"id"`
	UserID               string         `json:"user_id"`
	ComicID              string         `json:"comic_id"`
	CurrentPage          int            `json:"current_page"`
	CurrentPanel         int            `json:"current_panel"`
	CharacterAssignments casting.Roster `json:"character_assignments"`
	ProgressSeq          int64          `json:"progress_seq"`
	AssignmentsSeq       int64          `json:"assignments_seq"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}
