// Package store defines the persistence collaborator the reading engine
// talks to. Implementations live in subpackages.
package store

import (
	"context"
	"errors"

	"github.com/DoyleJ11/comic-readalong-backend/internal/casting"
	"github.com/DoyleJ11/comic-readalong-backend/internal/model"
)

var ErrNotFound = errors.New("not found")
var ErrAlreadyExists = errors.New("already exists")

// ErrStaleProgress means a newer progress write already landed and this one
// was discarded.
var ErrStaleProgress = errors.New("stale progress")

// ErrStaleAssignments is ErrStaleProgress for rosters.
var ErrStaleAssignments = errors.New("stale character assignments")

// Progress is one committed (page, panel) move. Seq increases with every
// move a session makes.
type Progress struct {
	Page  int
	Panel int
	Seq   int64
}

// Assignments is one committed roster. Seq increases with every recast.
type Assignments struct {
	Roster casting.Roster
	Seq    int64
}

type ComicStore interface {
	CreateComic(ctx context.Context, c *model.Comic) error
	GetComic(ctx context.Context, id string) (*model.Comic, error)
	ListComicsByUser(ctx context.Context, userID string) ([]model.Comic, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessionsByUser(ctx context.Context, userID string) ([]model.Session, error)
	// UpdateProgress applies p only if p.Seq is newer than the stored sequence.
	UpdateProgress(ctx context.Context, id string, p Progress) error
	// UpdateAssignments applies a only if a.Seq is newer than the stored sequence.
	UpdateAssignments(ctx context.Context, id string, a Assignments) error
}

type Store interface {
	ComicStore
	SessionStore
	Close() error
}
