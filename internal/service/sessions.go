package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/comic-readalong-backend/internal/casting"
	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
	"github.com/DoyleJ11/comic-readalong-backend/internal/engine"
	"github.com/DoyleJ11/comic-readalong-backend/internal/model"
	"github.com/DoyleJ11/comic-readalong-backend/internal/room"
	"github.com/DoyleJ11/comic-readalong-backend/internal/store"
)

type SessionService struct {
	sessions    store.SessionStore
	comics      *ComicService
	log         *zap.Logger
	saveTimeout time.Duration
}

var _ room.ProgressSaver = (*SessionService)(nil)

func NewSessionService(sessions store.SessionStore, comics *ComicService, saveTimeout time.Duration, log *zap.Logger) *SessionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionService{sessions: sessions, comics: comics, log: log, saveTimeout: saveTimeout}
}

// Loaded is a session ready to read: its comic, the table rebuilt from the
// stored roster, and the cursor at the start of the stored panel.
type Loaded struct {
	Session *model.Session
	Comic   *model.Comic
	Table   *casting.Table
	Cursor  engine.Cursor
}

// Create starts a reading of comicID. A roster where nobody plays is
// rejected before anything is written.
func (s *SessionService) Create(ctx context.Context, userID, comicID string, r casting.Roster) (*model.Session, error) {
	c, err := s.comics.Get(ctx, comicID)
	if err != nil {
		return nil, err
	}
	roster, err := normalizeRoster(&c.Metadata, r)
	if err != nil {
		return nil, err
	}
	if err := casting.FromRoster(roster).Validate(); err != nil {
		return nil, err
	}

	sess := &model.Session{
		ID:                   uuid.NewString(),
		UserID:               userID,
		ComicID:              c.ID,
		CurrentPage:          engine.Start.Page,
		CurrentPanel:         engine.Start.Panel,
		CharacterAssignments: roster,
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	s.log.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("comic_id", c.ID),
		zap.Int("players", len(roster.Players)),
	)
	return sess, nil
}

// Get returns the session if userID owns it.
func (s *SessionService) Get(ctx context.Context, userID, id string) (*model.Session, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess.UserID != userID {
		return nil, ErrForbidden
	}
	return sess, nil
}

func (s *SessionService) List(ctx context.Context, userID string) ([]model.Session, error) {
	return s.sessions.ListSessionsByUser(ctx, userID)
}

// Load fetches a session and its comic and resolves the stored position.
// A stored page or panel the comic does not have is a not-found error;
// reading cannot start from it.
func (s *SessionService) Load(ctx context.Context, id string) (*Loaded, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	c, err := s.comics.Get(ctx, sess.ComicID)
	if err != nil {
		return nil, err
	}
	cursor, err := engine.Locate(&c.Metadata, sess.CurrentPage, sess.CurrentPanel)
	if err != nil {
		return nil, fmt.Errorf("session %s at page %d panel %d: %w", id, sess.CurrentPage, sess.CurrentPanel, err)
	}
	return &Loaded{
		Session: sess,
		Comic:   c,
		Table:   casting.FromRoster(sess.CharacterAssignments),
		Cursor:  cursor,
	}, nil
}

// RoomConfig loads a session into the shape a live room starts from.
func (s *SessionService) RoomConfig(ctx context.Context, id string) (room.Config, error) {
	l, err := s.Load(ctx, id)
	if err != nil {
		return room.Config{}, err
	}
	return room.Config{
		SessionID:   id,
		Doc:         &l.Comic.Metadata,
		Table:       l.Table,
		Cursor:      l.Cursor,
		Seq:         l.Session.ProgressSeq,
		RosterSeq:   l.Session.AssignmentsSeq,
		Saver:       s,
		Logger:      s.log,
		SaveTimeout: s.saveTimeout,
	}, nil
}

// NormalizeRoster checks a roster against the session's comic and returns
// it in stored form. An empty table is allowed here: mid-session everyone
// may hand their characters back to the AI.
func (s *SessionService) NormalizeRoster(ctx context.Context, sess *model.Session, r casting.Roster) (casting.Roster, error) {
	c, err := s.comics.Get(ctx, sess.ComicID)
	if err != nil {
		return casting.Roster{}, err
	}
	return normalizeRoster(&c.Metadata, r)
}

func (s *SessionService) SaveProgress(ctx context.Context, id string, p store.Progress) error {
	return s.sessions.UpdateProgress(ctx, id, p)
}

func (s *SessionService) SaveAssignments(ctx context.Context, id string, a store.Assignments) error {
	return s.sessions.UpdateAssignments(ctx, id, a)
}

// normalizeRoster canonicalizes character names, rejects names the comic
// does not have, and rederives the AI list.
func normalizeRoster(doc *comic.Document, r casting.Roster) (casting.Roster, error) {
	players := make([]casting.Assignment, 0, len(r.Players))
	for _, p := range r.Players {
		chars := make([]string, 0, len(p.Characters))
		for _, name := range p.Characters {
			name = comic.CharacterName(name)
			if !doc.HasCharacter(name) {
				return casting.Roster{}, fmt.Errorf("%w: %q", comic.ErrUnknownCharacter, name)
			}
			chars = append(chars, name)
		}
		p.Characters = chars
		players = append(players, p)
	}
	return casting.FromRoster(casting.Roster{Players: players}).Roster(doc.Characters), nil
}
