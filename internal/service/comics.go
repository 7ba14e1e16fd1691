// Package service holds the use cases the HTTP and websocket layers call:
// importing comics, creating and loading reading sessions, and persisting
// what live rooms commit.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
	"github.com/DoyleJ11/comic-readalong-backend/internal/model"
	"github.com/DoyleJ11/comic-readalong-backend/internal/store"
)

var ErrNotFound = errors.New("not found")
var ErrForbidden = errors.New("forbidden")

type ComicService struct {
	comics store.ComicStore
	docs   *cache.Cache
	log    *zap.Logger
}

// NewComicService caches loaded comics for ttl. Comics never change after
// import, so a cached copy is never stale.
func NewComicService(comics store.ComicStore, ttl time.Duration, log *zap.Logger) *ComicService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ComicService{
		comics: comics,
		docs:   cache.New(ttl, 2*ttl),
		log:    log,
	}
}

// Import stores a finished analysis. The document is normalized and
// validated first; a blank title falls back to the document's own.
func (s *ComicService) Import(ctx context.Context, userID, title string, doc comic.Document) (*model.Comic, error) {
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if title = strings.TrimSpace(title); title == "" {
		title = doc.Title
	}

	c := &model.Comic{
		ID:        uuid.NewString(),
		Title:     title,
		UserID:    userID,
		Metadata:  doc,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.comics.CreateComic(ctx, c); err != nil {
		return nil, fmt.Errorf("storing comic: %w", err)
	}
	s.docs.SetDefault(c.ID, c)
	s.log.Info("comic imported",
		zap.String("comic_id", c.ID),
		zap.String("user_id", userID),
		zap.Int("pages", len(doc.Pages)),
		zap.Int("bubbles", doc.BubbleCount()),
	)
	return c, nil
}

// Get returns a shared, read-only comic.
func (s *ComicService) Get(ctx context.Context, id string) (*model.Comic, error) {
	if v, ok := s.docs.Get(id); ok {
		return v.(*model.Comic), nil
	}
	c, err := s.comics.GetComic(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("comic %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading comic: %w", err)
	}
	s.docs.SetDefault(id, c)
	return c, nil
}

func (s *ComicService) List(ctx context.Context, userID string) ([]model.Comic, error) {
	return s.comics.ListComicsByUser(ctx, userID)
}
