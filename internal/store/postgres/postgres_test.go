package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/DoyleJ11/comic-readalong-backend/internal/casting"
	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
	"github.com/DoyleJ11/comic-readalong-backend/internal/model"
	"github.com/DoyleJ11/comic-readalong-backend/internal/store"
)

func TestMapErr(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{name: "record not found", in: gorm.ErrRecordNotFound, want: store.ErrNotFound},
		{name: "wrapped unique violation", in: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: store.ErrAlreadyExists},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, mapErr(tc.in), tc.want)
		})
	}

	other := errors.New("boom")
	assert.Equal(t, other, mapErr(other))
}

// Runs against a real database when TEST_DATABASE_URL is set.
func TestStoreAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	c := &model.Comic{
		ID:     uuid.NewString(),
		Title:  "Tide",
		UserID: "user-pg",
		Metadata: comic.Document{
			Title: "Tide", Characters: []string{"Io"}, ReadingDirection: comic.LeftToRight, Style: comic.StyleWestern,
			Pages: []comic.Page{{PageNumber: 1}},
		},
	}
	require.NoError(t, s.CreateComic(ctx, c))
	assert.ErrorIs(t, s.CreateComic(ctx, c), store.ErrAlreadyExists)

	got, err := s.GetComic(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Metadata, got.Metadata)

	sess := &model.Session{ID: uuid.NewString(), UserID: "user-pg", ComicID: c.ID, CurrentPage: 1, CurrentPanel: 1}
	require.NoError(t, s.CreateSession(ctx, sess))
	require.NoError(t, s.UpdateProgress(ctx, sess.ID, store.Progress{Page: 1, Panel: 1, Seq: 5}))
	assert.ErrorIs(t, s.UpdateProgress(ctx, sess.ID, store.Progress{Page: 1, Panel: 1, Seq: 4}), store.ErrStaleProgress)

	r := casting.Roster{Players: []casting.Assignment{{PlayerName: "A", Characters: []string{"Io"}, Color: casting.Palette[0]}}, AICharacters: []string{}}
	require.NoError(t, s.UpdateAssignments(ctx, sess.ID, store.Assignments{Roster: r, Seq: 3}))
	stale := store.Assignments{Roster: casting.Roster{Players: []casting.Assignment{}, AICharacters: []string{"Io"}}, Seq: 2}
	assert.ErrorIs(t, s.UpdateAssignments(ctx, sess.ID, stale), store.ErrStaleAssignments)
	loaded, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, r, loaded.CharacterAssignments)
	assert.Equal(t, int64(5), loaded.ProgressSeq)
	assert.Equal(t, int64(3), loaded.AssignmentsSeq)

	_, err = s.GetSession(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
