// Package sqlite provides a SQLite-backed comic and session store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/DoyleJ11/comic-readalong-backend/internal/model"
	"github.com/DoyleJ11/comic-readalong-backend/internal/store"
	"github.com/DoyleJ11/comic-readalong-backend/internal/store/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists comics and sessions in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ store.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies the embedded schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func applyMigrations(db *sql.DB) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := db.Exec(string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) CreateComic(ctx context.Context, c *model.Comic) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("comic id is required")
	}
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("encode comic metadata: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO comics (id, user_id, title, metadata_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, string(meta), toMillis(c.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert comic: %w", err)
	}
	return nil
}

func (s *Store) GetComic(ctx context.Context, id string) (*model.Comic, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, user_id, title, metadata_json, created_at FROM comics WHERE id = ?`, id)
	c, err := scanComic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return c, err
}

func (s *Store) ListComicsByUser(ctx context.Context, userID string) ([]model.Comic, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, user_id, title, metadata_json, created_at FROM comics WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list comics: %w", err)
	}
	defer rows.Close()

	out := []model.Comic{}
	for rows.Next() {
		c, err := scanComic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanComic(row scanner) (*model.Comic, error) {
	var (
		c         model.Comic
		meta      string
		createdAt int64
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &meta, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("decode comic metadata: %w", err)
	}
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	roster, err := json.Marshal(sess.CharacterAssignments)
	if err != nil {
		return fmt.Errorf("encode character assignments: %w", err)
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = sess.CreatedAt

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO sessions (
		   id, user_id, comic_id, current_page, current_panel,
		   character_assignments_json, progress_seq, assignments_seq, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.ComicID, sess.CurrentPage, sess.CurrentPanel,
		string(roster), sess.ProgressSeq, sess.AssignmentsSeq, toMillis(sess.CreatedAt), toMillis(sess.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, user_id, comic_id, current_page, current_panel,
	character_assignments_json, progress_seq, assignments_seq, created_at, updated_at`

func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return sess, err
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []model.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func scanSession(row scanner) (*model.Session, error) {
	var (
		sess                 model.Session
		roster               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.ComicID, &sess.CurrentPage, &sess.CurrentPanel,
		&roster, &sess.ProgressSeq, &sess.AssignmentsSeq, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roster), &sess.CharacterAssignments); err != nil {
		return nil, fmt.Errorf("decode character assignments: %w", err)
	}
	sess.CreatedAt = fromMillis(createdAt)
	sess.UpdatedAt = fromMillis(updatedAt)
	return &sess, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, p store.Progress) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET current_page = ?, current_panel = ?, progress_seq = ?, updated_at = ?
		 WHERE id = ? AND progress_seq < ?`,
		p.Page, p.Panel, p.Seq, toMillis(time.Now()), id, p.Seq,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return s.checkUpdated(ctx, res, id, store.ErrStaleProgress)
}

func (s *Store) UpdateAssignments(ctx context.Context, id string, a store.Assignments) error {
	roster, err := json.Marshal(a.Roster)
	if err != nil {
		return fmt.Errorf("encode character assignments: %w", err)
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET character_assignments_json = ?, assignments_seq = ?, updated_at = ?
		 WHERE id = ? AND assignments_seq < ?`,
		string(roster), a.Seq, toMillis(time.Now()), id, a.Seq,
	)
	if err != nil {
		return fmt.Errorf("update assignments: %w", err)
	}
	return s.checkUpdated(ctx, res, id, store.ErrStaleAssignments)
}

// checkUpdated tells a missing row apart from a guarded update that matched nothing.
func (s *Store) checkUpdated(ctx context.Context, res sql.Result, id string, guardErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return guardErr
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
