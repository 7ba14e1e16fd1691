// Package postgres stores comics and sessions in Postgres through gorm,
// running on a pgx connection pool.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/comic-readalong-backend/internal/casting"
	"github.com/DoyleJ11/comic-readalong-backend/internal/comic"
	"github.com/DoyleJ11/comic-readalong-backend/internal/model"
	"github.com/DoyleJ11/comic-readalong-backend/internal/store"
)

const uniqueViolation = "23505"

type Config struct {
	DSN string

	MaxConns int32
	MinConns int32
}

type Store struct {
	pool  *pgxpool.Pool
	sqlDB *sql.DB
	db    *gorm.DB
}

var _ store.Store = (*Store)(nil)

type comicRow struct {
	ID        string         `gorm:"primaryKey"`
	UserID    string         `gorm:"not null;index"`
	Title     string         `gorm:"not null"`
	Metadata  comic.Document `gorm:"type:jsonb;serializer:json;not null"`
	CreatedAt time.Time
}

func (comicRow) TableName() string { return "comics" }

type sessionRow struct {
	ID                   string         `gorm:"primaryKey"`
	UserID               string         `gorm:"not null;index"`
	ComicID              string         `gorm:"not null;index"`
	CurrentPage          int            `gorm:"not null;default:1"`
	CurrentPanel         int            `gorm:"not null;default:1"`
	CharacterAssignments casting.Roster `gorm:"type:jsonb;serializer:json;not null"`
	ProgressSeq          int64          `gorm:"not null;default:0"`
	AssignmentsSeq       int64          `gorm:"not null;default:0"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (sessionRow) TableName() string { return "sessions" }

// Open connects to Postgres. Call Migrate before first use of a fresh database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		_ = sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("opening gorm: %w", err)
	}

	return &Store{pool: pool, sqlDB: sqlDB, db: db}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&comicRow{}, &sessionRow{})
}

func (s *Store) Close() error {
	err := s.sqlDB.Close()
	s.pool.Close()
	return err
}

func (s *Store) CreateComic(ctx context.Context, c *model.Comic) error {
	row := comicRow{ID: c.ID, UserID: c.UserID, Title: c.Title, Metadata: c.Metadata, CreatedAt: c.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return mapErr(err)
	}
	c.CreatedAt = row.CreatedAt
	return nil
}

func (s *Store) GetComic(ctx context.Context, id string) (*model.Comic, error) {
	var row comicRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return toComic(row), nil
}

func (s *Store) ListComicsByUser(ctx context.Context, userID string) ([]model.Comic, error) {
	var rows []comicRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	out := make([]model.Comic, 0, len(rows))
	for _, r := range rows {
		out = append(out, *toComic(r))
	}
	return out, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	row := sessionRow{
		ID:                   sess.ID,
		UserID:               sess.UserID,
		ComicID:              sess.ComicID,
		CurrentPage:          sess.CurrentPage,
		CurrentPanel:         sess.CurrentPanel,
		CharacterAssignments: sess.CharacterAssignments,
		ProgressSeq:          sess.ProgressSeq,
		AssignmentsSeq:       sess.AssignmentsSeq,
		CreatedAt:            sess.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return mapErr(err)
	}
	sess.CreatedAt = row.CreatedAt
	sess.UpdatedAt = row.UpdatedAt
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return toSession(row), nil
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID string) ([]model.Session, error) {
	var rows []sessionRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	out := make([]model.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, *toSession(r))
	}
	return out, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, p store.Progress) error {
	res := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND progress_seq < ?", id, p.Seq).
		Updates(map[string]any{
			"current_page":  p.Page,
			"current_panel": p.Panel,
			"progress_seq":  p.Seq,
		})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return s.missingOr(ctx, id, store.ErrStaleProgress)
}

func (s *Store) UpdateAssignments(ctx context.Context, id string, a store.Assignments) error {
	res := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND assignments_seq < ?", id, a.Seq).
		Select("CharacterAssignments", "AssignmentsSeq", "UpdatedAt").
		Updates(&sessionRow{CharacterAssignments: a.Roster, AssignmentsSeq: a.Seq, UpdatedAt: time.Now()})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return s.missingOr(ctx, id, store.ErrStaleAssignments)
}

func (s *Store) missingOr(ctx context.Context, id string, guardErr error) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return guardErr
}

func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrAlreadyExists
	}
	return err
}

func toComic(r comicRow) *model.Comic {
	return &model.Comic{ID: r.ID, Title: r.Title, UserID: r.UserID, Metadata: r.Metadata, CreatedAt: r.CreatedAt}
}

func toSession(r sessionRow) *model.Session {
	return &model.Session{
		ID:                   r.ID,
		UserID:               r.UserID,
		ComicID:              r.ComicID,
		CurrentPage:          r.CurrentPage,
		CurrentPanel:         r.CurrentPanel,
		CharacterAssignments: r.CharacterAssignments,
		ProgressSeq:          r.ProgressSeq,
		AssignmentsSeq:       r.AssignmentsSeq,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}
