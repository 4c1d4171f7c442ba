package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/liuran001/BiliSummary-Go/summary"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when no stored analysis matches.
var ErrNotFound = errors.New("db: not found")

// Repository stores danmaku segments and generated summaries.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ summary.AnalysisRepository = (*Repository)(nil)

// NewSQLiteRepository creates a repository backed by SQLite.
func NewSQLiteRepository(dsn string, gormLogger logger.Interface) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn required")
	}

	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	dbDir := filepath.Dir(dsn)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 gormLogger,
	})
	if err != nil {
		return nil, err
	}

	if err := applySQLitePragmas(db); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SegmentModel{}, &AnalysisModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Repository{db: db, now: time.Now}, nil
}

// ConfigurePool updates the database connection pool settings.
func (r *Repository) ConfigurePool(maxOpen, maxIdle int, maxLifetime time.Duration) error {
	if r == nil || r.db == nil {
		return errors.New("repository not configured")
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime >= 0 {
		sqlDB.SetConnMaxLifetime(maxLifetime)
	}
	return nil
}

// GetSegment returns the cached payload of a segment fetched within maxAge.
// A maxAge <= 0 accepts entries of any age.
func (r *Repository) GetSegment(ctx context.Context, cid int64, index int, maxAge time.Duration) ([]byte, bool, error) {
	var model SegmentModel
	q := r.db.WithContext(ctx).Where("cid = ? AND segment_index = ?", cid, index)
	if maxAge > 0 {
		q = q.Where("fetched_at >= ?", r.now().Add(-maxAge))
	}
	err := q.Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return model.Payload, true, nil
}

// PutSegment stores or replaces the payload of a segment.
func (r *Repository) PutSegment(ctx context.Context, cid int64, index int, payload []byte) error {
	if payload == nil {
		payload = []byte{}
	}
	model := SegmentModel{
		Cid:          cid,
		SegmentIndex: index,
		Payload:      payload,
		FetchedAt:    r.now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cid"}, {Name: "segment_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "fetched_at"}),
	}).Create(&model).Error
}

// PurgeSegments deletes segments fetched before olderThan and reports how many were removed.
func (r *Repository) PurgeSegments(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("fetched_at < ?", olderThan).Delete(&SegmentModel{})
	return res.RowsAffected, res.Error
}

// CountSegments returns the number of cached segments.
func (r *Repository) CountSegments(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&SegmentModel{}).Count(&count).Error
	return count, err
}

// SaveAnalysis stores a generated summary.
func (r *Repository) SaveAnalysis(ctx context.Context, analysis *summary.Analysis) error {
	if analysis == nil {
		return errors.New("analysis required")
	}
	model := toAnalysisModel(analysis)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	analysis.ID = model.ID
	analysis.CreatedAt = model.CreatedAt
	return nil
}

// LatestAnalysis returns the newest summary of videoID produced by model.
// An empty model matches any model.
func (r *Repository) LatestAnalysis(ctx context.Context, videoID, model string) (*summary.Analysis, error) {
	var m AnalysisModel
	q := r.db.WithContext(ctx).Where("video_id = ?", videoID)
	if model != "" {
		q = q.Where("model = ?", model)
	}
	err := q.Order("id DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromAnalysisModel(&m), nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func applySQLitePragmas(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-64000;",
	}
	for _, stmt := range pragmas {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
