package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkpoint-sync-api/internal/model"

	"go.uber.org/zap"
)

// SQLSaveRepository implements SaveRepository on database/sql.
// Queries use ? placeholders, understood by both the MySQL and SQLite drivers.
type SQLSaveRepository struct {
	db      *sql.DB
	dialect Dialect
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// Options configures a SQLSaveRepository.
type Options struct {
	Dialect Dialect
	// Timeout bounds every statement; zero means 5s.
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewSQLSaveRepository takes ownership of db and creates the saves table if needed.
func NewSQLSaveRepository(ctx context.Context, db *sql.DB, opts Options) (*SQLSaveRepository, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	if err := createTables(ctx, db, opts.Dialect); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	opts.Logger.Info("save repository initialized", zap.String("dialect", string(opts.Dialect)))
	return &SQLSaveRepository{
		db:      db,
		dialect: opts.Dialect,
		timeout: opts.Timeout,
		now:     time.Now,
		logger:  opts.Logger,
	}, nil
}

const saveColumns = `id, created_at, content_digest, blob_location, is_private, product_code, owner_key, title_id, platform, display_name`

// Create inserts a new save row.
func (r *SQLSaveRepository) Create(ctx context.Context, meta model.SaveMetadata, ownerKey, blobLocation string) (int64, error) {
	const op = "create save"

	if err := meta.Validate(); err != nil {
		return 0, err
	}
	if err := model.ValidateOwnerKey(ownerKey); err != nil {
		return 0, err
	}
	if blobLocation == "" {
		return 0, model.InvalidInput(op, "blob_location", "blob location is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO saves (created_at, content_digest, blob_location, is_private, product_code, owner_key, title_id, platform, display_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		r.now().UTC().Truncate(time.Microsecond),
		strings.ToLower(meta.ContentDigest),
		blobLocation,
		meta.IsPrivate,
		nullString(meta.ProductCode),
		ownerKey,
		nullInt64(meta.TitleID),
		string(meta.Platform),
		meta.DisplayName,
	)
	if err != nil {
		return 0, model.Internal(op, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, model.Internal(op, err)
	}
	return id, nil
}

// FetchByTitle returns every visible record of a title.
func (r *SQLSaveRepository) FetchByTitle(ctx context.Context, titleID int64, ownerKey string) ([]model.SaveRecord, error) {
	const op = "fetch saves by title"

	if err := model.ValidateOwnerKey(ownerKey); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + saveColumns + ` FROM saves
		WHERE title_id = ? AND (owner_key = ? OR is_private = FALSE)
		ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, titleID, ownerKey)
	if err != nil {
		return nil, model.Internal(op, err)
	}
	defer rows.Close()

	records := []model.SaveRecord{}
	for rows.Next() {
		rec, err := scanSave(rows)
		if err != nil {
			return nil, model.Internal(op, err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Internal(op, err)
	}
	return records, nil
}

// FetchByID returns the record or nil when it is absent or not visible to ownerKey.
func (r *SQLSaveRepository) FetchByID(ctx context.Context, id int64, ownerKey string) (*model.SaveRecord, error) {
	const op = "fetch save"

	if err := model.ValidateOwnerKey(ownerKey); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + saveColumns + ` FROM saves
		WHERE id = ? AND (owner_key = ? OR is_private = FALSE)`

	rec, err := scanSave(r.db.QueryRowContext(ctx, query, id, ownerKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, model.Internal(op, err)
	}
	return rec, nil
}

// DeleteByID deletes the row if ownerKey owns it. Privacy is irrelevant here.
func (r *SQLSaveRepository) DeleteByID(ctx context.Context, id int64, ownerKey string) (model.DeleteResult, error) {
	const op = "delete save"
	notFound := model.DeleteResult{Outcome: model.DeleteNotFound}

	if err := model.ValidateOwnerKey(ownerKey); err != nil {
		return notFound, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return notFound, model.Internal(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	var (
		location string
		titleID  sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, `SELECT blob_location, title_id FROM saves WHERE id = ? AND owner_key = ?`, id, ownerKey).
		Scan(&location, &titleID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound, nil
	}
	if err != nil {
		return notFound, model.Internal(op, err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM saves WHERE id = ? AND owner_key = ?`, id, ownerKey)
	if err != nil {
		return notFound, model.Internal(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return notFound, model.Internal(op, err)
	}

	switch {
	case n == 0:
		// Deleted concurrently between the select and the delete.
		return notFound, nil
	case n > 1:
		r.logger.Error("multiple rows share a primary key, delete rolled back",
			zap.Int64("id", id),
			zap.Int64("rows", n))
		return notFound, model.Internal(op, fmt.Errorf("%w: %d rows with id %d", model.ErrIntegrity, n, id))
	}

	if err := tx.Commit(); err != nil {
		return notFound, model.Internal(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	res := model.DeleteResult{Outcome: model.DeleteRemoved, BlobLocation: location}
	if titleID.Valid {
		res.TitleID = &titleID.Int64
	}
	return res, nil
}

// LocationReferenced reports whether a row points at location.
func (r *SQLSaveRepository) LocationReferenced(ctx context.Context, location string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM saves WHERE blob_location = ?`, location).Scan(&n)
	if err != nil {
		return false, model.Internal("check blob reference", err)
	}
	return n > 0, nil
}

// Ping checks database connectivity.
func (r *SQLSaveRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.db.PingContext(ctx)
}

// Close closes the database connection pool.
func (r *SQLSaveRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSave(row rowScanner) (*model.SaveRecord, error) {
	var (
		rec         model.SaveRecord
		productCode sql.NullString
		titleID     sql.NullInt64
		platform    string
	)
	err := row.Scan(
		&rec.ID,
		&rec.CreatedAt,
		&rec.ContentDigest,
		&rec.BlobLocation,
		&rec.IsPrivate,
		&productCode,
		&rec.OwnerKey,
		&titleID,
		&platform,
		&rec.DisplayName,
	)
	if err != nil {
		return nil, err
	}

	rec.Platform = model.Platform(platform)
	if productCode.Valid {
		rec.ProductCode = &productCode.String
	}
	if titleID.Valid {
		rec.TitleID = &titleID.Int64
	}
	return &rec, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// Ensure SQLSaveRepository implements SaveRepository
var _ SaveRepository = (*SQLSaveRepository)(nil)
