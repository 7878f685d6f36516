package image

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/image-store/internal/model"
)

const schema = `
	CREATE TABLE IF NOT EXISTS images (
		content_id          TEXT PRIMARY KEY,
		position            INTEGER NOT NULL,
		original_filename   TEXT NOT NULL,
		content_type        TEXT NOT NULL,
		size                BIGINT NOT NULL,
		original_location   TEXT NOT NULL,
		derivative_location TEXT NOT NULL,
		original_url        TEXT NOT NULL DEFAULT '',
		derivative_url      TEXT NOT NULL DEFAULT '',
		width               INTEGER NOT NULL,
		height              INTEGER NOT NULL,
		original_width      INTEGER NOT NULL,
		original_height     INTEGER NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL
	)
`

// Repository stores the catalog in PostgreSQL, one row per record.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the images table if it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Master.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: failed to create images table: %w", err)
	}

	return nil
}

// Load returns every record ordered by insertion position.
func (r *Repository) Load(ctx context.Context) ([]model.Image, error) {
	query := `
		SELECT content_id, original_filename, content_type, size,
		       original_location, derivative_location, original_url, derivative_url,
		       width, height, original_width, original_height, created_at, updated_at
		FROM images
		ORDER BY position
    `

	rows, err := r.db.Master.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load: failed to query images: %w", err)
	}
	defer rows.Close()

	images := []model.Image{}
	for rows.Next() {
		var img model.Image
		if err := rows.Scan(
			&img.ContentID, &img.OriginalFilename, &img.ContentType, &img.Size,
			&img.OriginalLocation, &img.DerivativeLocation, &img.OriginalURL, &img.DerivativeURL,
			&img.Width, &img.Height, &img.OriginalWidth, &img.OriginalHeight, &img.CreatedAt, &img.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("load: failed to scan image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load: failed to iterate images: %w", err)
	}

	return images, nil
}

// Save replaces the table contents with images inside one transaction.
func (r *Repository) Save(ctx context.Context, images []model.Image) (err error) {
	tx, err := r.db.Master.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("save: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM images`); err != nil {
		return fmt.Errorf("save: failed to clear images: %w", err)
	}

	query := `
		INSERT INTO images (content_id, position, original_filename, content_type, size,
		                    original_location, derivative_location, original_url, derivative_url,
		                    width, height, original_width, original_height, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
    `

	for i, img := range images {
		_, err = tx.ExecContext(ctx, query,
			img.ContentID, i, img.OriginalFilename, img.ContentType, img.Size,
			img.OriginalLocation, img.DerivativeLocation, img.OriginalURL, img.DerivativeURL,
			img.Width, img.Height, img.OriginalWidth, img.OriginalHeight, img.CreatedAt, img.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("save: failed to insert image %s: %w", img.ContentID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("save: failed to commit: %w", err)
	}

	return nil
}
