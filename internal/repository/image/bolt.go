package image

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wb-go/wbf/zlog"
	bolt "go.etcd.io/bbolt"

	"github.com/aliskhannn/image-store/internal/model"
)

var (
	bucketCatalog = []byte("catalog")
	keyImages     = []byte("images")
)

// BoltRepository keeps the whole catalog as one JSON document in a BoltDB file.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository opens (or creates) the catalog file at path.
func NewBoltRepository(path string, timeout time.Duration) (*BoltRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("boltdb: path is required")
	}
	if timeout == 0 {
		timeout = time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("boltdb: create directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("boltdb: open: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCatalog)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltdb: create bucket %s: %w", bucketCatalog, err)
	}

	return &BoltRepository{db: db}, nil
}

// Load decodes the stored document. A missing, empty or malformed document
// yields an empty catalog; a malformed one is logged and replaced on the next save.
func (r *BoltRepository) Load(ctx context.Context) ([]model.Image, error) {
	images := []model.Image{}

	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCatalog).Get(keyImages)
		if len(data) == 0 {
			return nil
		}

		var decoded []model.Image
		if err := json.Unmarshal(data, &decoded); err != nil {
			zlog.Logger.Warn().Err(err).Msg("catalog document is malformed, treating it as empty")
			return nil
		}
		if decoded != nil {
			images = decoded
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltdb: load: %w", err)
	}

	return images, nil
}

// Save rewrites the document with images.
func (r *BoltRepository) Save(ctx context.Context, images []model.Image) error {
	if images == nil {
		images = []model.Image{}
	}

	data, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("boltdb: marshal catalog: %w", err)
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCatalog).Put(keyImages, data)
	})
}

// Close releases the file lock.
func (r *BoltRepository) Close() error {
	return r.db.Close()
}
