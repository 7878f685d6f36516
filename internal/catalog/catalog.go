// Package catalog holds the ordered set of image records and the lock that
// serializes every load-mutate-save cycle over it.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/aliskhannn/image-store/internal/model"
	"github.com/aliskhannn/image-store/internal/xerrors"
)

// Store persists the whole catalog. Load returns an empty slice when nothing
// has been saved yet; Save rewrites the backing representation in full.
type Store interface {
	Load(ctx context.Context) ([]model.Image, error)
	Save(ctx context.Context, images []model.Image) error
}

// Catalog guards a Store with a single-writer lock.
type Catalog struct {
	mu    sync.Mutex
	store Store
}

// New wraps store.
func New(store Store) *Catalog {
	return &Catalog{store: store}
}

// Load returns a snapshot of all records in insertion order.
func (c *Catalog) Load(ctx context.Context) ([]model.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	images, err := c.store.Load(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindStorage, "catalog load", "", err)
	}
	if images == nil {
		images = []model.Image{}
	}

	return images, nil
}

// Find returns the record for id or an ErrRecordNotFound error.
func (c *Catalog) Find(ctx context.Context, id string) (model.Image, error) {
	images, err := c.Load(ctx)
	if err != nil {
		return model.Image{}, err
	}

	recs := Records{images: images}
	img, ok := recs.Find(id)
	if !ok {
		return model.Image{}, xerrors.Wrap(xerrors.KindNotFound, "catalog find", id, xerrors.ErrRecordNotFound)
	}

	return img, nil
}

// Update runs fn over the current records while holding the lock and saves
// the result if fn succeeded and changed anything.
func (c *Catalog) Update(ctx context.Context, fn func(*Records) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	images, err := c.store.Load(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.KindStorage, "catalog load", "", err)
	}

	recs := &Records{images: images}
	if err := fn(recs); err != nil {
		return err
	}
	if !recs.dirty {
		return nil
	}

	if err := c.store.Save(ctx, recs.images); err != nil {
		return xerrors.Wrap(xerrors.KindStorage, "catalog save", "", err)
	}

	return nil
}

// Records is the mutable view handed to Update callbacks.
type Records struct {
	images []model.Image
	dirty  bool
}

// All returns the records in order. The slice must not be modified.
func (r *Records) All() []model.Image {
	return r.images
}

// Find looks up a record by content id.
func (r *Records) Find(id string) (model.Image, bool) {
	if i := r.index(id); i >= 0 {
		return r.images[i], true
	}
	return model.Image{}, false
}

// Append adds a new record at the end.
func (r *Records) Append(img model.Image) error {
	if r.index(img.ContentID) >= 0 {
		return xerrors.Wrap(xerrors.KindDuplicate, "catalog append", img.ContentID,
			fmt.Errorf("record already exists"))
	}

	r.images = append(r.images, img)
	r.dirty = true

	return nil
}

// Replace overwrites the record with the same content id in place.
func (r *Records) Replace(img model.Image) error {
	i := r.index(img.ContentID)
	if i < 0 {
		return xerrors.Wrap(xerrors.KindNotFound, "catalog replace", img.ContentID, xerrors.ErrRecordNotFound)
	}

	r.images[i] = img
	r.dirty = true

	return nil
}

// Remove deletes the record for id, reporting whether one existed.
func (r *Records) Remove(id string) bool {
	i := r.index(id)
	if i < 0 {
		return false
	}

	r.images = append(r.images[:i], r.images[i+1:]...)
	r.dirty = true

	return true
}

func (r *Records) index(id string) int {
	for i := range r.images {
		if r.images[i].ContentID == id {
			return i
		}
	}
	return -1
}
