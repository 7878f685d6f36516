package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/image-store/internal/model"
	"github.com/aliskhannn/image-store/internal/xerrors"
)

// memStore copies on load and save so callers cannot alias stored state.
type memStore struct {
	mu     sync.Mutex
	images []model.Image
	saves  int
	err    error
}

func (m *memStore) Load(ctx context.Context) ([]model.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Image(nil), m.images...), nil
}

func (m *memStore) Save(ctx context.Context, images []model.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.images = append([]model.Image(nil), images...)
	m.saves++
	return nil
}

func TestLoadEmpty(t *testing.T) {
	c := New(&memStore{})
	images, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, images)
	assert.Empty(t, images)
}

func TestAppendFindRemove(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	c := New(store)

	for _, id := range []string{"a", "b", "c"} {
		id := id
		require.NoError(t, c.Update(ctx, func(r *Records) error {
			return r.Append(model.Image{ContentID: id})
		}))
	}

	images, err := c.Load(ctx)
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.Equal(t, "a", images[0].ContentID)
	assert.Equal(t, "c", images[2].ContentID)

	img, err := c.Find(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", img.ContentID)

	_, err = c.Find(ctx, "zzz")
	assert.ErrorIs(t, err, xerrors.ErrRecordNotFound)
	assert.Equal(t, xerrors.KindNotFound, xerrors.KindOf(err))

	require.NoError(t, c.Update(ctx, func(r *Records) error {
		assert.Equal(t, []string{"a", "b", "c"}, ids(r.All()))
		assert.True(t, r.Remove("b"))
		assert.False(t, r.Remove("b"))
		assert.Equal(t, []string{"a", "c"}, ids(r.All()))
		return nil
	}))

	images, err = c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(images))
}

func TestAppendDuplicate(t *testing.T) {
	ctx := context.Background()
	c := New(&memStore{})

	require.NoError(t, c.Update(ctx, func(r *Records) error {
		return r.Append(model.Image{ContentID: "a"})
	}))
	err := c.Update(ctx, func(r *Records) error {
		return r.Append(model.Image{ContentID: "a"})
	})
	assert.Equal(t, xerrors.KindDuplicate, xerrors.KindOf(err))
}

func TestReplaceInPlace(t *testing.T) {
	ctx := context.Background()
	c := New(&memStore{})

	require.NoError(t, c.Update(ctx, func(r *Records) error {
		if err := r.Append(model.Image{ContentID: "a", Width: 1}); err != nil {
			return err
		}
		return r.Append(model.Image{ContentID: "b", Width: 1})
	}))
	require.NoError(t, c.Update(ctx, func(r *Records) error {
		return r.Replace(model.Image{ContentID: "a", Width: 2})
	}))

	images, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(images))
	assert.Equal(t, 2, images[0].Width)

	err = c.Update(ctx, func(r *Records) error {
		return r.Replace(model.Image{ContentID: "missing"})
	})
	assert.ErrorIs(t, err, xerrors.ErrRecordNotFound)
}

func TestUpdateSkipsSaveWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	c := New(store)

	require.NoError(t, c.Update(ctx, func(r *Records) error {
		_, ok := r.Find("a")
		assert.False(t, ok)
		return nil
	}))
	assert.Equal(t, 0, store.saves)
}

func TestUpdateCallbackErrorDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	c := New(store)

	boom := errors.New("boom")
	err := c.Update(ctx, func(r *Records) error {
		require.NoError(t, r.Append(model.Image{ContentID: "a"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	images, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestUpdateSaveFailure(t *testing.T) {
	ctx := context.Background()
	c := New(&memStore{err: errors.New("disk full")})

	err := c.Update(ctx, func(r *Records) error {
		return r.Append(model.Image{ContentID: "a"})
	})
	assert.Equal(t, xerrors.KindStorage, xerrors.KindOf(err))
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	ctx := context.Background()
	c := New(&memStore{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.Update(ctx, func(r *Records) error {
				return r.Append(model.Image{ContentID: fmt.Sprintf("id-%d", i)})
			}))
		}(i)
	}
	wg.Wait()

	images, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, images, 50)
}

func ids(images []model.Image) []string {
	out := make([]string, 0, len(images))
	for _, img := range images {
		out = append(out, img.ContentID)
	}
	return out
}
