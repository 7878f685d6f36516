package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	goimage "image"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-store/internal/catalog"
	"github.com/aliskhannn/image-store/internal/hasher"
	"github.com/aliskhannn/image-store/internal/metrics"
	"github.com/aliskhannn/image-store/internal/model"
	"github.com/aliskhannn/image-store/internal/processor"
	"github.com/aliskhannn/image-store/internal/xerrors"
)

const (
	DefaultMaxUploadSize = 20 << 20
	DefaultWidth         = 800

	sniffLen       = 261
	derivativeType = "image/jpeg"
)

// blobStore defines the storage backend for originals and derivatives
// (e.g., local filesystem or S3).
type blobStore interface {
	Put(ctx context.Context, key string, src io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, locator string) (io.ReadCloser, error)
	Delete(ctx context.Context, locator string) (bool, error)
	Exists(ctx context.Context, locator string) (bool, error)
}

// publicURLer is implemented by blob stores that serve objects directly.
type publicURLer interface {
	PublicURL(locator string) string
}

// imageCatalog defines the metadata catalog with its transaction boundary.
type imageCatalog interface {
	Load(ctx context.Context) ([]model.Image, error)
	Find(ctx context.Context, id string) (model.Image, error)
	Update(ctx context.Context, fn func(*catalog.Records) error) error
}

// imageProcessor decodes sources and renders derivatives.
type imageProcessor interface {
	Decode(r io.Reader) (goimage.Image, error)
	Generate(src goimage.Image, width, height int) (processor.Derivative, error)
	FitSize(src goimage.Rectangle, width int) (int, int)
}

// pool runs CPU-bound jobs off the request goroutine.
type pool interface {
	Do(ctx context.Context, fn func() error) error
}

// notifier publishes catalog events (e.g., to Kafka).
type notifier interface {
	Publish(ctx context.Context, event model.Event) error
}

// Options tunes the ingestion pipeline.
type Options struct {
	MaxUploadSize int64
	DefaultWidth  int
	PublicHost    string // e.g. https://images.example.com; empty disables service URLs
	TempDir       string
	Now           func() time.Time
}

// Blob identifies a stored variant ready to be streamed out.
type Blob struct {
	Locator     string
	ContentType string
	Image       model.Image
}

// Service provides the content-addressed ingestion pipeline: it hashes and
// deduplicates uploads, renders derivatives and keeps the catalog consistent
// with the blob store.
type Service struct {
	blobs     blobStore
	catalog   imageCatalog
	processor imageProcessor
	pool      pool
	notifier  notifier
	opts      Options
	locks     *keyLock
}

// NewService creates a new Service. n may be nil when no events are published.
func NewService(bs blobStore, c imageCatalog, p imageProcessor, wp pool, n notifier, opts Options) *Service {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.DefaultWidth <= 0 {
		opts.DefaultWidth = DefaultWidth
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.PublicHost = strings.TrimSuffix(opts.PublicHost, "/")

	return &Service{
		blobs:     bs,
		catalog:   c,
		processor: p,
		pool:      wp,
		notifier:  n,
		opts:      opts,
		locks:     newKeyLock(),
	}
}

// MaxUploadSize returns the configured upload limit in bytes.
func (s *Service) MaxUploadSize() int64 {
	return s.opts.MaxUploadSize
}

// Upload ingests a new image. Identical content uploaded twice yields a
// KindDuplicate error and leaves no trace of the second attempt.
func (s *Service) Upload(ctx context.Context, filename string, src io.Reader, size int64) (model.Image, error) {
	img, err := s.upload(ctx, filename, src, size)

	switch {
	case err == nil:
		metrics.Uploads.WithLabelValues(metrics.OutcomeCreated).Inc()
	case xerrors.Is(err, xerrors.KindDuplicate):
		metrics.Uploads.WithLabelValues(metrics.OutcomeDuplicate).Inc()
	case xerrors.Is(err, xerrors.KindPayloadTooLarge), xerrors.Is(err, xerrors.KindInvalidParameter):
		metrics.Uploads.WithLabelValues(metrics.OutcomeRejected).Inc()
	default:
		metrics.Uploads.WithLabelValues(metrics.OutcomeFailed).Inc()
	}

	return img, err
}

func (s *Service) upload(ctx context.Context, filename string, src io.Reader, size int64) (model.Image, error) {
	if size > s.opts.MaxUploadSize {
		return model.Image{}, s.tooLarge(size)
	}

	// Persist the raw bytes first; the digest is taken over exactly what was written.
	staged, err := s.stage(src)
	if err != nil {
		return model.Image{}, err
	}
	defer staged.remove()

	format, err := processor.Sniff(staged.head)
	if err != nil {
		return model.Image{}, err
	}

	id := staged.id
	unlock := s.locks.Lock(id)
	defer unlock()

	if _, err := s.catalog.Find(ctx, id); err == nil {
		zlog.Logger.Info().Str("content_id", id).Msg("duplicate upload discarded")
		return model.Image{}, xerrors.Wrap(xerrors.KindDuplicate, "upload", id, fmt.Errorf("image already exists"))
	} else if !xerrors.Is(err, xerrors.KindNotFound) {
		return model.Image{}, err
	}

	var (
		derivative   processor.Derivative
		origW, origH int
	)
	err = s.pool.Do(ctx, func() error {
		start := time.Now()
		defer func() { metrics.DerivativeSeconds.Observe(time.Since(start).Seconds()) }()

		f, err := os.Open(staged.path)
		if err != nil {
			return xerrors.Wrap(xerrors.KindStorage, "upload", id, err)
		}
		defer f.Close()

		decoded, err := s.processor.Decode(f)
		if err != nil {
			return err
		}

		b := decoded.Bounds()
		origW, origH = b.Dx(), b.Dy()

		width, height := s.processor.FitSize(b, s.opts.DefaultWidth)
		derivative, err = s.processor.Generate(decoded, width, height)
		return err
	})
	if err != nil {
		return model.Image{}, err
	}

	origLoc, err := s.putFile(ctx, "original/"+id+"."+format.Extension, staged, format.MIME)
	if err != nil {
		return model.Image{}, err
	}

	derivLoc, err := s.blobs.Put(ctx, derivativeKey(id), bytes.NewReader(derivative.Data), int64(len(derivative.Data)), derivativeType)
	if err != nil {
		s.discard(ctx, id, origLoc)
		return model.Image{}, err
	}

	now := s.opts.Now().UTC()
	img := model.Image{
		ContentID:          id,
		OriginalFilename:   filename,
		ContentType:        format.MIME,
		Size:               staged.size,
		OriginalLocation:   origLoc,
		DerivativeLocation: derivLoc,
		Width:              derivative.Width,
		Height:             derivative.Height,
		OriginalWidth:      origW,
		OriginalHeight:     origH,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.stampURLs(&img, now)

	if err := s.catalog.Update(ctx, func(r *catalog.Records) error {
		return r.Append(img)
	}); err != nil {
		s.discard(ctx, id, origLoc, derivLoc)
		return model.Image{}, err
	}

	zlog.Logger.Info().
		Str("content_id", id).
		Str("filename", filename).
		Int("width", img.Width).
		Int("height", img.Height).
		Msg("image stored")

	s.publish(ctx, model.EventUploaded, id, &img)

	return img, nil
}

// List returns the catalog verbatim.
func (s *Service) List(ctx context.Context) ([]model.Image, error) {
	return s.catalog.Load(ctx)
}

// Get returns a single record.
func (s *Service) Get(ctx context.Context, id string) (model.Image, error) {
	return s.catalog.Find(ctx, id)
}

// Resize regenerates the derivative from the original at the new size.
// A zero height keeps the original aspect ratio.
func (s *Service) Resize(ctx context.Context, id string, width, height int) (model.Image, error) {
	img, err := s.resize(ctx, id, width, height)
	if err != nil {
		metrics.Resizes.WithLabelValues(metrics.OutcomeFailed).Inc()
		return model.Image{}, err
	}

	metrics.Resizes.WithLabelValues(metrics.OutcomeCreated).Inc()
	return img, nil
}

func (s *Service) resize(ctx context.Context, id string, width, height int) (model.Image, error) {
	if width <= 0 || height < 0 {
		return model.Image{}, xerrors.Wrap(xerrors.KindInvalidParameter, "resize", id,
			fmt.Errorf("invalid target size %dx%d", width, height))
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	img, err := s.catalog.Find(ctx, id)
	if err != nil {
		return model.Image{}, err
	}

	// Always start from the original to avoid compounding lossy re-encodes.
	var derivative processor.Derivative
	err = s.pool.Do(ctx, func() error {
		start := time.Now()
		defer func() { metrics.DerivativeSeconds.Observe(time.Since(start).Seconds()) }()

		rc, err := s.blobs.Get(ctx, img.OriginalLocation)
		if err != nil {
			return err
		}
		defer rc.Close()

		decoded, err := s.processor.Decode(rc)
		if err != nil {
			return err
		}

		derivative, err = s.processor.Generate(decoded, width, height)
		return err
	})
	if err != nil {
		return model.Image{}, err
	}

	previous, err := s.readBlob(ctx, img.DerivativeLocation)
	if err != nil && !xerrors.Is(err, xerrors.KindNotFound) {
		return model.Image{}, err
	}

	if _, err := s.blobs.Put(ctx, img.DerivativeLocation, bytes.NewReader(derivative.Data), int64(len(derivative.Data)), derivativeType); err != nil {
		return model.Image{}, err
	}

	now := s.opts.Now().UTC()
	var updated model.Image
	err = s.catalog.Update(ctx, func(r *catalog.Records) error {
		cur, ok := r.Find(id)
		if !ok {
			return xerrors.Wrap(xerrors.KindNotFound, "resize", id, xerrors.ErrRecordNotFound)
		}

		cur.Width, cur.Height = derivative.Width, derivative.Height
		cur.UpdatedAt = now
		s.stampURLs(&cur, now)
		updated = cur

		return r.Replace(cur)
	})
	if err != nil {
		s.restoreDerivative(ctx, img, previous)
		return model.Image{}, err
	}

	zlog.Logger.Info().
		Str("content_id", id).
		Int("width", updated.Width).
		Int("height", updated.Height).
		Msg("derivative regenerated")

	s.publish(ctx, model.EventResized, id, &updated)

	return updated, nil
}

// Delete removes the record and both blobs. Blobs that are already gone are
// tolerated; the record is removed first so it is never observable without them.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var removed model.Image
	err := s.catalog.Update(ctx, func(r *catalog.Records) error {
		img, ok := r.Find(id)
		if !ok {
			return xerrors.Wrap(xerrors.KindNotFound, "delete", id, xerrors.ErrRecordNotFound)
		}

		removed = img
		r.Remove(id)

		return nil
	})
	if err != nil {
		return false, err
	}

	for _, loc := range []string{removed.OriginalLocation, removed.DerivativeLocation} {
		ok, err := s.blobs.Delete(ctx, loc)
		switch {
		case err != nil:
			zlog.Logger.Err(err).Str("content_id", id).Str("locator", loc).Msg("failed to delete blob")
		case !ok:
			zlog.Logger.Warn().Str("content_id", id).Str("locator", loc).Msg("blob already missing")
		}
	}

	metrics.Deletes.Inc()
	s.publish(ctx, model.EventDeleted, id, nil)

	return true, nil
}

// Fetch resolves the locator of a variant and checks the blob is present.
func (s *Service) Fetch(ctx context.Context, id string, variant model.Variant) (Blob, error) {
	img, err := s.catalog.Find(ctx, id)
	if err != nil {
		return Blob{}, err
	}

	loc := img.Location(variant)
	ok, err := s.blobs.Exists(ctx, loc)
	if err != nil {
		return Blob{}, err
	}
	if !ok {
		return Blob{}, xerrors.Wrap(xerrors.KindNotFound, "fetch", id, xerrors.ErrBlobNotFound)
	}

	contentType := derivativeType
	if variant == model.VariantOriginal {
		contentType = img.ContentType
	}

	return Blob{Locator: loc, ContentType: contentType, Image: img}, nil
}

// Open fetches a variant and opens it for streaming.
func (s *Service) Open(ctx context.Context, id string, variant model.Variant) (io.ReadCloser, Blob, error) {
	b, err := s.Fetch(ctx, id, variant)
	if err != nil {
		return nil, Blob{}, err
	}

	rc, err := s.blobs.Get(ctx, b.Locator)
	if err != nil {
		return nil, Blob{}, err
	}

	return rc, b, nil
}

// stagedUpload is a raw upload persisted to a temporary file.
type stagedUpload struct {
	path string
	id   string
	size int64
	head []byte
}

func (u *stagedUpload) remove() {
	if err := os.Remove(u.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		zlog.Logger.Err(err).Str("path", u.path).Msg("failed to remove staged upload")
	}
}

func (s *Service) stage(src io.Reader) (*stagedUpload, error) {
	f, err := os.CreateTemp(s.opts.TempDir, "upload-*")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindStorage, "stage", "", err)
	}
	staged := &stagedUpload{path: f.Name()}

	fail := func(err error) (*stagedUpload, error) {
		f.Close()
		staged.remove()
		return nil, err
	}

	h := hasher.NewWriter()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(src, s.opts.MaxUploadSize+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fail(s.tooLarge(maxErr.Limit))
		}
		return fail(xerrors.Wrap(xerrors.KindStorage, "stage", "", fmt.Errorf("failed to read upload: %w", err)))
	}
	if n > s.opts.MaxUploadSize {
		return fail(s.tooLarge(n))
	}
	if n == 0 {
		return fail(xerrors.Wrap(xerrors.KindInvalidParameter, "stage", "", fmt.Errorf("empty upload")))
	}

	head := make([]byte, sniffLen)
	m, err := f.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return fail(xerrors.Wrap(xerrors.KindStorage, "stage", "", err))
	}
	if err := f.Close(); err != nil {
		staged.remove()
		return nil, xerrors.Wrap(xerrors.KindStorage, "stage", "", err)
	}

	staged.id = h.Hex()
	staged.size = n
	staged.head = head[:m]

	return staged, nil
}

func (s *Service) putFile(ctx context.Context, key string, staged *stagedUpload, contentType string) (string, error) {
	f, err := os.Open(staged.path)
	if err != nil {
		return "", xerrors.Wrap(xerrors.KindStorage, "put original", key, err)
	}
	defer f.Close()

	return s.blobs.Put(ctx, key, f, staged.size, contentType)
}

// discard removes blobs written by a failed upload.
func (s *Service) discard(ctx context.Context, id string, locators ...string) {
	for _, loc := range locators {
		if _, err := s.blobs.Delete(ctx, loc); err != nil {
			zlog.Logger.Err(err).Str("content_id", id).Str("locator", loc).Msg("failed to clean up blob")
			continue
		}
		zlog.Logger.Warn().Str("content_id", id).Str("locator", loc).Msg("cleaned up blob of failed upload")
	}
}

// readBlob loads a whole blob; derivatives are small enough to hold in memory.
func (s *Service) readBlob(ctx context.Context, locator string) ([]byte, error) {
	rc, err := s.blobs.Get(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindStorage, "read", locator, err)
	}

	return data, nil
}

// restoreDerivative puts back the derivative a failed resize overwrote, so the
// blob keeps matching the dimensions the catalog still records.
func (s *Service) restoreDerivative(ctx context.Context, img model.Image, previous []byte) {
	loc := img.DerivativeLocation
	if previous == nil {
		zlog.Logger.Warn().Str("content_id", img.ContentID).Str("locator", loc).
			Msg("no previous derivative to restore after failed resize")
		return
	}

	if _, err := s.blobs.Put(ctx, loc, bytes.NewReader(previous), int64(len(previous)), derivativeType); err != nil {
		zlog.Logger.Err(err).Str("content_id", img.ContentID).Str("locator", loc).
			Msg("failed to restore derivative; blob and catalog disagree until the next resize")
		return
	}

	zlog.Logger.Warn().Str("content_id", img.ContentID).Str("locator", loc).Msg("restored derivative after failed resize")
}

// stampURLs recomputes the external URLs with a fresh cache-busting token.
func (s *Service) stampURLs(img *model.Image, at time.Time) {
	token := "?t=" + strconv.FormatInt(at.UnixNano(), 10)

	if s.opts.PublicHost != "" {
		img.OriginalURL = s.opts.PublicHost + "/image/get/original/" + img.ContentID + token
		img.DerivativeURL = s.opts.PublicHost + "/image/get/compressed/" + img.ContentID + token
		return
	}

	if pub, ok := s.blobs.(publicURLer); ok {
		img.OriginalURL = pub.PublicURL(img.OriginalLocation) + token
		img.DerivativeURL = pub.PublicURL(img.DerivativeLocation) + token
	}
}

func (s *Service) publish(ctx context.Context, t model.EventType, id string, img *model.Image) {
	if s.notifier == nil {
		return
	}

	if err := s.notifier.Publish(ctx, model.NewEvent(t, id, img, s.opts.Now().UTC())); err != nil {
		zlog.Logger.Warn().Err(err).Str("content_id", id).Str("event", string(t)).Msg("failed to publish event")
	}
}

func (s *Service) tooLarge(size int64) error {
	return xerrors.Wrap(xerrors.KindPayloadTooLarge, "upload", "",
		fmt.Errorf("%d bytes exceeds the limit of %d bytes", size, s.opts.MaxUploadSize))
}

func derivativeKey(id string) string {
	return "compressed/" + id + ".jpg"
}
