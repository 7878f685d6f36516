package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-store/internal/api/respond"
	"github.com/aliskhannn/image-store/internal/model"
	imagesvc "github.com/aliskhannn/image-store/internal/service/image"
	"github.com/aliskhannn/image-store/internal/xerrors"
)

// multipartOverhead is the slack allowed on top of the file for boundaries and headers.
const multipartOverhead = 1 << 20

// formFields are the accepted multipart field names, in order of preference.
var formFields = []string{"file", "image"}

// service defines the interface for image-related operations.
type service interface {
	Upload(ctx context.Context, filename string, src io.Reader, size int64) (model.Image, error)
	List(ctx context.Context) ([]model.Image, error)
	Get(ctx context.Context, id string) (model.Image, error)
	Resize(ctx context.Context, id string, width, height int) (model.Image, error)
	Delete(ctx context.Context, id string) (bool, error)
	Open(ctx context.Context, id string, variant model.Variant) (io.ReadCloser, imagesvc.Blob, error)
	MaxUploadSize() int64
}

// Handler provides HTTP handlers for image-related endpoints.
// It depends on a service interface to perform the business logic.
type Handler struct {
	service service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(s service) *Handler {
	return &Handler{service: s}
}

// ResizeRequest is the body of a resize call. A zero height keeps the aspect ratio.
type ResizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Upload handles the HTTP request for uploading an image.
// It reads the multipart file, runs it through the ingestion pipeline
// and responds with the stored record.
func (h *Handler) Upload(c *ginext.Context) {
	limit := h.service.MaxUploadSize()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	file, header, err := formFile(c.Request)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			zlog.Logger.Warn().Int64("limit", limit).Msg("upload too large")
			respond.Fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds the limit of %d bytes", limit))
			return
		}

		zlog.Logger.Warn().Err(err).Msg("failed to retrieve the file")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("failed to retrieve the file"))
		return
	}
	defer file.Close()

	img, err := h.service.Upload(c.Request.Context(), header.Filename, file, header.Size)
	if err != nil {
		logFailure(err, "", "failed to upload the image")
		respond.FailErr(c, err)
		return
	}

	respond.OK(c, img)
}

// List returns every record in insertion order.
func (h *Handler) List(c *ginext.Context) {
	images, err := h.service.List(c.Request.Context())
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to list images")
		respond.FailErr(c, err)
		return
	}

	respond.OK(c, images)
}

// Get returns the metadata of one image without serving the file itself.
func (h *Handler) Get(c *ginext.Context) {
	id := c.Param("id")

	img, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		logFailure(err, id, "failed to get the image")
		respond.FailErr(c, err)
		return
	}

	respond.OK(c, img)
}

// Resize regenerates the compressed derivative at the requested size.
func (h *Handler) Resize(c *ginext.Context) {
	id := c.Param("id")

	var req ResizeRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Warn().Err(err).Str("content_id", id).Msg("invalid resize body")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	if req.Width <= 0 || req.Height < 0 {
		zlog.Logger.Warn().Str("content_id", id).Int("width", req.Width).Int("height", req.Height).Msg("invalid resize size")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("width must be positive and height not negative"))
		return
	}

	img, err := h.service.Resize(c.Request.Context(), id, req.Width, req.Height)
	if err != nil {
		logFailure(err, id, "failed to resize the image")
		respond.FailErr(c, err)
		return
	}

	respond.OK(c, map[string]interface{}{
		"message": "image resized",
		"image":   img,
	})
}

// Delete removes an image and both of its blobs.
func (h *Handler) Delete(c *ginext.Context) {
	id := c.Param("id")

	if _, err := h.service.Delete(c.Request.Context(), id); err != nil {
		logFailure(err, id, "failed to delete the image")
		respond.FailErr(c, err)
		return
	}

	respond.OK(c, map[string]interface{}{
		"message":    "image deleted",
		"content_id": id,
	})
}

// Serve returns a handler streaming the given variant of an image.
func (h *Handler) Serve(variant model.Variant) func(c *ginext.Context) {
	return func(c *ginext.Context) {
		id := c.Param("id")

		rc, blob, err := h.service.Open(c.Request.Context(), id, variant)
		if err != nil {
			logFailure(err, id, "failed to open the image")
			respond.FailErr(c, err)
			return
		}
		defer rc.Close()

		respond.Stream(c, http.StatusOK, blob.ContentType, rc)
	}
}

func formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	var lastErr error
	for _, field := range formFields {
		file, header, err := r.FormFile(field)
		if err == nil {
			return file, header, nil
		}

		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, nil, err
		}
		lastErr = err
	}

	return nil, nil, lastErr
}

// logFailure logs client errors as warnings and everything else as errors.
func logFailure(err error, id, msg string) {
	if xerrors.HTTPStatus(xerrors.KindOf(err)) < http.StatusInternalServerError {
		zlog.Logger.Warn().Err(err).Str("content_id", id).Msg(msg)
		return
	}

	zlog.Logger.Err(err).Str("content_id", id).Msg(msg)
}
