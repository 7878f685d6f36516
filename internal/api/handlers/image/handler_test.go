package image

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-store/internal/model"
	imagesvc "github.com/aliskhannn/image-store/internal/service/image"
	"github.com/aliskhannn/image-store/internal/xerrors"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	zlog.Init()
	os.Exit(m.Run())
}

type fakeService struct {
	maxSize   int64
	uploaded  []byte
	filename  string
	uploadErr error
	images    map[string]model.Image
	blobs     map[string][]byte
	resized   [2]int
}

func newFakeService() *fakeService {
	return &fakeService{
		maxSize: 1 << 20,
		images:  map[string]model.Image{"abc": {ContentID: "abc", ContentType: "image/png", Width: 800, Height: 600}},
		blobs:   map[string][]byte{"abc/compressed": []byte("jpeg-bytes"), "abc/original": []byte("png-bytes")},
	}
}

func (f *fakeService) Upload(_ context.Context, filename string, src io.Reader, _ int64) (model.Image, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return model.Image{}, err
	}
	f.uploaded, f.filename = data, filename
	if f.uploadErr != nil {
		return model.Image{}, f.uploadErr
	}
	return model.Image{ContentID: "new", OriginalFilename: filename}, nil
}

func (f *fakeService) List(context.Context) ([]model.Image, error) {
	return []model.Image{f.images["abc"]}, nil
}

func (f *fakeService) Get(_ context.Context, id string) (model.Image, error) {
	img, ok := f.images[id]
	if !ok {
		return model.Image{}, xerrors.Wrap(xerrors.KindNotFound, "find", id, xerrors.ErrRecordNotFound)
	}
	return img, nil
}

func (f *fakeService) Resize(ctx context.Context, id string, width, height int) (model.Image, error) {
	img, err := f.Get(ctx, id)
	if err != nil {
		return model.Image{}, err
	}
	f.resized = [2]int{width, height}
	img.Width, img.Height = width, height
	return img, nil
}

func (f *fakeService) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return false, err
	}
	delete(f.images, id)
	return true, nil
}

func (f *fakeService) Open(ctx context.Context, id string, v model.Variant) (io.ReadCloser, imagesvc.Blob, error) {
	img, err := f.Get(ctx, id)
	if err != nil {
		return nil, imagesvc.Blob{}, err
	}
	data, ok := f.blobs[id+"/"+string(v)]
	if !ok {
		return nil, imagesvc.Blob{}, xerrors.Wrap(xerrors.KindNotFound, "fetch", id, xerrors.ErrBlobNotFound)
	}
	ct := "image/jpeg"
	if v == model.VariantOriginal {
		ct = img.ContentType
	}
	return io.NopCloser(bytes.NewReader(data)), imagesvc.Blob{ContentType: ct, Image: img}, nil
}

func (f *fakeService) MaxUploadSize() int64 { return f.maxSize }

func newEngine(svc *fakeService) *ginext.Engine {
	h := NewHandler(svc)
	r := ginext.New()
	r.POST("/image/upload", h.Upload)
	r.GET("/image/list", h.List)
	r.GET("/image/:id", h.Get)
	r.PUT("/image/resize/:id", h.Resize)
	r.DELETE("/image/delete/:id", h.Delete)
	r.GET("/image/get/compressed/:id", h.Serve(model.VariantCompressed))
	r.GET("/image/get/original/:id", h.Serve(model.VariantOriginal))
	return r
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestUpload(t *testing.T) {
	for _, field := range []string{"file", "image"} {
		t.Run(field, func(t *testing.T) {
			svc := newFakeService()
			body, ct := multipartBody(t, field, "cat.png", []byte("payload"))
			req := httptest.NewRequest(http.MethodPost, "/image/upload", body)
			req.Header.Set("Content-Type", ct)

			rec := do(newEngine(svc), req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, []byte("payload"), svc.uploaded)
			assert.Equal(t, "cat.png", svc.filename)

			result := decode(t, rec)["result"].(map[string]interface{})
			assert.Equal(t, "new", result["content_id"])
		})
	}
}

func TestUploadErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"duplicate", xerrors.E(xerrors.KindDuplicate, "upload", "abc"), http.StatusConflict},
		{"not an image", xerrors.E(xerrors.KindInvalidParameter, "sniff", ""), http.StatusBadRequest},
		{"too large", xerrors.E(xerrors.KindPayloadTooLarge, "upload", ""), http.StatusRequestEntityTooLarge},
		{"decode", xerrors.E(xerrors.KindDecode, "decode", ""), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.uploadErr = tt.err
			body, ct := multipartBody(t, "file", "x.jpg", []byte("payload"))
			req := httptest.NewRequest(http.MethodPost, "/image/upload", body)
			req.Header.Set("Content-Type", ct)

			rec := do(newEngine(svc), req)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["message"])
		})
	}
}

func TestUploadMissingFile(t *testing.T) {
	body, ct := multipartBody(t, "other", "x.jpg", []byte("payload"))
	req := httptest.NewRequest(http.MethodPost, "/image/upload", body)
	req.Header.Set("Content-Type", ct)

	rec := do(newEngine(newFakeService()), req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadBodyTooLarge(t *testing.T) {
	svc := newFakeService()
	svc.maxSize = 16
	body, ct := multipartBody(t, "file", "big.jpg", bytes.Repeat([]byte{'x'}, multipartOverhead+1024))
	req := httptest.NewRequest(http.MethodPost, "/image/upload", body)
	req.Header.Set("Content-Type", ct)

	rec := do(newEngine(svc), req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, svc.uploaded)
}

func TestListAndGet(t *testing.T) {
	r := newEngine(newFakeService())

	rec := do(r, httptest.NewRequest(http.MethodGet, "/image/list", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["result"], 1)

	rec = do(r, httptest.NewRequest(http.MethodGet, "/image/abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", decode(t, rec)["result"].(map[string]interface{})["content_id"])

	rec = do(r, httptest.NewRequest(http.MethodGet, "/image/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResize(t *testing.T) {
	svc := newFakeService()
	r := newEngine(svc)

	req := httptest.NewRequest(http.MethodPut, "/image/resize/abc", strings.NewReader(`{"width":400}`))
	rec := do(r, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, [2]int{400, 0}, svc.resized)

	result := decode(t, rec)["result"].(map[string]interface{})
	assert.Equal(t, "image resized", result["message"])
	assert.EqualValues(t, 400, result["image"].(map[string]interface{})["width"])

	for _, body := range []string{`{"width":`, `{"width":0}`, `{"width":10,"height":-1}`} {
		rec = do(r, httptest.NewRequest(http.MethodPut, "/image/resize/abc", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec = do(r, httptest.NewRequest(http.MethodPut, "/image/resize/missing", strings.NewReader(`{"width":10}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete(t *testing.T) {
	r := newEngine(newFakeService())

	rec := do(r, httptest.NewRequest(http.MethodDelete, "/image/delete/abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode(t, rec)["result"].(map[string]interface{})
	assert.Equal(t, "abc", result["content_id"])

	rec = do(r, httptest.NewRequest(http.MethodDelete, "/image/delete/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe(t *testing.T) {
	svc := newFakeService()
	r := newEngine(svc)

	rec := do(r, httptest.NewRequest(http.MethodGet, "/image/get/compressed/abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "jpeg-bytes", rec.Body.String())

	rec = do(r, httptest.NewRequest(http.MethodGet, "/image/get/original/abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", rec.Body.String())

	delete(svc.blobs, "abc/compressed")
	rec = do(r, httptest.NewRequest(http.MethodGet, "/image/get/compressed/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, httptest.NewRequest(http.MethodGet, "/image/get/original/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
