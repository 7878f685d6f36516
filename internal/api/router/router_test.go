package router

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-store/internal/api/handlers/image"
	"github.com/aliskhannn/image-store/internal/api/middleware"
	"github.com/aliskhannn/image-store/internal/catalog"
	"github.com/aliskhannn/image-store/internal/infra/kafka/producer"
	"github.com/aliskhannn/image-store/internal/model"
	"github.com/aliskhannn/image-store/internal/processor"
	repo "github.com/aliskhannn/image-store/internal/repository/image"
	imagesvc "github.com/aliskhannn/image-store/internal/service/image"
	"github.com/aliskhannn/image-store/internal/storage/file"
	"github.com/aliskhannn/image-store/internal/testutil"
	"github.com/aliskhannn/image-store/internal/worker"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	zlog.Init()
	os.Exit(m.Run())
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()

	blobs, err := file.NewStorage(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	store, err := repo.NewBoltRepository(filepath.Join(t.TempDir(), "catalog.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := imagesvc.NewService(blobs, catalog.New(store), processor.New(processor.Options{}), worker.New(2),
		producer.Discard{}, imagesvc.Options{PublicHost: "http://localhost:8080", TempDir: t.TempDir()})

	return Setup(image.NewHandler(svc), []string{"https://app.example.com"})
}

func uploadRequest(t *testing.T, data []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "photo.jpg")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/image/upload", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestUploadFetchDelete(t *testing.T) {
	r := newRouter(t)
	data := testutil.JPEG(t, 1600, 1200, 1)

	rec := serve(r, uploadRequest(t, data))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created struct {
		Result model.Image `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Result.ContentID
	assert.Len(t, id, 32)
	assert.Equal(t, 800, created.Result.Width)
	assert.Contains(t, created.Result.DerivativeURL, "http://localhost:8080/image/get/compressed/"+id+"?t=")

	rec = serve(r, uploadRequest(t, data))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/image/get/compressed/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	decoded, err := processor.New(processor.Options{}).Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 800, decoded.Bounds().Dx())
	assert.Equal(t, 600, decoded.Bounds().Dy())

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/image/get/original/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())

	rec = serve(r, httptest.NewRequest(http.MethodDelete, "/image/delete/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/image/get/original/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/image/list", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":[]}`, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	r := newRouter(t)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	serve(r, uploadRequest(t, []byte("not an image")))

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `imagestore_uploads_total{outcome="rejected"}`)
}

func TestCORS(t *testing.T) {
	r := newRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/image/upload", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := serve(r, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = serve(r, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	r := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rec := serve(r, req)
	assert.Equal(t, "req-42", rec.Header().Get(middleware.RequestIDHeader))
}
