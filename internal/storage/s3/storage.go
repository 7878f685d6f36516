package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aliskhannn/image-store/internal/xerrors"
)

const defaultRegion = "us-east-1"

// Options holds connection parameters for an S3-compatible server.
type Options struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	Region     string
	UseSSL     bool
	PublicURL  string // base the bucket is publicly served from; defaults to the endpoint
}

// Storage provides an S3-compatible blob backend using MinIO.
// Locators are object keys inside a single bucket.
type Storage struct {
	client     *minio.Client
	bucketName string
	publicURL  string
}

// NewStorage creates a new Storage instance connected to the specified server.
// If the bucket does not exist, it will be created automatically.
func NewStorage(ctx context.Context, opts Options) (*Storage, error) {
	if opts.Region == "" {
		opts.Region = defaultRegion
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, opts.BucketName, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	public := opts.PublicURL
	if public == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		public = scheme + "://" + opts.Endpoint
	}

	return &Storage{
		client:     client,
		bucketName: opts.BucketName,
		publicURL:  strings.TrimSuffix(public, "/"),
	}, nil
}

// Put uploads src under key and returns the object key as locator.
func (s *Storage) Put(ctx context.Context, key string, src io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.bucketName, key, src, size, minio.PutObjectOptions{
		ContentType:          contentType,
		DisableContentSha256: true,
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.KindStorage, "put", key, fmt.Errorf("failed to save object: %w", err))
	}

	return key, nil
}

// Get retrieves the object. GetObject is lazy, so the object is stat'ed first
// to report a missing key as not found instead of failing on first read.
func (s *Storage) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, locator, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr("get", locator, err)
	}

	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, s.mapErr("get", locator, err)
	}

	return obj, nil
}

// Delete removes the object, reporting false if it did not exist.
func (s *Storage) Delete(ctx context.Context, locator string) (bool, error) {
	exists, err := s.Exists(ctx, locator)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	if err := s.client.RemoveObject(ctx, s.bucketName, locator, minio.RemoveObjectOptions{}); err != nil {
		return false, s.mapErr("delete", locator, err)
	}

	return true, nil
}

// Exists reports whether the object is present.
func (s *Storage) Exists(ctx context.Context, locator string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucketName, locator, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, s.mapErr("exists", locator, err)
	}

	return true, nil
}

// PublicURL returns the externally resolvable address of a stored object.
func (s *Storage) PublicURL(locator string) string {
	return s.publicURL + "/" + s.bucketName + "/" + strings.TrimPrefix(locator, "/")
}

func (s *Storage) mapErr(op, locator string, err error) error {
	if isNotFound(err) {
		return xerrors.Wrap(xerrors.KindNotFound, op, locator, xerrors.ErrBlobNotFound)
	}
	return xerrors.Wrap(xerrors.KindStorage, op, locator, err)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
