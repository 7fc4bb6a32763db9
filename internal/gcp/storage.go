package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pdfrenderer/internal/blobstore"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GCSStore implements blobstore.Store on Cloud Storage.
type GCSStore struct {
	client *storage.Client
	// Attempts is the number of tries per upload. Values below 1 mean one try.
	Attempts int
	// Backoff is the initial wait between upload tries; it doubles each time.
	Backoff time.Duration
	// WriteTimeout bounds a single upload attempt.
	WriteTimeout time.Duration
}

var _ blobstore.Store = (*GCSStore)(nil)

// NewGCSStore creates a storage client and wraps it.
func NewGCSStore(ctx context.Context, attempts int) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return &GCSStore{
		client:       client,
		Attempts:     attempts,
		Backoff:      time.Second,
		WriteTimeout: 50 * time.Second,
	}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Download(ctx context.Context, bucket, object, destPath string) error {
	gcsReader, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("gs://%s/%s: %w", bucket, object, blobstore.ErrNotFound)
		}
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create local file at %s: %w", destPath, err)
	}
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		_ = localFile.Close()
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	if err := localFile.Close(); err != nil {
		return fmt.Errorf("failed to close local file %s: %w", destPath, err)
	}
	return nil
}

func (s *GCSStore) Upload(ctx context.Context, bucket, object, srcPath string, attrs blobstore.ObjectAttrs) error {
	attempts := s.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := s.Backoff
	var lastErr error

	for i := 0; i < attempts; i++ {
		err := s.uploadOnce(ctx, bucket, object, srcPath, attrs)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", object,
			"attempt", i+1,
			"maxAttempts", attempts,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if attempts > 1 {
		return fmt.Errorf("upload for %s failed after %d attempts: %w", object, attempts, lastErr)
	}
	return fmt.Errorf("upload for %s failed: %w", object, lastErr)
}

func (s *GCSStore) uploadOnce(ctx context.Context, bucket, object, srcPath string, attrs blobstore.ObjectAttrs) error {
	localFileReader, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("could not open local file %s: %w", srcPath, err)
	}
	defer localFileReader.Close()

	writeCtx := ctx
	if s.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, s.WriteTimeout)
		defer cancel()
	}

	gcsWriter := s.client.Bucket(bucket).Object(object).NewWriter(writeCtx)
	gcsWriter.ContentType = attrs.ContentType
	gcsWriter.CacheControl = attrs.CacheControl

	if _, err := io.Copy(gcsWriter, localFileReader); err != nil {
		_ = gcsWriter.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := gcsWriter.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", bucket, prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func (s *GCSStore) Delete(ctx context.Context, bucket, object string) error {
	if err := s.client.Bucket(bucket).Object(object).Delete(ctx); err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("gs://%s/%s: %w", bucket, object, blobstore.ErrNotFound)
		}
		return fmt.Errorf("failed to delete gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}

// IsNotFound reports whether err means the object or bucket is missing.
func IsNotFound(err error) bool {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
