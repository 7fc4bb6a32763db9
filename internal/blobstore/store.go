// Package blobstore defines the object-storage contract used by the renderer
// and a local filesystem implementation of it.
package blobstore

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// ImmutableCacheControl marks artifacts whose path is only ever rewritten with
// equivalent content.
const ImmutableCacheControl = "public, max-age=31536000, immutable"

// ObjectAttrs are the HTTP attributes stored with an uploaded object.
type ObjectAttrs struct {
	ContentType  string
	CacheControl string
}

// Store is a bucket-addressed blob store.
type Store interface {
	// Download copies bucket/object to the local file destPath.
	Download(ctx context.Context, bucket, object, destPath string) error
	// Upload creates or overwrites bucket/object with the contents of srcPath.
	Upload(ctx context.Context, bucket, object, srcPath string, attrs ObjectAttrs) error
	// List returns the names of objects in bucket starting with prefix.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	// Delete removes bucket/object.
	Delete(ctx context.Context, bucket, object string) error
}

// ObjectURL joins a public base URL, bucket and object name, escaping each
// object path segment.
func ObjectURL(baseURL, bucket, object string) string {
	segs := strings.Split(object, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(bucket) + "/" + strings.Join(segs, "/")
}
