package blobstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSStore keeps objects as files under Root/bucket/object. Object attributes
// are accepted for interface compatibility but not persisted.
type FSStore struct {
	Root string
}

var _ Store = (*FSStore)(nil)

// NewFSStore returns a filesystem store rooted at root, creating it if needed.
func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("blob store root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob store root: %w", err)
	}
	return &FSStore{Root: filepath.Clean(root)}, nil
}

func (s *FSStore) objectPath(bucket, object string) (string, error) {
	if bucket == "" || object == "" {
		return "", fmt.Errorf("bucket and object must be set")
	}
	bucketDir := filepath.Join(s.Root, filepath.Clean("/" + bucket)[1:])
	p := filepath.Join(bucketDir, filepath.FromSlash(object))
	if !strings.HasPrefix(p, bucketDir+string(filepath.Separator)) {
		return "", fmt.Errorf("object %q escapes bucket %q", object, bucket)
	}
	return p, nil
}

func (s *FSStore) Download(ctx context.Context, bucket, object, destPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := s.objectPath(bucket, object)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s/%s: %w", bucket, object, ErrNotFound)
		}
		return fmt.Errorf("open %s/%s: %w", bucket, object, err)
	}
	defer in.Close()
	return copyToFile(in, destPath)
}

func (s *FSStore) Upload(ctx context.Context, bucket, object, srcPath string, _ ObjectAttrs) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.objectPath(bucket, object)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer in.Close()

	// write then rename so readers never see a partial object
	tmp := dst + ".partial"
	if err := copyToFile(in, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize %s/%s: %w", bucket, object, err)
	}
	return nil
}

func (s *FSStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	bucketDir := filepath.Join(s.Root, filepath.Clean("/" + bucket)[1:])
	var names []string
	err := filepath.WalkDir(bucketDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasSuffix(path, ".partial") {
			return nil
		}
		rel, err := filepath.Rel(bucketDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *FSStore) Delete(ctx context.Context, bucket, object string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.objectPath(bucket, object)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s/%s: %w", bucket, object, ErrNotFound)
		}
		return fmt.Errorf("delete %s/%s: %w", bucket, object, err)
	}
	return nil
}

func copyToFile(r io.Reader, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy to %s: %w", destPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", destPath, err)
	}
	return nil
}
