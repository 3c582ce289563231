package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const contentTypeSuffix = ".content-type"

// FS stores blobs as files below a root directory. The content type of each
// blob is kept in a sidecar file next to it.
type FS struct {
	root string
}

// NewFS creates root if needed and returns a store rooted there.
func NewFS(root string) (*FS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("BLOB_DIR is required for the fs backend")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FS{root: abs}, nil
}

func (s *FS) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	if strings.HasSuffix(clean, contentTypeSuffix) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Put writes body to key, replacing any previous blob.
func (s *FS) Put(ctx context.Context, key string, body io.Reader, _ int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := os.WriteFile(target+contentTypeSuffix, []byte(contentType), 0o644); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get opens key for reading.
func (s *FS) Get(ctx context.Context, key string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	target, err := s.path(key)
	if err != nil {
		return Object{}, ErrNotFound
	}
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("get %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return Object{}, fmt.Errorf("get %s: %w", key, err)
	}
	if info.IsDir() {
		f.Close()
		return Object{}, ErrNotFound
	}
	ct := ""
	if data, err := os.ReadFile(target + contentTypeSuffix); err == nil {
		ct = string(data)
	}
	return Object{Body: f, ContentType: ct, Size: info.Size()}, nil
}

// List returns every key under prefix in lexical order.
func (s *FS) List(ctx context.Context, prefix string) ([]string, error) {
	start, err := s.listRoot(prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == start && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, contentTypeSuffix) || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}

// listRoot is the deepest directory that can hold keys starting with prefix.
func (s *FS) listRoot(prefix string) (string, error) {
	i := strings.LastIndex(prefix, "/")
	if i <= 0 {
		return s.root, nil
	}
	return s.path(prefix[:i])
}

// Delete removes keys. Missing keys are ignored.
func (s *FS) Delete(_ context.Context, keys []string) error {
	for _, key := range keys {
		target, err := s.path(key)
		if err != nil {
			return err
		}
		for _, p := range []string{target, target + contentTypeSuffix} {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
	}
	return nil
}
