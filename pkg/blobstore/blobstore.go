// Package blobstore stores build artifacts under flat string keys.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/splax/minivercel/pkg/config"
)

// ErrNotFound is returned by Get when no object exists at the key.
var ErrNotFound = errors.New("object not found")

// DefaultContentType is used when the extension has no known media type.
const DefaultContentType = "application/octet-stream"

// Object is a stored blob opened for reading. Size is -1 when unknown.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Store reads and writes blobs.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (Object, error)
}

// Lister is implemented by stores that can enumerate and remove keys.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys []string) error
}

// ContentTypeFor infers the media type of name from its extension.
func ContentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(name))); ct != "" {
		return ct
	}
	return DefaultContentType
}

// ArtifactPrefix is the key prefix of every artifact of a project.
func ArtifactPrefix(projectID string) string {
	return "dist/" + projectID + "/"
}

// ArtifactKey returns the storage key of a file relative to the build output.
func ArtifactKey(projectID, rel string) string {
	return ArtifactPrefix(projectID) + strings.TrimPrefix(rel, "/")
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.Storage) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "s3":
		return NewS3(ctx, cfg)
	case "fs", "file", "local":
		return NewFS(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
