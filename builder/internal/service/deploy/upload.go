package deploy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/splax/minivercel/pkg/blobstore"
)

// upload puts every regular file below outDir at dist/<projectID>/<rel>.
// Files go up in lexical walk order and the first failure aborts the walk;
// the keys written so far are returned either way.
func (s *Service) upload(ctx context.Context, projectID, outDir string) ([]string, error) {
	info, err := os.Stat(outDir)
	if err != nil {
		return nil, fmt.Errorf("build output %s: %w", filepath.Base(outDir), err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build output %s is not a directory", filepath.Base(outDir))
	}

	var written []string
	err = filepath.WalkDir(outDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(outDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		key := blobstore.ArtifactKey(projectID, rel)
		if err := s.putFile(ctx, key, path, rel); err != nil {
			return err
		}
		written = append(written, key)
		return nil
	})
	if err != nil {
		return written, fmt.Errorf("upload artifacts: %w", err)
	}
	return written, nil
}

func (s *Service) putFile(ctx context.Context, key, path, rel string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	return s.deps.Store.Put(ctx, key, f, info.Size(), blobstore.ContentTypeFor(rel))
}

// prune deletes keys under the project prefix that this run did not write,
// so files removed from the project stop being served.
func (s *Service) prune(ctx context.Context, projectID string, written []string) error {
	lister, ok := s.deps.Store.(blobstore.Lister)
	if !ok {
		return nil
	}
	existing, err := lister.List(ctx, blobstore.ArtifactPrefix(projectID))
	if err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(written))
	for _, k := range written {
		keep[k] = struct{}{}
	}
	var stale []string
	for _, k := range existing {
		if _, ok := keep[k]; !ok {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	s.logger.Info("pruning stale artifacts", "project_id", projectID, "count", len(stale))
	return lister.Delete(ctx, stale)
}
