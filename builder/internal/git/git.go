package git

import (
	"context"
	"fmt"
	"io"

	gogit "github.com/go-git/go-git/v5"

	"github.com/splax/minivercel/pkg/build"
)

// ErrUnsupportedURL indicates a repository address that cannot be cloned.
var ErrUnsupportedURL = build.ErrUnsupportedURL

// Validate checks that repoURL names a remote we can clone from.
func Validate(repoURL string) error {
	return build.ValidateRepoURL(repoURL)
}

// Cloner performs shallow clones with go-git.
type Cloner struct {
	progress io.Writer
}

// NewCloner returns a cloner. Progress output, when non-nil, receives the
// remote's sideband messages.
func NewCloner(progress io.Writer) *Cloner {
	return &Cloner{progress: progress}
}

// Clone fetches the default branch of repoURL into dest with depth one.
func (c *Cloner) Clone(ctx context.Context, repoURL, dest string) error {
	if err := Validate(repoURL); err != nil {
		return err
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	_, err := gogit.PlainCloneContext(ctx, dest, false, &gogit.CloneOptions{
		URL:          repoURL,
		Depth:        1,
		SingleBranch: true,
		Tags:         gogit.NoTags,
		Progress:     c.progress,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("git clone: %w", ctxErr)
		}
		return fmt.Errorf("git clone: %w", err)
	}
	return nil
}
