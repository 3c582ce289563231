package build

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	giturls "github.com/whilp/git-urls"
)

// ErrUnsupportedURL indicates a repository address that cannot be cloned.
var ErrUnsupportedURL = errors.New("unsupported repository url")

// ErrInvalidProjectID indicates an identifier that cannot serve as a subdomain label.
var ErrInvalidProjectID = errors.New("invalid project id")

var supportedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"ssh":   true,
	"git":   true,
	"file":  true,
}

var projectIDPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidateRepoURL parses repoURL in any form git accepts, including
// scp-style addresses, and checks that it names a remote we can clone from.
func ValidateRepoURL(repoURL string) error {
	if strings.TrimSpace(repoURL) == "" {
		return fmt.Errorf("%w: repository URL cannot be empty", ErrUnsupportedURL)
	}
	u, err := giturls.Parse(repoURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if !supportedSchemes[u.Scheme] {
		return fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}
	if u.Scheme != "file" && u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrUnsupportedURL)
	}
	return nil
}

// ValidateProjectID checks that id is a lowercase DNS label, since it is
// served as the first label of the artifact host.
func ValidateProjectID(id string) error {
	if !projectIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q must be a lowercase DNS label", ErrInvalidProjectID, id)
	}
	return nil
}
