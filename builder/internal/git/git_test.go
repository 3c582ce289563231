package git

import (
	"context"
	"errors"
	"testing"
)

func TestValidateAcceptsCommonForms(t *testing.T) {
	for _, raw := range []string{
		"https://github.com/acme/site.git",
		"http://git.internal:8080/acme/site",
		"git@github.com:acme/site.git",
		"ssh://git@github.com/acme/site.git",
	} {
		if err := Validate(raw); err != nil {
			t.Fatalf("Validate(%q): %v", raw, err)
		}
	}
}

func TestValidateRejectsUnsupported(t *testing.T) {
	for _, raw := range []string{"", "   ", "ftp://example.com/repo.git", "https://"} {
		if err := Validate(raw); !errors.Is(err, ErrUnsupportedURL) {
			t.Fatalf("Validate(%q): expected ErrUnsupportedURL, got %v", raw, err)
		}
	}
}

func TestCloneRejectsBadURLBeforeNetwork(t *testing.T) {
	c := NewCloner(nil)
	err := c.Clone(context.Background(), "ftp://example.com/repo.git", t.TempDir())
	if !errors.Is(err, ErrUnsupportedURL) {
		t.Fatalf("expected ErrUnsupportedURL, got %v", err)
	}
}
