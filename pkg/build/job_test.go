package build

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeUsesWireFieldNames(t *testing.T) {
	raw, err := Job{ProjectID: "rich-round-computer", RepoURL: "https://example.com/repo.git"}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(raw, `"projectId":"rich-round-computer"`) {
		t.Fatalf("expected projectId field, got %s", raw)
	}
	if !strings.Contains(raw, `"repoUrl":"https://example.com/repo.git"`) {
		t.Fatalf("expected repoUrl field, got %s", raw)
	}
}

func TestDecodeJobRejectsMismatchedFields(t *testing.T) {
	_, err := DecodeJob(`{"projectSlug":"foo","gitURL":"https://example.com/repo.git"}`)
	if !errors.Is(err, ErrMalformedJob) {
		t.Fatalf("expected ErrMalformedJob, got %v", err)
	}
}

func TestDecodeJobRejectsGarbage(t *testing.T) {
	if _, err := DecodeJob("not json"); !errors.Is(err, ErrMalformedJob) {
		t.Fatalf("expected ErrMalformedJob, got %v", err)
	}
}

func TestPhaseTransitionsAreLinear(t *testing.T) {
	order := []Phase{PhaseQueued, PhaseCloning, PhaseInstalling, PhaseBuilding, PhaseUploading, PhaseDone}
	for i := 0; i < len(order)-1; i++ {
		if !CanTransition(order[i], order[i+1]) {
			t.Fatalf("expected %s -> %s to be allowed", order[i], order[i+1])
		}
		if CanTransition(order[i+1], order[i]) {
			t.Fatalf("expected %s -> %s to be rejected", order[i+1], order[i])
		}
	}
	for _, p := range []Phase{PhaseCloning, PhaseInstalling, PhaseBuilding, PhaseUploading} {
		if !CanTransition(p, PhaseFailed) {
			t.Fatalf("expected %s -> failed to be allowed", p)
		}
	}
	if CanTransition(PhaseFailed, PhaseCloning) || CanTransition(PhaseDone, PhaseFailed) {
		t.Fatalf("terminal phases must be absorbing")
	}
}

func TestValidateProjectID(t *testing.T) {
	for _, id := range []string{"foo", "quiet-brave-otter", "a1", "x"} {
		if err := ValidateProjectID(id); err != nil {
			t.Fatalf("ValidateProjectID(%q): %v", id, err)
		}
	}
	for _, id := range []string{"", "Foo", "-foo", "foo-", "foo.bar", "foo/bar", strings.Repeat("a", 64)} {
		if err := ValidateProjectID(id); !errors.Is(err, ErrInvalidProjectID) {
			t.Fatalf("ValidateProjectID(%q): expected ErrInvalidProjectID, got %v", id, err)
		}
	}
}

func TestValidateRepoURL(t *testing.T) {
	if err := ValidateRepoURL("git@github.com:acme/site.git"); err != nil {
		t.Fatalf("scp-style url rejected: %v", err)
	}
	if err := ValidateRepoURL("ftp://example.com/x.git"); !errors.Is(err, ErrUnsupportedURL) {
		t.Fatalf("expected ErrUnsupportedURL, got %v", err)
	}
}
