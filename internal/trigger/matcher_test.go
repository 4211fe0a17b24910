package trigger_test

import (
	"reflect"
	"testing"

	"github.com/notifyhub/repo-trigger/internal/domain"
	"github.com/notifyhub/repo-trigger/internal/trigger"
)

func event(repo, branch string) domain.ChangeEvent {
	return domain.ChangeEvent{Repository: repo, Branch: branch, Kind: domain.KindCreated}
}

func TestNormalizeRepository(t *testing.T) {
	cases := []struct{ in, want string }{
		{"my-repo", "my-repo"},
		{" my-repo ", "my-repo"},
		{"https://git-codecommit.us-east-1.amazonaws.com/v1/repos/my-repo", "my-repo"},
		{"https://git-codecommit.us-east-1.amazonaws.com/v1/repos/my-repo/", "my-repo"},
		{"ssh://git-codecommit.us-east-1.amazonaws.com/v1/repos/my-repo", "my-repo"},
		{"https://user@git-codecommit.eu-west-1.amazonaws.com/v1/repos/my-repo.git", "my-repo"},
		{"codecommit::us-east-1://my-repo", "my-repo"},
		{"git@example.com:team/my-repo.git", "my-repo"},
		{"arn:aws:codecommit:us-east-1:123456789012:my-repo", "my-repo"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := trigger.NormalizeRepository(c.in); got != c.want {
			t.Errorf("NormalizeRepository(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMatches(t *testing.T) {
	ev := event("my-repo", "refs/heads/feature-x")

	t.Run("short-name glob matches", func(t *testing.T) {
		f := domain.Filter{Repository: "my-repo", Branches: []string{"feature-*"}}
		if !trigger.Matches(ev, f) {
			t.Fatal("expected feature-* to match refs/heads/feature-x")
		}
	})

	t.Run("full-ref glob matches", func(t *testing.T) {
		f := domain.Filter{Repository: "my-repo", Branches: []string{"refs/heads/*"}}
		if !trigger.Matches(ev, f) {
			t.Fatal("expected refs/heads/* to match")
		}
	})

	t.Run("url form of the repository matches", func(t *testing.T) {
		f := domain.Filter{
			Repository: "https://git-codecommit.us-east-1.amazonaws.com/v1/repos/my-repo",
			Branches:   []string{"feature-x"},
		}
		if !trigger.Matches(ev, f) {
			t.Fatal("expected url and bare name to be equivalent")
		}
	})

	t.Run("other repository does not match", func(t *testing.T) {
		f := domain.Filter{Repository: "other-repo", Branches: []string{"**"}}
		if trigger.Matches(ev, f) {
			t.Fatal("expected repository mismatch")
		}
	})

	t.Run("repository comparison is case sensitive", func(t *testing.T) {
		f := domain.Filter{Repository: "My-Repo", Branches: []string{"**"}}
		if trigger.Matches(ev, f) {
			t.Fatal("expected case-sensitive comparison")
		}
	})

	t.Run("release glob does not match feature branch", func(t *testing.T) {
		f := domain.Filter{Repository: "my-repo", Branches: []string{"release/*"}}
		if trigger.Matches(ev, f) {
			t.Fatal("expected no match")
		}
	})

	t.Run("star does not cross segments", func(t *testing.T) {
		nested := event("my-repo", "refs/heads/feature/deep/x")
		f := domain.Filter{Repository: "my-repo", Branches: []string{"feature/*"}}
		if trigger.Matches(nested, f) {
			t.Fatal("expected * to stop at /")
		}
		f.Branches = []string{"**"}
		if !trigger.Matches(nested, f) {
			t.Fatal("expected ** to match everything")
		}
	})

	t.Run("any of several patterns", func(t *testing.T) {
		f := domain.Filter{Repository: "my-repo", Branches: []string{"main", "feature-?"}}
		if !trigger.Matches(ev, f) {
			t.Fatal("expected second pattern to match")
		}
	})

	t.Run("no patterns matches nothing", func(t *testing.T) {
		f := domain.Filter{Repository: "my-repo"}
		if trigger.Matches(ev, f) {
			t.Fatal("expected empty pattern list to match nothing")
		}
	})

	t.Run("malformed pattern is ignored", func(t *testing.T) {
		f := domain.Filter{Repository: "my-repo", Branches: []string{"[", "feature-x"}}
		if !trigger.Matches(ev, f) {
			t.Fatal("expected the valid pattern to still match")
		}
	})
}

func TestParsePatterns(t *testing.T) {
	got := trigger.ParsePatterns(`"main", 'release/*'`, "", " feature-* ,,")
	want := []string{"main", "release/*", "feature-*"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParsePatterns = %v, want %v", got, want)
	}
}
