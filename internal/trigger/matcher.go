// Package trigger decides whether a change event is relevant to a
// subscriber's repository/branch filter.
package trigger

import (
	"path"
	"strings"

	"github.com/notifyhub/repo-trigger/internal/domain"
)

const headsPrefix = "refs/heads/"

// Matches reports whether ev passes filter: the normalized repository names
// must be equal AND at least one branch pattern must match the event's
// branch reference. A filter without patterns matches nothing.
func Matches(ev domain.ChangeEvent, filter domain.Filter) bool {
	want := NormalizeRepository(filter.Repository)
	if want == "" || want != NormalizeRepository(ev.Repository) {
		return false
	}
	for _, pattern := range filter.Branches {
		if MatchBranch(pattern, ev.Branch) {
			return true
		}
	}
	return false
}

// MatchBranch matches one glob pattern against a branch reference. The
// pattern is tried against the full reference and against its short form
// (refs/heads/ stripped), so both "feature-*" and "refs/heads/feature-*"
// match refs/heads/feature-x. Segments are significant: '*' never matches
// a '/'. The lone pattern "**" matches every reference.
func MatchBranch(pattern, ref string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || ref == "" {
		return false
	}
	if pattern == "**" {
		return true
	}
	if ok, err := path.Match(pattern, ref); err == nil && ok {
		return true
	}
	if short, found := strings.CutPrefix(ref, headsPrefix); found {
		if ok, err := path.Match(pattern, short); err == nil && ok {
			return true
		}
	}
	return false
}

// NormalizeRepository reduces a repository reference to its canonical
// name, so that differing URL forms of the same repository compare equal:
//
//	my-repo
//	https://git-codecommit.us-east-1.amazonaws.com/v1/repos/my-repo
//	ssh://git-codecommit.us-east-1.amazonaws.com/v1/repos/my-repo
//	codecommit::us-east-1://my-repo
//	git@example.com:team/my-repo.git
//	arn:aws:codecommit:us-east-1:123456789012:my-repo
//
// all normalize to "my-repo".
func NormalizeRepository(ref string) string {
	s := strings.TrimSpace(ref)
	if s == "" {
		return ""
	}

	if strings.HasPrefix(s, "arn:") {
		if i := strings.LastIndexByte(s, ':'); i >= 0 {
			s = s[i+1:]
		}
	}
	if i := strings.LastIndex(s, "://"); i >= 0 {
		s = s[i+3:]
	} else if at := strings.IndexByte(s, '@'); at >= 0 {
		// scp-like: user@host:path
		s = s[at+1:]
		if colon := strings.IndexByte(s, ':'); colon >= 0 {
			s = s[colon+1:]
		}
	}

	s = strings.TrimRight(s, "/")
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(s, ".git")
}

// ParsePatterns flattens pattern lists that may contain comma-separated
// entries, trimming whitespace and stray quotes and dropping empties.
func ParsePatterns(values ...string) []string {
	var out []string
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			item = strings.NewReplacer(`"`, "", "'", "").Replace(item)
			item = strings.TrimSpace(item)
			if item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}
