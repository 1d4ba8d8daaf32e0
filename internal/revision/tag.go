package revision

import "strings"

// SanitizeBranch turns a branch or ref name into a tag-safe segment.
// Slashes become hyphens; an absent branch defaults to "local".
func SanitizeBranch(branch string) string {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return "local"
	}
	return strings.ReplaceAll(branch, "/", "-")
}

// ImageTag composes the artifact tag from the repository name, branch and
// revision. The composition is pure: the same triple always yields the same
// string. An empty repository yields an empty tag, which callers must treat
// as a configuration error.
func ImageTag(repo, branch, rev string) string {
	if repo == "" {
		return ""
	}
	if rev == "" {
		rev = FallbackRevision
	}
	return repo + ":" + SanitizeBranch(branch) + "-" + rev
}
