package types

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// RepoID identifies a remote repository as "owner/name".
// It doubles as the repository's vector store namespace.
type RepoID string

var repoPartPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ParseRepoID validates and normalizes an "owner/name" identifier.
// Surrounding whitespace and a trailing ".git" are tolerated.
func ParseRepoID(s string) (RepoID, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".git")
	owner, name, ok := strings.Cut(s, "/")
	if !ok || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %q must have the form owner/name", ErrInvalidRepo, s)
	}
	for _, part := range []string{owner, name} {
		if part == "" || part == "." || part == ".." || !repoPartPattern.MatchString(part) {
			return "", fmt.Errorf("%w: %q must have the form owner/name", ErrInvalidRepo, s)
		}
	}
	return RepoID(owner + "/" + name), nil
}

// Owner returns the part before the slash.
func (r RepoID) Owner() string {
	owner, _, _ := strings.Cut(string(r), "/")
	return owner
}

// Name returns the part after the slash.
func (r RepoID) Name() string {
	_, name, _ := strings.Cut(string(r), "/")
	return name
}

// Namespace returns the vector store partition holding this repository's chunks.
func (r RepoID) Namespace() string {
	return string(r)
}

// FileSafe returns a representation usable as a single path element.
// Distinct IDs always map to distinct names.
func (r RepoID) FileSafe() string {
	return hex.EncodeToString([]byte(r))
}

func (r RepoID) String() string {
	return string(r)
}
