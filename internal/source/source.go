package source

import (
	"context"
	"path"
	"strings"

	"github.com/dshills/repoask/pkg/types"
)

// MaxFileBytes is the default cap on a single file's size
const MaxFileBytes = 300_000

// DefaultExtensions lists the file extensions treated as indexable text
var DefaultExtensions = []string{
	".md", ".txt", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".go", ".rs", ".rb", ".php", ".cs",
	".c", ".h", ".cpp", ".hpp", ".m", ".mm", ".kt", ".scala", ".sql", ".sh", ".yml", ".yaml", ".toml", ".ini", ".json",
}

// File is one file of a repository snapshot
type File struct {
	Path    string // slash-separated, relative to the repository root
	Content []byte
}

// Listing is the full set of indexable files at one revision
type Listing struct {
	Head  string // commit SHA, empty when the source has none
	Files []File
}

// Source lists the files of a remote repository. Failures to reach the
// repository are reported as *types.SourceAccessError.
type Source interface {
	ListFiles(ctx context.Context, repo types.RepoID) (*Listing, error)
}

// Filter decides which files are fetched
type Filter struct {
	Extensions []string // lowercase, with leading dot; empty allows every file
	MaxBytes   int64    // 0 means no limit
}

// DefaultFilter returns the text-extension allow-list with the default size cap
func DefaultFilter() Filter {
	return Filter{Extensions: DefaultExtensions, MaxBytes: MaxFileBytes}
}

// AllowPath reports whether a file's name passes the extension allow-list
func (f Filter) AllowPath(p string) bool {
	if len(f.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(p))
	for _, e := range f.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// AllowSize reports whether a file of n bytes is within the cap
func (f Filter) AllowSize(n int64) bool {
	return f.MaxBytes <= 0 || n <= f.MaxBytes
}
