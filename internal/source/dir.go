package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/repoask/pkg/types"
)

// Dir reads repositories from a local mirror laid out as <root>/<owner>/<name>
type Dir struct {
	root   string
	filter Filter
}

var _ Source = (*Dir)(nil)

// NewDir creates a directory source. A zero Filter selects DefaultFilter.
func NewDir(root string, filter Filter) *Dir {
	if len(filter.Extensions) == 0 && filter.MaxBytes == 0 {
		filter = DefaultFilter()
	}
	return &Dir{root: root, filter: filter}
}

// ListFiles walks the repository directory. Hidden directories are skipped.
// Head is the checked-out commit when the mirror is a git work tree.
func (d *Dir) ListFiles(ctx context.Context, repo types.RepoID) (*Listing, error) {
	base := filepath.Join(d.root, repo.Owner(), repo.Name())
	info, err := os.Stat(base)
	if err != nil || !info.IsDir() {
		return nil, &types.SourceAccessError{Repo: repo, Kind: types.SourceNotFound, Detail: "no local mirror at " + base, Err: err}
	}

	var files []File
	err = filepath.WalkDir(base, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			if p != base && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !d.filter.AllowPath(rel) {
			return nil
		}

		fi, err := entry.Info()
		if err != nil {
			return err
		}
		if !d.filter.AllowSize(fi.Size()) {
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		files = append(files, File{Path: rel, Content: content})
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &types.SourceAccessError{Repo: repo, Kind: types.SourceUnavailable, Err: err}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return &Listing{Head: gitHead(base), Files: files}, nil
}

// gitHead resolves .git/HEAD to a commit SHA, empty when unavailable
func gitHead(base string) string {
	head, err := os.ReadFile(filepath.Join(base, ".git", "HEAD"))
	if err != nil {
		return ""
	}
	ref, ok := strings.CutPrefix(strings.TrimSpace(string(head)), "ref: ")
	if !ok {
		return strings.TrimSpace(string(head))
	}
	sha, err := os.ReadFile(filepath.Join(base, ".git", filepath.FromSlash(ref)))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(sha))
}
