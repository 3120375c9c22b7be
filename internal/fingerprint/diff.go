package fingerprint

import (
	"sort"

	"github.com/dshills/repoask/pkg/types"
)

// Kind is the classification of one path
type Kind int

const (
	KindNew Kind = iota
	KindChanged
	KindUnchanged
	KindDeleted
)

func (k Kind) String() string {
	switch k {
	case KindNew:
		return "new"
	case KindChanged:
		return "changed"
	case KindUnchanged:
		return "unchanged"
	case KindDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// CurrentFile is a file as currently listed by the repository source.
// Hash must be computed with chunker.HashContent.
type CurrentFile struct {
	Path    string
	Content []byte
	Hash    string
}

// Change pairs a changed file with its previous fingerprint
type Change struct {
	Current  CurrentFile
	Previous types.SourceFile
}

// Diff is the outcome of classifying a listing against a snapshot.
// Every slice is ordered by path.
type Diff struct {
	New       []CurrentFile
	Changed   []Change
	Unchanged []types.SourceFile
	Deleted   []types.SourceFile
}

// Classify compares the current listing with the previous snapshot. A nil
// snapshot is treated as empty. When a path is listed twice the first entry
// wins.
func Classify(prev *Snapshot, current []CurrentFile) Diff {
	var d Diff
	seen := make(map[string]struct{}, len(current))

	for _, cf := range current {
		if _, dup := seen[cf.Path]; dup {
			continue
		}
		seen[cf.Path] = struct{}{}

		var old types.SourceFile
		var ok bool
		if prev != nil {
			old, ok = prev.Files[cf.Path]
		}

		switch {
		case !ok:
			d.New = append(d.New, cf)
		case old.ContentHash != cf.Hash:
			d.Changed = append(d.Changed, Change{Current: cf, Previous: cloneFile(old)})
		default:
			d.Unchanged = append(d.Unchanged, cloneFile(old))
		}
	}

	if prev != nil {
		for path, old := range prev.Files {
			if _, ok := seen[path]; !ok {
				d.Deleted = append(d.Deleted, cloneFile(old))
			}
		}
	}

	sort.Slice(d.New, func(i, j int) bool { return d.New[i].Path < d.New[j].Path })
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Current.Path < d.Changed[j].Current.Path })
	sort.Slice(d.Unchanged, func(i, j int) bool { return d.Unchanged[i].Path < d.Unchanged[j].Path })
	sort.Slice(d.Deleted, func(i, j int) bool { return d.Deleted[i].Path < d.Deleted[j].Path })

	return d
}

// ToEmbed returns the new and changed files, ordered by path. These are the
// only files that need chunking and embedding.
func (d Diff) ToEmbed() []CurrentFile {
	files := make([]CurrentFile, 0, len(d.New)+len(d.Changed))
	files = append(files, d.New...)
	for _, c := range d.Changed {
		files = append(files, c.Current)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

// StaleChunkIDs returns the chunk IDs owned by changed or deleted files
func (d Diff) StaleChunkIDs() []string {
	var ids []string
	for _, c := range d.Changed {
		ids = append(ids, c.Previous.ChunkIDs...)
	}
	for _, f := range d.Deleted {
		ids = append(ids, f.ChunkIDs...)
	}
	sort.Strings(ids)
	return ids
}

// Previous returns the recorded fingerprint of a changed path
func (d Diff) Previous(path string) (types.SourceFile, bool) {
	i := sort.Search(len(d.Changed), func(i int) bool { return d.Changed[i].Current.Path >= path })
	if i < len(d.Changed) && d.Changed[i].Current.Path == path {
		return d.Changed[i].Previous, true
	}
	return types.SourceFile{}, false
}

// Kind reports how path was classified; ok is false for paths the diff does
// not mention.
func (d Diff) Kind(path string) (Kind, bool) {
	for _, f := range d.New {
		if f.Path == path {
			return KindNew, true
		}
	}
	if _, ok := d.Previous(path); ok {
		return KindChanged, true
	}
	for _, f := range d.Unchanged {
		if f.Path == path {
			return KindUnchanged, true
		}
	}
	for _, f := range d.Deleted {
		if f.Path == path {
			return KindDeleted, true
		}
	}
	return 0, false
}

// Empty reports whether the run has nothing to do
func (d Diff) Empty() bool {
	return len(d.New) == 0 && len(d.Changed) == 0 && len(d.Deleted) == 0
}
