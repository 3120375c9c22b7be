package searcher

import (
	"sort"
	"strings"

	"github.com/dshills/repoask/internal/vectorstore"
	"github.com/dshills/repoask/pkg/types"
)

// ElisionMarker stands in for lines between two merged ranges that no
// retrieved chunk covers
const ElisionMarker = "..."

// span is a run of located hits of one file being merged
type span struct {
	path  string
	start int
	end   int
	score float64
	lines map[int]string
	ids   []string
	parts []string // each hit's text, in line order

	// mismatch is set when some hit's text does not match its line range
	mismatch bool
}

// Merge combines hits of the same file. Located hits whose ranges overlap
// or are separated by at most proximity lines become one passage covering
// the union range with the best score. Hits without usable line metadata
// merge into one file-level passage per path. Passages are returned
// unranked.
func Merge(hits []vectorstore.Hit, proximity int) []Passage {
	located := make(map[string][]vectorstore.Hit)
	fileLevel := make(map[string][]vectorstore.Hit)
	for _, h := range hits {
		if h.Metadata.HasLines() {
			located[h.Metadata.Path] = append(located[h.Metadata.Path], h)
		} else {
			fileLevel[h.Metadata.Path] = append(fileLevel[h.Metadata.Path], h)
		}
	}

	var passages []Passage
	for _, path := range sortedKeys(located) {
		group := located[path]
		sort.Slice(group, func(i, j int) bool {
			a, b := group[i].Metadata, group[j].Metadata
			if a.LineStart != b.LineStart {
				return a.LineStart < b.LineStart
			}
			if a.LineEnd != b.LineEnd {
				return a.LineEnd < b.LineEnd
			}
			return group[i].ID < group[j].ID
		})

		var cur *span
		for _, h := range group {
			if cur != nil && h.Metadata.LineStart-cur.end-1 <= proximity {
				cur.add(h)
				continue
			}
			if cur != nil {
				passages = append(passages, cur.passage())
			}
			cur = newSpan(h)
		}
		passages = append(passages, cur.passage())
	}

	for _, path := range sortedKeys(fileLevel) {
		group := fileLevel[path]
		vectorstore.SortHits(group)

		p := Passage{}
		texts := make([]string, 0, len(group))
		for _, h := range group {
			p.ChunkIDs = append(p.ChunkIDs, h.ID)
			if h.Metadata.Content != "" {
				texts = append(texts, h.Metadata.Content)
			}
		}
		p.Text = strings.Join(texts, "\n"+ElisionMarker+"\n")
		p.Citation = types.FileCitation{CitationBase: types.CitationBase{Path: path, Score: group[0].Score}}
		passages = append(passages, p)
	}

	return passages
}

func newSpan(h vectorstore.Hit) *span {
	s := &span{
		path:  h.Metadata.Path,
		start: h.Metadata.LineStart,
		end:   h.Metadata.LineStart - 1,
		score: h.Score,
		lines: make(map[int]string),
	}
	s.add(h)
	return s
}

func (s *span) add(h vectorstore.Hit) {
	m := h.Metadata
	if m.LineEnd > s.end {
		s.end = m.LineEnd
	}
	if h.Score > s.score {
		s.score = h.Score
	}
	s.ids = append(s.ids, h.ID)
	s.parts = append(s.parts, m.Content)

	lines := strings.Split(m.Content, "\n")
	if len(lines) != m.LineEnd-m.LineStart+1 {
		s.mismatch = true
		return
	}
	for i, line := range lines {
		s.lines[m.LineStart+i] = line
	}
}

func (s *span) passage() Passage {
	var b strings.Builder
	if s.mismatch {
		// line mapping is unreliable; keep each hit's text whole
		b.WriteString(strings.Join(s.parts, "\n"+ElisionMarker+"\n"))
	} else {
		gap := false
		first := true
		for n := s.start; n <= s.end; n++ {
			line, ok := s.lines[n]
			if !ok {
				if !gap {
					if !first {
						b.WriteByte('\n')
					}
					b.WriteString(ElisionMarker)
					first = false
				}
				gap = true
				continue
			}
			gap = false
			if !first {
				b.WriteByte('\n')
			}
			b.WriteString(line)
			first = false
		}
	}

	return Passage{
		Citation: types.LocatedCitation{
			CitationBase: types.CitationBase{Path: s.path, Score: s.score},
			LineStart:    s.start,
			LineEnd:      s.end,
		},
		Text:     b.String(),
		ChunkIDs: s.ids,
	}
}

// Rank orders passages by descending score, then path, then starting line
// (file-level passages first), then chunk ID, and assigns dense ranks from 1.
func Rank(passages []Passage) []Passage {
	sort.SliceStable(passages, func(i, j int) bool {
		a, b := passages[i], passages[j]
		ab, bb := a.Citation.Base(), b.Citation.Base()
		if ab.Score != bb.Score {
			return ab.Score > bb.Score
		}
		if ab.Path != bb.Path {
			return ab.Path < bb.Path
		}
		as, _, _ := a.Citation.LineRange()
		bs, _, _ := b.Citation.LineRange()
		if as != bs {
			return as < bs
		}
		return firstID(a) < firstID(b)
	})

	for i := range passages {
		passages[i].Citation = passages[i].Citation.WithRank(i + 1)
	}
	return passages
}

func firstID(p Passage) string {
	if len(p.ChunkIDs) == 0 {
		return ""
	}
	return p.ChunkIDs[0]
}

func sortedKeys(m map[string][]vectorstore.Hit) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
