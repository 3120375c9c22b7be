package types

import "fmt"

// Citation is a ranked reference to a retrieved passage. It is either a
// LocatedCitation (path plus line range) or a FileCitation (path only, for
// passages whose chunk carries no usable line metadata).
type Citation interface {
	// Base returns the fields shared by every citation.
	Base() CitationBase
	// LineRange reports the cited lines; ok is false for file-level citations.
	LineRange() (start, end int, ok bool)
	// WithRank returns a copy carrying the given rank.
	WithRank(rank int) Citation

	isCitation()
}

// CitationBase holds the fields shared by all citation variants.
type CitationBase struct {
	Path  string  `json:"path"`
	Rank  int     `json:"rank"` // Position in result set (1-based)
	Score float64 `json:"score"`
}

// LocatedCitation cites a line range of a file.
type LocatedCitation struct {
	CitationBase
	LineStart int `json:"line_start"`
	LineEnd   int `json:"line_end"`
}

// FileCitation cites a whole file.
type FileCitation struct {
	CitationBase
}

func (c LocatedCitation) Base() CitationBase { return c.CitationBase }

func (c LocatedCitation) LineRange() (int, int, bool) { return c.LineStart, c.LineEnd, true }

func (c LocatedCitation) WithRank(rank int) Citation {
	c.Rank = rank
	return c
}

func (LocatedCitation) isCitation() {}

func (c FileCitation) Base() CitationBase { return c.CitationBase }

func (c FileCitation) LineRange() (int, int, bool) { return 0, 0, false }

func (c FileCitation) WithRank(rank int) Citation {
	c.Rank = rank
	return c
}

func (FileCitation) isCitation() {}

// ValidateCitations checks that ranks are dense from 1 and that every line
// range is well formed.
func ValidateCitations(citations []Citation) error {
	for i, c := range citations {
		base := c.Base()
		if base.Rank != i+1 {
			return fmt.Errorf("%w: citation %d has rank %d", ErrInvalidRank, i, base.Rank)
		}
		if base.Path == "" {
			return fmt.Errorf("citation %d: %w", i, ErrMissingFileInfo)
		}
		if start, end, ok := c.LineRange(); ok && (start < 1 || start > end) {
			return fmt.Errorf("citation %d: invalid line range %d-%d", i, start, end)
		}
	}
	return nil
}
