package chunker

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dshills/repoask/pkg/types"
)

const (
	// DefaultWindow is the default number of lines per chunk
	DefaultWindow = 40

	// DefaultOverlap is the default number of lines shared by consecutive chunks
	DefaultOverlap = 10

	// binarySniffLen is how many leading bytes are inspected for NUL bytes
	binarySniffLen = 8000
)

// ErrInvalidWindow is returned for window/overlap combinations that cannot
// make progress through a file.
var ErrInvalidWindow = errors.New("invalid chunk window")

// Config controls the line windows produced by the Chunker
type Config struct {
	Window  int // W: lines per chunk
	Overlap int // O: lines repeated from the previous chunk, O < W
}

// DefaultConfig returns the default window configuration
func DefaultConfig() Config {
	return Config{Window: DefaultWindow, Overlap: DefaultOverlap}
}

// Validate checks that the window advances by at least one line
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %d", ErrInvalidWindow, c.Window)
	}
	if c.Overlap < 0 || c.Overlap >= c.Window {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidWindow, c.Window, c.Overlap)
	}
	return nil
}

// Chunker splits file text into fixed-size, overlapping line windows.
// Boundaries depend only on the content and the configuration.
type Chunker struct {
	window  int
	overlap int
}

// New creates a new Chunker instance
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{window: cfg.Window, overlap: cfg.Overlap}, nil
}

// Window returns the configured window length
func (c *Chunker) Window() int { return c.window }

// Overlap returns the configured overlap
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits content into windows [1,W], [W-O+1, 2W-O], ... until the end
// of the file. Binary content yields no chunks. Windows made only of
// whitespace are not emitted, but window indexes stay positional so chunk IDs
// remain stable.
func (c *Chunker) Chunk(repo types.RepoID, path string, content []byte) []types.Chunk {
	if IsBinary(content) {
		return nil
	}

	lines := SplitLines(content)
	if len(lines) == 0 {
		return nil
	}

	step := c.window - c.overlap
	chunks := make([]types.Chunk, 0, len(lines)/step+1)

	for index, start := 0, 1; ; index, start = index+1, start+step {
		end := start + c.window - 1
		if end > len(lines) {
			end = len(lines)
		}

		text := strings.Join(lines[start-1:end], "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, types.Chunk{
				ID:          ChunkID(repo, path, index),
				Repo:        repo,
				Path:        path,
				Index:       index,
				LineStart:   start,
				LineEnd:     end,
				Content:     text,
				ContentHash: HashString(text),
			})
		}

		if end == len(lines) {
			break
		}
	}

	return chunks
}

// SplitLines splits content into lines. A trailing newline terminates the
// last line rather than starting an empty one.
func SplitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	text := strings.TrimSuffix(string(content), "\n")
	return strings.Split(text, "\n")
}

// LineCount returns the number of lines SplitLines would produce
func LineCount(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte{'\n'})
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}

// IsBinary reports whether content looks like non-text data: a NUL byte in
// the leading bytes or invalid UTF-8.
func IsBinary(content []byte) bool {
	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return true
	}
	return !utf8.Valid(content)
}

// HashContent computes the hex SHA-256 of content. It is the single hashing
// convention for file fingerprints and chunk hashes.
func HashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// HashString is HashContent for strings
func HashString(s string) string {
	return HashContent([]byte(s))
}

// ChunkID derives the stable identifier of window index of path in repo
func ChunkID(repo types.RepoID, path string, index int) string {
	h := sha256.New()
	h.Write([]byte(repo))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", index)
	return hex.EncodeToString(h.Sum(nil)[:16])
}
