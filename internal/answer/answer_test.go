package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoask/internal/generator"
	"github.com/dshills/repoask/internal/retry"
	"github.com/dshills/repoask/internal/searcher"
	"github.com/dshills/repoask/pkg/types"
)

// mockGenerator records prompts and fails the first failures calls
type mockGenerator struct {
	mu        sync.Mutex
	callCount int
	prompts   []generator.Prompt
	failures  int
	err       error
	answer    string
}

func (m *mockGenerator) Generate(ctx context.Context, prompt generator.Prompt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	m.prompts = append(m.prompts, prompt)
	if m.callCount <= m.failures {
		return "", m.err
	}
	if m.answer == "" {
		return "  generated answer \n", nil
	}
	return m.answer, nil
}

func (m *mockGenerator) Provider() string { return "mock" }
func (m *mockGenerator) Model() string    { return "mock-model" }
func (m *mockGenerator) Close() error     { return nil }

func located(path string, rank, start, end int, text string) searcher.Passage {
	return searcher.Passage{
		Citation: types.LocatedCitation{
			CitationBase: types.CitationBase{Path: path, Rank: rank, Score: 1 - float64(rank)/10},
			LineStart:    start,
			LineEnd:      end,
		},
		Text: text,
	}
}

func TestAnswer(t *testing.T) {
	gen := &mockGenerator{}
	a := New(gen, Config{Counter: CharCounter{}}, nil)

	passages := []searcher.Passage{
		located("main.py", 1, 1, 2, "def main():\n    run()"),
		{
			Citation: types.FileCitation{CitationBase: types.CitationBase{Path: "README", Rank: 2, Score: 0.5}},
			Text:     "Run with python main.py",
		},
	}

	ans, err := a.Answer(context.Background(), "how do I run it?", passages)
	require.NoError(t, err)
	assert.Equal(t, "generated answer", ans.Answer)
	assert.Equal(t, 1, ans.Attempts)
	assert.False(t, ans.Truncated)
	require.Len(t, ans.Citations, 2)
	require.NoError(t, types.ValidateCitations(ans.Citations))

	require.Len(t, gen.prompts, 1)
	prompt := gen.prompts[0]
	assert.Equal(t, SystemPrompt, prompt.System)
	assert.Equal(t, "how do I run it?", prompt.Question)
	assert.Equal(t,
		"--- main.py:1-2 (rank 1)\ndef main():\n    run()\n--- README (rank 2)\nRun with python main.py\n",
		prompt.Context)
}

func TestAnswer_NoPassages(t *testing.T) {
	gen := &mockGenerator{}
	a := New(gen, Config{}, nil)

	ans, err := a.Answer(context.Background(), "anything?", nil)
	require.NoError(t, err)
	assert.Equal(t, NoPassagesAnswer, ans.Answer)
	assert.NotNil(t, ans.Citations)
	assert.Empty(t, ans.Citations)
	assert.Zero(t, gen.callCount)
}

func TestBuildContext_DropsBelowBudget(t *testing.T) {
	first := located("a.go", 1, 1, 1, strings.Repeat("a", 20))
	second := located("b.go", 2, 1, 1, strings.Repeat("b", 20))
	third := located("c.go", 3, 1, 1, "c")

	firstSize := CharCounter{}.Count(renderPassage(first.Citation, first.Text))
	a := New(&mockGenerator{}, Config{Counter: CharCounter{}, Budget: firstSize + 10}, nil)

	text, citations, truncated := a.BuildContext([]searcher.Passage{first, second, third})
	assert.False(t, truncated)
	require.Len(t, citations, 1, "the first passage that does not fit ends the context")
	assert.Equal(t, "a.go", citations[0].Base().Path)
	assert.NotContains(t, text, "c.go")
	assert.LessOrEqual(t, CharCounter{}.Count(text), firstSize+10)
}

func TestBuildContext_TruncatesTopPassage(t *testing.T) {
	top := located("big.go", 1, 1, 500, strings.Repeat("x", 1000))
	next := located("small.go", 2, 1, 1, "y")

	a := New(&mockGenerator{}, Config{Counter: CharCounter{}, Budget: 100}, nil)
	text, citations, truncated := a.BuildContext([]searcher.Passage{top, next})

	assert.True(t, truncated)
	require.Len(t, citations, 1)
	assert.Equal(t, "big.go", citations[0].Base().Path)
	assert.Equal(t, 100, CharCounter{}.Count(text))
	assert.True(t, strings.HasPrefix(text, "--- big.go:1-500 (rank 1)\nxxx"))
}

func TestBuildContext_HeaderExceedsBudget(t *testing.T) {
	top := located("main.py", 1, 1, 40, strings.Repeat("x", 200))

	a := New(&mockGenerator{}, Config{Counter: CharCounter{}, Budget: 3}, nil)
	text, citations, truncated := a.BuildContext([]searcher.Passage{top})

	assert.True(t, truncated)
	assert.Empty(t, text)
	assert.Empty(t, citations)
}

func TestAnswer_NothingFitsBudget(t *testing.T) {
	gen := &mockGenerator{}
	a := New(gen, Config{Counter: CharCounter{}, Budget: 3}, nil)

	ans, err := a.Answer(context.Background(), "q", []searcher.Passage{located("main.py", 1, 1, 40, "print('hi')")})
	require.NoError(t, err)
	assert.Equal(t, NoPassagesAnswer, ans.Answer)
	assert.NotNil(t, ans.Citations)
	assert.Empty(t, ans.Citations)
	assert.Zero(t, gen.callCount)
}

func TestAnswer_GenerationRetried(t *testing.T) {
	gen := &mockGenerator{failures: 1, err: errors.New("temporary")}
	a := New(gen, Config{Retry: retry.Policy{MaxAttempts: 3}}, nil)

	ans, err := a.Answer(context.Background(), "q", []searcher.Passage{located("a.go", 1, 1, 1, "x")})
	require.NoError(t, err)
	assert.Equal(t, 2, ans.Attempts)
	assert.Equal(t, 2, gen.callCount)
}

func TestAnswer_GenerationError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		attempts int
	}{
		{"transient exhausted", errors.New("503"), 3},
		{"permanent", retry.Permanent(errors.New("bad request")), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &mockGenerator{failures: 10, err: tt.err}
			a := New(gen, Config{Retry: retry.Policy{MaxAttempts: 3}}, nil)

			ans, err := a.Answer(context.Background(), "q", []searcher.Passage{located("a.go", 1, 1, 1, "x")})
			assert.Nil(t, ans)

			var genErr *types.GenerationError
			require.True(t, errors.As(err, &genErr))
			assert.Equal(t, tt.attempts, genErr.Attempts)
			assert.Equal(t, tt.attempts, gen.callCount)
		})
	}
}

func TestCounters(t *testing.T) {
	tests := []struct {
		name     string
		counter  Counter
		text     string
		count    int
		truncN   int
		truncOut string
	}{
		{"chars ascii", CharCounter{}, "hello", 5, 3, "hel"},
		{"chars multibyte", CharCounter{}, "héllo", 5, 2, "hé"},
		{"chars no-op", CharCounter{}, "hi", 2, 5, "hi"},
		{"estimate rounds up", EstimateCounter{}, "hello", 2, 1, "hell"},
		{"estimate empty", EstimateCounter{}, "", 0, 1, ""},
		{"zero budget", CharCounter{}, "abc", 3, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.count, tt.counter.Count(tt.text))
			assert.Equal(t, tt.truncOut, tt.counter.Truncate(tt.text, tt.truncN))
		})
	}
}

func TestNewCounter(t *testing.T) {
	c, err := NewCounter("chars")
	require.NoError(t, err)
	assert.Equal(t, CounterChars, c.Unit())

	_, err = NewCounter("words")
	assert.Error(t, err)
}
