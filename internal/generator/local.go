package generator

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

const (
	// localMaxLines caps how many context lines an extractive answer quotes
	localMaxLines = 8

	// LocalNoAnswer is returned when no context line shares a term with the
	// question
	LocalNoAnswer = "I don't know. The provided context does not mention this."
)

// Local answers by quoting the context lines that share the most terms with
// the question. It never leaves the process.
type Local struct{}

// NewLocal creates an extractive generator
func NewLocal() *Local {
	return &Local{}
}

type scoredLine struct {
	block int
	line  int
	score int
}

type contextBlock struct {
	header string
	lines  []string
}

func (l *Local) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	terms := make(map[string]struct{})
	for _, t := range tokenize(prompt.Question) {
		terms[t] = struct{}{}
	}

	blocks := splitBlocks(prompt.Context)
	var scored []scoredLine
	for bi, b := range blocks {
		for li, line := range b.lines {
			score := 0
			for _, t := range tokenize(line) {
				if _, ok := terms[t]; ok {
					score++
				}
			}
			if score > 0 {
				scored = append(scored, scoredLine{block: bi, line: li, score: score})
			}
		}
	}
	if len(scored) == 0 {
		return LocalNoAnswer, nil
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > localMaxLines {
		scored = scored[:localMaxLines]
	}
	// quote in context order
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].block != scored[j].block {
			return scored[i].block < scored[j].block
		}
		return scored[i].line < scored[j].line
	})

	var b strings.Builder
	b.WriteString("Relevant excerpts from the indexed sources:\n")
	lastBlock := -1
	for _, s := range scored {
		if s.block != lastBlock {
			b.WriteString("\n")
			if h := blocks[s.block].header; h != "" {
				b.WriteString(h)
				b.WriteString("\n")
			}
			lastBlock = s.block
		}
		b.WriteString(blocks[s.block].lines[s.line])
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (l *Local) Provider() string { return ProviderLocal }
func (l *Local) Model() string    { return DefaultLocalModel }
func (l *Local) Close() error     { return nil }

// splitBlocks splits rendered context on passage header lines ("--- ...")
func splitBlocks(context string) []contextBlock {
	var blocks []contextBlock
	cur := contextBlock{}
	for _, line := range strings.Split(context, "\n") {
		if strings.HasPrefix(line, "--- ") {
			if cur.header != "" || len(cur.lines) > 0 {
				blocks = append(blocks, cur)
			}
			cur = contextBlock{header: line}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		cur.lines = append(cur.lines, line)
	}
	if cur.header != "" || len(cur.lines) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

// tokenize lowercases text and splits it into identifier-like terms of at
// least three characters
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}
