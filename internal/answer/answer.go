package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/repoask/internal/generator"
	"github.com/dshills/repoask/internal/retry"
	"github.com/dshills/repoask/internal/searcher"
	"github.com/dshills/repoask/pkg/types"
)

const (
	// DefaultBudget is the default context budget in counter units
	DefaultBudget = 6000
	// MinBudget is the smallest budget that fits a passage header and some text
	MinBudget = 100
)

// SystemPrompt instructs the model to stay within the retrieved context
const SystemPrompt = `You are an expert open-source developer.
Answer using ONLY the provided context. If the answer isn't in the context, say you don't know.
Include short code examples when helpful and cite the file paths and line ranges you used.`

// NoPassagesAnswer is returned without calling the model when retrieval
// found nothing
const NoPassagesAnswer = "No relevant passages were found in the index for this question. If the repository was indexed recently, try rephrasing; otherwise index it first."

// Config tunes answer assembly
type Config struct {
	Budget  int     // context budget in Counter units (default 6000)
	Counter Counter // default: chars/4 token estimate
	System  string  // default SystemPrompt
	Retry   retry.Policy
}

// Answer is a generated answer and the citations given to the model
type Answer struct {
	Answer    string
	Citations []types.Citation
	Truncated bool // the top passage was cut to fit the budget
	Attempts  int  // generation attempts, 0 when the model was not called
}

// Assembler builds grounded prompts and calls the generation model
type Assembler struct {
	generator generator.Generator
	config    Config
	logger    *slog.Logger
}

// New creates an Assembler
func New(gen generator.Generator, config Config, logger *slog.Logger) *Assembler {
	if config.Budget <= 0 {
		config.Budget = DefaultBudget
	}
	if config.Counter == nil {
		config.Counter = EstimateCounter{}
	}
	if config.System == "" {
		config.System = SystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{generator: gen, config: config, logger: logger}
}

// Answer generates an answer to question from ranked passages. Generation
// failures are returned as *types.GenerationError.
func (a *Assembler) Answer(ctx context.Context, question string, passages []searcher.Passage) (*Answer, error) {
	if len(passages) == 0 {
		return &Answer{Answer: NoPassagesAnswer, Citations: []types.Citation{}}, nil
	}

	contextText, citations, truncated := a.BuildContext(passages)
	if len(citations) == 0 {
		a.logger.Warn("no passage fits the context budget", "budget", a.config.Budget, "passages", len(passages))
		return &Answer{Answer: NoPassagesAnswer, Citations: []types.Citation{}, Truncated: truncated}, nil
	}
	prompt := generator.Prompt{
		System:   a.config.System,
		Question: question,
		Context:  contextText,
	}

	text, attempts, err := retry.Do(ctx, a.config.Retry, func(ctx context.Context) (string, error) {
		return a.generator.Generate(ctx, prompt)
	})
	if err != nil {
		return nil, &types.GenerationError{Attempts: attempts, Err: err}
	}

	a.logger.Debug("answer generated",
		"provider", a.generator.Provider(),
		"passages", len(citations),
		"dropped", len(passages)-len(citations),
		"truncated", truncated,
		"attempts", attempts)

	return &Answer{
		Answer:    strings.TrimSpace(text),
		Citations: citations,
		Truncated: truncated,
		Attempts:  attempts,
	}, nil
}

// BuildContext renders passages in rank order until the budget is spent and
// returns the rendered context with the citations it contains. When not even
// part of the top passage fits, the context is empty and nothing is cited.
func (a *Assembler) BuildContext(passages []searcher.Passage) (string, []types.Citation, bool) {
	var b strings.Builder
	citations := make([]types.Citation, 0, len(passages))
	used := 0
	truncated := false

	for i, p := range passages {
		block := renderPassage(p.Citation, p.Text)
		size := a.config.Counter.Count(block)
		if used+size > a.config.Budget {
			if i > 0 {
				break
			}
			truncated = true
			overhead := a.config.Counter.Count(renderPassage(p.Citation, ""))
			if a.config.Budget <= overhead {
				break
			}
			text := a.config.Counter.Truncate(p.Text, a.config.Budget-overhead)
			if strings.TrimSpace(text) == "" {
				break
			}
			block = renderPassage(p.Citation, text)
			size = a.config.Counter.Count(block)
		}
		b.WriteString(block)
		used += size
		citations = append(citations, p.Citation)
	}
	return b.String(), citations, truncated
}

// renderPassage formats one passage as "--- path:start-end (rank N)\n<text>\n"
func renderPassage(c types.Citation, text string) string {
	base := c.Base()
	var header string
	if start, end, ok := c.LineRange(); ok {
		header = fmt.Sprintf("--- %s:%d-%d (rank %d)", base.Path, start, end, base.Rank)
	} else {
		header = fmt.Sprintf("--- %s (rank %d)", base.Path, base.Rank)
	}
	return header + "\n" + text + "\n"
}
