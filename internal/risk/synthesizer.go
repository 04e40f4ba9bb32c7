package risk

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/supply-risk/backend/internal/llm"
	"github.com/supply-risk/backend/pkg/logger"
)

const synthesisSystemPrompt = `You are a domain expert specialized in supply chain risk analysis.
Assess the supplier risk raised by the user query using ONLY the supplied evidence excerpts.

Respond in exactly this format:
Risk Level: <Low|Moderate|High>
Summary: <concise justification grounded only in the evidence>
Evidence: <semicolon-separated list of the source filenames you relied on>`

// Synthesizer turns the query plus evidence set into a structured
// verdict via one generative call.
type Synthesizer struct {
	llm       Completer
	maxTokens int
}

func NewSynthesizer(completer Completer, maxTokens int) *Synthesizer {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Synthesizer{
		llm:       completer,
		maxTokens: maxTokens,
	}
}

// Verdict is the parsed synthesis output before the engine assembles
// the final Assessment.
type Verdict struct {
	Level    Level
	Summary  string
	Evidence []string
}

// Synthesize must not be called with empty evidence; the engine
// handles that case with the insufficient-evidence sentinel.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, evidence []Evidence) (*Verdict, error) {
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: synthesisSystemPrompt,
		UserPrompt:   buildSynthesisPrompt(query, evidence),
		Temperature:  0,
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		return nil, newError(ErrorTypeProvider, StageSynthesizing, "risk synthesis call failed", err)
	}

	v, err := parseVerdict(resp.Content, evidence)
	if err != nil {
		logger.Error("Failed to parse synthesis output",
			zap.Error(err),
			zap.String("output_head", head(resp.Content, 120)),
		)
		return nil, err
	}

	return v, nil
}

func buildSynthesisPrompt(query string, evidence []Evidence) string {
	var b strings.Builder

	b.WriteString("### Reference Evidence:\n")
	for i, ev := range evidence {
		fmt.Fprintf(&b, "\n[%d] supplier=%s source=%s", i+1, ev.SupplierID, ev.SourceFilename)
		if ev.Category != "" {
			fmt.Fprintf(&b, " category=%s", ev.Category)
		}
		if ev.Period != "" {
			fmt.Fprintf(&b, " period=%s", ev.Period)
		}
		b.WriteString("\n")
		b.WriteString(ev.Text)
		b.WriteString("\n\n---\n")
	}

	fmt.Fprintf(&b, "\n### User Query:\n%s\n", query)

	return b.String()
}

// parseVerdict extracts the risk level against the closed vocabulary
// and intersects the model's evidence references with the filenames
// actually supplied. A fabricated reference is dropped; a missing or
// unrecognizable level is an error, never a default.
func parseVerdict(content string, evidence []Evidence) (*Verdict, error) {
	var levelRaw, summary, evidenceRaw string

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "risk level:"):
			levelRaw = strings.TrimSpace(trimmed[len("risk level:"):])
		case strings.HasPrefix(lower, "summary:"):
			summary = strings.TrimSpace(trimmed[len("summary:"):])
		case strings.HasPrefix(lower, "evidence:"):
			evidenceRaw = strings.TrimSpace(trimmed[len("evidence:"):])
		case summary != "" && levelRaw != "" && evidenceRaw == "" && trimmed != "":
			// Continuation lines of a multi-line summary.
			summary += " " + trimmed
		}
	}

	if levelRaw == "" {
		return nil, newError(ErrorTypeSynthesis, StageSynthesizing, "model output missing risk level", nil)
	}

	level, err := ParseLevel(levelRaw)
	if err != nil {
		return nil, newError(ErrorTypeSynthesis, StageSynthesizing, "unrecognized risk level", err)
	}

	if summary == "" {
		summary = strings.TrimSpace(content)
	}

	supplied := make(map[string]bool, len(evidence))
	for _, ev := range evidence {
		supplied[ev.SourceFilename] = true
	}

	var refs []string
	seen := make(map[string]bool)
	for _, ref := range strings.Split(evidenceRaw, ";") {
		ref = strings.Trim(strings.TrimSpace(ref), `"'`)
		if ref == "" || seen[ref] {
			continue
		}
		if !supplied[ref] {
			logger.Warn("Dropping fabricated evidence reference", zap.String("ref", ref))
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}

	// The model listed nothing usable; fall back to the supplied
	// evidence in ranked order rather than inventing references.
	if len(refs) == 0 {
		for _, ev := range evidence {
			refs = append(refs, ev.SourceFilename)
		}
	}

	return &Verdict{
		Level:    level,
		Summary:  summary,
		Evidence: refs,
	}, nil
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
