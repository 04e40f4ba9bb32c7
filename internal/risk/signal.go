package risk

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/supply-risk/backend/internal/llm"
	"github.com/supply-risk/backend/internal/metrics"
	"github.com/supply-risk/backend/pkg/logger"
)

// Completer is the generative-text dependency of the pipeline,
// satisfied by *llm.Client.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

const signalSystemPrompt = `You are an expert in supply chain risk analysis.
Generate a hypothetical but realistic analytical snippet that represents what an answer to the given risk query might look like.
The snippet should be a short paragraph addressing the query, written in the register of a supplier risk report.
Do not answer the query; write the paragraph a relevant document would contain.`

// SignalGenerator produces the answer-shaped paragraph used as the
// retrieval key. Short questions embed poorly against long-form
// report prose; the synthetic paragraph matches the corpus register.
type SignalGenerator struct {
	llm       Completer
	maxTokens int
}

func NewSignalGenerator(completer Completer, maxTokens int) *SignalGenerator {
	if maxTokens <= 0 {
		maxTokens = 200
	}
	return &SignalGenerator{
		llm:       completer,
		maxTokens: maxTokens,
	}
}

// Generate returns a synthetic signal for the query. A provider
// failure is non-fatal: the raw query text becomes the signal and the
// fallback is flagged so the engine can report the degradation.
func (g *SignalGenerator) Generate(ctx context.Context, query string) Signal {
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: signalSystemPrompt,
		UserPrompt:   fmt.Sprintf("Query: %s\n\nHypothetical Analysis:", query),
		Temperature:  0.7,
		MaxTokens:    g.maxTokens,
	})

	if err != nil {
		logger.Warn("Signal generation failed, falling back to raw query", zap.Error(err))
		metrics.SignalFallbackTotal.Inc()
		return Signal{Text: query, Fallback: true}
	}
	if resp.Content == "" {
		logger.Warn("Signal generation returned empty content, falling back to raw query")
		metrics.SignalFallbackTotal.Inc()
		return Signal{Text: query, Fallback: true}
	}

	logger.Debug("Synthetic signal generated", zap.Int("length", len(resp.Content)))

	return Signal{Text: resp.Content}
}
