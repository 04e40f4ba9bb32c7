package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/supply-risk/backend/internal/metrics"
	"github.com/supply-risk/backend/pkg/logger"
	"github.com/supply-risk/backend/pkg/retry"
)

// Embedder is the embedding dependency, satisfied by *llm.Client.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// CorpusSearcher runs one scoped nearest-neighbor query against the
// document corpus. An empty vendorID searches the whole corpus.
type CorpusSearcher interface {
	Search(ctx context.Context, embedding []float32, topK int, vendorID string) ([]Evidence, error)
}

type RetrieverConfig struct {
	TopK        int
	MaxEvidence int
	MinScore    float32
	MaxRetries  int
	Timeout     time.Duration
}

// Retriever embeds the signal, fans out one vector query per scoped
// vendor, and merges the results into a bounded, deterministic,
// deduplicated evidence set.
type Retriever struct {
	embedder Embedder
	corpus   CorpusSearcher
	cfg      RetrieverConfig
	retry    retry.Config
}

func NewRetriever(embedder Embedder, corpus CorpusSearcher, cfg RetrieverConfig) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	if cfg.MaxEvidence <= 0 {
		cfg.MaxEvidence = 8
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Retriever{
		embedder: embedder,
		corpus:   corpus,
		cfg:      cfg,
		retry: retry.Config{
			MaxAttempts:    cfg.MaxRetries,
			InitialDelay:   200 * time.Millisecond,
			MaxDelay:       2 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}
}

type vendorResult struct {
	vendorID string
	evidence []Evidence
	err      error
}

// Retrieve returns the ranked evidence set for the signal, plus any
// partial-retrieval warnings. An embedding failure or the failure of
// every scoped query is fatal; a single vendor failing only degrades.
// An empty result is a valid outcome, not an error.
func (r *Retriever) Retrieve(ctx context.Context, signal Signal, vendorIDs []string) ([]Evidence, []Warning, error) {
	embedding, err := r.embedder.GenerateEmbedding(ctx, signal.Text)
	if err != nil {
		return nil, nil, newError(ErrorTypeProvider, StageRetrieving, "failed to embed retrieval signal", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var merged []Evidence
	var warnings []Warning

	if len(vendorIDs) == 0 {
		merged, err = r.search(ctx, embedding, "")
		if err != nil {
			return nil, nil, newError(ErrorTypeRetrieval, StageRetrieving, "corpus search failed", err)
		}
	} else {
		// One query per vendor so suppliers with sparse corpora are
		// not crowded out by denser ones.
		results := make([]vendorResult, len(vendorIDs))
		var wg sync.WaitGroup

		for i, vendorID := range vendorIDs {
			wg.Add(1)
			go func(i int, vendorID string) {
				defer wg.Done()
				evidence, err := r.search(ctx, embedding, vendorID)
				results[i] = vendorResult{vendorID: vendorID, evidence: evidence, err: err}
			}(i, vendorID)
		}

		wg.Wait()

		failed := 0
		for _, res := range results {
			if res.err != nil {
				failed++
				metrics.ScopedRetrievalFailures.Inc()
				logger.Warn("Scoped vector query failed",
					zap.String("vendor_id", res.vendorID),
					zap.Error(res.err),
				)
				warnings = append(warnings, Warning{
					Code:     WarnPartialRetrieval,
					VendorID: res.vendorID,
					Message:  fmt.Sprintf("retrieval failed for %s; proceeding without its documents", res.vendorID),
				})
				continue
			}
			merged = append(merged, res.evidence...)
		}

		if failed == len(vendorIDs) {
			return nil, nil, newError(ErrorTypeRetrieval, StageRetrieving,
				fmt.Sprintf("all %d scoped vector queries failed", failed), nil)
		}
	}

	evidence := r.rank(merged)

	logger.Info("Retrieval completed",
		zap.Int("raw_hits", len(merged)),
		zap.Int("evidence", len(evidence)),
		zap.Int("vendors", len(vendorIDs)),
		zap.Bool("signal_fallback", signal.Fallback),
	)

	return evidence, warnings, nil
}

// search runs one corpus query, retrying transient failures with
// backoff before the caller degrades the scope or fails the request.
func (r *Retriever) search(ctx context.Context, embedding []float32, vendorID string) ([]Evidence, error) {
	return retry.DoWithResult(ctx, r.retry, func() ([]Evidence, error) {
		return r.corpus.Search(ctx, embedding, r.cfg.TopK, vendorID)
	})
}

// rank filters weak matches, sorts deterministically, deduplicates by
// source filename keeping the best-scoring chunk, and truncates to the
// configured maximum. Emission order of the fan-out never affects the
// result.
func (r *Retriever) rank(hits []Evidence) []Evidence {
	filtered := make([]Evidence, 0, len(hits))
	for _, h := range hits {
		if h.Score < r.cfg.MinScore {
			continue
		}
		filtered = append(filtered, h)
	}

	sort.Slice(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.SupplierID != b.SupplierID {
			return a.SupplierID < b.SupplierID
		}
		if a.SourceFilename != b.SourceFilename {
			return a.SourceFilename < b.SourceFilename
		}
		return a.ChunkID < b.ChunkID
	})

	seen := make(map[string]bool, len(filtered))
	deduped := make([]Evidence, 0, len(filtered))
	for _, h := range filtered {
		if seen[h.SourceFilename] {
			continue
		}
		seen[h.SourceFilename] = true
		deduped = append(deduped, h)
	}

	if len(deduped) > r.cfg.MaxEvidence {
		deduped = deduped[:r.cfg.MaxEvidence]
	}

	return deduped
}
