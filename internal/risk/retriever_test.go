package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	embedding []float32
	err       error
	calls     int
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.embedding, nil
}

// fakeCorpus is queried concurrently by the fan-out. A vendor listed
// in flaky fails that many times before succeeding.
type fakeCorpus struct {
	byVendor map[string][]Evidence
	errs     map[string]error
	flaky    map[string]int

	mu      sync.Mutex
	queried []string
}

func (f *fakeCorpus) Search(ctx context.Context, embedding []float32, topK int, vendorID string) ([]Evidence, error) {
	f.mu.Lock()
	f.queried = append(f.queried, vendorID)
	if f.flaky[vendorID] > 0 {
		f.flaky[vendorID]--
		f.mu.Unlock()
		return nil, errors.New("vector store timeout")
	}
	f.mu.Unlock()

	if err, ok := f.errs[vendorID]; ok {
		return nil, err
	}
	return f.byVendor[vendorID], nil
}

func ev(chunkID, supplierID, filename string, score float32) Evidence {
	return Evidence{
		ChunkID:        chunkID,
		SupplierID:     supplierID,
		SourceFilename: filename,
		Text:           "chunk text for " + chunkID,
		Score:          score,
	}
}

func newTestRetriever(corpus *fakeCorpus, cfg RetrieverConfig) *Retriever {
	return NewRetriever(&fakeEmbedder{embedding: []float32{0.1, 0.2}}, corpus, cfg)
}

func TestRetrieveScopedOnlyQueriesRequestedVendors(t *testing.T) {
	corpus := &fakeCorpus{
		byVendor: map[string][]Evidence{
			"SUP-A": {ev("a_chunk_0", "SUP-A", "audit.txt", 0.9)},
			"SUP-B": {ev("b_chunk_0", "SUP-B", "esg.txt", 0.8)},
			"SUP-C": {ev("c_chunk_0", "SUP-C", "leak.txt", 0.99)},
		},
	}
	r := newTestRetriever(corpus, RetrieverConfig{TopK: 8, MaxEvidence: 8, MinScore: 0.1})

	evidence, warnings, err := r.Retrieve(context.Background(), Signal{Text: "signal"}, []string{"SUP-A", "SUP-B"})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.ElementsMatch(t, []string{"SUP-A", "SUP-B"}, corpus.queried)

	for _, e := range evidence {
		assert.Contains(t, []string{"SUP-A", "SUP-B"}, e.SupplierID)
	}
}

func TestRetrieveUnscopedSearchesWholeCorpus(t *testing.T) {
	corpus := &fakeCorpus{
		byVendor: map[string][]Evidence{
			"": {ev("a_chunk_0", "SUP-A", "audit.txt", 0.9)},
		},
	}
	r := newTestRetriever(corpus, RetrieverConfig{TopK: 8, MaxEvidence: 8})

	evidence, warnings, err := r.Retrieve(context.Background(), Signal{Text: "signal"}, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, []string{""}, corpus.queried)
	require.Len(t, evidence, 1)
}

func TestRetrieveEmbeddingFailureIsFatal(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("provider down")}
	r := NewRetriever(embedder, &fakeCorpus{}, RetrieverConfig{})

	_, _, err := r.Retrieve(context.Background(), Signal{Text: "signal"}, []string{"SUP-A"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
}

func TestRetrievePartialFailureDegradesWithWarning(t *testing.T) {
	corpus := &fakeCorpus{
		byVendor: map[string][]Evidence{
			"SUP-A": {ev("a_chunk_0", "SUP-A", "audit.txt", 0.9)},
		},
		errs: map[string]error{"SUP-B": errors.New("timeout")},
	}
	r := newTestRetriever(corpus, RetrieverConfig{TopK: 8, MaxEvidence: 8, MaxRetries: 1})

	evidence, warnings, err := r.Retrieve(context.Background(), Signal{Text: "signal"}, []string{"SUP-A", "SUP-B"})
	require.NoError(t, err)
	require.Len(t, evidence, 1)
	require.Len(t, warnings, 1)
	assert.Equal(t, WarnPartialRetrieval, warnings[0].Code)
	assert.Equal(t, "SUP-B", warnings[0].VendorID)
}

func TestRetrieveRetriesTransientScopedFailure(t *testing.T) {
	corpus := &fakeCorpus{
		byVendor: map[string][]Evidence{
			"SUP-A": {ev("a_chunk_0", "SUP-A", "audit.txt", 0.9)},
			"SUP-B": {ev("b_chunk_0", "SUP-B", "esg.txt", 0.8)},
		},
		flaky: map[string]int{"SUP-B": 1},
	}
	r := newTestRetriever(corpus, RetrieverConfig{TopK: 8, MaxEvidence: 8, MaxRetries: 3})

	evidence, warnings, err := r.Retrieve(context.Background(), Signal{Text: "signal"}, []string{"SUP-A", "SUP-B"})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, evidence, 2)

	// SUP-B was queried twice, once failing and once succeeding.
	count := 0
	for _, v := range corpus.queried {
		if v == "SUP-B" {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestRetrieveRetriesTransientUnscopedFailure(t *testing.T) {
	corpus := &fakeCorpus{
		byVendor: map[string][]Evidence{
			"": {ev("a_chunk_0", "SUP-A", "audit.txt", 0.9)},
		},
		flaky: map[string]int{"": 1},
	}
	r := newTestRetriever(corpus, RetrieverConfig{TopK: 8, MaxEvidence: 8, MaxRetries: 2})

	evidence, warnings, err := r.Retrieve(context.Background(), Signal{Text: "signal"}, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, evidence, 1)
	assert.Equal(t, []string{"", ""}, corpus.queried)
}

func TestRetrieveAllScopedQueriesFailingIsFatal(t *testing.T) {
	corpus := &fakeCorpus{
		errs: map[string]error{
			"SUP-A": errors.New("down"),
			"SUP-B": errors.New("down"),
		},
	}
	r := newTestRetriever(corpus, RetrieverConfig{MaxRetries: 1})

	_, _, err := r.Retrieve(context.Background(), Signal{Text: "signal"}, []string{"SUP-A", "SUP-B"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetrievalFailed))
}

func TestRetrieveEmptyCorpusIsNotAnError(t *testing.T) {
	corpus := &fakeCorpus{byVendor: map[string][]Evidence{}}
	r := newTestRetriever(corpus, RetrieverConfig{})

	evidence, warnings, err := r.Retrieve(context.Background(), Signal{Text: "signal"}, []string{"SUP-A"})
	require.NoError(t, err)
	assert.Empty(t, evidence)
	assert.Empty(t, warnings)
}

func TestRankFiltersWeakMatches(t *testing.T) {
	r := newTestRetriever(&fakeCorpus{}, RetrieverConfig{MinScore: 0.10, MaxEvidence: 8})

	ranked := r.rank([]Evidence{
		ev("a_chunk_0", "SUP-A", "audit.txt", 0.50),
		ev("a_chunk_1", "SUP-A", "noise.txt", 0.05),
	})

	require.Len(t, ranked, 1)
	assert.Equal(t, "audit.txt", ranked[0].SourceFilename)
}

func TestRankDedupesBySourceFilenameKeepingBest(t *testing.T) {
	r := newTestRetriever(&fakeCorpus{}, RetrieverConfig{MinScore: 0.10, MaxEvidence: 8})

	ranked := r.rank([]Evidence{
		ev("a_chunk_2", "SUP-A", "audit.txt", 0.40),
		ev("a_chunk_0", "SUP-A", "audit.txt", 0.90),
		ev("b_chunk_0", "SUP-B", "esg.txt", 0.60),
	})

	require.Len(t, ranked, 2)
	assert.Equal(t, "audit.txt", ranked[0].SourceFilename)
	assert.Equal(t, "a_chunk_0", ranked[0].ChunkID)
	assert.Equal(t, "esg.txt", ranked[1].SourceFilename)
}

func TestRankIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	r := newTestRetriever(&fakeCorpus{}, RetrieverConfig{MinScore: 0.10, MaxEvidence: 8})

	hits := []Evidence{
		ev("b_chunk_0", "SUP-B", "b.txt", 0.70),
		ev("a_chunk_0", "SUP-A", "a.txt", 0.70),
		ev("c_chunk_0", "SUP-C", "c.txt", 0.90),
		ev("a_chunk_1", "SUP-A", "z.txt", 0.70),
	}
	reversed := []Evidence{hits[3], hits[2], hits[1], hits[0]}

	first := r.rank(hits)
	second := r.rank(reversed)

	assert.Equal(t, first, second)
	// Equal scores break ties on supplier id, then filename.
	assert.Equal(t, "c.txt", first[0].SourceFilename)
	assert.Equal(t, "a.txt", first[1].SourceFilename)
	assert.Equal(t, "z.txt", first[2].SourceFilename)
	assert.Equal(t, "b.txt", first[3].SourceFilename)
}

func TestRankTruncatesToMaxEvidence(t *testing.T) {
	r := newTestRetriever(&fakeCorpus{}, RetrieverConfig{MinScore: 0.10, MaxEvidence: 2})

	ranked := r.rank([]Evidence{
		ev("a_chunk_0", "SUP-A", "a.txt", 0.90),
		ev("b_chunk_0", "SUP-B", "b.txt", 0.80),
		ev("c_chunk_0", "SUP-C", "c.txt", 0.70),
	})

	require.Len(t, ranked, 2)
	assert.Equal(t, "a.txt", ranked[0].SourceFilename)
	assert.Equal(t, "b.txt", ranked[1].SourceFilename)
}

func TestRetrieveHonorsTimeoutConfig(t *testing.T) {
	r := newTestRetriever(&fakeCorpus{}, RetrieverConfig{Timeout: 50 * time.Millisecond})
	assert.Equal(t, 50*time.Millisecond, r.cfg.Timeout)

	defaulted := newTestRetriever(&fakeCorpus{}, RetrieverConfig{})
	assert.Equal(t, 10*time.Second, defaulted.cfg.Timeout)
	assert.Equal(t, 8, defaulted.cfg.TopK)
	assert.Equal(t, 8, defaulted.cfg.MaxEvidence)
	assert.Equal(t, 3, defaulted.cfg.MaxRetries)
}
