package corpus

import (
	"context"

	"github.com/supply-risk/backend/internal/risk"
	"github.com/supply-risk/backend/internal/vector/milvus"
)

// Searcher is the slice of the vector client the adapter consumes.
type Searcher interface {
	Search(ctx context.Context, queryEmbedding []float32, topK int, vendorID string) ([]milvus.SearchHit, error)
}

// Adapter translates raw vector-store hits into the evidence shape the
// risk pipeline works with. Evidence values are built here, once, and
// stay frozen downstream.
type Adapter struct {
	index Searcher
}

func NewAdapter(index Searcher) *Adapter {
	return &Adapter{index: index}
}

func (a *Adapter) Search(ctx context.Context, embedding []float32, topK int, vendorID string) ([]risk.Evidence, error) {
	hits, err := a.index.Search(ctx, embedding, topK, vendorID)
	if err != nil {
		return nil, err
	}

	evidence := make([]risk.Evidence, 0, len(hits))
	for _, hit := range hits {
		evidence = append(evidence, risk.Evidence{
			ChunkID:        hit.ChunkID,
			SupplierID:     hit.VendorID,
			SourceFilename: hit.SourceFilename,
			Category:       hit.Category,
			Period:         hit.Period,
			Text:           hit.Text,
			Score:          hit.Score,
		})
	}

	return evidence, nil
}
