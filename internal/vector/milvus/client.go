package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/supply-risk/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// DocumentChunk is the indexed unit of a supplier document as stored
// in the vector collection.
type DocumentChunk struct {
	ID             string
	Embedding      []float32
	Text           string
	VendorID       string
	SourceFilename string
	Category       string
	Period         string
	Timestamp      time.Time
}

// SearchHit is one raw nearest-neighbor match before the corpus
// adapter turns it into evidence.
type SearchHit struct {
	ChunkID        string
	Text           string
	VendorID       string
	SourceFilename string
	Category       string
	Period         string
	Score          float32
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(context.Background(), client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Supplier document embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "4096",
				},
			},
			{
				Name:     "vendor_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "source_filename",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "category",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "period",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "timestamp",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Embeddings are unit-normalized, so inner product ranks like
	// cosine similarity with higher scores better.
	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, chunks []DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	vendorIDs := make([]string, len(chunks))
	filenames := make([]string, len(chunks))
	categories := make([]string, len(chunks))
	periods := make([]string, len(chunks))
	timestamps := make([]int64, len(chunks))

	for i, chunk := range chunks {
		chunkIDs[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		texts[i] = chunk.Text
		vendorIDs[i] = chunk.VendorID
		filenames[i] = chunk.SourceFilename
		categories[i] = chunk.Category
		periods[i] = chunk.Period
		timestamps[i] = chunk.Timestamp.Unix()
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("vendor_id", vendorIDs),
		entity.NewColumnVarChar("source_filename", filenames),
		entity.NewColumnVarChar("category", categories),
		entity.NewColumnVarChar("period", periods),
		entity.NewColumnInt64("timestamp", timestamps),
	)

	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector DB", zap.Int("count", len(chunks)))

	return nil
}

// Search runs one nearest-neighbor query. An empty vendorID searches
// the whole corpus; otherwise results are restricted to that supplier.
func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, vendorID string) ([]SearchHit, error) {
	expr := ""
	if vendorID != "" {
		expr = fmt.Sprintf(`vendor_id == "%s"`, vendorID)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "text", "vendor_id", "source_filename", "category", "period"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]SearchHit, 0)
	for _, sr := range searchResult {
		chunkIDCol := sr.Fields.GetColumn("chunk_id")
		textCol := sr.Fields.GetColumn("text")
		vendorCol := sr.Fields.GetColumn("vendor_id")
		filenameCol := sr.Fields.GetColumn("source_filename")
		categoryCol := sr.Fields.GetColumn("category")
		periodCol := sr.Fields.GetColumn("period")

		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := chunkIDCol.Get(i)
			text, _ := textCol.Get(i)
			vendor, _ := vendorCol.Get(i)
			filename, _ := filenameCol.Get(i)
			category, _ := categoryCol.Get(i)
			period, _ := periodCol.Get(i)

			hits = append(hits, SearchHit{
				ChunkID:        chunkID.(string),
				Text:           text.(string),
				VendorID:       vendor.(string),
				SourceFilename: filename.(string),
				Category:       category.(string),
				Period:         period.(string),
				Score:          sr.Scores[i],
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(hits)),
		zap.String("vendor_id", vendorID),
	)

	return hits, nil
}

// DeleteByVendor removes every indexed chunk for a supplier. Called
// when the supplier is deleted from the registry.
func (m *Client) DeleteByVendor(ctx context.Context, vendorID string) error {
	expr := fmt.Sprintf(`vendor_id == "%s"`, vendorID)

	err := m.client.Delete(ctx, m.collectionName, "", expr)
	if err != nil {
		return fmt.Errorf("failed to delete vendor chunks: %w", err)
	}

	logger.Info("Vendor chunks deleted from vector DB", zap.String("vendor_id", vendorID))
	return nil
}
