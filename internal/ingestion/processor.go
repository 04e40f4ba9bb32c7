package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/supply-risk/backend/internal/llm"
	"github.com/supply-risk/backend/internal/metrics"
	"github.com/supply-risk/backend/internal/storage/models"
	"github.com/supply-risk/backend/internal/storage/sqlite"
	"github.com/supply-risk/backend/internal/vector/milvus"
	"github.com/supply-risk/backend/pkg/logger"
	"github.com/supply-risk/backend/pkg/utils"
)

var periodPattern = regexp.MustCompile(`(?i)(FY\s?\d{4}|Q[1-4][-_ ]?\d{4}|\d{4}[-_ ]?Q[1-4]|20\d{2})`)

// Processor indexes uploaded supplier documents: cleans the text,
// chunks it sentence-aware, embeds the chunks, and writes them to the
// vector store plus the document log.
type Processor struct {
	db        *sqlite.Client
	vectorDB  *milvus.Client
	llmClient *llm.Client
	chunkSize int
}

func NewProcessor(db *sqlite.Client, vectorDB *milvus.Client, llmClient *llm.Client) *Processor {
	return &Processor{
		db:        db,
		vectorDB:  vectorDB,
		llmClient: llmClient,
		chunkSize: 1000,
	}
}

type Document struct {
	SupplierID string
	FileID     string
	Filename   string
	StoredPath string
	Content    string
	IsHTML     bool
}

// Process indexes one supplier document. Returns the number of chunks
// written to the vector store.
func (p *Processor) Process(ctx context.Context, doc Document) (int, error) {
	logger.Info("Processing supplier document",
		zap.String("supplier_id", doc.SupplierID),
		zap.String("filename", doc.Filename),
	)

	text := doc.Content
	if doc.IsHTML {
		text = cleanHTML(text)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("no text content extracted from %s", doc.Filename)
	}

	category := inferCategory(doc.Filename)
	period := inferPeriod(doc.Filename)

	chunks := p.chunkText(text)
	logger.Info("Document chunked", zap.Int("chunks", len(chunks)))

	embeddings, err := p.llmClient.GenerateBatchEmbeddings(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	docID := utils.HashString(doc.SupplierID + "/" + doc.Filename)
	vectorChunks := make([]milvus.DocumentChunk, 0, len(chunks))
	for i, chunkText := range chunks {
		vectorChunks = append(vectorChunks, milvus.DocumentChunk{
			ID:             fmt.Sprintf("%s_chunk_%d", docID, i),
			Embedding:      embeddings[i],
			Text:           chunkText,
			VendorID:       doc.SupplierID,
			SourceFilename: doc.Filename,
			Category:       category,
			Period:         period,
			Timestamp:      time.Now(),
		})
	}

	if err := p.vectorDB.Insert(ctx, vectorChunks); err != nil {
		return 0, fmt.Errorf("failed to insert into vector DB: %w", err)
	}

	err = p.db.InsertDocumentLog(&models.DocumentLog{
		FileID:         doc.FileID,
		SupplierID:     doc.SupplierID,
		Filename:       doc.Filename,
		StoredFilename: doc.StoredPath,
		FilePath:       doc.StoredPath,
		FileSize:       len(doc.Content),
		Extension:      extension(doc.Filename),
		ChunkCount:     len(vectorChunks),
		UploadedAt:     time.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to log document: %w", err)
	}

	if err := p.db.IncrementDocumentCount(doc.SupplierID); err != nil {
		logger.Warn("Failed to bump document count", zap.Error(err))
	}

	metrics.DocumentsIngested.Inc()
	metrics.ChunksIndexed.Add(float64(len(vectorChunks)))

	logger.Info("Document indexed",
		zap.String("supplier_id", doc.SupplierID),
		zap.String("filename", doc.Filename),
		zap.Int("chunks", len(vectorChunks)),
	)

	return len(vectorChunks), nil
}

func cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}

	text = regexp.MustCompile(`\s+`).ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// chunkText packs whole sentences into chunks of roughly chunkSize
// characters so no excerpt starts or ends mid-sentence. Sentences
// longer than the chunk size are word-packed into pieces that fit, so
// a chunk never exceeds the vector store's text field limit.
func (p *Processor) chunkText(text string) []string {
	sentences := segmentSentences(text)
	if len(sentences) == 0 {
		sentences = []string{text}
	}

	var chunks []string
	var current strings.Builder

	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		for _, piece := range splitOversized(sentence, p.chunkSize) {
			if current.Len() > 0 && current.Len()+len(piece)+1 > p.chunkSize {
				chunks = append(chunks, current.String())
				current.Reset()
			}

			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(piece)
		}
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}

// splitOversized breaks a sentence longer than limit into word-packed
// pieces, hard-cutting any single token longer than the limit itself.
func splitOversized(sentence string, limit int) []string {
	if len(sentence) <= limit {
		return []string{sentence}
	}

	var pieces []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
		}
	}

	for _, word := range strings.Fields(sentence) {
		for len(word) > limit {
			flush()
			pieces = append(pieces, word[:limit])
			word = word[limit:]
		}
		if current.Len() > 0 && current.Len()+len(word)+1 > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	flush()

	return pieces
}

func segmentSentences(text string) []string {
	doc, err := prose.NewDocument(text, prose.WithTagging(false), prose.WithExtraction(false))
	if err != nil {
		logger.Warn("Sentence segmentation failed, falling back to word packing", zap.Error(err))
		return nil
	}

	sentences := doc.Sentences()
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		out = append(out, s.Text)
	}
	return out
}

func inferCategory(filename string) string {
	categoryMap := map[string]string{
		"financ":    "financial",
		"audit":     "audit",
		"esg":       "esg",
		"sustain":   "esg",
		"complian":  "compliance",
		"contract":  "contract",
		"insurance": "insurance",
		"incident":  "incident",
	}

	lower := strings.ToLower(filename)
	for key, category := range categoryMap {
		if strings.Contains(lower, key) {
			return category
		}
	}

	return "general"
}

func inferPeriod(filename string) string {
	match := periodPattern.FindString(filename)
	return strings.ToUpper(strings.NewReplacer(" ", "", "_", "-").Replace(match))
}

func extension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(filename[idx:])
}
