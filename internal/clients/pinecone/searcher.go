package pinecone

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
)

// Embedder turns text into query vectors.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Searcher runs text similarity search against one index: it embeds the
// query and maps match metadata onto chunks.
type Searcher struct {
	log       *logger.Logger
	pc        Client
	embedder  Embedder
	indexHost string
}

// NewSearcher resolves the index host through describe_index when only the
// index name is known.
func NewSearcher(ctx context.Context, log *logger.Logger, pc Client, embedder Embedder, indexName, indexHost string) (*Searcher, error) {
	if pc == nil || embedder == nil {
		return nil, fmt.Errorf("pinecone client and embedder required")
	}
	host := strings.TrimSpace(indexHost)
	if host == "" {
		desc, err := pc.DescribeIndex(ctx, indexName)
		if err != nil {
			return nil, fmt.Errorf("pinecone describe_index failed: %w", err)
		}
		host = strings.TrimSpace(desc.Host)
		log.Warn("PINECONE_INDEX_HOST not set; resolved via describe_index",
			"index_name", indexName,
			"index_host", host,
		)
	}
	return &Searcher{
		log:       log.With("service", "PineconeSearcher"),
		pc:        pc,
		embedder:  embedder,
		indexHost: host,
	}, nil
}

// Search returns up to topK chunks in score order.
func (s *Searcher) Search(ctx context.Context, query, namespace string, filter map[string]any, topK int) ([]models.Chunk, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embed query: empty vector")
	}
	resp, err := s.pc.Query(ctx, s.indexHost, QueryRequest{
		Namespace:       namespace,
		Vector:          vecs[0],
		TopK:            topK,
		Filter:          filter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Chunk, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		out = append(out, matchToChunk(m))
	}
	return out, nil
}

// Stats reports vector counts for the index.
func (s *Searcher) Stats(ctx context.Context) (*IndexStats, error) {
	return s.pc.DescribeIndexStats(ctx, s.indexHost)
}

func matchToChunk(m QueryMatch) models.Chunk {
	md := m.Metadata
	content := metaString(md, "content")
	if content == "" {
		content = metaString(md, "text")
	}
	return models.Chunk{
		ID:           m.ID,
		Content:      content,
		Score:        m.Score,
		Page:         metaInt(md, "page"),
		Section:      metaString(md, "section"),
		ChunkIndex:   metaInt(md, "chunk_index"),
		ChunkType:    metaString(md, "chunk_type"),
		DocID:        metaString(md, "doc_id"),
		Manufacturer: metaString(md, "manufacturer"),
		Model:        metaString(md, "model"),
	}
}

func metaString(md map[string]any, key string) string {
	switch v := md[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// metaInt accepts JSON numbers and numeric strings.
func metaInt(md map[string]any, key string) int {
	switch v := md[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}
