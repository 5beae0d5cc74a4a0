package types

import "time"

// Chunk is an immutable unit of ingested text. The store assigns ID on
// insert; chunks are never mutated afterwards, only deleted by source or
// re-inserted after the source document changes.
type Chunk struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Source      string `json:"source"`
	Filename    string `json:"filename"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
}

// Identity returns the chunk identity used for deduplication across ranked
// lists. Two chunks with the same source and content are the same chunk even
// when their store IDs differ.
func (c Chunk) Identity() ChunkIdentity {
	return ChunkIdentity{Source: c.Source, Content: c.Content}
}

// ChunkIdentity keys a chunk by (source, content).
type ChunkIdentity struct {
	Source  string
	Content string
}

// ScoreKind tags which pipeline stage produced a score. Scores of different
// kinds are not comparable without re-normalizing.
type ScoreKind string

const (
	// ScoreDistance is a vector distance: smaller is more similar.
	ScoreDistance ScoreKind = "distance"
	// ScoreKeyword is a BM25-style rank score: larger is more relevant.
	ScoreKeyword ScoreKind = "keyword"
	// ScoreFused is a reciprocal-rank-fusion score: larger is better,
	// ordinal only, no absolute meaning.
	ScoreFused ScoreKind = "fused"
	// ScoreRelevance is a cross-encoder relevance score: larger is better,
	// not comparable across queries.
	ScoreRelevance ScoreKind = "relevance"
)

// Score is a tagged score value. Comparing scores of different kinds is a
// logic bug; the tag makes the mistake visible instead of silent.
type Score struct {
	Kind  ScoreKind `json:"kind"`
	Value float64   `json:"value"`
}

// RetrievalResult pairs a chunk with the score its retrieval stage produced.
type RetrievalResult struct {
	Chunk Chunk `json:"chunk"`
	Score Score `json:"score"`
}

// SourceAttribution is what the caller sees next to a generated answer.
type SourceAttribution struct {
	Source  string `json:"source"`
	Snippet string `json:"snippet"`
	Score   Score  `json:"score"`
}

// ChatHistoryEntry is one turn of the persisted conversation, append-only
// and ordered by insertion.
type ChatHistoryEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
