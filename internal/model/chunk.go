package model

// Chunk is the unit of retrieval: a bounded text span cut from one page of
// a document. Chunks are created by ingestion, never mutated, and removed
// only together with their parent document.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
	Content    string `json:"content"`
	Ctime      int64  `json:"ctime"`
}

// ChunkEmbedding pairs a staged chunk with its vector before the dual-index
// commit. It only lives inside the ingestion pipeline.
type ChunkEmbedding struct {
	Chunk     Chunk
	Embedding []float32
}
