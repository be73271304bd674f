package models

// Document is one text file loaded from a repository checkout (or one
// scraped documentation page). It is never modified after loading.
type Document struct {
	Content  string
	FilePath string
	FileName string
	FileType string
}

// ChunkMetadata ties a chunk back to the document it was cut from.
type ChunkMetadata struct {
	FileName   string `json:"filename"`
	FilePath   string `json:"filepath"`
	ChunkIndex int    `json:"chunk_index"`
}

// Chunk is a token-bounded slice of a Document's content.
type Chunk struct {
	ID       string
	Text     string
	Metadata ChunkMetadata
}

// Record is an embedded chunk as written to the vector index.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata ChunkMetadata
}

// Match is one nearest-neighbour hit returned by the index, best first.
type Match struct {
	ID       string
	Text     string
	Metadata ChunkMetadata
	Score    float64
}

// IndexStats describes the contents of one namespace of the index.
type IndexStats struct {
	Namespace string `json:"namespace"`
	Records   int    `json:"records"`
	Dimension int    `json:"dimension"`
}
