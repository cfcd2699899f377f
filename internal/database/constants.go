package database

// HNSW index parameters for 512-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 100

	// EmbeddingDim is the dimension produced by the face analyzer.
	EmbeddingDim = 512

	// RecentUpdatesPerEmployee is how many update embeddings per employee are searchable.
	RecentUpdatesPerEmployee = 3
)
