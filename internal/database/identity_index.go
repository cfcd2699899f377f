package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// IndexMetadata stores metadata for validating a persisted identity index.
type IndexMetadata struct {
	Count     int              `json:"count"`
	Dims      int              `json:"dims"`
	BuildTime time.Time        `json:"build_time"`
	Version   int              `json:"version"`
	Labels    map[int64]string `json:"labels"`
}

const indexMetadataVersion = 1

// IdentityMatch is one ranked query result.
type IdentityMatch struct {
	Label      string
	Similarity float64
}

type indexEntry struct {
	vec   []float32
	label string
}

// IdentityIndex is an HNSW graph over unit-normalized face embeddings, each
// owned by an identity label. Similarity is the inner product.
//
// Rebuild constructs the replacement graph without holding the lock and swaps
// it in under the write lock, so queries see either the old or the new graph.
type IdentityIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[int64]
	labels  map[int64]string
	counts  map[string]int // entries per label
	nextKey int64
	dims    int

	// open rebuild windows, each collecting the appends made since it opened
	windows map[*rebuildWindow]struct{}
}

type rebuildWindow struct {
	pending []indexEntry
}

// NewIdentityIndex creates a new empty index.
func NewIdentityIndex() *IdentityIndex {
	return &IdentityIndex{
		labels:  make(map[int64]string),
		counts:  make(map[string]int),
		windows: make(map[*rebuildWindow]struct{}),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Query returns up to k matches ranked by descending similarity. An empty
// index yields no matches and no error.
func (x *IdentityIndex) Query(embedding []float32, k int) ([]IdentityMatch, error) {
	if k <= 0 {
		return nil, nil
	}
	q, err := Normalize(embedding)
	if err != nil {
		return nil, fmt.Errorf("normalizing query: %w", err)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || x.graph.Len() == 0 {
		return nil, nil
	}
	if len(q) != x.dims {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(q), x.dims)
	}

	k = min(k, x.graph.Len())
	neighbors := x.graph.Search(q, k)

	matches := make([]IdentityMatch, 0, len(neighbors))
	for _, n := range neighbors {
		label, ok := x.labels[n.Key]
		if !ok {
			continue
		}
		matches = append(matches, IdentityMatch{Label: label, Similarity: Dot(q, n.Value)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches, nil
}

// Append adds one embedding without rebuilding the graph.
func (x *IdentityIndex) Append(embedding []float32, label string) error {
	if label == "" {
		return errors.New("empty label")
	}
	v, err := Normalize(embedding)
	if err != nil {
		return fmt.Errorf("normalizing embedding: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph != nil && x.graph.Len() > 0 && len(v) != x.dims {
		return fmt.Errorf("%w: embedding has %d, index has %d", ErrDimensionMismatch, len(v), x.dims)
	}
	if x.graph == nil {
		x.graph = newGraph()
	}
	x.insertLocked(v, label)
	for w := range x.windows {
		w.pending = append(w.pending, indexEntry{vec: v, label: label})
	}
	return nil
}

func (x *IdentityIndex) insertLocked(v []float32, label string) {
	key := x.nextKey
	x.nextKey++
	x.graph.Add(hnsw.MakeNode(key, v))
	x.labels[key] = label
	x.counts[label]++
	x.dims = len(v)
}

// Rebuild replaces the searchable structure with one built from the given
// embeddings. Vectors that cannot be normalized are skipped.
func (x *IdentityIndex) Rebuild(embeddings [][]float32, labels []string) error {
	return x.RebuildFrom(func() ([][]float32, []string, error) {
		return embeddings, labels, nil
	})
}

// RebuildFrom opens a rebuild window, calls load for the new contents and
// swaps in the rebuilt graph. Appends made after the window opened are
// replayed onto the new graph unless load already returned them. When load
// fails the index is left unchanged.
func (x *IdentityIndex) RebuildFrom(load func() ([][]float32, []string, error)) error {
	w := &rebuildWindow{}
	x.mu.Lock()
	if x.windows == nil {
		x.windows = make(map[*rebuildWindow]struct{})
	}
	x.windows[w] = struct{}{}
	x.mu.Unlock()

	closeWindow := func() {
		x.mu.Lock()
		delete(x.windows, w)
		x.mu.Unlock()
	}

	embeddings, labels, err := load()
	if err != nil {
		closeWindow()
		return err
	}
	if len(embeddings) != len(labels) {
		closeWindow()
		return fmt.Errorf("rebuild: %d embeddings but %d labels", len(embeddings), len(labels))
	}

	next := &IdentityIndex{
		graph:  newGraph(),
		labels: make(map[int64]string, len(embeddings)),
		counts: make(map[string]int),
	}
	loaded := make(map[string][][]float32)
	for i, emb := range embeddings {
		v, err := Normalize(emb)
		if err != nil || labels[i] == "" {
			continue
		}
		if next.dims != 0 && len(v) != next.dims {
			closeWindow()
			return fmt.Errorf("%w: embedding %d has %d, expected %d", ErrDimensionMismatch, i, len(v), next.dims)
		}
		next.insertLocked(v, labels[i])
		loaded[labels[i]] = append(loaded[labels[i]], v)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.windows, w)

	for _, e := range w.pending {
		if next.dims != 0 && len(e.vec) != next.dims {
			continue
		}
		if containsVector(loaded[e.label], e.vec) {
			continue
		}
		next.insertLocked(e.vec, e.label)
	}

	x.graph = next.graph
	x.labels = next.labels
	x.counts = next.counts
	x.nextKey = next.nextKey
	x.dims = next.dims
	return nil
}

// sameVectorTolerance absorbs rounding from normalizing a unit vector twice.
const sameVectorTolerance = 1e-6

func containsVector(set [][]float32, v []float32) bool {
	for _, u := range set {
		if len(u) == len(v) && Dot(u, v) >= 1-sameVectorTolerance {
			return true
		}
	}
	return false
}

// Size returns the number of indexed embeddings.
func (x *IdentityIndex) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.labels)
}

// LabelCount returns the number of distinct labels.
func (x *IdentityIndex) LabelCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.counts)
}

// Labels returns the distinct labels with their entry counts.
func (x *IdentityIndex) Labels() map[string]int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]int, len(x.counts))
	for k, v := range x.counts {
		out[k] = v
	}
	return out
}

// SaveWithMetadata persists the graph to path and its labels to path.meta.
func (x *IdentityIndex) SaveWithMetadata(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || x.graph.Len() == 0 {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	if err := x.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing index file: %w", err)
	}

	meta := IndexMetadata{
		Count:     len(x.labels),
		Dims:      x.dims,
		BuildTime: time.Now(),
		Version:   indexMetadataVersion,
		Labels:    x.labels,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling index metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", data, 0o600); err != nil {
		return fmt.Errorf("writing index metadata: %w", err)
	}
	return nil
}

// LoadIndexMetadata reads the .meta sidecar of a persisted index.
func LoadIndexMetadata(path string) (IndexMetadata, error) {
	var meta IndexMetadata
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("reading index metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("unmarshaling index metadata: %w", err)
	}
	return meta, nil
}

// LoadWithMetadata replaces the index content with a graph persisted by SaveWithMetadata.
func (x *IdentityIndex) LoadWithMetadata(path string) error {
	meta, err := LoadIndexMetadata(path)
	if err != nil {
		return err
	}
	if meta.Version != indexMetadataVersion {
		return fmt.Errorf("unsupported index metadata version %d", meta.Version)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("loading HNSW graph: %w", err)
	}
	g := saved.Graph
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance

	if g.Len() != len(meta.Labels) {
		return fmt.Errorf("index graph has %d nodes but metadata has %d labels", g.Len(), len(meta.Labels))
	}

	counts := make(map[string]int)
	var nextKey int64
	for key, label := range meta.Labels {
		counts[label]++
		if key >= nextKey {
			nextKey = key + 1
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.graph = g
	x.labels = meta.Labels
	x.counts = counts
	x.nextKey = nextKey
	x.dims = meta.Dims
	return nil
}
