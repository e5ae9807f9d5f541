package database

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/rollcall/internal/facematch"
)

type indexEntry struct {
	IdentityID  string
	DisplayName string
}

// IdentityIndex is an in-memory Euclidean HNSW graph over enrolled embeddings.
// Re-enrolling an identity adds a fresh node and retires the old one; retired
// nodes stay in the graph but are filtered out of search results.
type IdentityIndex struct {
	graph  *hnsw.Graph[int64]
	nodes  map[int64]indexEntry // live node key -> identity
	byID   map[string]int64     // identity -> live node key
	next   int64
	dim    int
	latest time.Time // newest UpdatedAt seen by Build or Add
	mu     sync.RWMutex
}

// IndexGeneration identifies the enrolled set an index reflects. A saved index
// whose generation differs from the database's is stale.
type IndexGeneration struct {
	Count  int
	Latest time.Time
}

// Matches reports whether both generations describe the same enrolled set.
func (g IndexGeneration) Matches(other IndexGeneration) bool {
	return g.Count == other.Count && g.Latest.Equal(other.Latest)
}

// NewIdentityIndex creates a new empty identity index.
func NewIdentityIndex() *IdentityIndex {
	return &IdentityIndex{
		nodes: make(map[int64]indexEntry),
		byID:  make(map[string]int64),
	}
}

func newEuclideanGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the index contents with the enrolled identities.
func (h *IdentityIndex) Build(identities []StoredIdentity) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.nodes = make(map[int64]indexEntry, len(identities))
	h.byID = make(map[string]int64, len(identities))
	h.next = 0
	h.dim = 0
	h.latest = time.Time{}

	for i := range identities {
		if err := h.addLocked(&identities[i]); err != nil {
			return err
		}
	}
	return nil
}

// Add indexes an identity, replacing any earlier enrollment of the same ID.
func (h *IdentityIndex) Add(identity StoredIdentity) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addLocked(&identity)
}

func (h *IdentityIndex) addLocked(identity *StoredIdentity) error {
	if !identity.HasEmbedding() {
		return nil
	}
	if h.dim != 0 && len(identity.Embedding) != h.dim {
		return fmt.Errorf("identity %s: embedding dimension %d does not match index dimension %d",
			identity.ID, len(identity.Embedding), h.dim)
	}

	if h.graph == nil {
		h.graph = newEuclideanGraph()
	}
	h.dim = len(identity.Embedding)

	if old, ok := h.byID[identity.ID]; ok {
		delete(h.nodes, old)
	}

	h.next++
	key := h.next
	h.graph.Add(hnsw.MakeNode(key, identity.Embedding))
	h.nodes[key] = indexEntry{IdentityID: identity.ID, DisplayName: identity.DisplayName}
	h.byID[identity.ID] = key
	if identity.UpdatedAt.After(h.latest) {
		h.latest = identity.UpdatedAt
	}
	return nil
}

// Remove drops an identity from search results.
func (h *IdentityIndex) Remove(identityID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if key, ok := h.byID[identityID]; ok {
		delete(h.nodes, key)
		delete(h.byID, identityID)
	}
}

// Search returns up to k identities nearest to query, closest first.
// maxDistance > 0 keeps only neighbors strictly closer than it.
func (h *IdentityIndex) Search(query []float32, k int, maxDistance float64) []Neighbor {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || len(h.nodes) == 0 || k <= 0 || len(query) != h.dim {
		return nil
	}

	// Ask for extra candidates so retired nodes do not starve the result.
	retired := h.graph.Len() - len(h.nodes)
	want := min(k*HNSWSearchMultiplier+retired, h.graph.Len())

	var result []Neighbor
	for _, n := range h.graph.Search(query, want) {
		entry, ok := h.nodes[n.Key]
		if !ok {
			continue
		}
		d := facematch.EuclideanDistance(query, n.Value)
		if maxDistance > 0 && d >= maxDistance {
			continue
		}
		result = append(result, Neighbor{
			IdentityID:  entry.IdentityID,
			DisplayName: entry.DisplayName,
			Distance:    d,
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Distance < result[j].Distance
	})
	if len(result) > k {
		result = result[:k]
	}
	return result
}

// Count returns the number of indexed identities.
func (h *IdentityIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Generation returns the live identity count and the newest update indexed.
func (h *IdentityIndex) Generation() IndexGeneration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return IndexGeneration{Count: len(h.nodes), Latest: h.latest}
}

type indexMetadata struct {
	Nodes  map[int64]indexEntry
	Next   int64
	Dim    int
	Latest time.Time
}

// Save persists the graph to path and the node metadata to path+".ids".
func (h *IdentityIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".ids")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if err := h.graph.Export(f); err != nil {
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}

	var buf bytes.Buffer
	meta := indexMetadata{Nodes: h.nodes, Next: h.next, Dim: h.dim, Latest: h.latest}
	if err := gob.NewEncoder(&buf).Encode(meta); err != nil {
		return fmt.Errorf("failed to encode index metadata: %w", err)
	}
	if err := os.WriteFile(path+".ids", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write index metadata: %w", err)
	}
	return nil
}

// Load restores an index written by Save. A missing file leaves the index empty
// and returns false so the caller can rebuild from the database.
func (h *IdentityIndex) Load(path string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}

	data, err := os.ReadFile(path + ".ids") //nolint:gosec // path is from trusted config
	if err != nil {
		return false, fmt.Errorf("failed to read index metadata: %w", err)
	}
	var meta indexMetadata
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&meta); err != nil {
		return false, fmt.Errorf("failed to decode index metadata: %w", err)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return false, fmt.Errorf("failed to load HNSW index: %w", err)
	}

	h.graph = saved.Graph
	h.nodes = meta.Nodes
	if h.nodes == nil {
		h.nodes = make(map[int64]indexEntry)
	}
	h.byID = make(map[string]int64, len(h.nodes))
	for key, entry := range h.nodes {
		h.byID[entry.IdentityID] = key
	}
	h.next = meta.Next
	h.dim = meta.Dim
	h.latest = meta.Latest
	return true, nil
}
