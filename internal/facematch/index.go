package facematch

import (
	"sort"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/facegraph/internal/constants"
)

// Index is an in-memory HNSW graph over the encodings of one user's people.
// It shortlists candidate people for a new face; every candidate is still confirmed
// with the exact comparator, so the index can only lose matches, never invent them.
// An Index is not modified after NewIndex.
type Index struct {
	graph  *hnsw.Graph[int]
	owner  []string // node key -> person ID
	people map[string][]Vector
}

// NewIndex builds an index over all encodings in people.
func NewIndex(people map[string][]Vector) *Index {
	g := hnsw.NewGraph[int]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = constants.HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance

	idx := &Index{graph: g, people: people}

	// Insert in a stable order so identical graphs build identical indexes.
	ids := make([]string, 0, len(people))
	for id := range people {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for _, v := range people[id] {
			if len(v) == 0 {
				continue
			}
			key := len(idx.owner)
			idx.owner = append(idx.owner, id)
			g.Add(hnsw.MakeNode(key, []float32(v)))
		}
	}
	return idx
}

// Len returns the number of indexed encodings.
func (x *Index) Len() int {
	return len(x.owner)
}

// candidates returns the distinct people owning the k nearest encodings to v.
func (x *Index) candidates(v Vector, k int) []string {
	if len(x.owner) == 0 {
		return nil
	}
	neighbors := x.graph.Search([]float32(v), k)

	seen := make(map[string]struct{}, len(neighbors))
	var out []string
	for _, n := range neighbors {
		id := x.owner[n.Key]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Match has the contract of the package-level Match but only inspects the people
// owning the nearest encodings of each face.
func (x *Index) Match(faces []Face, threshold float64) MatchResult {
	result := MatchResult{Matched: make(map[string][]Face)}
	for _, face := range faces {
		hit := false
		for _, id := range x.candidates(face.Vector, constants.HNSWCandidates) {
			if Matches(x.people[id], face.Vector, threshold) {
				result.Matched[id] = append(result.Matched[id], face)
				hit = true
			}
		}
		if !hit {
			result.Unmatched = append(result.Unmatched, face)
		}
	}
	return result
}
