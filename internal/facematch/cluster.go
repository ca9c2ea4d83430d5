package facematch

import (
	"fmt"
	"math"
	"strings"

	"github.com/kozaktomas/facegraph/internal/constants"
)

// Linkage selects how the distance between two clusters is derived from their members.
type Linkage int

const (
	// LinkageAverage uses the mean pairwise distance (UPGMA).
	LinkageAverage Linkage = iota
	// LinkageSingle uses the closest pair of members.
	LinkageSingle
	// LinkageComplete uses the farthest pair of members.
	LinkageComplete
)

func (l Linkage) String() string {
	switch l {
	case LinkageSingle:
		return "single"
	case LinkageComplete:
		return "complete"
	default:
		return "average"
	}
}

// ParseLinkage parses a linkage name. Empty selects average linkage.
func ParseLinkage(s string) (Linkage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "average":
		return LinkageAverage, nil
	case "single":
		return LinkageSingle, nil
	case "complete":
		return LinkageComplete, nil
	default:
		return LinkageAverage, fmt.Errorf("unknown linkage %q (expected single, average or complete)", s)
	}
}

// merged returns the distance from the union of clusters a and b to a third cluster,
// given the distances da and db of a and b to it (Lance-Williams update).
func (l Linkage) merged(da, db float64, sizeA, sizeB int) float64 {
	switch l {
	case LinkageSingle:
		return math.Min(da, db)
	case LinkageComplete:
		return math.Max(da, db)
	default:
		return (float64(sizeA)*da + float64(sizeB)*db) / float64(sizeA+sizeB)
	}
}

// Agglomerate runs bottom-up hierarchical clustering over the Euclidean distance matrix
// of vectors. The closest pair of clusters is merged while its linkage distance is at most
// cutoff; ties go to the pair with the lowest indices. The returned slice holds one label per
// input vector. Labels are numbered by the position of each cluster's first member, so the
// same input order always yields the same labels.
func Agglomerate(vectors []Vector, cutoff float64, linkage Linkage) []int {
	n := len(vectors)
	labels := make([]int, n)
	if n == 0 {
		return labels
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < i; j++ {
			d := EuclideanDistance(vectors[i], vectors[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	// Each active cluster is represented by its lowest member index.
	active := make([]bool, n)
	size := make([]int, n)
	members := make([][]int, n)
	for i := range n {
		active[i] = true
		size[i] = 1
		members[i] = []int{i}
	}

	for {
		bi, bj := -1, -1
		best := math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if active[j] && dist[i][j] < best {
					best = dist[i][j]
					bi, bj = i, j
				}
			}
		}
		if bi < 0 || best > cutoff {
			break
		}

		for k := 0; k < n; k++ {
			if !active[k] || k == bi || k == bj {
				continue
			}
			d := linkage.merged(dist[bi][k], dist[bj][k], size[bi], size[bj])
			dist[bi][k] = d
			dist[k][bi] = d
		}
		size[bi] += size[bj]
		members[bi] = append(members[bi], members[bj]...)
		members[bj] = nil
		active[bj] = false
	}

	next := 0
	for i := 0; i < n; i++ {
		if !active[i] {
			continue
		}
		for _, m := range members[i] {
			labels[m] = next
		}
		next++
	}
	return labels
}

// PlaceholderName returns the display name for the index-th new person of a batch,
// numbered after the existing people of the user.
func PlaceholderName(index, existing int) string {
	return fmt.Sprintf("%s %d", constants.PlaceholderPrefix, index+existing+1)
}

// ClusterUnmatched groups faces that matched nobody into new people.
// A single face becomes one person directly; clustering one sample is degenerate.
func ClusterUnmatched(faces []Face, existing int, cutoff float64, linkage Linkage) []NewPerson {
	switch len(faces) {
	case 0:
		return nil
	case 1:
		return []NewPerson{{Name: PlaceholderName(0, existing), Faces: []Face{faces[0]}}}
	}

	vectors := make([]Vector, len(faces))
	for i := range faces {
		vectors[i] = faces[i].Vector
	}
	labels := Agglomerate(vectors, cutoff, linkage)

	count := 0
	for _, l := range labels {
		count = max(count, l+1)
	}

	people := make([]NewPerson, count)
	for i, l := range labels {
		people[l].Faces = append(people[l].Faces, faces[i])
	}
	for i := range people {
		people[i].Name = PlaceholderName(i, existing)
	}
	return people
}
