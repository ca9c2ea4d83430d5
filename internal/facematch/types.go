// Package facematch resolves face encodings into people.
// It holds the pure, in-memory part of identity resolution: comparing encodings,
// matching new faces against known people and clustering the faces nobody matched.
// Nothing in this package touches storage.
package facematch

// Vector is a single face encoding produced by the face encoder.
type Vector []float32

// Face is an encoding together with the image it was extracted from.
type Face struct {
	Vector  Vector
	ImageID string
}

// MatchResult partitions a batch of faces against the known people of a user.
type MatchResult struct {
	// Unmatched holds faces that matched no known person, in input order.
	Unmatched []Face
	// Matched maps person ID to the faces attributed to that person.
	// A face close to several people appears under each of them.
	Matched map[string][]Face
}

// NewPerson is a group of unmatched faces that will become one new person.
type NewPerson struct {
	Name  string
	Faces []Face
}

// ImageIDs returns the distinct image IDs of the given faces in first-seen order.
func ImageIDs(faces []Face) []string {
	seen := make(map[string]struct{}, len(faces))
	ids := make([]string, 0, len(faces))
	for _, f := range faces {
		if _, ok := seen[f.ImageID]; ok {
			continue
		}
		seen[f.ImageID] = struct{}{}
		ids = append(ids, f.ImageID)
	}
	return ids
}
