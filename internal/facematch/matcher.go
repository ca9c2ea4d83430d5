package facematch

// Match tests every face against every known person's full encoding history.
// A face within threshold of any encoding of a person is attributed to that person;
// faces close to nobody are returned as unmatched.
//
// Ambiguous faces are not deduplicated: a face matching two people is recorded under both.
func Match(faces []Face, people map[string][]Vector, threshold float64) MatchResult {
	result := MatchResult{Matched: make(map[string][]Face)}
	matched := make([]bool, len(faces))

	for personID, refs := range people {
		for i, face := range faces {
			if Matches(refs, face.Vector, threshold) {
				result.Matched[personID] = append(result.Matched[personID], face)
				matched[i] = true
			}
		}
	}

	for i, face := range faces {
		if !matched[i] {
			result.Unmatched = append(result.Unmatched, face)
		}
	}
	return result
}

// EncodingCount returns the total number of vectors across all people.
func EncodingCount(people map[string][]Vector) int {
	n := 0
	for _, refs := range people {
		n += len(refs)
	}
	return n
}
