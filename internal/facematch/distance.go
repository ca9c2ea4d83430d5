package facematch

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned by ValidateVector for malformed encodings.
var ErrInvalidVector = errors.New("invalid face encoding")

// EuclideanDistance computes the L2 distance between two encodings.
// Vectors of different length are infinitely far apart.
func EuclideanDistance(a, b Vector) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Matches reports whether candidate lies within threshold of at least one reference vector.
// An empty reference set never matches.
func Matches(refs []Vector, candidate Vector, threshold float64) bool {
	for _, ref := range refs {
		if EuclideanDistance(ref, candidate) <= threshold {
			return true
		}
	}
	return false
}

// ValidateVector checks that v has the expected dimension and only finite components.
func ValidateVector(v Vector, dim int) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidVector)
	}
	if dim > 0 && len(v) != dim {
		return fmt.Errorf("%w: dimension %d, expected %d", ErrInvalidVector, len(v), dim)
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component at %d", ErrInvalidVector, i)
		}
	}
	return nil
}
