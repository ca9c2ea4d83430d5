// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face matching constants
const (
	// MatchThreshold is the maximum Euclidean distance between a new encoding and
	// any of a person's encodings for the encoding to attach to that person.
	MatchThreshold = 0.6

	// ClusterCutoff is the linkage distance above which unmatched clusters are not merged.
	// Must live in the same unit space as MatchThreshold.
	ClusterCutoff = 0.6

	// DefaultEncodingDim is the length of the vectors produced by the face encoder (dlib ResNet).
	DefaultEncodingDim = 128

	// PlaceholderPrefix is the display name prefix for people created by the resolver
	PlaceholderPrefix = "Person"
)

// HNSW candidate index constants
const (
	// HNSWMinEncodings is the number of stored encodings a user needs before the
	// HNSW shortlist is used instead of the exhaustive matcher.
	HNSWMinEncodings = 2000

	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 100

	// HNSWCandidates is how many nearest encodings are inspected per new face.
	HNSWCandidates = 32
)

// Processing constants
const (
	// DefaultExtractWorkers is the default number of images sent to the encoder in parallel per batch
	DefaultExtractWorkers = 4

	// DefaultClusterWorkers is the default number of clustering fits allowed to run at once
	DefaultClusterWorkers = 2

	// MaxImageSize is the maximum dimension (width or height) for images sent to the encoder
	MaxImageSize = 1920

	// SceneImageSize is the square input size of the scene classifier
	SceneImageSize = 160

	// MaxBatchImages caps the number of images accepted in a single process request
	MaxBatchImages = 200

	// MaxIDLength is the longest user or image ID accepted, in characters (VARCHAR(191) on MariaDB)
	MaxIDLength = 191

	// DuplicateDetectionIoU is the box overlap above which two detections in one image
	// are treated as the same face
	DuplicateDetectionIoU = 0.7
)
