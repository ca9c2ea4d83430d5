package constants

import "time"

// HTTP handler constants
const (
	// MaxRequestBodyBytes limits base64 image payloads accepted by the API (256MB)
	MaxRequestBodyBytes = 256 << 20

	// RequestTimeout bounds a single API request, including a whole face batch
	RequestTimeout = 5 * time.Minute

	// ShutdownTimeout is how long the server waits for in-flight requests on shutdown
	ShutdownTimeout = 30 * time.Second

	// ClassifyConcurrency is the number of face checks run in parallel per classify request
	ClassifyConcurrency = 4
)

// CLI constants
const (
	// DefaultImportBatchSize is the number of images the import command sends per batch
	DefaultImportBatchSize = 20

	// ResetGracePeriod is how long "db reset" waits before wiping data without --force
	ResetGracePeriod = 5 * time.Second
)
