package domain

import "errors"

// Error taxonomy shared by every stage of the pipeline.
// Components wrap these with fmt.Errorf("%w: ...") so callers can use errors.Is.
var (
	// ErrInvalidInput indicates malformed or oversized input. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimitExceeded indicates remote throttling persisted after backoff was exhausted.
	// The caller may retry later; the core does not retry indefinitely.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrEmbeddingUnavailable indicates the embedding service failed after bounded retries.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrIndexUnavailable indicates the vector store could not be reached.
	// It is never reported as an empty result set.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrGenerationTimeout indicates the generation call exceeded its timeout.
	ErrGenerationTimeout = errors.New("generation timed out")

	// ErrGenerationUnavailable indicates the generation service failed for a reason other than a timeout.
	ErrGenerationUnavailable = errors.New("generation service unavailable")

	// ErrDimensionMismatch indicates a vector length disagrees with the index dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrDeadlineExceeded indicates the request-level deadline was exhausted.
	ErrDeadlineExceeded = errors.New("request deadline exceeded")

	// ErrJobNotFound indicates an unknown ingestion job id.
	ErrJobNotFound = errors.New("job not found")
)
