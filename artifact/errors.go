package artifact

import "errors"

// ErrInvalidChunkIndex is returned when a chunk index falls outside
// [0, total).
var ErrInvalidChunkIndex = errors.New("artifact: chunk index out of range")

// ErrUnknownArtifact is returned when an operation references an
// artifact no buffer exists for.
var ErrUnknownArtifact = errors.New("artifact: unknown artifact")

// ErrChunkState is returned when a declared total would resize a slot
// array that already has filled slots.
var ErrChunkState = errors.New("artifact: slot array resize after fill")

// ErrIncomplete is returned when assembly is attempted before every
// slot is filled.
var ErrIncomplete = errors.New("artifact: not all chunks received")

// ErrCompletionRejected is returned when the artifact sink refused the
// finalized artifact after all retries.
var ErrCompletionRejected = errors.New("artifact: sink rejected completion")
