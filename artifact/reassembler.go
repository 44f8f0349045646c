package artifact

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// buffer is the transient reassembly state for one artifact.
type buffer struct {
	slots     [][]byte
	seen      []bool // fill accounting; payloads may legitimately be empty
	filled    int
	mime      string
	createdAt time.Time
}

// Reassembler buffers numbered chunks of binary artifacts until every
// slot is filled. Slot writes are idempotent: re-sending an index
// overwrites harmlessly. The reassembler is exclusively owned by the
// capture coordinator process; chunk producers reach it only through
// PutChunk.
type Reassembler struct {
	mu      sync.Mutex
	buffers map[string]*buffer
}

// NewReassembler creates an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{buffers: make(map[string]*buffer)}
}

// PutChunk stores one chunk. On the first chunk for an unseen artifact
// the slot array is allocated with the declared total. If a later chunk
// declares a different total, the later value wins, but only while no
// slot has been filled yet; afterwards the resize fails with
// ErrChunkState. An index outside [0,total) fails with
// ErrInvalidChunkIndex.
func (r *Reassembler) PutChunk(artifactID string, index, total int, payload []byte, mime string) error {
	if total <= 0 {
		return fmt.Errorf("%w: declared total %d", ErrInvalidChunkIndex, total)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.buffers[artifactID]
	if !ok {
		buf = &buffer{slots: make([][]byte, total), seen: make([]bool, total), createdAt: time.Now()}
		r.buffers[artifactID] = buf
	}

	if total != len(buf.slots) {
		if buf.filled > 0 {
			return fmt.Errorf("%w: total %d -> %d with %d slots filled",
				ErrChunkState, len(buf.slots), total, buf.filled)
		}
		buf.slots = make([][]byte, total)
		buf.seen = make([]bool, total)
	}

	if index < 0 || index >= len(buf.slots) {
		return fmt.Errorf("%w: index %d, total %d", ErrInvalidChunkIndex, index, len(buf.slots))
	}

	if !buf.seen[index] {
		buf.seen[index] = true
		buf.filled++
	}
	buf.slots[index] = append([]byte(nil), payload...)
	if mime != "" {
		buf.mime = mime
	}
	return nil
}

// IsComplete reports whether every slot 0..total-1 is filled.
// Unknown artifacts are simply not complete.
func (r *Reassembler) IsComplete(artifactID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[artifactID]
	return ok && len(buf.slots) > 0 && buf.filled == len(buf.slots)
}

// Total returns the declared slot count, or 0 for unknown artifacts.
func (r *Reassembler) Total(artifactID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.buffers[artifactID]; ok {
		return len(buf.slots)
	}
	return 0
}

// Assemble concatenates the chunks in index order and discards the
// buffer. Fails with ErrUnknownArtifact for an unseen ID and
// ErrIncomplete when slots are still empty.
func (r *Reassembler) Assemble(artifactID string) (payload []byte, mime string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.buffers[artifactID]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownArtifact, artifactID)
	}
	if buf.filled != len(buf.slots) {
		return nil, "", fmt.Errorf("%w: %d/%d chunks", ErrIncomplete, buf.filled, len(buf.slots))
	}

	var out bytes.Buffer
	for _, slot := range buf.slots {
		out.Write(slot)
	}
	delete(r.buffers, artifactID)
	return out.Bytes(), buf.mime, nil
}

// Abandon discards the buffer for an artifact, if any.
func (r *Reassembler) Abandon(artifactID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, artifactID)
}

// Sweep drops buffers older than maxAge and returns their IDs.
// Abandoned uploads must not pin memory forever.
func (r *Reassembler) Sweep(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var dropped []string
	for id, buf := range r.buffers {
		if buf.createdAt.Before(cutoff) {
			delete(r.buffers, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}
