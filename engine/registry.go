package engine

import "sync"

// bufferRegistry is the process-wide list of live staging buffers.
// Producers append at registration; only the consumer removes, once a
// buffer is retired and drained. The consumer holds the mutex for its
// scan cursor and persists pending site dictionary entries under it at
// the start of every pass. A record whose site is registered after
// that point stays staged (the encoder only accepts sites already in
// its shadow) until a later pass has persisted the entry, so
// dictionary entries always precede the records referencing them.
type bufferRegistry struct {
	mu           sync.Mutex
	buffers      []*stagingBuffer
	nextBufferID uint32
}

// register creates, ids, and appends a new staging buffer.
func (r *bufferRegistry) register(size uint64, discardOnFull bool) *stagingBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	sb := newStagingBuffer(r.nextBufferID, size, discardOnFull)
	r.nextBufferID++
	r.buffers = append(r.buffers, sb)
	return sb
}

// dropLocked removes the buffer at index i. Caller holds mu.
func (r *bufferRegistry) dropLocked(i int) {
	r.buffers = append(r.buffers[:i], r.buffers[i+1:]...)
}

// snapshot returns a copy of the live buffer list, for reporting.
func (r *bufferRegistry) snapshot() []*stagingBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*stagingBuffer, len(r.buffers))
	copy(out, r.buffers)
	return out
}
