package engine

import (
	"runtime"
	"sync/atomic"

	"github.com/fastlog-io/fastlog/utils/cycles"
)

// numBlockedBuckets is the size of the producer block-time histogram;
// each bucket is 10ns wide with the last one catching the tail.
const numBlockedBuckets = 20

// stagingBuffer is a single-producer/single-consumer byte ring. The
// owning producer goroutine hands raw, pre-encoded log records to the
// background consumer through it. Positions are offsets into storage;
// producerPos and endOfRecordedSpace are written only by the producer,
// consumerPos only by the consumer, so the two threads have disjoint
// write sets.
//
// producerPos == consumerPos always means empty: reservations keep
// strictly less than the full gap so a full ring is never
// indistinguishable from an empty one.
type stagingBuffer struct {
	storage []byte

	producerPos atomic.Int64
	consumerPos atomic.Int64
	// endOfRecordedSpace is the high-water mark at which recorded data
	// ends once the producer has wrapped. The consumer reads it only
	// after observing producerPos < consumerPos; the atomic store in
	// the wrap path orders it ahead of the producerPos rewind.
	endOfRecordedSpace atomic.Int64

	// minFreeSpace caches the contiguous free bytes ahead of
	// producerPos. Producer-local; never observed by the consumer.
	minFreeSpace int64

	id            uint32
	shouldDelete  atomic.Bool
	discardOnFull bool

	numAllocations            atomic.Uint64
	numTimesProducerBlocked   atomic.Uint64
	cyclesProducerBlocked     atomic.Uint64
	cyclesProducerBlockedDist [numBlockedBuckets]atomic.Uint64
}

func newStagingBuffer(id uint32, size uint64, discardOnFull bool) *stagingBuffer {
	sb := &stagingBuffer{
		storage:       make([]byte, size),
		id:            id,
		discardOnFull: discardOnFull,
	}
	sb.endOfRecordedSpace.Store(int64(size))
	return sb
}

// reserve returns a writable region of at least nbytes contiguous
// bytes starting at producerPos, never straddling the end of storage.
// With blocking set it spins (yielding) until space frees up;
// otherwise it returns nil when the ring is too full.
func (sb *stagingBuffer) reserve(nbytes int64, blocking bool) []byte {
	if sb.minFreeSpace > nbytes {
		p := sb.producerPos.Load()
		return sb.storage[p : p+nbytes]
	}
	return sb.reserveSlow(nbytes, blocking)
}

// reserveSlow is the slow path of reserve: it touches consumerPos,
// which is owned by the consumer, and so pays the cross-thread cache
// traffic the fast path avoids. The elapsed ticks are charged to the
// producer-blocked counters whether or not the first probe succeeds,
// making cyclesProducerBlocked an upper bound.
func (sb *stagingBuffer) reserveSlow(nbytes int64, blocking bool) []byte {
	start := cycles.Rdtsc()
	size := int64(len(sb.storage))

	// All space checks are strict inequalities: producerPos may never
	// catch up to consumerPos from behind, so == stays reserved for
	// "empty".
	for sb.minFreeSpace <= nbytes {
		c := sb.consumerPos.Load()
		p := sb.producerPos.Load()

		if c <= p {
			sb.minFreeSpace = size - p

			if sb.minFreeSpace > nbytes {
				break
			}

			// Not enough room ahead; wrap. Publish the high-water mark
			// before rewinding producerPos so the consumer never reads
			// a stale end with the new position.
			sb.endOfRecordedSpace.Store(p)

			// Skip the rewind if the consumer still sits at the
			// origin: colliding there would make the ring look empty
			// while full.
			if c != 0 {
				sb.producerPos.Store(0)
				sb.minFreeSpace = c
			}
		} else {
			sb.minFreeSpace = c - p
		}

		if sb.discardOnFull {
			// Drop everything not yet consumed rather than block.
			sb.producerPos.Store(0)
			sb.minFreeSpace = size
			break
		}

		if sb.minFreeSpace <= nbytes {
			if !blocking {
				return nil
			}
			runtime.Gosched()
		}
	}

	blocked := cycles.Rdtsc() - start
	sb.cyclesProducerBlocked.Add(blocked)
	bucket := blocked / cycles.TicksIn10Ns
	if bucket >= numBlockedBuckets {
		bucket = numBlockedBuckets - 1
	}
	sb.cyclesProducerBlockedDist[bucket].Add(1)
	sb.numTimesProducerBlocked.Add(1)

	p := sb.producerPos.Load()
	return sb.storage[p : p+nbytes]
}

// commit publishes nbytes of the reserved region to the consumer. The
// atomic store of producerPos is the release point: every payload
// write into the region happens-before the consumer's acquire load.
func (sb *stagingBuffer) commit(nbytes int64) {
	p := sb.producerPos.Load()
	sb.producerPos.Store(p + nbytes)
	sb.minFreeSpace -= nbytes
	sb.numAllocations.Add(1)
}

// peek returns the contiguous run of consumable bytes at consumerPos.
// It may return an empty slice. The consumer should consume large
// peeks piecewise so staging space flows back to the producer early.
func (sb *stagingBuffer) peek() []byte {
	p := sb.producerPos.Load()
	c := sb.consumerPos.Load()

	if p < c {
		// Producer has wrapped; recorded data runs to the high-water
		// mark. The acquire load of producerPos above orders this read
		// against the producer's pre-rewind store.
		end := sb.endOfRecordedSpace.Load()
		if end-c > 0 {
			return sb.storage[c:end]
		}
		// Nothing left before the mark; rewind and fall through.
		c = 0
		sb.consumerPos.Store(0)
	}

	return sb.storage[c:p]
}

// consume releases nbytes back to the producer.
func (sb *stagingBuffer) consume(nbytes int64) {
	c := sb.consumerPos.Load()
	sb.consumerPos.Store(c + nbytes)
}

// markRetired flags the buffer for reclamation by the consumer once
// drained. Called from the owning goroutine's teardown; the producer
// makes no reservations afterwards.
func (sb *stagingBuffer) markRetired() {
	sb.shouldDelete.Store(true)
}

// canDelete reports whether the consumer may free the buffer: retired
// by its owner and fully drained.
func (sb *stagingBuffer) canDelete() bool {
	return sb.shouldDelete.Load() && len(sb.peek()) == 0
}
