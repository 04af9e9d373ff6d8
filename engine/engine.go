// Package engine is the runtime core: per-producer staging rings hand
// raw log records to a single background consumer that batches,
// compresses, and asynchronously writes them to the output file.
package engine

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fastlog-io/fastlog/metrics"
	"github.com/fastlog-io/fastlog/utils"
	"github.com/fastlog-io/fastlog/utils/cycles"
	"github.com/fastlog-io/fastlog/utils/log"
	"github.com/fastlog-io/fastlog/wire"
)

// Encoder is the contract the engine needs from its encoder. A call
// consuming zero bytes is the backpressure signal: the output buffer
// has no room until the next flush.
type Encoder interface {
	EncodeLogMsgs(src []byte, bufferID uint32, wrapAround bool,
		shadow []wire.StaticLogInfo, logsProcessed *uint64) int
	EncodeNewDictionaryEntries(next *uint32, sites []wire.StaticLogInfo) int
	EncodedBytes() int
	SwapBuffer(buf []byte)
}

// Engine is the logging runtime: it owns the staging buffer registry,
// the site registry, the two output buffers, the output file, and the
// background consumer goroutine that scans, encodes, and writes.
//
// Lifecycle is init -> running -> (stop -> running)* -> drained.
type Engine struct {
	cfg *utils.Config

	registry bufferRegistry
	sites    wire.SiteRegistry

	// condMutex of the consumer sleep/wake and sync handshake.
	mu            sync.Mutex
	queueEmptied  *sync.Cond
	syncRequested bool
	syncEpoch     uint64
	workAdded     chan struct{}

	shouldExit atomic.Bool
	wg         sync.WaitGroup
	running    bool

	outputFile         *os.File
	compressingBuffer  []byte
	outputDoubleBuffer []byte
	newEncoder         func(buf []byte) Encoder

	currentLogLevel    atomic.Int32
	cycleAtThreadStart atomic.Uint64

	metrics Metrics
}

// New builds an engine from cfg, opens the configured output file,
// allocates the aligned output buffers, and starts the consumer. In
// discard mode no consumer runs and staged records are dropped once a
// ring fills.
func New(cfg *utils.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(cfg.LogFile, cfg.FileFlags(), 0o666)
	if err != nil {
		return nil, LogFileOpenError(cfg.LogFile)
	}

	e := &Engine{
		cfg:                cfg,
		workAdded:          make(chan struct{}, 1),
		outputFile:         f,
		compressingBuffer:  alignedBlock(cfg.OutputBufferSize, wire.PadAlignment),
		outputDoubleBuffer: alignedBlock(cfg.OutputBufferSize, wire.PadAlignment),
		newEncoder:         func(buf []byte) Encoder { return wire.NewEncoder(buf) },
	}
	e.queueEmptied = sync.NewCond(&e.mu)
	e.currentLogLevel.Store(int32(Notice))

	if !cfg.DiscardOnFull {
		e.startThread()
	}
	return e, nil
}

// wake nudges the consumer out of its idle wait. Producers do not
// call this per record; the consumer polls on a timeout instead.
func (e *Engine) wake() {
	select {
	case e.workAdded <- struct{}{}:
	default:
	}
}

func (e *Engine) startThread() {
	e.mu.Lock()
	e.shouldExit.Store(false)
	e.running = true
	e.mu.Unlock()
	e.wg.Add(1)
	go e.run()
}

func (e *Engine) stopThread() {
	e.shouldExit.Store(true)
	e.wake()
	e.wg.Wait()
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// run is the consumer main loop. Each iteration scans the staging
// buffers for uncompressed records, encodes as much as fits, and
// drives the double-buffered output writes.
func (e *Engine) run() {
	defer e.wg.Done()

	cyclesAwakeStart := cycles.Rdtsc()
	e.cycleAtThreadStart.Store(cyclesAwakeStart)

	enc := e.newEncoder(e.compressingBuffer)
	writer := newAsyncWriter(e.outputFile)
	defer writer.close()

	// Cursor of the last staging buffer checked, so scans resume
	// where they left off instead of starving high-index buffers.
	lastChecked := 0

	// Set when the encoder could not fit the next record; cleared at
	// every buffer swap.
	outputBufferFull := false

	// Set when the scan crosses buffer index zero; the next encoded
	// batch carries it into the stream.
	wrapAround := false

	// Consumer-owned mirror of the persisted site entries, read
	// lock-free during encoding.
	var shadow []wire.StaticLogInfo

	var lastIOStarted uint64
	hasOutstanding := false

	for !e.shouldExit.Load() {
		// Bytes drained from staging buffers this iteration; zero
		// means either empty rings or a full output buffer.
		bytesConsumedThisIteration := int64(0)

		scanStart := cycles.Rdtsc()

		e.registry.mu.Lock()

		// Emit dictionary entries for any sites registered since the
		// last pass, before any record that could reference them.
		shadow = e.sites.PersistPending(enc, shadow)

		i := lastChecked
		if i >= len(e.registry.buffers) {
			i = 0
		}
		for !e.shouldExit.Load() && !outputBufferFull && len(e.registry.buffers) > 0 {
			sb := e.registry.buffers[i]
			peeked := sb.peek()

			if len(peeked) > 0 {
				// There is work; release the registry lock while
				// encoding it.
				peekStart := cycles.Rdtsc()
				e.registry.mu.Unlock()

				idx := (numPeekDistBuckets * len(peeked)) / int(e.cfg.StagingBufferSize)
				if idx >= numPeekDistBuckets {
					idx = numPeekDistBuckets - 1
				}
				e.metrics.stagingBufferPeekDist[idx].Add(1)

				// Encode in ReleaseThreshold chunks so staging space
				// flows back to the producer between calls.
				remaining := int64(len(peeked))
				for remaining > 0 {
					chunk := int64(e.cfg.ReleaseThreshold)
					if chunk > remaining {
						chunk = remaining
					}
					offset := int64(len(peeked)) - remaining

					compressStart := cycles.Rdtsc()
					var logs uint64
					bytesRead := enc.EncodeLogMsgs(peeked[offset:offset+chunk],
						sb.id, wrapAround, shadow, &logs)
					e.metrics.logsProcessed.Add(logs)
					e.metrics.cyclesCompressingOnly.Add(cycles.Rdtsc() - compressStart)
					e.metrics.numCompressBatches.Add(1)

					if bytesRead == 0 {
						lastChecked = i
						outputBufferFull = true
						break
					}

					wrapAround = false
					remaining -= int64(bytesRead)
					sb.consume(int64(bytesRead))
					e.metrics.totalBytesRead.Add(uint64(bytesRead))
					bytesConsumedThisIteration += int64(bytesRead)
					e.metrics.cyclesCompressingWithConsume.Add(cycles.Rdtsc() - compressStart)
				}

				e.registry.mu.Lock()
				e.metrics.numCompressingAndLocks.Add(1)
				e.metrics.cyclesCompressAndLock.Add(cycles.Rdtsc() - peekStart)
			} else if sb.canDelete() {
				// Retired and drained; reclaim it.
				e.registry.dropLocked(i)

				if len(e.registry.buffers) == 0 {
					lastChecked, i = 0, 0
					wrapAround = true
					break
				}

				// Back the cursors up so the pass skips nothing
				// (repeating one buffer is fine).
				if lastChecked >= i && lastChecked > 0 {
					lastChecked--
				}
				i--
			}

			i = (i + 1) % len(e.registry.buffers)

			if i == 0 {
				wrapAround = true
			}

			// Completed a full pass through the buffers.
			if i == lastChecked {
				break
			}
		}

		e.metrics.cyclesScanningAndCompressing.Add(cycles.Rdtsc() - scanStart)
		e.metrics.numScansAndCompress.Add(1)
		e.registry.mu.Unlock()

		// Nothing encoded: idle. A requested sync gets one more full
		// pass before its waiters are released.
		if enc.EncodedBytes() == 0 {
			e.mu.Lock()
			if e.syncRequested {
				e.syncRequested = false
				e.mu.Unlock()
				continue
			}

			e.metrics.cyclesActive.Add(cycles.Rdtsc() - cyclesAwakeStart)
			e.syncEpoch++
			e.queueEmptied.Broadcast()
			e.mu.Unlock()

			select {
			case <-e.workAdded:
			case <-time.After(e.cfg.PollIntervalNoWork):
			}
			cyclesAwakeStart = cycles.Rdtsc()
			continue
		}

		if hasOutstanding {
			res, done := writer.poll()
			if !done {
				if outputBufferFull {
					// Nothing to overlap; block until the write lands.
					sleepStart := cycles.Rdtsc()
					e.metrics.cyclesActive.Add(sleepStart - cyclesAwakeStart)
					res = writer.wait()
					done = true
					cyclesAwakeStart = cycles.Rdtsc()
				} else {
					// With little consumed, nap briefly instead of
					// re-scanning, sparing the producers' caches.
					if bytesConsumedThisIteration <= int64(e.cfg.LowWorkThreshold) &&
						e.cfg.PollIntervalDuringLowWork > 0 {
						sleepStart := cycles.Rdtsc()
						e.metrics.cyclesActive.Add(sleepStart - cyclesAwakeStart)

						select {
						case res = <-writer.doneC:
							done = true
						case <-e.workAdded:
						case <-time.After(e.cfg.PollIntervalDuringLowWork):
						}

						sleepEnd := cycles.Rdtsc()
						cyclesAwakeStart = sleepEnd
						e.metrics.cyclesSleepingOutOfWork.Add(sleepEnd - sleepStart)
						e.metrics.numSleepsOutOfWork.Add(1)

						if !done {
							res, done = writer.poll()
						}
					}
					if !done {
						// Keep scanning while the I/O proceeds.
						continue
					}
				}
			}

			e.completeWrite(res, lastIOStarted)
			hasOutstanding = false
		}

		// The double buffer is free: pad if needed, submit, swap.
		bytesToWrite := enc.EncodedBytes()
		if e.cfg.DirectIO {
			over := bytesToWrite % wire.PadAlignment
			if over != 0 {
				pad := wire.PadAlignment - over
				for j := 0; j < pad; j++ {
					e.compressingBuffer[bytesToWrite+j] = 0
				}
				bytesToWrite += pad
				e.metrics.padBytesWritten.Add(uint64(pad))
			}
		}

		e.metrics.totalBytesWritten.Add(uint64(bytesToWrite))
		e.metrics.totalMsgsWritten.Store(e.metrics.logsProcessed.Load())

		lastIOStarted = cycles.Rdtsc()
		writer.submit(e.compressingBuffer[:bytesToWrite])
		hasOutstanding = true

		enc.SwapBuffer(e.outputDoubleBuffer)
		e.compressingBuffer, e.outputDoubleBuffer = e.outputDoubleBuffer, e.compressingBuffer
		outputBufferFull = false
	}

	// Drain any in-flight write before exiting.
	if hasOutstanding {
		res := writer.wait()
		e.completeWrite(res, lastIOStarted)
	}

	e.cycleAtThreadStart.Store(0)
}

// completeWrite collects a finished write, accounting its wall time
// as an upper bound on disk I/O and mirroring the operational
// counters to Prometheus.
func (e *Engine) completeWrite(res writeResult, lastIOStarted uint64) {
	e.metrics.cyclesDiskIOUpperBound.Add(cycles.Rdtsc() - lastIOStarted)
	e.metrics.numAioWritesCompleted.Add(1)

	if res.err != nil {
		log.Error("output write failed after %d bytes: %v", res.n, res.err)
		metrics.WriteErrors.Inc()
	}

	metrics.WritesCompleted.Inc()
	metrics.EventsProcessed.Set(float64(e.metrics.logsProcessed.Load()))
	metrics.BytesRead.Set(float64(e.metrics.totalBytesRead.Load()))
	metrics.BytesWritten.Set(float64(e.metrics.totalBytesWritten.Load()))

	var blocks uint64
	for _, sb := range e.registry.snapshot() {
		blocks += sb.numTimesProducerBlocked.Load()
	}
	metrics.ProducerBlocks.Set(float64(blocks))
}
