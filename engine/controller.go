package engine

import (
	"fmt"
	"os"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"

	"github.com/fastlog-io/fastlog/utils"
	"github.com/fastlog-io/fastlog/utils/cycles"
	"github.com/fastlog-io/fastlog/utils/log"
)

// ThisInstance is the process-wide engine, for callers that want one
// shared global. Explicitly constructed via NewInstanceSetup; nothing
// builds it implicitly, and no function of this package reads it.
var ThisInstance *Engine

// NewInstanceSetup builds the global engine. Initialisation failure
// is fatal here, unlike New, because a process that asked for a
// global logging runtime cannot proceed without one.
func NewInstanceSetup(cfg *utils.Config) *Engine {
	if cfg == nil {
		cfg = utils.NewDefaultConfig()
	}
	e, err := New(cfg)
	if err != nil {
		log.Fatal("could not initialise the logging runtime: %v", err)
	}
	ThisInstance = e
	return e
}

// Preallocate ensures the calling goroutine has a registered staging
// buffer, paying the first-log latency up front, and returns its
// handle.
func (e *Engine) Preallocate() *Producer {
	return e.NewProducer()
}

// SetLogLevel sets the minimum level records must meet. Values are
// clamped into the valid range; the store is atomic and best-effort
// monotone, racing producers may see either value briefly.
func (e *Engine) SetLogLevel(level LogLevel) {
	if level < 0 {
		level = 0
	} else if level >= NumLogLevels {
		level = NumLogLevels - 1
	}
	e.currentLogLevel.Store(int32(level))
}

// GetLogLevel returns the current minimum level.
func (e *Engine) GetLogLevel() LogLevel {
	return LogLevel(e.currentLogLevel.Load())
}

// Sync blocks until every record committed to any staging buffer
// before this call has been encoded and handed to the OS write path.
// It does not imply fdatasync. In discard mode it returns
// immediately.
func (e *Engine) Sync() {
	if e.cfg.DiscardOnFull {
		return
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.syncRequested = true
	epoch := e.syncEpoch
	e.mu.Unlock()

	e.wake()

	e.mu.Lock()
	for e.syncEpoch == epoch {
		e.queueEmptied.Wait()
	}
	e.mu.Unlock()
}

// SetLogFile redirects output to path: sync, stop the consumer, swap
// file descriptors, reset the dictionary cursor so the site
// dictionary is re-emitted into the new file, and restart. On any
// error the prior state is unchanged.
//
// Not safe under concurrent logging; call before the first log.
func (e *Engine) SetLogFile(path string) error {
	// An existing file must be readable and writable before we
	// commit to anything.
	if _, err := os.Stat(path); err == nil {
		probe, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return errors.Wrap(LogFileAccessError(path), err.Error())
		}
		probe.Close()
	}

	newFile, err := os.OpenFile(path, e.cfg.FileFlags(), 0o666)
	if err != nil {
		return errors.Wrap(LogFileOpenError(path), err.Error())
	}

	e.Sync()
	e.stopThread()

	if err := e.outputFile.Close(); err != nil {
		log.Warn("failed to close previous log file: %v", err)
	}
	e.outputFile = newFile
	e.cfg.LogFile = path

	// Re-emit the whole dictionary into the new file. The consumer's
	// shadow is loop-local state, so the restart rebuilds it from
	// scratch and the two stay aligned.
	e.sites.ResetCursor()

	e.startThread()
	return nil
}

// Close drains and stops the engine, leaving it drained and
// unusable. Safe to call once.
func (e *Engine) Close() error {
	if e.cfg.DiscardOnFull {
		return e.outputFile.Close()
	}
	e.Sync()
	e.stopThread()
	return e.outputFile.Close()
}

// GetStats renders the cumulative performance report. It issues a
// data sync on the output file first so the I/O numbers include
// everything written so far.
func (e *Engine) GetStats() string {
	start := cycles.Rdtsc()
	if err := e.outputFile.Sync(); err != nil {
		log.Warn("fsync on output file failed: %v", err)
	}
	stop := cycles.Rdtsc()
	e.metrics.cyclesDiskIOUpperBound.Add(stop - start)

	m := e.metrics.Snapshot()
	threadStart := e.cycleAtThreadStart.Load()

	outputTime := cycles.ToSeconds(m.CyclesDiskIOUpperBound)
	compressPlusLock := cycles.ToSeconds(m.CyclesCompressAndLock)
	compressOnly := cycles.ToSeconds(m.CyclesCompressingOnly)
	compressWithConsume := cycles.ToSeconds(m.CyclesCompressingWithConsume)
	scanAndCompress := cycles.ToSeconds(m.CyclesScanningAndCompressing)

	bytesWritten := float64(m.TotalBytesWritten)
	bytesRead := float64(m.TotalBytesRead)
	padBytes := float64(m.PadBytesWritten)
	numEvents := float64(m.LogsProcessed)

	var b strings.Builder

	fmt.Fprintf(&b, "Wrote %d events (%s) in %0.3f seconds (%0.3f seconds spent compressing)\n",
		m.LogsProcessed, bytefmt.ByteSize(m.TotalBytesWritten), outputTime, compressPlusLock)
	fmt.Fprintf(&b, "There were %d file flushes and the final sync time was %f sec\n",
		m.NumWritesCompleted, cycles.ToSeconds(stop-start))

	secondsAwake := cycles.ToSeconds(m.CyclesActive)
	totalTime := cycles.ToSeconds(cycles.Rdtsc() - threadStart)
	if threadStart == 0 {
		totalTime = secondsAwake
	}
	fmt.Fprintf(&b, "Consumer thread was active for %0.3f out of %0.3f seconds (%0.2f %%)\n",
		secondsAwake, totalTime, 100.0*safeDiv(secondsAwake, totalTime))

	fmt.Fprintf(&b, "On average, that's\n\t%0.2f MB/s or %0.2f ns/byte w/ processing\n",
		safeDiv(bytesWritten/1.0e6, totalTime), safeDiv(totalTime*1.0e9, bytesWritten))
	fmt.Fprintf(&b, "\t%0.2f MB/s or %0.2f ns/byte disk throughput (min)\n",
		safeDiv(bytesWritten/1.0e6, outputTime), safeDiv(outputTime*1.0e9, bytesWritten))
	fmt.Fprintf(&b, "\t%0.2f MB per flush with %0.1f bytes/event\n",
		safeDiv(bytesWritten/1.0e6, float64(m.NumWritesCompleted)), safeDiv(bytesWritten, numEvents))
	fmt.Fprintf(&b, "\t%0.2f ns/event compress only\n", safeDiv(compressOnly*1.0e9, numEvents))
	fmt.Fprintf(&b, "\t%0.2f ns/event compressing with consume\n", safeDiv(compressWithConsume*1.0e9, numEvents))
	fmt.Fprintf(&b, "\t%0.2f ns/event compressing with locking\n", safeDiv(compressPlusLock*1.0e9, numEvents))
	fmt.Fprintf(&b, "\t%0.2f ns/event scan+compress\n", safeDiv(scanAndCompress*1.0e9, numEvents))
	fmt.Fprintf(&b, "\t%0.2f ns/event I/O time\n", safeDiv(outputTime*1.0e9, float64(m.TotalMsgsWritten)))
	fmt.Fprintf(&b, "\t%0.2f ns/event in total\n", safeDiv(totalTime*1.0e9, numEvents))
	fmt.Fprintf(&b, "The compression ratio was %0.2f-%0.2fx (%d bytes in, %d bytes out, %d pad bytes)\n",
		safeDiv(bytesRead, bytesWritten+padBytes), safeDiv(bytesRead, bytesWritten),
		m.TotalBytesRead, m.TotalBytesWritten, m.PadBytesWritten)

	return b.String()
}

// GetHistograms renders the peek-size distribution and the
// per-producer allocation/block statistics.
func (e *Engine) GetHistograms() string {
	m := e.metrics.Snapshot()

	var b strings.Builder

	b.WriteString("Distribution of staging buffer peek() sizes\n")
	for i, count := range m.StagingBufferPeekDist {
		fmt.Fprintf(&b, "\t%02d - %02d%%: %d\n",
			i*100/numPeekDistBuckets, (i+1)*100/numPeekDistBuckets, count)
	}

	for _, sb := range e.registry.snapshot() {
		fmt.Fprintf(&b, "Thread %d:\n", sb.id)
		fmt.Fprintf(&b, "\tAllocations   : %d\n", sb.numAllocations.Load())

		blocked := sb.numTimesProducerBlocked.Load()
		fmt.Fprintf(&b, "\tTimes Blocked : %d\n", blocked)

		if blocked > 0 {
			avgNs := cycles.ToNanoseconds(sb.cyclesProducerBlocked.Load()) / blocked
			fmt.Fprintf(&b, "\tAvgBlock (ns) : %d\n", avgNs)
			b.WriteString("\tBlock Dist\n")
			for i := 0; i < numBlockedBuckets; i++ {
				fmt.Fprintf(&b, "\t\t%4d - %4d ns: %d\n",
					i*10, (i+1)*10, sb.cyclesProducerBlockedDist[i].Load())
			}
		}
	}

	return b.String()
}

// MetricsSnapshot exposes a copy of the engine counters, for interval
// reporting via Sub.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
