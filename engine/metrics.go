package engine

import "sync/atomic"

// numPeekDistBuckets buckets the peek-size distribution into 10%-wide
// slices of the staging buffer capacity.
const numPeekDistBuckets = 10

// Metrics aggregates the consumer-side counters. Fields are atomics
// because snapshots are taken from caller goroutines while the
// consumer updates them; every counter is non-decreasing for the life
// of the engine.
type Metrics struct {
	cyclesCompressingOnly        atomic.Uint64
	cyclesCompressingWithConsume atomic.Uint64
	cyclesCompressAndLock        atomic.Uint64
	cyclesScanningAndCompressing atomic.Uint64
	cyclesActive                 atomic.Uint64
	cyclesSleepingOutOfWork      atomic.Uint64
	cyclesDiskIOUpperBound       atomic.Uint64

	numCompressBatches     atomic.Uint64
	numCompressingAndLocks atomic.Uint64
	numScansAndCompress    atomic.Uint64
	numSleepsOutOfWork     atomic.Uint64

	totalBytesRead    atomic.Uint64
	totalBytesWritten atomic.Uint64
	logsProcessed     atomic.Uint64
	// totalMsgsWritten is assigned from logsProcessed at write-issue
	// time, so it conflates messages issued with messages flushed.
	// Kept that way for stat compatibility.
	totalMsgsWritten      atomic.Uint64
	padBytesWritten       atomic.Uint64
	numAioWritesCompleted atomic.Uint64

	stagingBufferPeekDist [numPeekDistBuckets]atomic.Uint64
}

// MetricsSnapshot is a plain-value copy of Metrics, safe to hold and
// subtract.
type MetricsSnapshot struct {
	CyclesCompressingOnly        uint64
	CyclesCompressingWithConsume uint64
	CyclesCompressAndLock        uint64
	CyclesScanningAndCompressing uint64
	CyclesActive                 uint64
	CyclesSleepingOutOfWork      uint64
	CyclesDiskIOUpperBound       uint64

	NumCompressBatches     uint64
	NumCompressingAndLocks uint64
	NumScansAndCompress    uint64
	NumSleepsOutOfWork     uint64

	TotalBytesRead     uint64
	TotalBytesWritten  uint64
	LogsProcessed      uint64
	TotalMsgsWritten   uint64
	PadBytesWritten    uint64
	NumWritesCompleted uint64

	StagingBufferPeekDist [numPeekDistBuckets]uint64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		CyclesCompressingOnly:        m.cyclesCompressingOnly.Load(),
		CyclesCompressingWithConsume: m.cyclesCompressingWithConsume.Load(),
		CyclesCompressAndLock:        m.cyclesCompressAndLock.Load(),
		CyclesScanningAndCompressing: m.cyclesScanningAndCompressing.Load(),
		CyclesActive:                 m.cyclesActive.Load(),
		CyclesSleepingOutOfWork:      m.cyclesSleepingOutOfWork.Load(),
		CyclesDiskIOUpperBound:       m.cyclesDiskIOUpperBound.Load(),
		NumCompressBatches:           m.numCompressBatches.Load(),
		NumCompressingAndLocks:       m.numCompressingAndLocks.Load(),
		NumScansAndCompress:          m.numScansAndCompress.Load(),
		NumSleepsOutOfWork:           m.numSleepsOutOfWork.Load(),
		TotalBytesRead:               m.totalBytesRead.Load(),
		TotalBytesWritten:            m.totalBytesWritten.Load(),
		LogsProcessed:                m.logsProcessed.Load(),
		TotalMsgsWritten:             m.totalMsgsWritten.Load(),
		PadBytesWritten:              m.padBytesWritten.Load(),
		NumWritesCompleted:           m.numAioWritesCompleted.Load(),
	}
	for i := range s.StagingBufferPeekDist {
		s.StagingBufferPeekDist[i] = m.stagingBufferPeekDist[i].Load()
	}
	return s
}

// Sub returns the component-wise difference this - other, used for
// interval reporting.
func (s MetricsSnapshot) Sub(other MetricsSnapshot) MetricsSnapshot {
	r := s
	r.CyclesCompressingOnly -= other.CyclesCompressingOnly
	r.CyclesCompressingWithConsume -= other.CyclesCompressingWithConsume
	r.CyclesCompressAndLock -= other.CyclesCompressAndLock
	r.CyclesScanningAndCompressing -= other.CyclesScanningAndCompressing
	r.CyclesActive -= other.CyclesActive
	r.CyclesSleepingOutOfWork -= other.CyclesSleepingOutOfWork
	r.CyclesDiskIOUpperBound -= other.CyclesDiskIOUpperBound
	r.NumCompressBatches -= other.NumCompressBatches
	r.NumCompressingAndLocks -= other.NumCompressingAndLocks
	r.NumScansAndCompress -= other.NumScansAndCompress
	r.NumSleepsOutOfWork -= other.NumSleepsOutOfWork
	r.TotalBytesRead -= other.TotalBytesRead
	r.TotalBytesWritten -= other.TotalBytesWritten
	r.LogsProcessed -= other.LogsProcessed
	r.TotalMsgsWritten -= other.TotalMsgsWritten
	r.PadBytesWritten -= other.PadBytesWritten
	r.NumWritesCompleted -= other.NumWritesCompleted
	for i := range r.StagingBufferPeekDist {
		r.StagingBufferPeekDist[i] -= other.StagingBufferPeekDist[i]
	}
	return r
}
