package engine

import (
	"github.com/fastlog-io/fastlog/wire"
)

// LogLevel orders message severities. Higher values are more verbose;
// records above the engine's current level are dropped before any
// staging space is reserved.
type LogLevel int32

const (
	Silent LogLevel = iota
	Error
	Warning
	Notice
	Debug

	NumLogLevels
)

// Producer is a per-goroutine handle over that goroutine's staging
// buffer. Exactly one goroutine may use a Producer; sharing one
// violates the single-producer contract of the ring underneath.
//
// Close retires the buffer; the consumer reclaims it once drained.
type Producer struct {
	engine *Engine
	sb     *stagingBuffer
}

// NewProducer registers a staging buffer for the calling goroutine
// and returns its handle. Registration cost is paid here, up front,
// rather than on the first log call.
func (e *Engine) NewProducer() *Producer {
	sb := e.registry.register(e.cfg.StagingBufferSize, e.cfg.DiscardOnFull)
	return &Producer{engine: e, sb: sb}
}

// RegisterSite adds a static log site and returns the id producers
// embed in records referencing it.
func (e *Engine) RegisterSite(info wire.StaticLogInfo) uint32 {
	return e.sites.Register(info)
}

// Log stages one record, blocking while the ring is full. It reports
// whether the record was staged; level-filtered records and records
// larger than the release threshold are dropped with a false return.
func (p *Producer) Log(level LogLevel, siteID uint32, payload []byte) bool {
	return p.log(level, siteID, payload, true)
}

// TryLog is Log without blocking: a full ring drops the record.
func (p *Producer) TryLog(level LogLevel, siteID uint32, payload []byte) bool {
	return p.log(level, siteID, payload, false)
}

func (p *Producer) log(level LogLevel, siteID uint32, payload []byte, blocking bool) bool {
	if level == Silent || level > LogLevel(p.engine.currentLogLevel.Load()) {
		return false
	}

	size := int64(wire.RecordSize(siteID, payload))
	// A record larger than the release threshold could never be
	// handed to the encoder in one chunk.
	if size > int64(p.engine.cfg.ReleaseThreshold) {
		return false
	}

	buf := p.sb.reserve(size, blocking)
	if buf == nil {
		return false
	}
	wire.PutRecord(buf, siteID, payload)
	p.sb.commit(size)
	return true
}

// Close marks the staging buffer retirable. The goroutine must make
// no further Log calls on this handle.
func (p *Producer) Close() {
	p.sb.markRetired()
}
