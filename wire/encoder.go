package wire

import (
	"encoding/binary"

	"github.com/klauspost/compress/snappy"
)

// Output stream framing. A file is a sequence of frames:
//
//	dictionary frame: frameDict, uvarint id, severity byte,
//	                  uvarint line, uvarint len + filename,
//	                  uvarint len + format string
//	batch frame:      frameBatch, uvarint buffer id, flags byte,
//	                  uvarint raw length, uvarint stored length,
//	                  stored bytes (snappy when flagSnappy is set)
//	padding:          zero bytes up to the next 512-byte boundary
//
// Batches carry whole staging records. flagWrapAround marks the first
// batch after the consumer's scan crossed buffer index zero.
const (
	framePadding byte = 0x00
	frameDict    byte = 0x01
	frameBatch   byte = 0x02
)

const (
	flagWrapAround byte = 1 << 0
	flagSnappy     byte = 1 << 1
)

// PadAlignment is the write alignment used for direct I/O padding.
const PadAlignment = 512

// batchOverhead is the worst-case batch frame header size: type byte,
// buffer id, flags, raw and stored lengths.
const batchOverhead = 1 + binary.MaxVarintLen32 + 1 + 2*binary.MaxVarintLen32

// Encoder transforms raw staging records into the framed, compressed
// output stream. It writes into a caller-owned buffer and reports
// fullness by consuming zero bytes.
type Encoder struct {
	buf     []byte
	pos     int
	scratch []byte
}

// NewEncoder returns an Encoder targeting buf. The buffer's length is
// the encoder's capacity.
func NewEncoder(buf []byte) *Encoder {
	return &Encoder{buf: buf}
}

// EncodedBytes returns how many bytes have been written into the
// current buffer.
func (e *Encoder) EncodedBytes() int {
	return e.pos
}

// SwapBuffer re-targets the encoder at newBuf and resets the write
// cursor to its start.
func (e *Encoder) SwapBuffer(newBuf []byte) {
	e.buf = newBuf
	e.pos = 0
}

// EncodeLogMsgs encodes as many complete staging records from src as
// fit in the output buffer into a single batch frame. It returns the
// number of src bytes consumed; zero means the buffer has no room for
// the next record (or src holds no complete record, or the next
// record references a site not yet in shadow) and the caller should
// flush before retrying.
func (e *Encoder) EncodeLogMsgs(src []byte, bufferID uint32, wrapAround bool,
	shadow []StaticLogInfo, logsProcessed *uint64,
) int {
	remaining := len(e.buf) - e.pos

	// Select the longest prefix of complete records whose worst-case
	// encoding still fits. snappy can expand incompressible input, so
	// the fit test uses MaxEncodedLen.
	consumed, records := 0, uint64(0)
	for consumed < len(src) {
		siteID, _, n := ReadRecord(src[consumed:])
		if n == 0 {
			break
		}
		// Records may only reference persisted dictionary entries;
		// anything newer stays staged until the next pass.
		if int(siteID) >= len(shadow) {
			break
		}
		if batchOverhead+snappy.MaxEncodedLen(consumed+n) > remaining {
			break
		}
		consumed += n
		records++
	}
	if consumed == 0 {
		return 0
	}

	raw := src[:consumed]
	e.scratch = e.scratch[:0]
	stored := snappy.Encode(e.scratch[:cap(e.scratch)], raw)
	e.scratch = stored

	flags := byte(0)
	if wrapAround {
		flags |= flagWrapAround
	}
	if len(stored) < len(raw) {
		flags |= flagSnappy
	} else {
		stored = raw
	}

	e.buf[e.pos] = frameBatch
	e.pos++
	e.pos += binary.PutUvarint(e.buf[e.pos:], uint64(bufferID))
	e.buf[e.pos] = flags
	e.pos++
	e.pos += binary.PutUvarint(e.buf[e.pos:], uint64(len(raw)))
	e.pos += binary.PutUvarint(e.buf[e.pos:], uint64(len(stored)))
	e.pos += copy(e.buf[e.pos:], stored)

	*logsProcessed += records
	return consumed
}

// EncodeNewDictionaryEntries emits dictionary frames for sites at
// [*next, len(sites)), advancing *next past each entry written. It
// stops early when the buffer has no room, leaving the rest for the
// next flush. The return value is the bytes written.
func (e *Encoder) EncodeNewDictionaryEntries(next *uint32, sites []StaticLogInfo) int {
	startPos := e.pos
	for int(*next) < len(sites) {
		id := *next
		info := sites[id]
		need := 1 + binary.MaxVarintLen32 + 1 + binary.MaxVarintLen32 +
			binary.MaxVarintLen32 + len(info.Filename) +
			binary.MaxVarintLen32 + len(info.FormatString)
		if need > len(e.buf)-e.pos {
			break
		}

		e.buf[e.pos] = frameDict
		e.pos++
		e.pos += binary.PutUvarint(e.buf[e.pos:], uint64(id))
		e.buf[e.pos] = info.Severity
		e.pos++
		e.pos += binary.PutUvarint(e.buf[e.pos:], uint64(info.Line))
		e.pos += binary.PutUvarint(e.buf[e.pos:], uint64(len(info.Filename)))
		e.pos += copy(e.buf[e.pos:], info.Filename)
		e.pos += binary.PutUvarint(e.buf[e.pos:], uint64(len(info.FormatString)))
		e.pos += copy(e.buf[e.pos:], info.FormatString)

		*next = id + 1
	}
	return e.pos - startPos
}

// Pad zero-fills the buffer up to the next PadAlignment boundary and
// returns the number of pad bytes added. The decoder skips them.
func (e *Encoder) Pad() int {
	over := e.pos % PadAlignment
	if over == 0 {
		return 0
	}
	pad := PadAlignment - over
	for i := 0; i < pad; i++ {
		e.buf[e.pos+i] = framePadding
	}
	e.pos += pad
	return pad
}
