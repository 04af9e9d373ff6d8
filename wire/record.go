package wire

import "encoding/binary"

// Staging record layout, as written by producers into their staging
// buffers: uvarint site id, uvarint payload length, payload bytes.

// RecordSize returns the staged size of a record with the given
// payload.
func RecordSize(siteID uint32, payload []byte) int {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(siteID))
	n += binary.PutUvarint(tmp[:], uint64(len(payload)))
	return n + len(payload)
}

// PutRecord writes a staging record into buf and returns the bytes
// written. buf must be at least RecordSize bytes.
func PutRecord(buf []byte, siteID uint32, payload []byte) int {
	n := binary.PutUvarint(buf, uint64(siteID))
	n += binary.PutUvarint(buf[n:], uint64(len(payload)))
	n += copy(buf[n:], payload)
	return n
}

// ReadRecord parses one staging record from src. It returns the site
// id, the payload (aliasing src), and the bytes consumed. A zero
// consumed count means src holds no complete record.
func ReadRecord(src []byte) (siteID uint32, payload []byte, n int) {
	id, idLen := binary.Uvarint(src)
	if idLen <= 0 {
		return 0, nil, 0
	}
	size, sizeLen := binary.Uvarint(src[idLen:])
	if sizeLen <= 0 {
		return 0, nil, 0
	}
	total := idLen + sizeLen + int(size)
	if total > len(src) {
		return 0, nil, 0
	}
	start := idLen + sizeLen
	return uint32(id), src[start:total], total
}
