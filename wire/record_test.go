package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	payload := []byte("hello-0")
	buf := make([]byte, RecordSize(7, payload))
	n := PutRecord(buf, 7, payload)
	assert.Equal(t, len(buf), n)

	siteID, got, consumed := ReadRecord(buf)
	assert.Equal(t, uint32(7), siteID)
	assert.Equal(t, payload, got)
	assert.Equal(t, n, consumed)
}

func TestRecordEmptyPayload(t *testing.T) {
	buf := make([]byte, RecordSize(0, nil))
	n := PutRecord(buf, 0, nil)

	siteID, payload, consumed := ReadRecord(buf)
	assert.Equal(t, uint32(0), siteID)
	assert.Empty(t, payload)
	assert.Equal(t, n, consumed)
}

func TestReadRecordIncomplete(t *testing.T) {
	payload := []byte("some payload bytes")
	buf := make([]byte, RecordSize(300, payload))
	n := PutRecord(buf, 300, payload)
	require.Equal(t, len(buf), n)

	// Every strict prefix must parse as incomplete.
	for i := 0; i < n; i++ {
		_, _, consumed := ReadRecord(buf[:i])
		assert.Zero(t, consumed, "prefix of %d bytes parsed as complete", i)
	}
}

func TestReadRecordSequence(t *testing.T) {
	var buf []byte
	payloads := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	for i, p := range payloads {
		rec := make([]byte, RecordSize(uint32(i), p))
		PutRecord(rec, uint32(i), p)
		buf = append(buf, rec...)
	}

	for i, want := range payloads {
		siteID, payload, n := ReadRecord(buf)
		require.NotZero(t, n)
		assert.Equal(t, uint32(i), siteID)
		assert.Equal(t, want, payload)
		buf = buf[n:]
	}
	assert.Empty(t, buf)
}
