package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSiteRegistryAssignsSequentialIDs(t *testing.T) {
	var r SiteRegistry
	for i := 0; i < 5; i++ {
		id := r.Register(StaticLogInfo{FormatString: "msg"})
		assert.Equal(t, uint32(i), id)
	}
	assert.Equal(t, 5, r.Len())

	info, ok := r.Site(3)
	require.True(t, ok)
	assert.Equal(t, "msg", info.FormatString)

	_, ok = r.Site(99)
	assert.False(t, ok)
}

func TestPersistPendingExtendsShadow(t *testing.T) {
	var r SiteRegistry
	r.Register(StaticLogInfo{FormatString: "one"})
	r.Register(StaticLogInfo{FormatString: "two"})

	enc := NewEncoder(make([]byte, 4096))
	shadow := r.PersistPending(enc, nil)
	require.Len(t, shadow, 2)
	assert.Equal(t, "one", shadow[0].FormatString)
	assert.Equal(t, "two", shadow[1].FormatString)

	// Nothing new: shadow unchanged, nothing encoded.
	before := enc.EncodedBytes()
	shadow = r.PersistPending(enc, shadow)
	assert.Len(t, shadow, 2)
	assert.Equal(t, before, enc.EncodedBytes())

	// A later registration extends it.
	r.Register(StaticLogInfo{FormatString: "three"})
	shadow = r.PersistPending(enc, shadow)
	assert.Len(t, shadow, 3)
}

func TestPersistPendingAfterResetCursor(t *testing.T) {
	var r SiteRegistry
	r.Register(StaticLogInfo{FormatString: "again"})

	enc := NewEncoder(make([]byte, 4096))
	shadow := r.PersistPending(enc, nil)
	require.Len(t, shadow, 1)

	// After a cursor reset, a fresh shadow picks the entry back up,
	// as the engine does on restart.
	r.ResetCursor()
	enc.SwapBuffer(make([]byte, 4096))
	shadow = r.PersistPending(enc, nil)
	assert.Len(t, shadow, 1)
	assert.NotZero(t, enc.EncodedBytes())
}
