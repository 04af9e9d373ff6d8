package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastlog-io/fastlog/utils"
	"github.com/fastlog-io/fastlog/wire"
)

// Two syncs back to back leave the same file content as one.
func TestSyncIdempotent(t *testing.T) {
	e, path := newTestEngine(t, nil)

	siteID := registerTestSite(e, "idem %s")
	p := e.NewProducer()
	for i := 0; i < 20; i++ {
		p.Log(Notice, siteID, []byte(fmt.Sprintf("rec-%02d", i)))
	}
	p.Close()

	// A second sync on an already-drained engine must not duplicate
	// or reorder anything.
	e.Sync()
	e.Sync()
	require.NoError(t, e.Close())

	recs := decodeFile(t, path)
	require.Len(t, recs, 20)
	for i, rec := range recs {
		assert.Equal(t, fmt.Sprintf("rec-%02d", i), string(rec.Payload))
	}
}

// Rotation: the old file keeps everything before the switch, the new
// file starts with a re-emitted dictionary.
func TestSetLogFileRotate(t *testing.T) {
	e, pathA := newTestEngine(t, nil)
	pathB := filepath.Join(filepath.Dir(pathA), "rotated.clog")

	siteID := registerTestSite(e, "rotate %s")
	p := e.NewProducer()
	for i := 0; i < 100; i++ {
		p.Log(Notice, siteID, []byte(fmt.Sprintf("a-%03d", i)))
	}

	require.NoError(t, e.SetLogFile(pathB))

	for i := 0; i < 100; i++ {
		p.Log(Notice, siteID, []byte(fmt.Sprintf("b-%03d", i)))
	}
	p.Close()

	e.Sync()
	require.NoError(t, e.Close())

	recsA := decodeFile(t, pathA)
	require.Len(t, recsA, 100)
	for i, rec := range recsA {
		assert.Equal(t, fmt.Sprintf("a-%03d", i), string(rec.Payload))
	}

	// The new file must decode standalone: its dictionary precedes
	// its records.
	dataB, err := os.ReadFile(pathB)
	require.NoError(t, err)
	decB := wire.NewDecoder(dataB)
	recsB, err := decB.DecodeAll()
	require.NoError(t, err)
	require.Len(t, recsB, 100)
	require.NotEmpty(t, decB.Dictionary())
	for i, rec := range recsB {
		assert.Equal(t, fmt.Sprintf("b-%03d", i), string(rec.Payload))
	}
}

// Switching to the same path twice is equivalent to once.
func TestSetLogFileSamePathTwice(t *testing.T) {
	e, pathA := newTestEngine(t, nil)

	siteID := registerTestSite(e, "twice %s")

	require.NoError(t, e.SetLogFile(pathA))
	require.NoError(t, e.SetLogFile(pathA))

	p := e.NewProducer()
	for i := 0; i < 10; i++ {
		p.Log(Notice, siteID, []byte(fmt.Sprintf("t-%d", i)))
	}
	p.Close()

	e.Sync()
	require.NoError(t, e.Close())

	recs := decodeFile(t, pathA)
	require.Len(t, recs, 10)
}

// A failing switch leaves the engine on its previous file.
func TestSetLogFileFailureKeepsState(t *testing.T) {
	e, pathA := newTestEngine(t, nil)

	siteID := registerTestSite(e, "keep %s")

	// A directory is a path that exists but cannot be opened
	// read/write.
	dirPath := t.TempDir()
	require.Error(t, e.SetLogFile(dirPath))

	// A missing parent directory fails the open.
	require.Error(t, e.SetLogFile(filepath.Join(dirPath, "no", "such", "dir", "f.clog")))

	// Logging still lands in the original file.
	p := e.NewProducer()
	p.Log(Notice, siteID, []byte("still here"))
	p.Close()
	e.Sync()
	require.NoError(t, e.Close())

	recs := decodeFile(t, pathA)
	require.Len(t, recs, 1)
	assert.Equal(t, "still here", string(recs[0].Payload))
}

func TestSetLogLevelClamps(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	defer e.Close()

	e.SetLogLevel(LogLevel(-5))
	assert.Equal(t, Silent, e.GetLogLevel())

	e.SetLogLevel(LogLevel(99))
	assert.Equal(t, NumLogLevels-1, e.GetLogLevel())

	e.SetLogLevel(Warning)
	assert.Equal(t, Warning, e.GetLogLevel())
}

func TestLevelFiltering(t *testing.T) {
	e, path := newTestEngine(t, nil)

	siteID := registerTestSite(e, "filter %s")
	e.SetLogLevel(Warning)

	p := e.NewProducer()
	assert.False(t, p.Log(Notice, siteID, []byte("too verbose")))
	assert.False(t, p.Log(Debug, siteID, []byte("way too verbose")))
	assert.True(t, p.Log(Error, siteID, []byte("kept")))
	assert.True(t, p.Log(Warning, siteID, []byte("also kept")))
	p.Close()

	e.Sync()
	require.NoError(t, e.Close())

	recs := decodeFile(t, path)
	require.Len(t, recs, 2)
	assert.Equal(t, "kept", string(recs[0].Payload))
	assert.Equal(t, "also kept", string(recs[1].Payload))
}

// Direct I/O mode pads every write to the 512-byte alignment and the
// padding is invisible to the decoder.
func TestDirectIOPadding(t *testing.T) {
	e, path := newTestEngine(t, func(cfg *utils.Config) {
		cfg.DirectIO = true
	})

	siteID := registerTestSite(e, "pad %s")
	p := e.NewProducer()
	for i := 0; i < 25; i++ {
		p.Log(Notice, siteID, []byte(fmt.Sprintf("padded-%02d", i)))
	}
	p.Close()

	e.Sync()
	require.NoError(t, e.Close())

	// Every submitted write was a 512-multiple, so the file is too.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size()%wire.PadAlignment)
	assert.NotZero(t, e.metrics.Snapshot().PadBytesWritten)

	recs := decodeFile(t, path)
	assert.Len(t, recs, 25)
}

func TestStatsReportFields(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	defer e.Close()

	siteID := registerTestSite(e, "stats %s")
	p := e.NewProducer()
	for i := 0; i < 10; i++ {
		p.Log(Notice, siteID, []byte("some payload"))
	}
	e.Sync()

	stats := e.GetStats()
	assert.Contains(t, stats, "Wrote 10 events")
	assert.Contains(t, stats, "file flushes")
	assert.Contains(t, stats, "compression ratio")
	assert.Contains(t, stats, "ns/event")

	hist := e.GetHistograms()
	assert.Contains(t, hist, "Distribution of staging buffer peek() sizes")
	assert.Contains(t, hist, "Allocations")
	p.Close()
}

// Counters only ever grow while the engine lives.
func TestMetricsMonotonic(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	defer e.Close()

	siteID := registerTestSite(e, "mono %s")
	p := e.NewProducer()
	defer p.Close()

	var prev MetricsSnapshot
	for round := 0; round < 5; round++ {
		for i := 0; i < 10; i++ {
			p.Log(Notice, siteID, []byte("tick"))
		}
		e.Sync()

		cur := e.MetricsSnapshot()
		assert.GreaterOrEqual(t, cur.LogsProcessed, prev.LogsProcessed)
		assert.GreaterOrEqual(t, cur.TotalBytesRead, prev.TotalBytesRead)
		assert.GreaterOrEqual(t, cur.TotalBytesWritten, prev.TotalBytesWritten)
		assert.GreaterOrEqual(t, cur.NumWritesCompleted, prev.NumWritesCompleted)
		prev = cur
	}
}

// Discard mode: no consumer, Sync returns immediately, full rings
// drop instead of blocking.
func TestDiscardModeNeverBlocks(t *testing.T) {
	e, _ := newTestEngine(t, func(cfg *utils.Config) {
		cfg.DiscardOnFull = true
		cfg.StagingBufferSize = 128
		cfg.OutputBufferSize = 8192
		cfg.ReleaseThreshold = 64
	})

	siteID := registerTestSite(e, "discard %s")
	p := e.NewProducer()
	for i := 0; i < 1000; i++ {
		p.Log(Notice, siteID, []byte("dropped on the floor"))
	}
	p.Close()

	// Returns immediately; nothing to wait for.
	e.Sync()
	require.NoError(t, e.Close())
}

func TestNewInstanceSetup(t *testing.T) {
	cfg := utils.NewDefaultConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "global.clog")

	e := NewInstanceSetup(cfg)
	require.NotNil(t, e)
	assert.Same(t, e, ThisInstance)
	require.NoError(t, e.Close())
	ThisInstance = nil
}

func TestNewFailsOnUnopenablePath(t *testing.T) {
	cfg := utils.NewDefaultConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "missing", "dir", "out.clog")

	_, err := New(cfg)
	require.Error(t, err)
	assert.IsType(t, LogFileOpenError(""), err)
}
