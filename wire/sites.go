package wire

import "sync"

// StaticLogInfo describes one static log invocation site. Sites are
// registered once, referenced by id from every record they produce,
// and emitted into the output stream as dictionary entries before any
// referencing record.
type StaticLogInfo struct {
	Severity     uint8
	Line         uint32
	Filename     string
	FormatString string
}

// DictionaryEncoder is the slice of the encoder contract the site
// registry needs for persisting pending entries.
type DictionaryEncoder interface {
	// EncodeNewDictionaryEntries emits entries at [*next, len(sites))
	// and advances *next past each one written. It stops early when
	// the output buffer has no room.
	EncodeNewDictionaryEntries(next *uint32, sites []StaticLogInfo) int
}

// SiteRegistry is the process-wide, append-only collection of log
// sites plus the cursor tracking which of them have been persisted
// into the current output file.
type SiteRegistry struct {
	mu            sync.Mutex
	sites         []StaticLogInfo
	nextToPersist uint32
}

// Register appends a site and returns its id.
func (r *SiteRegistry) Register(info StaticLogInfo) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uint32(len(r.sites))
	r.sites = append(r.sites, info)
	return id
}

// Len returns the number of registered sites.
func (r *SiteRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sites)
}

// Site returns the descriptor for id, if registered.
func (r *SiteRegistry) Site(id uint32) (StaticLogInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) >= len(r.sites) {
		return StaticLogInfo{}, false
	}
	return r.sites[id], true
}

// PersistPending emits dictionary entries for every site registered
// since the last call and extends shadow, the caller-owned lock-free
// mirror, up to the newly persisted index. The extended shadow is
// returned. The caller must already hold the engine's buffer mutex so
// that dictionary entries always reach the stream before any record
// referencing them.
func (r *SiteRegistry) PersistPending(enc DictionaryEncoder, shadow []StaticLogInfo) []StaticLogInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(r.nextToPersist) >= len(r.sites) {
		return shadow
	}
	enc.EncodeNewDictionaryEntries(&r.nextToPersist, r.sites)
	for i := len(shadow); i < int(r.nextToPersist); i++ {
		shadow = append(shadow, r.sites[i])
	}
	return shadow
}

// ResetCursor rewinds the persistence cursor so the whole dictionary
// is re-emitted, used when the output file is swapped.
func (r *SiteRegistry) ResetCursor() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextToPersist = 0
}
