package bufmgr

// pageref.go implements the page reference, the canonical key for the
// page caches. A PageReference carries its own identity
// (database, resource, page-file key), an intent-log slot, optional
// fragment descriptors, and a mutable "swizzled" pointer to whichever
// frame currently materialises it. The reference is always a weak
// back-pointer: a cache mapping or the intent log is the true owner of
// the frame it points at.

import (
	"sync"

	"github.com/kvtree/bufmgr/internal/frame"
)

// NullPageKey is the sentinel page-file key meaning "no page".
const NullPageKey int64 = -1

// NoLogKey is the sentinel log-key value meaning "not logged".
const NoLogKey int32 = -1

// RecordPageKey is the immutable composite key used by the record page
// and fragment caches (the generic page cache uses GenericPageKey). Two
// PageReferences compare equal iff their RecordPageKey matches.
type RecordPageKey struct {
	DatabaseID int64
	ResourceID int64
	Key        int64
}

// FragmentDescriptor names one page-fragment belonging to a reference.
// The fragment cache and the intent log address a fragment by its
// embedded RecordPageKey alone; FragmentIndex is not part of any cache
// key.
type FragmentDescriptor struct {
	RecordPageKey
	FragmentIndex int32
}

// PageReference is the canonical cache key object. Mutable fields are
// guarded by an internal mutex so that concurrent readers racing a
// transaction's swizzle/clear never observe a torn update.
type PageReference struct {
	mu sync.Mutex

	databaseID int64
	resourceID int64
	key        int64
	logKey     int32
	fragments  []FragmentDescriptor
	page       *frame.Frame // weak; authoritative owner is a cache or the intent log
}

// NewPageReference constructs a reference identifying (database,
// resource, key). key may be NullPageKey.
func NewPageReference(databaseID, resourceID, key int64) *PageReference {
	return &PageReference{
		databaseID: databaseID,
		resourceID: resourceID,
		key:        key,
		logKey:     NoLogKey,
	}
}

// RecordKey returns the immutable composite key used to look this
// reference up in the record and fragment page caches.
func (r *PageReference) RecordKey() RecordPageKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecordPageKey{DatabaseID: r.databaseID, ResourceID: r.resourceID, Key: r.key}
}

// DatabaseID returns the reference's database identifier.
func (r *PageReference) DatabaseID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.databaseID
}

// ResourceID returns the reference's resource identifier.
func (r *PageReference) ResourceID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resourceID
}

// Key returns the reference's page-file key (NullPageKey if null).
func (r *PageReference) Key() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.key
}

// ClearKey sets the page-file key to NullPageKey, as done by the intent
// log when it adopts a reference.
func (r *PageReference) ClearKey() {
	r.mu.Lock()
	r.key = NullPageKey
	r.mu.Unlock()
}

// LogKey returns the reference's slot index in its owning transaction's
// intent log, or NoLogKey if it has never been logged.
func (r *PageReference) LogKey() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logKey
}

// SetLogKey stamps the reference with its intent-log slot index.
func (r *PageReference) SetLogKey(k int32) {
	r.mu.Lock()
	r.logKey = k
	r.mu.Unlock()
}

// Fragments returns a snapshot of the reference's fragment descriptors.
func (r *PageReference) Fragments() []FragmentDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FragmentDescriptor, len(r.fragments))
	copy(out, r.fragments)
	return out
}

// SetFragments replaces the reference's fragment descriptor list.
func (r *PageReference) SetFragments(fragments []FragmentDescriptor) {
	r.mu.Lock()
	r.fragments = fragments
	r.mu.Unlock()
}

// Page returns the currently swizzled frame, or nil if absent. This is a
// hint only: once a frame has been evicted or logged, the pointer
// returned here may already be stale.
func (r *PageReference) Page() *frame.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.page
}

// SetPage swizzles the reference to point at f.
func (r *PageReference) SetPage(f *frame.Frame) {
	r.mu.Lock()
	r.page = f
	r.mu.Unlock()
}

// ClearPage nulls the swizzled page slot, e.g. when the sweeper evicts
// the frame it points at or the intent log adopts ownership.
func (r *PageReference) ClearPage() {
	r.mu.Lock()
	r.page = nil
	r.mu.Unlock()
}

// Equal reports whether two references identify the same page: equality
// is defined purely on the (database, resource, key) triple.
func (r *PageReference) Equal(o *PageReference) bool {
	if o == nil {
		return false
	}
	return r.RecordKey() == o.RecordKey()
}
