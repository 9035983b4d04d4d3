package bufmgr

// intentlog.go implements the per-transaction intent log: once a
// reference is logged, the caches no longer own its frame, and closing
// it is unambiguously the log's responsibility.

import (
	"sync"

	"github.com/kvtree/bufmgr/internal/frame"
)

// PageContainer pairs a transaction's complete and modified sides of one
// logged page. Modified is nil until the transaction actually mutates the
// page; Complete is always present.
type PageContainer struct {
	Complete *frame.Frame
	Modified *frame.Frame
}

// TransactionIntentLog is the append-only, per-transaction log that
// adopts frame ownership away from the caches.
type TransactionIntentLog struct {
	mgr *BufferManager

	mu      sync.Mutex
	entries []PageContainer
	closed  bool
}

func newTransactionIntentLog(mgr *BufferManager) *TransactionIntentLog {
	return &TransactionIntentLog{mgr: mgr}
}

// Put adopts ref's frame into the log: it is first removed from every
// cache that might hold it (record, fragment, generic, and each of ref's
// fragment descriptors from the fragment cache), then the reference's key
// and page slot are cleared and stamped with its new log-key index, and
// finally container is appended.
func (l *TransactionIntentLog) Put(ref *PageReference, container PageContainer) {
	l.mgr.recordPages.Remove(ref)
	l.mgr.fragmentPages.Remove(ref)
	l.mgr.genericPages.Remove(GenericPageKey{
		DatabaseID: ref.DatabaseID(), ResourceID: ref.ResourceID(), Key: ref.Key(),
	})
	for _, fd := range ref.Fragments() {
		l.mgr.fragmentPages.RemoveKey(RecordPageKey{
			DatabaseID: fd.DatabaseID, ResourceID: fd.ResourceID, Key: fd.Key,
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ref.ClearKey()
	ref.ClearPage()
	idx := int32(len(l.entries))
	ref.SetLogKey(idx)
	l.entries = append(l.entries, container)
}

// Get returns the container previously logged for ref, or false if ref
// was never logged in this log (its log-key is not a valid index within
// this log).
func (l *TransactionIntentLog) Get(ref *PageReference) (PageContainer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := ref.LogKey()
	if idx < 0 || int(idx) >= len(l.entries) {
		return PageContainer{}, false
	}
	return l.entries[idx], true
}

// Clear force-drains every cache's deferred removal queue, then closes
// every distinct frame held by the log's entries, and empties the log.
// The pre-drain step avoids a close racing an in-flight asynchronous
// removal callback for the same frame.
func (l *TransactionIntentLog) Clear() {
	l.mgr.drainAllCaches()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeEntriesLocked()
	l.entries = nil
}

// Close is Clear plus marking the log closed: afterward the log is
// empty and its entries slice is reset.
func (l *TransactionIntentLog) Close() {
	l.mgr.drainAllCaches()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeEntriesLocked()
	l.entries = nil
	l.closed = true
}

func (l *TransactionIntentLog) closeEntriesLocked() {
	seen := make(map[*frame.Frame]bool, len(l.entries)*2)
	for _, c := range l.entries {
		if c.Complete != nil && !seen[c.Complete] {
			seen[c.Complete] = true
			c.Complete.Close()
		}
		if c.Modified != nil && !seen[c.Modified] {
			seen[c.Modified] = true
			c.Modified.Close()
		}
	}
}
