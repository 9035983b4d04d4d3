package bufmgr

import (
	"testing"

	"github.com/kvtree/bufmgr/internal/frame"
)

func newTestManager(t *testing.T, budget int64) *BufferManager {
	t.Helper()
	m, err := New(WithPhysicalBudget(budget), WithPageShards(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func putRecordFrame(t *testing.T, m *BufferManager, db, res, key int64) (*PageReference, *frame.Frame) {
	t.Helper()
	seg, err := m.Allocator().Allocate(4096)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	fr := frame.New(m.Allocator(), seg, nil)
	fr.DatabaseID, fr.ResourceID, fr.PageKey = db, res, key
	ref := NewPageReference(db, res, key)
	m.RecordPages().Put(ref, fr)
	return ref, fr
}

func TestBufferManagerTILAdoption(t *testing.T) {
	m := newTestManager(t, 16<<20)
	ref, fr := putRecordFrame(t, m, 1, 1, 100)

	log := m.NewIntentLog()
	log.Put(ref, PageContainer{Complete: fr})

	if _, ok := m.RecordPages().Get(ref); ok {
		t.Fatal("expected record cache to no longer map the logged reference")
	}
	if _, ok := m.FragmentPages().Get(ref); ok {
		t.Fatal("expected fragment cache to not map the logged reference")
	}
	if _, ok := m.GenericPages().Get(GenericPageKey{DatabaseID: 1, ResourceID: 1, Key: 100}); ok {
		t.Fatal("expected generic cache to not map the logged reference")
	}

	got, ok := log.Get(ref)
	if !ok || got.Complete != fr {
		t.Fatal("expected TIL.Get to return the logged container")
	}

	log.Close()
	if !fr.IsClosed() {
		t.Fatal("expected the complete-side frame to be closed after TIL.Close")
	}
}

func TestBufferManagerClearForResourceIsScoped(t *testing.T) {
	m := newTestManager(t, 64<<20)

	var scoped, other []*frame.Frame
	for db := int64(1); db <= 2; db++ {
		for res := int64(10); res <= 20; res += 10 {
			for i := int64(0); i < 25; i++ {
				_, fr := putRecordFrame(t, m, db, res, i)
				if db == 1 && res == 20 {
					scoped = append(scoped, fr)
				} else {
					other = append(other, fr)
				}
			}
		}
	}

	m.ClearForResource(1, 20)

	for _, fr := range scoped {
		if !fr.IsClosed() {
			t.Fatal("expected every frame in (1,20) to be closed")
		}
	}
	for _, fr := range other {
		if fr.IsClosed() {
			t.Fatal("expected frames outside (1,20) to survive")
		}
	}
}

func TestBufferManagerOutOfMemoryThenRecovers(t *testing.T) {
	m := newTestManager(t, 4096)

	seg1, err := m.Allocator().Allocate(4096)
	if err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	if _, err := m.Allocator().Allocate(4096); err == nil {
		t.Fatal("expected OutOfMemory on second allocate")
	}
	m.Allocator().Release(seg1)
	if _, err := m.Allocator().Allocate(4096); err != nil {
		t.Fatalf("expected allocate to succeed after release, got %v", err)
	}
}

func TestBufferManagerCloseClosesEverything(t *testing.T) {
	m, err := New(WithPhysicalBudget(16 << 20))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, fr := putRecordFrame(t, m, 1, 1, 1)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fr.IsClosed() {
		t.Fatal("expected Close to close every remaining frame")
	}
}
