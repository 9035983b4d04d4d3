package rbtree

import (
	"math/rand"
	"sort"
	"testing"
)

func lessInt(a, b int) bool { return a < b }

func TestUpsertFindDelete(t *testing.T) {
	tr := New[int, string](lessInt)

	values := map[int]string{1: "a", 5: "b", 3: "c", 9: "d", 2: "e"}
	for k, v := range values {
		tr.Upsert(k, v)
	}
	if tr.Len() != len(values) {
		t.Fatalf("Len() = %d, want %d", tr.Len(), len(values))
	}

	for k, v := range values {
		n, ok := tr.Find(k)
		if !ok || n.Value() != v {
			t.Fatalf("Find(%d) = (%v, %v), want (%v, true)", k, n, ok, v)
		}
	}

	n3, _ := tr.Find(3)
	parentBefore := n3.Parent()
	_ = parentBefore
	tr.Delete(n3)
	if tr.Len() != len(values)-1 {
		t.Fatalf("Len() after delete = %d, want %d", tr.Len(), len(values)-1)
	}
	if _, ok := tr.Find(3); ok {
		t.Fatal("Find(3) should fail after delete")
	}
}

func TestRandomizedAgainstSortedOracle(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tr := New[int, int](lessInt)
	present := map[int]bool{}

	for i := 0; i < 2000; i++ {
		k := rng.Intn(500)
		if rng.Intn(3) == 0 && present[k] {
			n, ok := tr.Find(k)
			if !ok {
				t.Fatalf("expected to find %d", k)
			}
			tr.Delete(n)
			delete(present, k)
		} else {
			tr.Upsert(k, k*2)
			present[k] = true
		}
	}

	if tr.Len() != len(present) {
		t.Fatalf("Len() = %d, want %d", tr.Len(), len(present))
	}

	var want []int
	for k := range present {
		want = append(want, k)
	}
	sort.Ints(want)
	for _, k := range want {
		n, ok := tr.Find(k)
		if !ok || n.Value() != k*2 {
			t.Fatalf("Find(%d) = (%v, %v), want (%d, true)", k, n, ok, k*2)
		}
	}
}

func TestUnlinkFromParentSlot(t *testing.T) {
	tr := New[int, int](lessInt)
	for _, k := range []int{10, 5, 15, 3, 7} {
		tr.Upsert(k, k)
	}
	n, _ := tr.Find(7)
	p := n.Parent()
	if p == nil {
		t.Fatal("node 7 should have a parent")
	}
	tr.Delete(n)
	// Parent's child slot must no longer point at the deleted node.
	if pn, ok := tr.Find(p.Key()); ok {
		if pn.left == n || pn.right == n {
			t.Fatal("parent should not reference deleted node")
		}
	}
	if _, ok := tr.Find(7); ok {
		t.Fatal("7 should be gone")
	}
}
