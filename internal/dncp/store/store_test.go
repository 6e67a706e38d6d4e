package store

import (
	"testing"
	"time"

	"github.com/anvil-networks/hncpd/internal/dncp/tlv"
)

type recordingListener struct {
	added, removed, updated []string
}

func (l *recordingListener) Added(n *Node)   { l.added = append(l.added, n.Identifier.String()) }
func (l *recordingListener) Removed(n *Node) { l.removed = append(l.removed, n.Identifier.String()) }
func (l *recordingListener) Updated(n *Node) { l.updated = append(l.updated, n.Identifier.String()) }

func TestNodeStoreUpsertNew(t *testing.T) {
	s := New()
	var l recordingListener
	s.Subscribe(&l)

	node, changed, collided := s.Upsert(NodeIdentifier("node-a"), 1, time.Unix(0, 0), []byte("c1"))
	if !changed || collided {
		t.Fatalf("expected changed=true collided=false, got changed=%v collided=%v", changed, collided)
	}
	if node.UpdateNumber != 1 {
		t.Fatalf("UpdateNumber = %d, want 1", node.UpdateNumber)
	}
	if len(l.added) != 1 || l.added[0] != "node-a" {
		t.Fatalf("expected one Added callback for node-a, got %v", l.added)
	}
}

func TestNodeStoreUpsertNewerWins(t *testing.T) {
	s := New()
	s.Upsert(NodeIdentifier("a"), 1, time.Unix(0, 0), []byte("c1"))
	node, changed, collided := s.Upsert(NodeIdentifier("a"), 2, time.Unix(1, 0), []byte("c2"))
	if !changed || collided {
		t.Fatalf("expected changed=true collided=false, got changed=%v collided=%v", changed, collided)
	}
	if node.UpdateNumber != 2 || string(node.Container) != "c2" {
		t.Fatalf("node not updated: %+v", node)
	}
}

func TestNodeStoreUpsertStaleIgnored(t *testing.T) {
	s := New()
	s.Upsert(NodeIdentifier("a"), 5, time.Unix(0, 0), []byte("c5"))
	node, changed, collided := s.Upsert(NodeIdentifier("a"), 3, time.Unix(1, 0), []byte("c3"))
	if changed || collided {
		t.Fatalf("stale update should be ignored, got changed=%v collided=%v", changed, collided)
	}
	if node.UpdateNumber != 5 {
		t.Fatalf("stale update must not overwrite, got UpdateNumber=%d", node.UpdateNumber)
	}
}

func TestNodeStoreUpsertSameNumberDifferentContainerCollides(t *testing.T) {
	s := New()
	s.Upsert(NodeIdentifier("a"), 1, time.Unix(0, 0), []byte("c1"))
	_, changed, collided := s.Upsert(NodeIdentifier("a"), 1, time.Unix(0, 0), []byte("different"))
	if changed || !collided {
		t.Fatalf("equal update number with differing payload must collide, got changed=%v collided=%v", changed, collided)
	}
}

func TestNodeStoreUpsertSameNumberSameContainerNoop(t *testing.T) {
	s := New()
	s.Upsert(NodeIdentifier("a"), 1, time.Unix(0, 0), []byte("c1"))
	_, changed, collided := s.Upsert(NodeIdentifier("a"), 1, time.Unix(0, 0), []byte("c1"))
	if changed || collided {
		t.Fatal("identical re-upsert must be a no-op")
	}
}

func TestNodeStoreRemoveFiresListener(t *testing.T) {
	s := New()
	var l recordingListener
	s.Subscribe(&l)
	s.Upsert(NodeIdentifier("a"), 1, time.Unix(0, 0), []byte("c1"))
	s.Remove(NodeIdentifier("a"))
	if len(l.removed) != 1 || l.removed[0] != "a" {
		t.Fatalf("expected Removed callback for a, got %v", l.removed)
	}
	if _, ok := s.Find(NodeIdentifier("a")); ok {
		t.Fatal("node should be gone after Remove")
	}
}

func TestNodeStoreAllOrderedByIdentifier(t *testing.T) {
	s := New()
	s.Upsert(NodeIdentifier("charlie"), 1, time.Unix(0, 0), nil)
	s.Upsert(NodeIdentifier("alpha"), 1, time.Unix(0, 0), nil)
	s.Upsert(NodeIdentifier("bravo"), 1, time.Unix(0, 0), nil)

	all := s.All()
	if len(all) != 3 {
		t.Fatalf("got %d nodes, want 3", len(all))
	}
	want := []string{"alpha", "bravo", "charlie"}
	for i, n := range all {
		if n.Identifier.String() != want[i] {
			t.Errorf("all[%d] = %q, want %q", i, n.Identifier, want[i])
		}
	}
}

func TestNodeHashStableUntilContainerChanges(t *testing.T) {
	s := New()
	node, _, _ := s.Upsert(NodeIdentifier("a"), 1, time.Unix(0, 0), []byte("c1"))
	h1 := node.Hash()
	h2 := node.Hash()
	if h1 != h2 {
		t.Fatal("hash should be stable across calls with no mutation")
	}
	s.Upsert(NodeIdentifier("a"), 2, time.Unix(0, 0), []byte("c2"))
	h3 := node.Hash()
	if h3 == h1 {
		t.Fatal("hash should change once container changes")
	}
}

func TestLocalTLVStoreAddRejectsDuplicates(t *testing.T) {
	s := NewLocalTLVStore()
	r := tlv.Record{Type: 1, Body: []byte("x")}
	if !s.Add(r) {
		t.Fatal("first Add should succeed")
	}
	if s.Add(r) {
		t.Fatal("duplicate Add should be rejected")
	}
	if !s.Dirty() {
		t.Fatal("store should be dirty after first Add")
	}
}

func TestLocalTLVStoreRemoveAndSorted(t *testing.T) {
	s := NewLocalTLVStore()
	s.Add(tlv.Record{Type: 5, Body: []byte("b")})
	s.Add(tlv.Record{Type: 1, Body: []byte("z")})
	s.Add(tlv.Record{Type: 1, Body: []byte("a")})
	s.Clean()

	sorted := s.Sorted()
	if sorted[0].Type != 1 || string(sorted[0].Body) != "a" {
		t.Fatalf("unexpected sort order: %+v", sorted)
	}

	if !s.Remove(tlv.Record{Type: 5, Body: []byte("b")}) {
		t.Fatal("Remove of existing record should succeed")
	}
	if !s.Dirty() {
		t.Fatal("store should be dirty after Remove")
	}
	if len(s.Sorted()) != 2 {
		t.Fatalf("expected 2 records remaining, got %d", len(s.Sorted()))
	}
}
