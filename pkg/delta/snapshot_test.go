package delta

import (
	"testing"

	"github.com/quietloom/revstore/pkg/errors"
	"github.com/quietloom/revstore/pkg/ops"
)

func TestNewSnapshot_RejectsNonDocument(t *testing.T) {
	del, _ := ops.NewDeletePath("/a")
	if _, err := NewSnapshot(1, New(del)); !errors.Is(err, errors.ErrBadUse) {
		t.Fatalf("expected badUse, got %v", err)
	}
}

func TestSnapshot_GetAndEqual(t *testing.T) {
	d := New(mustWritePath(t, "/a", "1"), mustWritePath(t, "/b", "2"))
	s1, err := NewSnapshot(7, d)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	s2, err := NewSnapshot(7, d)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	if !s1.Equal(s2) {
		t.Fatalf("snapshots built from the same delta/revNum should be equal")
	}

	v, ok := s1.GetPath("/a")
	if !ok || string(v) != "1" {
		t.Fatalf("expected /a == 1, got %q ok=%v", v, ok)
	}
	if _, ok := s1.GetPath("/missing"); ok {
		t.Fatalf("expected /missing to be unbound")
	}
}

func TestSnapshot_Equal_DiffersOnRevNum(t *testing.T) {
	d := New(mustWritePath(t, "/a", "1"))
	s1, _ := NewSnapshot(1, d)
	s2, _ := NewSnapshot(2, d)
	if s1.Equal(s2) {
		t.Fatalf("snapshots at different revNums should not be equal")
	}
}

func TestSnapshot_ToDelta_IsDeterministic(t *testing.T) {
	d := New(mustWritePath(t, "/z", "1"), mustWritePath(t, "/a", "2"))
	snap, err := NewSnapshot(1, d)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	rendered := snap.ToDelta()
	if len(rendered.Ops) != 2 {
		t.Fatalf("expected 2 ops, got %d", len(rendered.Ops))
	}
	if rendered.Ops[0].Path != "/a" || rendered.Ops[1].Path != "/z" {
		t.Fatalf("expected sorted-by-ID order, got %+v", rendered.Ops)
	}

	// Re-rendering an equivalent snapshot (same bindings, built in a
	// different op order) must produce byte-identical ops.
	d2 := New(mustWritePath(t, "/a", "2"), mustWritePath(t, "/z", "1"))
	snap2, err := NewSnapshot(1, d2)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	rendered2 := snap2.ToDelta()
	for i := range rendered.Ops {
		if !rendered.Ops[i].Equal(rendered2.Ops[i]) {
			t.Fatalf("expected deterministic rendering regardless of build order")
		}
	}
}

func TestDiff_WritesChangedAndAdded(t *testing.T) {
	oldSnap, _ := NewSnapshot(1, New(mustWritePath(t, "/a", "1"), mustWritePath(t, "/b", "1")))
	newSnap, _ := NewSnapshot(2, New(mustWritePath(t, "/a", "1"), mustWritePath(t, "/b", "2"), mustWritePath(t, "/c", "1")))

	d := Diff(oldSnap, newSnap)
	var wrotePaths []string
	for _, op := range d.Ops {
		if op.Code == ops.WritePath {
			wrotePaths = append(wrotePaths, op.Path)
		}
	}
	if len(wrotePaths) != 2 || wrotePaths[0] != "/b" || wrotePaths[1] != "/c" {
		t.Fatalf("expected writes for changed /b and added /c, got %+v", wrotePaths)
	}
}

func TestDiff_DeletesRemoved(t *testing.T) {
	oldSnap, _ := NewSnapshot(1, New(mustWritePath(t, "/a", "1"), mustWritePath(t, "/b", "1")))
	newSnap, _ := NewSnapshot(2, New(mustWritePath(t, "/a", "1")))

	d := Diff(oldSnap, newSnap)
	if len(d.Ops) != 1 || d.Ops[0].Code != ops.DeletePath || d.Ops[0].Path != "/b" {
		t.Fatalf("expected a single deletePath(/b), got %+v", d.Ops)
	}
}

func TestDiff_ReflexiveIsEmpty(t *testing.T) {
	snap, _ := NewSnapshot(1, New(mustWritePath(t, "/a", "1")))
	d, empty := DiffSnapshots(snap, snap)
	if !empty || !d.IsEmpty() {
		t.Fatalf("diffing a snapshot against itself should be empty")
	}
}

func TestSnapshot_GetPathRange_SelectsOnlyInRangeLeaves(t *testing.T) {
	d := New(
		mustWritePath(t, "/x/0", "a"),
		mustWritePath(t, "/x/1", "b"),
		mustWritePath(t, "/x/15", "c"),
		mustWritePath(t, "/x/16", "d"),
	)
	snap, err := NewSnapshot(1, d)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}

	got, err := snap.GetPathRange("/x", 2, 16)
	if err != nil {
		t.Fatalf("GetPathRange: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly /x/15 in range [2,16), got %+v", got)
	}
	if v, ok := got["/x/15"]; !ok || string(v) != "c" {
		t.Fatalf("expected /x/15 == c, got %q ok=%v", v, ok)
	}
}

func TestSnapshot_GetPathRange_RejectsEmptyRange(t *testing.T) {
	snap, _ := NewSnapshot(1, New(mustWritePath(t, "/x/0", "a")))
	if _, err := snap.GetPathRange("/x", 5, 5); !errors.Is(err, errors.ErrBadValue) {
		t.Fatalf("expected badValue for start == end, got %v", err)
	}
}

func TestSnapshot_GetPathRange_IgnoresLeadingZeroLeaves(t *testing.T) {
	d := New(mustWritePath(t, "/x/00", "a"), mustWritePath(t, "/x/1", "b"))
	snap, _ := NewSnapshot(1, d)

	got, err := snap.GetPathRange("/x", 0, 10)
	if err != nil {
		t.Fatalf("GetPathRange: %v", err)
	}
	if _, ok := got["/x/00"]; ok {
		t.Fatalf("expected /x/00 (leading zero) to be excluded from range matching")
	}
	if _, ok := got["/x/1"]; !ok {
		t.Fatalf("expected /x/1 to be included")
	}
}

func TestDiff_BlobBindings(t *testing.T) {
	oldSnap, _ := NewSnapshot(1, New(ops.NewWriteBlob([]byte("payload"))))
	newSnap, _ := NewSnapshot(2, New()) // blob removed entirely

	d := Diff(oldSnap, newSnap)
	if len(d.Ops) != 1 || d.Ops[0].Code != ops.DeleteBlob {
		t.Fatalf("expected a single deleteBlob, got %+v", d.Ops)
	}
}
