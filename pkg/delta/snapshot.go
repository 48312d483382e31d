package delta

import (
	"bytes"
	"sort"

	"github.com/quietloom/revstore/pkg/errors"
	"github.com/quietloom/revstore/pkg/ids"
	"github.com/quietloom/revstore/pkg/ops"
)

// Snapshot is the materialized state of a file at a specific revision: a
// finite mapping from storage ID to its bound buffer. Snapshots are
// immutable; construct one from a document delta via NewSnapshot.
type Snapshot struct {
	RevNum   int64
	Bindings map[ops.StorageID][]byte
}

// NewSnapshot validates that d is a document delta and populates the
// ID->value map from its write operations.
func NewSnapshot(revNum int64, d Delta) (Snapshot, error) {
	if !d.IsDocument() {
		return Snapshot{}, errors.NewBadUse("newSnapshot", "delta is not a document; cannot materialize a snapshot from it")
	}
	bindings := make(map[ops.StorageID][]byte, len(d.Ops))
	for _, op := range d.Ops {
		id, _ := op.ID()
		bindings[id] = op.Buffer
	}
	return Snapshot{RevNum: revNum, Bindings: bindings}, nil
}

// Get returns the buffer bound to id, and whether it is bound at all.
func (s Snapshot) Get(id ops.StorageID) ([]byte, bool) {
	b, ok := s.Bindings[id]
	return b, ok
}

// GetPath is a convenience wrapper for the common case of a path lookup.
func (s Snapshot) GetPath(path string) ([]byte, bool) {
	return s.Get(ops.PathID(path))
}

// GetPathRange returns the bindings for prefix/<k>, start <= k < end, keyed
// by their full path. start must be strictly less than end; decimal leaf
// names with leading zeros other than the literal "0" are not matched,
// mirroring ids.LeafInt's parsing rule.
func (s Snapshot) GetPathRange(prefix string, start, end int64) (map[string][]byte, error) {
	if start >= end {
		return nil, errors.NewBadValuef("range", "start (%d) must be < end (%d)", start, end)
	}
	out := make(map[string][]byte)
	for id, buf := range s.Bindings {
		if id.Kind != ops.KindPath {
			continue
		}
		if ids.PathInRange(prefix, id.Path, start, end) {
			out[id.Path] = buf
		}
	}
	return out, nil
}

// Equal reports whether two snapshots have the same revision number and
// identical bindings.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.RevNum != other.RevNum || len(s.Bindings) != len(other.Bindings) {
		return false
	}
	for id, v := range s.Bindings {
		ov, ok := other.Bindings[id]
		if !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}

func (s Snapshot) sortedIDs() []ops.StorageID {
	out := make([]ops.StorageID, 0, len(s.Bindings))
	for id := range s.Bindings {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ToDelta renders the snapshot's canonical serialization: a document delta
// whose ops enumerate its bindings, in a deterministic (sorted-by-ID) order
// so that two equal snapshots always produce byte-identical deltas once
// encoded.
func (s Snapshot) ToDelta() Delta {
	out := make([]ops.Operation, 0, len(s.Bindings))
	for _, id := range s.sortedIDs() {
		buf := s.Bindings[id]
		if id.Kind == ops.KindPath {
			op, _ := ops.NewWritePath(id.Path, buf)
			out = append(out, op)
		} else {
			out = append(out, ops.NewWriteBlob(buf))
		}
	}
	return Delta{Ops: out}
}

// Diff returns a delta that transforms old into new: writing ops for every
// ID whose binding differs (present in new and either absent from old or
// bound to a different value) and deletion ops for every ID bound in old
// but absent from new.
func Diff(oldSnap, newSnap Snapshot) Delta {
	ids := make(map[ops.StorageID]struct{}, len(oldSnap.Bindings)+len(newSnap.Bindings))
	for id := range oldSnap.Bindings {
		ids[id] = struct{}{}
	}
	for id := range newSnap.Bindings {
		ids[id] = struct{}{}
	}
	sorted := make([]ops.StorageID, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	out := make([]ops.Operation, 0, len(sorted))
	for _, id := range sorted {
		newVal, inNew := newSnap.Bindings[id]
		oldVal, inOld := oldSnap.Bindings[id]

		switch {
		case inNew && (!inOld || !bytes.Equal(newVal, oldVal)):
			if id.Kind == ops.KindPath {
				op, _ := ops.NewWritePath(id.Path, newVal)
				out = append(out, op)
			} else {
				out = append(out, ops.NewWriteBlob(newVal))
			}
		case !inNew && inOld:
			if id.Kind == ops.KindPath {
				op, _ := ops.NewDeletePath(id.Path)
				out = append(out, op)
			} else {
				op, _ := ops.NewDeleteBlob(id.Hash)
				out = append(out, op)
			}
		}
	}
	return Delta{Ops: out}
}

// DiffSnapshots is Diff plus the isEmpty check bundled in one call, so a
// caller polling "anything new since my last known snapshot" can skip a
// round trip when the two snapshots already match.
func DiffSnapshots(oldSnap, newSnap Snapshot) (Delta, bool) {
	d := Diff(oldSnap, newSnap)
	return d, d.IsEmpty()
}
