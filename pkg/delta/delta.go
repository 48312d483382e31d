// Package delta implements the composition/diff algebra and the Snapshot
// materialization it produces. It is pure and deterministic: nothing here
// touches disk or a clock.
package delta

import (
	"context"
	"sort"

	"github.com/quietloom/revstore/pkg/errors"
	"github.com/quietloom/revstore/pkg/ids"
	"github.com/quietloom/revstore/pkg/ops"
)

// Delta is an ordered sequence of operations, the transformation carried
// by a revision.
type Delta struct {
	Ops []ops.Operation
}

// New builds a Delta from a (possibly empty) list of operations, copying
// the slice so the caller's backing array can't be mutated out from under
// the result.
func New(opList ...ops.Operation) Delta {
	cp := make([]ops.Operation, len(opList))
	copy(cp, opList)
	return Delta{Ops: cp}
}

// IsEmpty reports whether d has zero operations.
func (d Delta) IsEmpty() bool { return len(d.Ops) == 0 }

// IsDocument reports whether every op in d is a writing op with no storage
// ID written twice, the only shape that can seed a Snapshot.
func (d Delta) IsDocument() bool {
	seen := make(map[ops.StorageID]struct{}, len(d.Ops))
	for _, op := range d.Ops {
		if !op.Code.IsWriting() {
			return false
		}
		id, ok := op.ID()
		if !ok {
			return false
		}
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

// entry tracks one surviving binding (write) or one surviving single-ID
// deletion (pointDelete) during composition, along with the sequence number
// of the event that last touched it, used to reproduce a stable emission
// order in the non-document result.
type entry struct {
	op  ops.Operation
	seq int
}

// foldState is the composition accumulator: a running set of surviving
// writes, a running set of surviving single-ID deletions (retained only
// for the non-document result, so it can be composed further), and the
// ordered list of still-relevant blanket resets (deleteAll /
// deletePathPrefix / deletePathRange).
type foldState struct {
	writes       map[ops.StorageID]entry
	pointDeletes map[ops.StorageID]entry
	blanket      []ops.Operation
	seq          int
}

func newFoldState() *foldState {
	return &foldState{
		writes:       make(map[ops.StorageID]entry),
		pointDeletes: make(map[ops.StorageID]entry),
	}
}

func (f *foldState) apply(op ops.Operation) {
	f.seq++
	switch op.Code {
	case ops.DeleteAll:
		f.writes = make(map[ops.StorageID]entry)
		f.pointDeletes = make(map[ops.StorageID]entry)
		f.blanket = []ops.Operation{op}

	case ops.DeleteBlob:
		id := ops.HashID(op.Hash)
		delete(f.writes, id)
		f.pointDeletes[id] = entry{op: op, seq: f.seq}

	case ops.DeletePath:
		id := ops.PathID(op.Path)
		delete(f.writes, id)
		f.pointDeletes[id] = entry{op: op, seq: f.seq}

	case ops.DeletePathPrefix:
		f.purgePrefix(op.Path)
		f.blanket = append(f.blanket, op)

	case ops.DeletePathRange:
		f.purgeRange(op.Path, op.RangeStart, op.RangeEnd)
		f.blanket = append(f.blanket, op)

	case ops.WriteBlob, ops.WritePath:
		id, _ := op.ID()
		delete(f.pointDeletes, id)
		f.writes[id] = entry{op: op, seq: f.seq}
	}
}

func (f *foldState) purgePrefix(prefix string) {
	for id := range f.writes {
		if id.Kind == ops.KindPath && ids.EqualOrPrefix(prefix, id.Path) {
			delete(f.writes, id)
		}
	}
	for id := range f.pointDeletes {
		if id.Kind == ops.KindPath && ids.EqualOrPrefix(prefix, id.Path) {
			delete(f.pointDeletes, id)
		}
	}
}

func (f *foldState) purgeRange(prefix string, start, end int64) {
	for id := range f.writes {
		if id.Kind == ops.KindPath && ids.PathInRange(prefix, id.Path, start, end) {
			delete(f.writes, id)
		}
	}
	for id := range f.pointDeletes {
		if id.Kind == ops.KindPath && ids.PathInRange(prefix, id.Path, start, end) {
			delete(f.pointDeletes, id)
		}
	}
}

// result renders the accumulator into the final Delta. wantDocument==true
// emits writes only (deletions were executed, not emitted); otherwise it
// emits blanket resets first (so a later write they don't shadow still
// survives re-application), then every surviving write/point-delete in the
// chronological order it was last touched.
func (f *foldState) result(wantDocument bool) Delta {
	if wantDocument {
		out := make([]ops.Operation, 0, len(f.writes))
		type indexed struct {
			op  ops.Operation
			seq int
		}
		tmp := make([]indexed, 0, len(f.writes))
		for _, e := range f.writes {
			tmp = append(tmp, indexed{op: e.op, seq: e.seq})
		}
		sort.Slice(tmp, func(i, j int) bool { return tmp[i].seq < tmp[j].seq })
		for _, e := range tmp {
			out = append(out, e.op)
		}
		return Delta{Ops: out}
	}

	type indexed struct {
		op  ops.Operation
		seq int
	}
	rest := make([]indexed, 0, len(f.writes)+len(f.pointDeletes))
	for _, e := range f.writes {
		rest = append(rest, indexed{op: e.op, seq: e.seq})
	}
	for _, e := range f.pointDeletes {
		rest = append(rest, indexed{op: e.op, seq: e.seq})
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].seq < rest[j].seq })

	out := make([]ops.Operation, 0, len(f.blanket)+len(rest))
	out = append(out, f.blanket...)
	for _, e := range rest {
		out = append(out, e.op)
	}
	return Delta{Ops: out}
}

// Compose returns a delta whose application equals applying a then b.
//
// wantDocument==false keeps deletion ops in the result so it can be
// composed further. wantDocument==true requires a to already be a document
// delta and returns badUse otherwise; the result is itself a document.
// Deletions from b are executed against the accumulator but not emitted.
func Compose(a, b Delta, wantDocument bool) (Delta, error) {
	if wantDocument && !a.IsDocument() {
		return Delta{}, errors.NewBadUse("compose", "receiver delta is not a document; cannot compose in document shape")
	}

	st := newFoldState()
	for _, op := range a.Ops {
		st.apply(op)
	}
	for _, op := range b.Ops {
		st.apply(op)
	}
	return st.result(wantDocument), nil
}

// YieldFunc is called between composition batches in ComposeAll, giving the
// caller's scheduler a chance to run other work. startIdx/endIdx are the
// (inclusive, exclusive) indices of deltas just folded.
type YieldFunc func(ctx context.Context, startIdx, endIdx int) error

// ComposeAll folds deltas left to right exactly as repeated calls to
// Compose would (deltas[0] is the seed, like a reduce with no separate
// identity element), calling yield after each batch. Batches end on delta
// boundaries: a batch closes once the operations folded since the last
// yield reach maxAtomic, so a batch can exceed maxAtomic by up to one
// delta's worth of operations; deltas are never split. The
// result does not depend on maxAtomic or on how yield behaves, only on
// whether yield returns an error (which aborts the fold).
func ComposeAll(ctx context.Context, deltas []Delta, wantDocument bool, maxAtomic int, yield YieldFunc) (Delta, error) {
	if len(deltas) == 0 {
		return Delta{}, nil
	}
	if maxAtomic <= 0 {
		maxAtomic = 1
	}

	acc := deltas[0]
	if wantDocument && !acc.IsDocument() {
		return Delta{}, errors.NewBadUse("composeAll", "seed delta is not a document; cannot compose in document shape")
	}

	batchStart := 0
	opsInBatch := len(acc.Ops)
	i := 1
	for i < len(deltas) {
		composed, err := Compose(acc, deltas[i], wantDocument)
		if err != nil {
			return Delta{}, err
		}
		acc = composed
		opsInBatch += len(deltas[i].Ops)
		i++

		if opsInBatch >= maxAtomic || i == len(deltas) {
			if yield != nil {
				if err := yield(ctx, batchStart, i); err != nil {
					return Delta{}, err
				}
			}
			batchStart = i
			opsInBatch = 0
		}
	}
	return acc, nil
}
