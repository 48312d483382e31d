// Package file implements one logical file's revision log: an ordered
// sequence of revisions, append-race arbitration, a replaceable-future
// snapshot cache, and an edge-triggered change condition.
package file

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/quietloom/revstore/pkg/delta"
	"github.com/quietloom/revstore/pkg/errors"
	"github.com/quietloom/revstore/pkg/ids"
	"github.com/quietloom/revstore/pkg/revision"
)

// maxAtomicBatch and yieldDelay tune composeAll: a bounded atomic batch size
// of ~1000 ops and a ~10ms yield interval between batches.
const (
	maxAtomicBatch = 1000
	yieldDelay     = 10 * time.Millisecond
)

// Limits bounds the timeoutMs argument accepted by every waiting method.
type Limits struct {
	MinTimeoutMs int64
	MaxTimeoutMs int64
}

// DefaultLimits gives a null/missing max timeout a one-day default; no
// floor is imposed below that other than zero.
func DefaultLimits() Limits {
	return Limits{MinTimeoutMs: 0, MaxTimeoutMs: int64(24 * time.Hour / time.Millisecond)}
}

func clampTimeout(ms *int64, limits Limits) (time.Duration, error) {
	if ms == nil {
		return time.Duration(limits.MaxTimeoutMs) * time.Millisecond, nil
	}
	v := *ms
	if v < 0 {
		return 0, errors.NewBadValuef("timeoutMs", "%d must be non-negative", v)
	}
	if v < limits.MinTimeoutMs {
		v = limits.MinTimeoutMs
	}
	if v > limits.MaxTimeoutMs {
		v = limits.MaxTimeoutMs
	}
	return time.Duration(v) * time.Millisecond, nil
}

// Persister is the write-behind persistence seam a File drives. pkg/persist
// supplies the real implementation; tests may pass nil for a pure in-memory
// File.
type Persister interface {
	Create() error
	Append(rev revision.Revision) error
	Delete() error
	Recover() ([]revision.Revision, error)
}

// State is a file's lifecycle state.
type State int

const (
	Absent State = iota
	Present
	Deleting
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Present:
		return "present"
	case Deleting:
		return "deleting"
	default:
		return "unknown"
	}
}

// changeCond is an edge-triggered condition: steady state idle, flipped to
// armed by a waiter, and broadcast back to idle (waking every armed waiter)
// by any mutation. A waiter must call arm before it evaluates the predicate
// it's waiting on, then block on the channel arm returned, not a freshly
// fetched one. Otherwise a notify landing between the predicate check and
// the block is missed and the waiter sleeps the full timeout for nothing.
type changeCond struct {
	mu   sync.Mutex
	ch   chan struct{}
	idle bool
}

func newChangeCond() *changeCond {
	return &changeCond{ch: make(chan struct{}), idle: true}
}

// notify wakes every armed waiter and returns the condition to idle.
func (c *changeCond) notify() {
	c.mu.Lock()
	if c.idle {
		c.mu.Unlock()
		return
	}
	old := c.ch
	c.ch = make(chan struct{})
	c.idle = true
	c.mu.Unlock()
	close(old)
}

// arm marks the condition armed and returns the channel the next notify
// will close. Call this before reading the state the caller is about to
// wait on, so a concurrent notify can't slip through unobserved.
func (c *changeCond) arm() <-chan struct{} {
	c.mu.Lock()
	c.idle = false
	ch := c.ch
	c.mu.Unlock()
	return ch
}

// wait blocks on ch (as returned by a prior arm call) until it closes or
// ctx is done.
func (c *changeCond) wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SnapshotCache optionally memoizes materialized snapshots outside the
// single-slot in-memory cache below, so a lookup for a revision older than
// the in-memory tip can be served without recomposing from scratch. A File
// with no SnapshotCache set still answers every GetSnapshot call correctly;
// the cache only changes how much work a miss costs.
type SnapshotCache interface {
	Get(fileID string, revNum int64) (delta.Snapshot, bool, error)
	Put(fileID string, snap delta.Snapshot) error
}

// File is one logical file's revision log, append-race state, and cached
// tip snapshot.
type File struct {
	id        string
	persist   Persister
	limits    Limits
	cond      *changeCond
	snapcache SnapshotCache

	mu        sync.Mutex
	state     State
	revisions []revision.Revision

	snapMu      sync.Mutex
	snapHas     bool
	snapSnap    delta.Snapshot
	snapPending chan struct{}
}

// New constructs a File backed by persister (nil for a pure in-memory
// instance), initially absent.
func New(id string, persister Persister, limits Limits) *File {
	return &File{id: id, persist: persister, limits: limits, cond: newChangeCond()}
}

// SetSnapshotCache attaches an optional durable snapshot memoization cache.
// Nil (the default) disables memoization.
func (f *File) SetSnapshotCache(c SnapshotCache) {
	f.snapcache = c
}

// Recover rehydrates an already-persisted file's in-memory state by asking
// the persister to enumerate its container. A missing container (Recover
// returning zero revisions, nil error) leaves the file absent.
func (f *File) Recover() error {
	if f.persist == nil {
		return nil
	}
	revs, err := f.persist.Recover()
	if err != nil {
		return err
	}
	if len(revs) == 0 {
		return nil
	}
	f.mu.Lock()
	f.revisions = revs
	f.state = Present
	f.mu.Unlock()
	return nil
}

// Exists reports whether the file is currently present. Non-mutating.
func (f *File) Exists() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == Present
}

// Create installs revision 0 if the file is absent. Idempotent: a no-op if
// the file is already present.
func (f *File) Create() error {
	f.mu.Lock()
	if f.state == Present {
		f.mu.Unlock()
		return nil
	}
	if f.persist != nil {
		if err := f.persist.Create(); err != nil {
			f.mu.Unlock()
			return err
		}
	}
	f.revisions = []revision.Revision{revision.Empty()}
	f.state = Present
	f.mu.Unlock()

	f.snapMu.Lock()
	f.snapHas = false
	f.snapMu.Unlock()

	f.cond.notify()
	return nil
}

// Delete marks a present file absent and schedules the persistent erase in
// the background; fileNotFound if the file is not present.
func (f *File) Delete() error {
	f.mu.Lock()
	if f.state != Present {
		f.mu.Unlock()
		return errors.NewFileNotFound(f.id)
	}
	tip := int64(len(f.revisions) - 1)
	f.state = Deleting
	f.revisions = nil
	f.mu.Unlock()

	// Drop memoized snapshots so a re-created file with the same ID is never
	// served the deleted file's history.
	if ev, ok := f.snapcache.(interface{ Evict(string, int64) error }); ok {
		if err := ev.Evict(f.id, tip); err != nil {
			log.Printf("revstore: file %q: snapshot cache evict failed: %v", f.id, err)
		}
	}

	f.snapMu.Lock()
	f.snapHas = false
	f.snapMu.Unlock()

	f.cond.notify()

	finish := func() {
		f.mu.Lock()
		f.state = Absent
		f.mu.Unlock()
		f.cond.notify()
	}

	if f.persist == nil {
		finish()
		return nil
	}
	go func() {
		if err := f.persist.Delete(); err != nil {
			log.Printf("revstore: file %q: persistent erase failed: %v", f.id, err)
		}
		finish()
	}()
	return nil
}

// CurrentRevNum returns the in-memory tip revision number.
func (f *File) CurrentRevNum(timeoutMs *int64) (int64, error) {
	if _, err := clampTimeout(timeoutMs, f.limits); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Present {
		return 0, errors.NewFileNotFound(f.id)
	}
	return int64(len(f.revisions) - 1), nil
}

// AppendChange runs the append-race algorithm: succeeds and installs rev
// only if rev.RevNum is exactly currentRevNum+1; returns false (no state
// change) if rev.RevNum has already been passed by a concurrent append;
// throws badValue if rev.RevNum is ahead of the tip by more than one, which
// is a programmer error, not a race.
func (f *File) AppendChange(rev revision.Revision, timeoutMs *int64) (bool, error) {
	if _, err := clampTimeout(timeoutMs, f.limits); err != nil {
		return false, err
	}
	if err := revision.Check(rev.RevNum); err != nil {
		return false, err
	}

	f.mu.Lock()
	if f.state != Present {
		f.mu.Unlock()
		return false, errors.NewFileNotFound(f.id)
	}
	n := int64(len(f.revisions) - 1)
	if rev.RevNum > n+1 {
		f.mu.Unlock()
		return false, errors.NewBadValuef("revNum", "%d exceeds currentRevNum+1 (%d); appendChange cannot skip revisions", rev.RevNum, n+1)
	}
	if rev.RevNum <= n {
		f.mu.Unlock()
		return false, nil
	}

	f.revisions = append(f.revisions, rev)
	if f.persist != nil {
		if err := f.persist.Append(rev); err != nil {
			f.revisions = f.revisions[:len(f.revisions)-1]
			f.mu.Unlock()
			return false, err
		}
	}
	f.mu.Unlock()

	f.cond.notify()
	return true, nil
}

// GetChange returns the stored revision at revNum; badValue if revNum
// exceeds the current tip.
func (f *File) GetChange(revNum int64, timeoutMs *int64) (revision.Revision, error) {
	if _, err := clampTimeout(timeoutMs, f.limits); err != nil {
		return revision.Revision{}, err
	}
	if err := revision.Check(revNum); err != nil {
		return revision.Revision{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Present {
		return revision.Revision{}, errors.NewFileNotFound(f.id)
	}
	n := int64(len(f.revisions) - 1)
	if revNum > n {
		return revision.Revision{}, errors.NewBadValuef("revNum", "%d exceeds current tip %d", revNum, n)
	}
	return f.revisions[revNum], nil
}

// History returns the inclusive slice of revisions [fromRevNum, toRevNum],
// an audit/activity-feed convenience over repeated GetChange calls.
func (f *File) History(fromRevNum, toRevNum int64) ([]revision.Revision, error) {
	if err := revision.Check(fromRevNum); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Present {
		return nil, errors.NewFileNotFound(f.id)
	}
	n := int64(len(f.revisions) - 1)
	if toRevNum > n || fromRevNum > toRevNum {
		return nil, errors.NewBadValuef("range", "[%d,%d] is not a valid sub-range of [0,%d]", fromRevNum, toRevNum, n)
	}
	out := make([]revision.Revision, toRevNum-fromRevNum+1)
	copy(out, f.revisions[fromRevNum:toRevNum+1])
	return out, nil
}

// GetSnapshot returns the materialized snapshot at revNum (nil means "the
// current tip"), composing forward from the cached tip when needed.
func (f *File) GetSnapshot(revNum *int64, timeoutMs *int64) (delta.Snapshot, error) {
	d, err := clampTimeout(timeoutMs, f.limits)
	if err != nil {
		return delta.Snapshot{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.getSnapshot(ctx, revNum, d)
}

func (f *File) getSnapshot(ctx context.Context, revNum *int64, timeout time.Duration) (delta.Snapshot, error) {
	f.mu.Lock()
	if f.state != Present {
		f.mu.Unlock()
		return delta.Snapshot{}, errors.NewFileNotFound(f.id)
	}
	n := int64(len(f.revisions) - 1)
	target := n
	if revNum != nil {
		target = *revNum
		if err := revision.Check(target); err != nil {
			f.mu.Unlock()
			return delta.Snapshot{}, err
		}
		if target > n {
			f.mu.Unlock()
			return delta.Snapshot{}, errors.NewBadValuef("revNum", "%d exceeds current tip %d", target, n)
		}
	}
	revs := make([]revision.Revision, len(f.revisions))
	copy(revs, f.revisions)
	f.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return delta.Snapshot{}, errors.NewTimedOut(timeout)
		default:
		}

		f.snapMu.Lock()
		if f.snapPending != nil {
			pending := f.snapPending
			f.snapMu.Unlock()
			select {
			case <-pending:
				continue // cache pointer may have been replaced; re-read
			case <-ctx.Done():
				return delta.Snapshot{}, errors.NewTimedOut(timeout)
			}
		}
		if f.snapHas && f.snapSnap.RevNum == target {
			snap := f.snapSnap
			f.snapMu.Unlock()
			return snap, nil
		}

		pendingCh := make(chan struct{})
		f.snapPending = pendingCh
		baseHas, base := f.snapHas, f.snapSnap
		f.snapMu.Unlock()

		if f.snapcache != nil {
			if cached, ok, err := f.snapcache.Get(f.id, target); err == nil && ok {
				f.snapMu.Lock()
				f.snapPending = nil
				f.snapSnap, f.snapHas = cached, true
				close(pendingCh)
				f.snapMu.Unlock()
				return cached, nil
			}
		}

		snap, composeErr := composeForward(ctx, revs, baseHas, base, target)
		if composeErr == nil && f.snapcache != nil {
			f.snapcache.Put(f.id, snap)
		}

		f.snapMu.Lock()
		f.snapPending = nil
		if composeErr == nil {
			f.snapSnap, f.snapHas = snap, true
		}
		close(pendingCh)
		f.snapMu.Unlock()
		return snap, composeErr
	}
}

// composeForward builds the snapshot at target, starting from base if base
// is already at or before target (the common "advance the tip" case) or
// from the canonical empty revision otherwise, so a request for a revision
// older than the cached tip still gets a correct answer instead of an error.
func composeForward(ctx context.Context, revs []revision.Revision, baseHas bool, base delta.Snapshot, target int64) (delta.Snapshot, error) {
	var seed delta.Delta
	var fromIdx int64
	if baseHas && base.RevNum <= target {
		seed = base.ToDelta()
		fromIdx = base.RevNum + 1
	} else {
		seed = delta.New()
		fromIdx = 0
	}

	deltas := make([]delta.Delta, 0, target-fromIdx+2)
	deltas = append(deltas, seed)
	for i := fromIdx; i <= target; i++ {
		deltas = append(deltas, revs[i].Delta)
	}

	yield := func(ctx context.Context, _, end int) error {
		if end >= len(deltas) {
			return nil // final batch: nothing left to yield for
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(yieldDelay):
			return nil
		}
	}

	composed, err := delta.ComposeAll(ctx, deltas, true, maxAtomicBatch, yield)
	if err != nil {
		return delta.Snapshot{}, err
	}
	return delta.NewSnapshot(target, composed)
}

// WhenPathIsNot blocks until the tip snapshot's binding at path differs
// from hash (including becoming absent), or until the clamped timeout
// elapses, or the file is deleted, whichever happens first.
func (f *File) WhenPathIsNot(path string, hash ids.Hash, timeoutMs *int64) error {
	d, err := clampTimeout(timeoutMs, f.limits)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(d)

	for {
		f.mu.Lock()
		state := f.state
		f.mu.Unlock()
		if state != Present {
			return errors.NewFileNotFound(f.id)
		}

		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}

		// Arm before reading the snapshot: a notify landing anywhere after
		// this point (even before the predicate check below) still closes
		// the channel we're about to wait on, instead of being dropped by
		// an append that races ahead of us.
		ch := f.cond.arm()

		snapCtx, cancel := context.WithTimeout(context.Background(), remaining)
		snap, err := f.getSnapshot(snapCtx, nil, remaining)
		cancel()
		if err != nil {
			return err
		}

		val, ok := snap.GetPath(path)
		if !ok || ids.HashOf(val) != hash {
			return nil
		}

		remaining = time.Until(deadline)
		if remaining <= 0 {
			return errors.NewTimedOut(d)
		}
		waitCtx, waitCancel := context.WithTimeout(context.Background(), remaining)
		waitErr := f.cond.wait(waitCtx, ch)
		waitCancel()
		if waitErr != nil {
			f.mu.Lock()
			state := f.state
			f.mu.Unlock()
			if state != Present {
				return errors.NewFileNotFound(f.id)
			}
			return errors.NewTimedOut(d)
		}
	}
}
