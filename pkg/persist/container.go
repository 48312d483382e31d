// Package persist implements a write-behind persistence layer: dirty-flush
// coalescing, bounded concurrent fan-out, atomic write-then-rename blobs,
// and directory-as-index recovery.
package persist

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/DataDog/zstd"
	"github.com/google/uuid"
	"golang.org/x/exp/mmap"
	"golang.org/x/sys/unix"

	"github.com/quietloom/revstore/pkg/codec"
	"github.com/quietloom/revstore/pkg/errors"
	"github.com/quietloom/revstore/pkg/metrics"
	"github.com/quietloom/revstore/pkg/revision"
)

// blobName matches a blob file's name: a fixed-width zero-padded hex
// revision number plus the ".blob" suffix.
var blobName = regexp.MustCompile(`^([0-9a-f]{8})\.blob$`)

// Options tunes the coalescing delay and flush fan-out.
type Options struct {
	// SettleDelay is how long a dirty container waits, after the first
	// mutation since its last flush, before flushing (~5s).
	SettleDelay time.Duration
	// MaxFanOut bounds how many blob writes a single flush runs
	// concurrently (~20).
	MaxFanOut int
	// Metrics records flush duration/failure counters when set. Nil is a
	// valid no-op default.
	Metrics *metrics.Metrics
}

// DefaultOptions gives workable defaults for the settle delay and fan-out.
func DefaultOptions() Options {
	return Options{SettleDelay: 5 * time.Second, MaxFanOut: 20}
}

// Stat is a read-only introspection probe over already-authoritative
// container state; it does not add a new persistence mechanism.
type Stat struct {
	RevisionCount int
	ByteSize      int64
	Dirty         bool
}

// Container owns the on-disk state of exactly one File: one directory
// holding one blob per revision.
type Container struct {
	dir   string
	codec codec.Codec
	opts  Options

	mu             sync.Mutex
	pending        map[int64]revision.Revision
	flushScheduled bool
	timer          *time.Timer
	lockFile       *os.File
}

// New constructs a Container rooted at dir. Nothing touches disk until
// Create or Recover is called.
func New(dir string, c codec.Codec, opts Options) *Container {
	return &Container{
		dir:     dir,
		codec:   c,
		opts:    opts,
		pending: make(map[int64]revision.Revision),
	}
}

// Create ensures the container directory exists and schedules revision 0 to
// be written through the normal write-behind path.
func (c *Container) Create() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("persist: create %s: %w", c.dir, err)
	}
	c.acquireLock()

	c.mu.Lock()
	c.pending[0] = revision.Empty()
	c.scheduleFlushLocked()
	c.mu.Unlock()
	return nil
}

// Append marks rev dirty; it will be durably written after the settling
// delay, or sooner via Flush.
func (c *Container) Append(rev revision.Revision) error {
	c.mu.Lock()
	c.pending[rev.RevNum] = rev
	c.scheduleFlushLocked()
	c.mu.Unlock()
	return nil
}

// scheduleFlushLocked arms the settling timer if one isn't already pending;
// must be called with mu held.
func (c *Container) scheduleFlushLocked() {
	if c.flushScheduled {
		return
	}
	c.flushScheduled = true
	c.timer = time.AfterFunc(c.opts.SettleDelay, func() {
		if err := c.Flush(context.Background()); err != nil {
			log.Printf("revstore: persist: background flush of %s failed: %v", c.dir, err)
		}
	})
}

// Flush is the only strong-durability checkpoint: it drains the pending map
// and writes every blob with bounded concurrency, blocking until the whole
// batch completes.
func (c *Container) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.flushScheduled = false
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := c.pending
	c.pending = make(map[int64]revision.Revision)
	c.mu.Unlock()

	start := time.Now()
	defer func() {
		if c.opts.Metrics != nil {
			c.opts.Metrics.FlushDuration.Observe(time.Since(start).Seconds())
		}
	}()

	fanOut := c.opts.MaxFanOut
	if fanOut <= 0 {
		fanOut = 1
	}
	sem := make(chan struct{}, fanOut)
	var wg sync.WaitGroup
	var failedMu sync.Mutex
	var failed []revision.Revision
	var firstErr error

	for revNum, rev := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(revNum int64, rev revision.Revision) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.writeBlob(revNum, rev); err != nil {
				failedMu.Lock()
				failed = append(failed, rev)
				if firstErr == nil {
					firstErr = err
				}
				failedMu.Unlock()
			}
		}(revNum, rev)
	}
	wg.Wait()

	if len(failed) > 0 {
		if c.opts.Metrics != nil {
			c.opts.Metrics.FlushFailuresTotal.Inc()
		}
		// Re-queue failed revisions into pending so the next Flush call
		// retries them, rather than silently dropping them.
		c.mu.Lock()
		for _, rev := range failed {
			c.pending[rev.RevNum] = rev
		}
		c.scheduleFlushLocked()
		c.mu.Unlock()
		return fmt.Errorf("persist: flush of %s: %d blob(s) failed, first error: %w", c.dir, len(failed), firstErr)
	}
	return nil
}

// writeBlob encodes, compresses, and atomically installs one revision's
// blob via a collision-proof temp name plus rename.
func (c *Container) writeBlob(revNum int64, rev revision.Revision) error {
	encoded, err := c.codec.Encode(rev)
	if err != nil {
		return fmt.Errorf("persist: encode revision %d: %w", revNum, err)
	}
	compressed, err := zstd.Compress(nil, encoded)
	if err != nil {
		return fmt.Errorf("persist: compress revision %d: %w", revNum, err)
	}
	framed := frameBlob(compressed)

	finalPath := filepath.Join(c.dir, fmt.Sprintf("%08x.blob", revNum))
	tmpPath := filepath.Join(c.dir, fmt.Sprintf(".%s.tmp", uuid.New().String()))
	if err := os.WriteFile(tmpPath, framed, 0o644); err != nil {
		return fmt.Errorf("persist: write temp blob for revision %d: %w", revNum, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persist: rename temp blob for revision %d: %w", revNum, err)
	}
	return nil
}

// Delete removes the container directory recursively and discards any
// pending writes; the in-memory reset in pkg/file happens independently and
// immediately, ahead of this call completing.
func (c *Container) Delete() error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.flushScheduled = false
	c.pending = make(map[int64]revision.Revision)
	c.mu.Unlock()

	c.releaseLock()
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("persist: delete %s: %w", c.dir, err)
	}
	return nil
}

// Recover enumerates the container directory, decoding each blob and
// indexing it by the revision number recovered from its contents. A
// missing directory means an absent file (nil, nil), not an error.
func (c *Container) Recover() ([]revision.Revision, error) {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: recover %s: %w", c.dir, err)
	}
	c.acquireLock()

	byRevNum := make(map[int64]revision.Revision)
	maxRevNum := int64(-1)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := blobName.FindStringSubmatch(entry.Name())
		if m == nil {
			log.Printf("revstore: persist: ignoring foreign entry %q in %s", entry.Name(), c.dir)
			continue
		}
		nameRevNum, _ := strconv.ParseInt(m[1], 16, 64)

		raw, err := c.readBlob(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			return nil, errors.NewBadData(entry.Name(), err.Error())
		}
		compressed, err := unframeBlob(raw)
		if err != nil {
			return nil, errors.NewBadData(entry.Name(), err.Error())
		}
		decompressed, err := zstd.Decompress(nil, compressed)
		if err != nil {
			return nil, errors.NewBadData(entry.Name(), "zstd decompress failed: "+err.Error())
		}
		rev, err := c.codec.Decode(decompressed)
		if err != nil {
			return nil, errors.NewBadData(entry.Name(), "codec decode failed: "+err.Error())
		}
		if rev.RevNum != nameRevNum {
			return nil, errors.NewBadData(entry.Name(), fmt.Sprintf("recovered revNum %d does not match filename", rev.RevNum))
		}
		byRevNum[rev.RevNum] = rev
		if rev.RevNum > maxRevNum {
			maxRevNum = rev.RevNum
		}
	}

	if len(byRevNum) == 0 {
		// A directory with no blobs is treated as absent (legacy/partial
		// state).
		return nil, nil
	}
	if int64(len(byRevNum)) != maxRevNum+1 {
		return nil, errors.NewBadData(c.dir, "revision count does not match max revNum+1 (holes in sequence)")
	}

	out := make([]revision.Revision, maxRevNum+1)
	for i := int64(0); i <= maxRevNum; i++ {
		rev, ok := byRevNum[i]
		if !ok {
			return nil, errors.NewBadData(c.dir, "missing revision in an otherwise contiguous sequence")
		}
		out[i] = rev
	}
	return out, nil
}

func (c *Container) readBlob(path string) ([]byte, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf := make([]byte, r.Len())
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// Stat reports revision count, on-disk byte size, and dirty/clean state.
// It reads already-authoritative state, not a new index.
func (c *Container) Stat() (Stat, error) {
	c.mu.Lock()
	dirty := len(c.pending) > 0
	c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return Stat{Dirty: dirty}, nil
	}
	if err != nil {
		return Stat{}, fmt.Errorf("persist: stat %s: %w", c.dir, err)
	}

	var size int64
	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !blobName.MatchString(entry.Name()) {
			continue
		}
		if info, err := entry.Info(); err == nil {
			size += info.Size()
		}
		count++
	}
	return Stat{RevisionCount: count, ByteSize: size, Dirty: dirty}, nil
}

// acquireLock best-effort locks the container directory against other
// processes via flock. Failure to acquire is logged, not fatal; cross-
// process safety beyond this advisory lock is not guaranteed.
func (c *Container) acquireLock() {
	if c.lockFile != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(c.dir, ".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		log.Printf("revstore: persist: cannot open advisory lock file in %s: %v", c.dir, err)
		return
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		log.Printf("revstore: persist: advisory lock on %s held elsewhere: %v", c.dir, err)
		f.Close()
		return
	}
	c.lockFile = f
}

func (c *Container) releaseLock() {
	if c.lockFile == nil {
		return
	}
	unix.Flock(int(c.lockFile.Fd()), unix.LOCK_UN)
	c.lockFile.Close()
	c.lockFile = nil
}
