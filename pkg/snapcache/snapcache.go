// Package snapcache memoizes materialized snapshots keyed by (fileID,
// revNum) in an embedded pebble KV store. It is never the system of
// record: pkg/file recomputes a correct snapshot whenever a lookup misses
// or the store is unavailable. Because every materialized snapshot is
// durable and directly addressable here, not just the single most-recent
// one pkg/file keeps in memory, a lookup for a revision older than the
// in-memory tip can still be served without recomposing from scratch.
package snapcache

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/quietloom/revstore/pkg/delta"
	"github.com/quietloom/revstore/pkg/ids"
	"github.com/quietloom/revstore/pkg/metrics"
	"github.com/quietloom/revstore/pkg/ops"
)

// Cache wraps one pebble database shared across every file's memoized
// snapshots, namespaced by file ID in the key.
type Cache struct {
	db      *pebble.DB
	metrics *metrics.Metrics
}

// Open opens (creating if absent) a pebble store rooted at dir.
func Open(dir string) (*Cache, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("snapcache: open %s: %w", dir, err)
	}
	return &Cache{db: db}, nil
}

// SetMetrics attaches a collector set that Get will record hits and misses
// against. A nil Cache.metrics (the default) disables recording.
func (c *Cache) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// Close releases the underlying pebble handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// key namespaces a lookup by file ID and revision number so one pebble
// instance can memoize snapshots for every file in the store.
func key(fileID string, revNum int64) []byte {
	b := make([]byte, len(fileID)+1+8)
	copy(b, fileID)
	b[len(fileID)] = 0
	binary.BigEndian.PutUint64(b[len(fileID)+1:], uint64(revNum))
	return b
}

// wireBinding is the bson-serializable form of one (StorageID -> buffer)
// binding; ops.StorageID itself carries no bson tags, so we flatten it.
type wireBinding struct {
	Kind  int    `bson:"kind"`
	Path  string `bson:"path,omitempty"`
	Hash  string `bson:"hash,omitempty"`
	Value []byte `bson:"value"`
}

type wireSnapshot struct {
	RevNum   int64         `bson:"revNum"`
	Bindings []wireBinding `bson:"bindings"`
}

// Put memoizes snap under (fileID, snap.RevNum). Overwrites any prior entry
// for the same key; snapshots are deterministic given their revision, so
// overwriting is always safe.
func (c *Cache) Put(fileID string, snap delta.Snapshot) error {
	wire := wireSnapshot{RevNum: snap.RevNum}
	for id, buf := range snap.Bindings {
		b := wireBinding{Kind: int(id.Kind), Value: buf}
		if id.Kind == ops.KindPath {
			b.Path = id.Path
		} else {
			b.Hash = string(id.Hash)
		}
		wire.Bindings = append(wire.Bindings, b)
	}

	encoded, err := bson.Marshal(wire)
	if err != nil {
		return fmt.Errorf("snapcache: marshal snapshot %d for %s: %w", snap.RevNum, fileID, err)
	}
	if err := c.db.Set(key(fileID, snap.RevNum), encoded, pebble.NoSync); err != nil {
		return fmt.Errorf("snapcache: put snapshot %d for %s: %w", snap.RevNum, fileID, err)
	}
	return nil
}

// Get returns the memoized snapshot for (fileID, revNum), or ok=false if
// nothing is cached for that key. A cache miss is never an error; callers
// fall back to recomputing the snapshot from the revision log.
func (c *Cache) Get(fileID string, revNum int64) (delta.Snapshot, bool, error) {
	value, closer, err := c.db.Get(key(fileID, revNum))
	if err == pebble.ErrNotFound {
		if c.metrics != nil {
			c.metrics.SnapshotCacheMiss.Inc()
		}
		return delta.Snapshot{}, false, nil
	}
	if err != nil {
		return delta.Snapshot{}, false, fmt.Errorf("snapcache: get snapshot %d for %s: %w", revNum, fileID, err)
	}
	defer closer.Close()
	if c.metrics != nil {
		c.metrics.SnapshotCacheHits.Inc()
	}

	var wire wireSnapshot
	if err := bson.Unmarshal(value, &wire); err != nil {
		return delta.Snapshot{}, false, fmt.Errorf("snapcache: unmarshal snapshot %d for %s: %w", revNum, fileID, err)
	}

	bindings := make(map[ops.StorageID][]byte, len(wire.Bindings))
	for _, b := range wire.Bindings {
		var id ops.StorageID
		if ops.IDKind(b.Kind) == ops.KindPath {
			id = ops.PathID(b.Path)
		} else {
			id = ops.HashID(ids.Hash(b.Hash))
		}
		bindings[id] = b.Value
	}
	return delta.Snapshot{RevNum: wire.RevNum, Bindings: bindings}, true, nil
}

// Evict removes every memoized snapshot for fileID up to and including
// upToRevNum. file.File.Delete calls it so stale entries don't outlive the
// file they describe.
func (c *Cache) Evict(fileID string, upToRevNum int64) error {
	lower := key(fileID, 0)
	upper := key(fileID, upToRevNum+1)
	if err := c.db.DeleteRange(lower, upper, pebble.NoSync); err != nil {
		return fmt.Errorf("snapcache: evict %s up to %d: %w", fileID, upToRevNum, err)
	}
	return nil
}
