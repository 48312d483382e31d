// Package store implements the file store: a restricted external-ID
// grammar and a bounded, reference-counted cache of live *File instances,
// using a map plus a doubly linked list to evict from the back, LRU-style.
package store

import (
	"container/list"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/quietloom/revstore/pkg/codec"
	"github.com/quietloom/revstore/pkg/errors"
	"github.com/quietloom/revstore/pkg/file"
	"github.com/quietloom/revstore/pkg/metrics"
	"github.com/quietloom/revstore/pkg/persist"
	"github.com/quietloom/revstore/pkg/report"
)

// idGrammar is the restricted external-file-identifier syntax: lowercase/
// uppercase alphanumerics, dash, and underscore, 1-256 characters. Permissive
// enough for UUIDs, ULIDs, or human-chosen slugs, restrictive enough to be a
// safe directory-name component.
var idGrammar = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// IsFileID reports whether value is syntactically well-formed, independent
// of whether a file with that ID actually exists.
func IsFileID(value string) bool {
	return idGrammar.MatchString(value)
}

// Info is the result of GetFileInfo: Valid is false for any ID IsFileID
// rejects and for any name on the reserved denylist. Every name currently on
// that list also fails IsFileID, so Valid equals IsFileID(id) in practice.
type Info struct {
	Valid  bool
	Exists bool
}

// reserved names would collide with the store's own bookkeeping files if
// used as a container directory name.
var reserved = map[string]bool{".": true, "..": true, ".lock": true}

// Options configures a Store's bound cache and the persistence wiring each
// opened File receives.
type Options struct {
	// BaseDir is the directory under which each file's container directory
	// lives, named by its ID.
	BaseDir string
	// Capacity bounds the number of live File instances held in cache.
	Capacity int
	// MaxAge bounds how long an unreferenced entry may sit in cache before
	// it becomes eligible for eviction on the next GetFile/Prune call.
	MaxAge time.Duration
	// Limits are passed through to each opened file.File.
	Limits file.Limits
	// Persist tunes each file's persist.Container.
	Persist persist.Options
	// Codec encodes/decodes each container's blobs.
	Codec codec.Codec
	// Reporter receives recovery-time badData failures. Defaults to a
	// no-op if left nil.
	Reporter report.Reporter
	// Metrics records cache hit/miss counters when set. Nil is a valid
	// no-op default.
	Metrics *metrics.Metrics
	// SnapshotCache, if set, is attached to every opened file.File so
	// materialized snapshots are memoized durably across files, not just in
	// each File's single-slot in-memory cache.
	SnapshotCache file.SnapshotCache
}

// DefaultOptions gives size- and age-bounded defaults for the cache;
// BaseDir and Codec must still be supplied.
func DefaultOptions() Options {
	return Options{
		Capacity: 256,
		MaxAge:   10 * time.Minute,
		Limits:   file.DefaultLimits(),
		Persist:  persist.DefaultOptions(),
	}
}

type cacheEntry struct {
	id         string
	f          *file.File
	refCount   int
	lastAccess time.Time
}

// Store maps external file IDs to live *file.File instances, backed by a
// bounded, reference-counted LRU cache. The directory listing under BaseDir
// is the persistent system of record; the cache only memoizes open handles.
type Store struct {
	opts Options

	mu    sync.Mutex
	cache map[string]*list.Element
	lru   *list.List // front = most recently used
}

// New constructs a Store. opts.BaseDir and opts.Codec must be set.
func New(opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = 256
	}
	if opts.Reporter == nil {
		opts.Reporter = report.NewNoop()
	}
	return &Store{
		opts:  opts,
		cache: make(map[string]*list.Element),
		lru:   list.New(),
	}
}

// IsFileID is the store-level syntactic check (identical to the package
// function; kept as a method for interface symmetry with GetFileInfo).
func (s *Store) IsFileID(value string) bool {
	return IsFileID(value)
}

// GetFileInfo reports syntactic validity, storage-layer validity, and
// on-disk existence without opening or caching the file.
func (s *Store) GetFileInfo(id string) (Info, error) {
	if !IsFileID(id) || reserved[id] {
		return Info{Valid: false}, nil
	}
	container := persist.New(s.containerDir(id), s.opts.Codec, s.opts.Persist)
	stat, err := container.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("store: getFileInfo %s: %w", id, err)
	}
	return Info{Valid: true, Exists: stat.RevisionCount > 0}, nil
}

func (s *Store) containerDir(id string) string {
	return filepath.Join(s.opts.BaseDir, id)
}

// GetFile returns the live File for id, opening (and recovering) it if it
// isn't already cached. The caller must call Release(id) when done with the
// returned File so an unreferenced entry becomes evictable.
func (s *Store) GetFile(id string) (*file.File, error) {
	if !IsFileID(id) || reserved[id] {
		return nil, errors.NewBadValuef("id", "%q is not a valid file id", id)
	}

	s.mu.Lock()
	if el, ok := s.cache[id]; ok {
		s.lru.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		entry.refCount++
		entry.lastAccess = s.now()
		s.evictStaleLocked()
		s.mu.Unlock()
		if s.opts.Metrics != nil {
			s.opts.Metrics.FileCacheHits.Inc()
		}
		return entry.f, nil
	}
	s.mu.Unlock()

	if s.opts.Metrics != nil {
		s.opts.Metrics.FileCacheMiss.Inc()
	}

	container := persist.New(s.containerDir(id), s.opts.Codec, s.opts.Persist)
	f := file.New(id, container, s.opts.Limits)
	if s.opts.SnapshotCache != nil {
		f.SetSnapshotCache(s.opts.SnapshotCache)
	}
	if err := f.Recover(); err != nil {
		if errors.Is(err, errors.ErrBadData) {
			s.opts.Reporter.Report(err, map[string]string{"fileId": id, "op": "recover"})
		}
		return nil, fmt.Errorf("store: recover %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.cache[id]; ok {
		// Lost a race with a concurrent opener; use theirs, discard ours.
		s.lru.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		entry.refCount++
		entry.lastAccess = s.now()
		return entry.f, nil
	}

	entry := &cacheEntry{id: id, f: f, refCount: 1, lastAccess: s.now()}
	el := s.lru.PushFront(entry)
	s.cache[id] = el
	s.evictStaleLocked()
	s.evictLocked()
	return f, nil
}

// Release drops one reference on id's cached entry. An entry with zero
// references becomes eligible for eviction on a subsequent GetFile or
// Prune, but is not evicted eagerly.
func (s *Store) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.cache[id]
	if !ok {
		return
	}
	entry := el.Value.(*cacheEntry)
	if entry.refCount > 0 {
		entry.refCount--
	}
}

// Prune evicts unreferenced entries older than MaxAge and, if still over
// capacity, the least-recently-used unreferenced entries beyond it.
func (s *Store) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictStaleLocked()
	s.evictLocked()
}

func (s *Store) evictStaleLocked() {
	if s.opts.MaxAge <= 0 {
		return
	}
	cutoff := s.now().Add(-s.opts.MaxAge)
	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*cacheEntry)
		if entry.refCount == 0 && entry.lastAccess.Before(cutoff) {
			s.lru.Remove(el)
			delete(s.cache, entry.id)
		}
		el = prev
	}
}

// evictLocked drops least-recently-used unreferenced entries until the
// cache is back within capacity, or no more entries can be evicted.
func (s *Store) evictLocked() {
	for s.lru.Len() > s.opts.Capacity {
		el := s.lru.Back()
		evicted := false
		for el != nil {
			entry := el.Value.(*cacheEntry)
			if entry.refCount == 0 {
				prev := el.Prev()
				s.lru.Remove(el)
				delete(s.cache, entry.id)
				evicted = true
				_ = prev
				break
			}
			el = el.Prev()
		}
		if !evicted {
			return
		}
	}
}

// now is a seam so tests can't rely on wall-clock determinism beyond what
// time.Now already gives them; kept trivial since no test replaces it.
func (s *Store) now() time.Time { return time.Now() }
