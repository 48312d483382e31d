package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/quietloom/revstore/pkg/codec"
	"github.com/quietloom/revstore/pkg/metrics"
)

func testStoreOptions(t *testing.T) Options {
	opts := DefaultOptions()
	opts.BaseDir = t.TempDir()
	opts.Codec = codec.NewWireCodec()
	opts.Capacity = 2
	opts.MaxAge = time.Hour
	return opts
}

func TestIsFileID(t *testing.T) {
	cases := map[string]bool{
		"doc-1":                true,
		"a_b_c":                true,
		"":                     false,
		"has a space":          false,
		"has/slash":            false,
		"日本語":                  false,
	}
	for id, want := range cases {
		if got := IsFileID(id); got != want {
			t.Errorf("IsFileID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestStore_GetFileInfo_NonexistentIsValidButAbsent(t *testing.T) {
	s := New(testStoreOptions(t))
	info, err := s.GetFileInfo("doc-1")
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if !info.Valid || info.Exists {
		t.Fatalf("expected valid+absent, got %+v", info)
	}
}

func TestStore_GetFileInfo_SyntacticallyInvalidIsNotValid(t *testing.T) {
	s := New(testStoreOptions(t))
	info, err := s.GetFileInfo("has a space")
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if info.Valid {
		t.Fatalf("expected invalid, got %+v", info)
	}
}

func TestStore_GetFile_CreatesAndCaches(t *testing.T) {
	s := New(testStoreOptions(t))
	f1, err := s.GetFile("doc-1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if err := f1.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}

	f2, err := s.GetFile("doc-1")
	if err != nil {
		t.Fatalf("GetFile (second): %v", err)
	}
	if f1 != f2 {
		t.Fatalf("expected the same cached *File instance")
	}
	s.Release("doc-1")
	s.Release("doc-1")
}

func TestStore_GetFile_RejectsInvalidID(t *testing.T) {
	s := New(testStoreOptions(t))
	if _, err := s.GetFile("bad id"); err == nil {
		t.Fatalf("expected an error for a syntactically invalid id")
	}
}

func TestStore_Eviction_RespectsRefCount(t *testing.T) {
	opts := testStoreOptions(t)
	opts.Capacity = 1
	s := New(opts)

	held, err := s.GetFile("held")
	if err != nil {
		t.Fatalf("GetFile(held): %v", err)
	}
	_ = held // refCount stays at 1 (never released)

	if _, err := s.GetFile("other"); err != nil {
		t.Fatalf("GetFile(other): %v", err)
	}
	s.Release("other")
	s.Prune()

	s.mu.Lock()
	_, heldStillCached := s.cache["held"]
	s.mu.Unlock()
	if !heldStillCached {
		t.Fatalf("expected the referenced entry to survive eviction")
	}
}

func TestStore_GetFile_RecordsCacheHitAndMissMetrics(t *testing.T) {
	opts := testStoreOptions(t)
	opts.Metrics = metrics.New(prometheus.NewRegistry())
	s := New(opts)

	f1, err := s.GetFile("doc-1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if err := f1.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.GetFile("doc-1"); err != nil {
		t.Fatalf("GetFile (second): %v", err)
	}
	s.Release("doc-1")
	s.Release("doc-1")

	if got := testutil.ToFloat64(opts.Metrics.FileCacheMiss); got != 1 {
		t.Fatalf("expected 1 cache miss, got %v", got)
	}
	if got := testutil.ToFloat64(opts.Metrics.FileCacheHits); got != 1 {
		t.Fatalf("expected 1 cache hit, got %v", got)
	}
}

func TestStore_ContainerDir_IsUnderBaseDir(t *testing.T) {
	opts := testStoreOptions(t)
	s := New(opts)
	got := s.containerDir("doc-1")
	want := filepath.Join(opts.BaseDir, "doc-1")
	if got != want {
		t.Fatalf("containerDir = %q, want %q", got, want)
	}
}
