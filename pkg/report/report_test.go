package report

import (
	"errors"
	"testing"
	"time"
)

func TestNewNoop_DiscardsReports(t *testing.T) {
	r := NewNoop()
	r.Report(errors.New("boom"), map[string]string{"op": "recover"})
	if !r.Flush(time.Millisecond) {
		t.Fatalf("expected noop Flush to report success")
	}
}

func TestNew_EmptyDSNStillConstructs(t *testing.T) {
	r, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Report(errors.New("boom"), nil)
	r.Flush(10 * time.Millisecond)
}
