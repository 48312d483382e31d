package ids

import "testing"

func TestIsValidPath(t *testing.T) {
	cases := map[string]bool{
		"/a":        true,
		"/a/b/c":    true,
		"/a_1/b2":   true,
		"":          false,
		"/":         false,
		"a/b":       false,
		"/a//b":     false,
		"/a/":       false,
		"/a b":      false,
	}
	for p, want := range cases {
		if got := IsValidPath(p); got != want {
			t.Errorf("IsValidPath(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestIsValidPrefixPath_AllowsRoot(t *testing.T) {
	if !IsValidPrefixPath("/") {
		t.Fatalf("expected root \"/\" to be a valid prefix path")
	}
	if IsValidPrefixPath("") {
		t.Fatalf("expected empty string to be rejected")
	}
}

func TestNewPath_RejectsMalformed(t *testing.T) {
	if _, err := NewPath("not-a-path"); err == nil {
		t.Fatalf("expected an error for a non-conforming path")
	}
	if p, err := NewPath("/a/b"); err != nil || p != "/a/b" {
		t.Fatalf("NewPath(/a/b) = %q, %v", p, err)
	}
}

func TestIsPrefix(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"/a", "/a/b", true},
		{"/a", "/a/b/c", true},
		{"/", "/a", true},
		{"/a", "/a", false},      // equal, not strictly below
		{"/a", "/ab", false},     // component mismatch, not a textual prefix
		{"/a/b", "/a", false},    // wrong direction
	}
	for _, c := range cases {
		if got := IsPrefix(c.a, c.b); got != c.want {
			t.Errorf("IsPrefix(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestEqualOrPrefix(t *testing.T) {
	if !EqualOrPrefix("/a", "/a") {
		t.Fatalf("expected a path to equal-or-prefix itself")
	}
	if !EqualOrPrefix("/a", "/a/b") {
		t.Fatalf("expected /a to be a prefix of /a/b")
	}
	if EqualOrPrefix("/a", "/b") {
		t.Fatalf("expected /a to not match /b")
	}
}

func TestHashOf_IsDeterministic(t *testing.T) {
	h1 := HashOf([]byte("payload"))
	h2 := HashOf([]byte("payload"))
	if h1 != h2 {
		t.Fatalf("expected HashOf to be deterministic, got %q and %q", h1, h2)
	}
	if HashOf([]byte("other")) == h1 {
		t.Fatalf("expected distinct payloads to (almost certainly) hash differently")
	}
	if !IsValidHash(string(h1)) {
		t.Fatalf("expected HashOf's own output to satisfy IsValidHash, got %q", h1)
	}
}

func TestNewHash_RejectsNonHex(t *testing.T) {
	if _, err := NewHash("not-hex!"); err == nil {
		t.Fatalf("expected an error for a non-hex hash literal")
	}
	if _, err := NewHash(""); err == nil {
		t.Fatalf("expected an error for an empty hash literal")
	}
	h, err := NewHash("deadbeef")
	if err != nil || h != Hash("deadbeef") {
		t.Fatalf("NewHash(deadbeef) = %q, %v", h, err)
	}
}

func TestLeafInt_ParsesDirectChild(t *testing.T) {
	n, ok := LeafInt("/x", "/x/15")
	if !ok || n != 15 {
		t.Fatalf("LeafInt(/x, /x/15) = %d, %v, want 15, true", n, ok)
	}
}

func TestLeafInt_RejectsLeadingZeros(t *testing.T) {
	if _, ok := LeafInt("/x", "/x/00"); ok {
		t.Fatalf("expected /x/00 to be rejected (leading zero)")
	}
	if _, ok := LeafInt("/x", "/x/01"); ok {
		t.Fatalf("expected /x/01 to be rejected (leading zero)")
	}
	if n, ok := LeafInt("/x", "/x/0"); !ok || n != 0 {
		t.Fatalf("expected the literal \"0\" leaf to be accepted, got %d, %v", n, ok)
	}
}

func TestLeafInt_RejectsWrongDepthOrPrefixMismatch(t *testing.T) {
	if _, ok := LeafInt("/x", "/x/a/1"); ok {
		t.Fatalf("expected a grandchild path to be rejected")
	}
	if _, ok := LeafInt("/x", "/y/1"); ok {
		t.Fatalf("expected a mismatched prefix to be rejected")
	}
	if _, ok := LeafInt("/x", "/x"); ok {
		t.Fatalf("expected the prefix itself (no leaf) to be rejected")
	}
}

func TestPathInRange(t *testing.T) {
	if !PathInRange("/x", "/x/5", 0, 10) {
		t.Fatalf("expected /x/5 to be in range [0,10)")
	}
	if PathInRange("/x", "/x/15", 0, 10) {
		t.Fatalf("expected /x/15 to be out of range [0,10)")
	}
	if PathInRange("/x", "/x/00", 0, 10) {
		t.Fatalf("expected /x/00 (leading zero) to never match any range")
	}
}
