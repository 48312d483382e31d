package errors

import "testing"

func TestErrors_ErrorMethod(t *testing.T) {
	errs := []error{
		NewFileNotFound("f1"),
		NewRevisionNotAvailable("f1", 4),
		NewBadValue("revNum", "must be non-negative"),
		NewBadUse("compose", "receiver is not a document delta"),
		NewBadData("00000003.blob", "decode failed"),
		NewTimedOut(0),
		NewPathNotFound("/a/b"),
		NewPathNotAbsent("/a/b"),
		NewPathHashMismatch("/a/b", "deadbeef", "feedface"),
		NewBlobNotFound("deadbeef"),
		NewBlobNotAbsent("deadbeef"),
		NewRevNumMismatch(2, 4),
	}

	for _, e := range errs {
		if e.Error() == "" {
			t.Errorf("Error() returned empty string for %T", e)
		}
	}
}

func TestErrors_IsMatchesSentinel(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{NewFileNotFound("f1"), ErrFileNotFound},
		{NewRevisionNotAvailable("f1", 1), ErrRevisionNotAvailable},
		{NewBadValue("x", "y"), ErrBadValue},
		{NewBadUse("x", "y"), ErrBadUse},
		{NewBadData("x", "y"), ErrBadData},
		{NewTimedOut(0), ErrTimedOut},
		{NewPathNotFound("/a"), ErrPathNotFound},
		{NewPathNotAbsent("/a"), ErrPathNotAbsent},
		{NewPathHashMismatch("/a", "x", "y"), ErrPathHashMismatch},
		{NewBlobNotFound("x"), ErrBlobNotFound},
		{NewBlobNotAbsent("x"), ErrBlobNotAbsent},
		{NewRevNumMismatch(1, 2), ErrRevNumMismatch},
	}

	for _, c := range cases {
		if !Is(c.err, c.sentinel) {
			t.Errorf("expected %v to match sentinel %v", c.err, c.sentinel)
		}
	}
}

func TestErrors_IsRejectsWrongSentinel(t *testing.T) {
	err := NewBadValue("x", "y")
	if Is(err, ErrFileNotFound) {
		t.Errorf("badValue error should not match fileNotFound sentinel")
	}
}
