// Package errors defines the typed failure conditions exposed at the
// revstore boundary.
//
// Each condition has a package-level sentinel (ErrBadValue, ErrTimedOut, ...)
// and a detail-carrying struct type. Construct the struct type to get a
// useful Error() string; test for the condition anywhere in the call chain
// with errors.Is(err, errors.ErrBadValue). Every constructor below marks
// its result against the matching sentinel via github.com/cockroachdb/errors,
// so a badValue raised three frames down in pkg/persist still satisfies
// errors.Is at the pkg/file boundary.
package errors

import (
	"fmt"
	"time"

	cockroacherr "github.com/cockroachdb/errors"
)

// Sentinels, one per failure condition. Never returned directly; always
// reached through errors.Is after marking a detail error against one of
// these.
var (
	ErrFileNotFound         = cockroacherr.New("fileNotFound")
	ErrRevisionNotAvailable = cockroacherr.New("revisionNotAvailable")
	ErrBadValue             = cockroacherr.New("badValue")
	ErrBadUse               = cockroacherr.New("badUse")
	ErrBadData              = cockroacherr.New("badData")
	ErrTimedOut             = cockroacherr.New("timedOut")
	ErrPathNotFound         = cockroacherr.New("pathNotFound")
	ErrPathNotAbsent        = cockroacherr.New("pathNotAbsent")
	ErrPathHashMismatch     = cockroacherr.New("pathHashMismatch")
	ErrBlobNotFound         = cockroacherr.New("blobNotFound")
	ErrBlobNotAbsent        = cockroacherr.New("blobNotAbsent")
	ErrRevNumMismatch       = cockroacherr.New("revNumMismatch")
)

// Is reports whether err is, or wraps, the given sentinel.
func Is(err, sentinel error) bool { return cockroacherr.Is(err, sentinel) }

// FileNotFoundError: any public File method other than exists()/create()
// called on an absent file.
type FileNotFoundError struct {
	FileID string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file %q not found", e.FileID)
}

func NewFileNotFound(fileID string) error {
	return cockroacherr.Mark(&FileNotFoundError{FileID: fileID}, ErrFileNotFound)
}

// RevisionNotAvailableError: requested revNum has been aged out. Reserved
// for a future retention/GC policy; none is implemented yet, but the
// failure mode is part of the contract.
type RevisionNotAvailableError struct {
	FileID string
	RevNum int64
}

func (e *RevisionNotAvailableError) Error() string {
	return fmt.Sprintf("revision %d of file %q is no longer available", e.RevNum, e.FileID)
}

func NewRevisionNotAvailable(fileID string, revNum int64) error {
	return cockroacherr.Mark(&RevisionNotAvailableError{FileID: fileID, RevNum: revNum}, ErrRevisionNotAvailable)
}

// BadValueError: malformed argument, e.g. path, hash, or revNum out of range.
type BadValueError struct {
	What   string
	Reason string
}

func (e *BadValueError) Error() string {
	return fmt.Sprintf("bad value for %s: %s", e.What, e.Reason)
}

func NewBadValue(what, reason string) error {
	return cockroacherr.Mark(&BadValueError{What: what, Reason: reason}, ErrBadValue)
}

func NewBadValuef(what, format string, args ...any) error {
	return NewBadValue(what, fmt.Sprintf(format, args...))
}

// BadUseError: API contract violated, e.g. document composition requested
// on a non-document delta.
type BadUseError struct {
	Op     string
	Reason string
}

func (e *BadUseError) Error() string {
	return fmt.Sprintf("invalid use of %s: %s", e.Op, e.Reason)
}

func NewBadUse(op, reason string) error {
	return cockroacherr.Mark(&BadUseError{Op: op, Reason: reason}, ErrBadUse)
}

// BadDataError: corruption detected during persistence recovery.
type BadDataError struct {
	Path   string
	Reason string
}

func (e *BadDataError) Error() string {
	return fmt.Sprintf("corrupt data at %q: %s", e.Path, e.Reason)
}

func NewBadData(path, reason string) error {
	return cockroacherr.Mark(&BadDataError{Path: path, Reason: reason}, ErrBadData)
}

// TimedOutError: a waiting operation exceeded its clamped deadline.
type TimedOutError struct {
	ClampedMs int64
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("timed out after %dms", e.ClampedMs)
}

func NewTimedOut(clamped time.Duration) error {
	return cockroacherr.Mark(&TimedOutError{ClampedMs: clamped.Milliseconds()}, ErrTimedOut)
}

// Predicate-test failures.

type PathNotFoundError struct{ Path string }

func (e *PathNotFoundError) Error() string { return fmt.Sprintf("path %q not found", e.Path) }

func NewPathNotFound(path string) error {
	return cockroacherr.Mark(&PathNotFoundError{Path: path}, ErrPathNotFound)
}

type PathNotAbsentError struct{ Path string }

func (e *PathNotAbsentError) Error() string {
	return fmt.Sprintf("path %q unexpectedly bound", e.Path)
}

func NewPathNotAbsent(path string) error {
	return cockroacherr.Mark(&PathNotAbsentError{Path: path}, ErrPathNotAbsent)
}

type PathHashMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *PathHashMismatchError) Error() string {
	return fmt.Sprintf("path %q: expected hash %s, got %s", e.Path, e.Expected, e.Actual)
}

func NewPathHashMismatch(path, expected, actual string) error {
	return cockroacherr.Mark(&PathHashMismatchError{Path: path, Expected: expected, Actual: actual}, ErrPathHashMismatch)
}

type BlobNotFoundError struct{ Hash string }

func (e *BlobNotFoundError) Error() string { return fmt.Sprintf("blob %q not found", e.Hash) }

func NewBlobNotFound(hash string) error {
	return cockroacherr.Mark(&BlobNotFoundError{Hash: hash}, ErrBlobNotFound)
}

type BlobNotAbsentError struct{ Hash string }

func (e *BlobNotAbsentError) Error() string {
	return fmt.Sprintf("blob %q unexpectedly present", e.Hash)
}

func NewBlobNotAbsent(hash string) error {
	return cockroacherr.Mark(&BlobNotAbsentError{Hash: hash}, ErrBlobNotAbsent)
}

type RevNumMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *RevNumMismatchError) Error() string {
	return fmt.Sprintf("revNum mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func NewRevNumMismatch(expected, actual int64) error {
	return cockroacherr.Mark(&RevNumMismatchError{Expected: expected, Actual: actual}, ErrRevNumMismatch)
}
