// Package ops implements the operation algebra: the closed set of opcodes,
// their payload tuples, and structural equality. Operations are immutable;
// factory functions copy any buffer argument so a caller mutating the slice
// they passed in can never reach back into a constructed Operation.
package ops

import (
	"bytes"

	"github.com/quietloom/revstore/pkg/errors"
	"github.com/quietloom/revstore/pkg/ids"
)

// Code is the opcode, drawn from a closed set.
type Code int

const (
	DeleteAll Code = iota
	DeleteBlob
	DeletePath
	DeletePathPrefix
	DeletePathRange
	WriteBlob
	WritePath
)

func (c Code) String() string {
	switch c {
	case DeleteAll:
		return "deleteAll"
	case DeleteBlob:
		return "deleteBlob"
	case DeletePath:
		return "deletePath"
	case DeletePathPrefix:
		return "deletePathPrefix"
	case DeletePathRange:
		return "deletePathRange"
	case WriteBlob:
		return "writeBlob"
	case WritePath:
		return "writePath"
	default:
		return "unknown"
	}
}

// IsWriting reports whether c belongs to the "writing (document-valid)"
// group: writeBlob, writePath.
func (c Code) IsWriting() bool {
	return c == WriteBlob || c == WritePath
}

// IDKind distinguishes the two storage-ID namespaces.
type IDKind int

const (
	KindPath IDKind = iota
	KindHash
)

// StorageID is the union type identifying a binding: a path or a content
// hash. It is a plain comparable struct so it can be used directly as a map
// key in a Snapshot.
type StorageID struct {
	Kind IDKind
	Path string
	Hash ids.Hash
}

func PathID(p string) StorageID { return StorageID{Kind: KindPath, Path: p} }
func HashID(h ids.Hash) StorageID { return StorageID{Kind: KindHash, Hash: h} }

func (id StorageID) String() string {
	if id.Kind == KindPath {
		return id.Path
	}
	return string(id.Hash)
}

// Operation is an atomic, immutable mutation over the storage-ID space.
// Only the fields relevant to Code are meaningful; the rest are zero.
type Operation struct {
	Code Code

	Path                 string // deletePath, deletePathPrefix, deletePathRange (prefix), writePath
	RangeStart, RangeEnd int64  // deletePathRange: [start, end)
	Hash                 ids.Hash
	Buffer               []byte // writeBlob, writePath
}

// Equal reports structural equality: same opcode, same payload.
func (o Operation) Equal(other Operation) bool {
	if o.Code != other.Code {
		return false
	}
	switch o.Code {
	case DeleteAll:
		return true
	case DeleteBlob:
		return o.Hash == other.Hash
	case DeletePath:
		return o.Path == other.Path
	case DeletePathPrefix:
		return o.Path == other.Path
	case DeletePathRange:
		return o.Path == other.Path && o.RangeStart == other.RangeStart && o.RangeEnd == other.RangeEnd
	case WriteBlob:
		return bytes.Equal(o.Buffer, other.Buffer)
	case WritePath:
		return o.Path == other.Path && bytes.Equal(o.Buffer, other.Buffer)
	default:
		return false
	}
}

// ID returns the single storage ID this operation targets, and whether it
// targets exactly one (deleteAll, deletePathPrefix and deletePathRange
// operate over a set of IDs and report ok=false).
func (o Operation) ID() (StorageID, bool) {
	switch o.Code {
	case DeleteBlob:
		return HashID(o.Hash), true
	case DeletePath, WritePath:
		return PathID(o.Path), true
	case WriteBlob:
		return HashID(ids.HashOf(o.Buffer)), true
	default:
		return StorageID{}, false
	}
}

func copyBuf(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// NewDeleteAll builds a deleteAll operation: erases every pending write.
func NewDeleteAll() Operation {
	return Operation{Code: DeleteAll}
}

// NewDeleteBlob builds a deleteBlob(hash) operation.
func NewDeleteBlob(hash ids.Hash) (Operation, error) {
	if !ids.IsValidHash(string(hash)) {
		return Operation{}, errors.NewBadValuef("hash", "%q is not a valid content hash", hash)
	}
	return Operation{Code: DeleteBlob, Hash: hash}, nil
}

// NewDeletePath builds a deletePath(path) operation.
func NewDeletePath(path string) (Operation, error) {
	p, err := ids.NewPath(path)
	if err != nil {
		return Operation{}, err
	}
	return Operation{Code: DeletePath, Path: p}, nil
}

// NewDeletePathPrefix builds a deletePathPrefix(path) operation. path may
// be the literal root "/", meaning "every path binding".
func NewDeletePathPrefix(path string) (Operation, error) {
	p, err := ids.NewPrefixPath(path)
	if err != nil {
		return Operation{}, err
	}
	return Operation{Code: DeletePathPrefix, Path: p}, nil
}

// NewDeletePathRange builds a deletePathRange(path, start, endExclusive)
// operation. Requires 0 <= start < endExclusive.
func NewDeletePathRange(path string, start, endExclusive int64) (Operation, error) {
	p, err := ids.NewPrefixPath(path)
	if err != nil {
		return Operation{}, err
	}
	if start < 0 {
		return Operation{}, errors.NewBadValue("start", "must be non-negative")
	}
	if start >= endExclusive {
		return Operation{}, errors.NewBadValuef("range", "start (%d) must be < endExclusive (%d)", start, endExclusive)
	}
	return Operation{Code: DeletePathRange, Path: p, RangeStart: start, RangeEnd: endExclusive}, nil
}

// NewWriteBlob builds a writeBlob(buffer) operation. The storage ID is the
// content hash of buffer, computed and cached on the operation.
func NewWriteBlob(buffer []byte) Operation {
	return Operation{Code: WriteBlob, Buffer: copyBuf(buffer), Hash: ids.HashOf(buffer)}
}

// NewWritePath builds a writePath(path, buffer) operation.
func NewWritePath(path string, buffer []byte) (Operation, error) {
	p, err := ids.NewPath(path)
	if err != nil {
		return Operation{}, err
	}
	return Operation{Code: WritePath, Path: p, Buffer: copyBuf(buffer)}, nil
}
