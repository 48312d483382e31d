// Package codec implements a total, round-trip-faithful mapping between a
// Revision and a byte buffer.
//
// The wire format is hand-assembled protobuf: field tags and varint/
// length-delimited framing via google.golang.org/protobuf's protowire
// primitives, the same low-level building blocks generated protobuf code
// compiles down to. There is no .proto file and no generated code; the
// message shape lives here, in Go, as a pair of Encode/Decode functions.
package codec

import (
	"time"

	"github.com/quietloom/revstore/pkg/delta"
	"github.com/quietloom/revstore/pkg/errors"
	"github.com/quietloom/revstore/pkg/ids"
	"github.com/quietloom/revstore/pkg/ops"
	"github.com/quietloom/revstore/pkg/revision"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for the Revision message.
const (
	fieldRevNum    protowire.Number = 1
	fieldDelta     protowire.Number = 2
	fieldTimestamp protowire.Number = 3
	fieldAuthorID  protowire.Number = 4
)

// Field numbers for the nested Operation message (one per delta op, each
// itself framed as a length-delimited field within the Delta message).
const (
	fieldOp         protowire.Number = 1 // repeated, within Delta
	opFieldCode     protowire.Number = 1
	opFieldPath     protowire.Number = 2
	opFieldRangeLo  protowire.Number = 3
	opFieldRangeHi  protowire.Number = 4
	opFieldHash     protowire.Number = 5
	opFieldBuffer   protowire.Number = 6
)

// Codec is the revision encode/decode contract persist.Container writes
// blobs through.
type Codec interface {
	Encode(rev revision.Revision) ([]byte, error)
	Decode(buf []byte) (revision.Revision, error)
}

// WireCodec implements Codec using the hand-assembled protobuf wire format
// described in the package doc.
type WireCodec struct{}

func NewWireCodec() WireCodec { return WireCodec{} }

// Encode renders rev as a byte buffer. Encoding never fails for a
// well-formed Revision; the error return exists to satisfy the Codec
// interface and to surface a badValue if rev.RevNum is malformed.
func (WireCodec) Encode(rev revision.Revision) ([]byte, error) {
	if err := revision.Check(rev.RevNum); err != nil {
		return nil, err
	}

	var b []byte
	b = protowire.AppendTag(b, fieldRevNum, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rev.RevNum))

	deltaBuf := encodeDelta(rev.Delta)
	b = protowire.AppendTag(b, fieldDelta, protowire.BytesType)
	b = protowire.AppendBytes(b, deltaBuf)

	if rev.Timestamp != nil {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(rev.Timestamp.UnixNano()))
	}
	if rev.AuthorID != nil {
		b = protowire.AppendTag(b, fieldAuthorID, protowire.BytesType)
		b = protowire.AppendString(b, *rev.AuthorID)
	}
	return b, nil
}

// Decode parses a buffer produced by Encode back into a Revision. It
// returns badData if the buffer is truncated or carries a malformed field.
func (WireCodec) Decode(buf []byte) (revision.Revision, error) {
	var rev revision.Revision
	var haveDelta bool

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return revision.Revision{}, errors.NewBadData("revision", "truncated field tag")
		}
		buf = buf[n:]

		switch num {
		case fieldRevNum:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return revision.Revision{}, errors.NewBadData("revision", "malformed revNum")
			}
			buf = buf[n:]
			rev.RevNum = int64(v)

		case fieldDelta:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return revision.Revision{}, errors.NewBadData("revision", "malformed delta")
			}
			buf = buf[n:]
			d, err := decodeDelta(v)
			if err != nil {
				return revision.Revision{}, err
			}
			rev.Delta = d
			haveDelta = true

		case fieldTimestamp:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return revision.Revision{}, errors.NewBadData("revision", "malformed timestamp")
			}
			buf = buf[n:]
			ts := time.Unix(0, int64(v)).UTC()
			rev.Timestamp = &ts

		case fieldAuthorID:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return revision.Revision{}, errors.NewBadData("revision", "malformed authorId")
			}
			buf = buf[n:]
			author := v
			rev.AuthorID = &author

		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return revision.Revision{}, errors.NewBadData("revision", "malformed unknown field")
			}
			buf = buf[n:]
		}
	}

	if !haveDelta {
		rev.Delta = delta.New()
	}
	if err := revision.Check(rev.RevNum); err != nil {
		return revision.Revision{}, errors.NewBadData("revision", "decoded revNum out of domain")
	}
	return rev, nil
}

func encodeDelta(d delta.Delta) []byte {
	var b []byte
	for _, op := range d.Ops {
		opBuf := encodeOperation(op)
		b = protowire.AppendTag(b, fieldOp, protowire.BytesType)
		b = protowire.AppendBytes(b, opBuf)
	}
	return b
}

func decodeDelta(buf []byte) (delta.Delta, error) {
	var opList []ops.Operation
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return delta.Delta{}, errors.NewBadData("delta", "truncated field tag")
		}
		buf = buf[n:]

		if num != fieldOp {
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return delta.Delta{}, errors.NewBadData("delta", "malformed unknown field")
			}
			buf = buf[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return delta.Delta{}, errors.NewBadData("delta", "malformed operation")
		}
		buf = buf[n:]
		op, err := decodeOperation(v)
		if err != nil {
			return delta.Delta{}, err
		}
		opList = append(opList, op)
	}
	return delta.New(opList...), nil
}

func encodeOperation(op ops.Operation) []byte {
	var b []byte
	b = protowire.AppendTag(b, opFieldCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op.Code))

	if op.Path != "" {
		b = protowire.AppendTag(b, opFieldPath, protowire.BytesType)
		b = protowire.AppendString(b, op.Path)
	}
	if op.Code == ops.DeletePathRange {
		b = protowire.AppendTag(b, opFieldRangeLo, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(op.RangeStart))
		b = protowire.AppendTag(b, opFieldRangeHi, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(op.RangeEnd))
	}
	if op.Hash != "" {
		b = protowire.AppendTag(b, opFieldHash, protowire.BytesType)
		b = protowire.AppendString(b, string(op.Hash))
	}
	if op.Buffer != nil {
		b = protowire.AppendTag(b, opFieldBuffer, protowire.BytesType)
		b = protowire.AppendBytes(b, op.Buffer)
	}
	return b
}

func decodeOperation(buf []byte) (ops.Operation, error) {
	var op ops.Operation
	haveCode := false

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return ops.Operation{}, errors.NewBadData("operation", "truncated field tag")
		}
		buf = buf[n:]

		switch num {
		case opFieldCode:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return ops.Operation{}, errors.NewBadData("operation", "malformed code")
			}
			buf = buf[n:]
			op.Code = ops.Code(v)
			haveCode = true

		case opFieldPath:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return ops.Operation{}, errors.NewBadData("operation", "malformed path")
			}
			buf = buf[n:]
			op.Path = v

		case opFieldRangeLo:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return ops.Operation{}, errors.NewBadData("operation", "malformed rangeStart")
			}
			buf = buf[n:]
			op.RangeStart = int64(v)

		case opFieldRangeHi:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return ops.Operation{}, errors.NewBadData("operation", "malformed rangeEnd")
			}
			buf = buf[n:]
			op.RangeEnd = int64(v)

		case opFieldHash:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return ops.Operation{}, errors.NewBadData("operation", "malformed hash")
			}
			buf = buf[n:]
			op.Hash = ids.Hash(v)

		case opFieldBuffer:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return ops.Operation{}, errors.NewBadData("operation", "malformed buffer")
			}
			buf = buf[n:]
			cp := make([]byte, len(v))
			copy(cp, v)
			op.Buffer = cp

		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return ops.Operation{}, errors.NewBadData("operation", "malformed unknown field")
			}
			buf = buf[n:]
		}
	}

	if !haveCode {
		return ops.Operation{}, errors.NewBadData("operation", "missing code field")
	}
	return op, nil
}
