package persist

import (
	"encoding/binary"
	stderrors "errors"
	"hash/crc32"
)

var (
	errTruncatedBlob    = stderrors.New("persist: blob shorter than its header")
	errBadMagic         = stderrors.New("persist: blob magic mismatch")
	errLengthMismatch   = stderrors.New("persist: blob payload length mismatch")
	errChecksumMismatch = stderrors.New("persist: blob checksum mismatch")
)

// blobHeaderSize, blobMagic, and the CRC32 table below give each blob a fixed
// header/checksum framing: no LSN or entry type (the revision number
// already lives in the blob's filename), just enough framing to detect a
// partially written or corrupted blob before handing its payload to
// zstd/the codec.
const (
	blobHeaderSize = 12 // magic(4) + payloadLen(4) + crc32(4)
	blobMagic      = 0xB10BFEED
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// blobHeader frames one compressed revision payload on disk.
type blobHeader struct {
	Magic      uint32
	PayloadLen uint32
	CRC32      uint32
}

func (h blobHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[8:12], h.CRC32)
}

func decodeBlobHeader(buf []byte) blobHeader {
	return blobHeader{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		PayloadLen: binary.LittleEndian.Uint32(buf[4:8]),
		CRC32:      binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// frameBlob prepends a header carrying payload length and a CRC32
// Castagnoli checksum of payload.
func frameBlob(payload []byte) []byte {
	out := make([]byte, blobHeaderSize+len(payload))
	h := blobHeader{
		Magic:      blobMagic,
		PayloadLen: uint32(len(payload)),
		CRC32:      crc32.Checksum(payload, castagnoliTable),
	}
	h.encode(out[:blobHeaderSize])
	copy(out[blobHeaderSize:], payload)
	return out
}

// unframeBlob validates and strips a header produced by frameBlob. A
// magic mismatch, length mismatch, or checksum mismatch all indicate a
// partially written or corrupted blob, never a partial revision reaching
// the codec.
func unframeBlob(raw []byte) ([]byte, error) {
	if len(raw) < blobHeaderSize {
		return nil, errTruncatedBlob
	}
	h := decodeBlobHeader(raw[:blobHeaderSize])
	payload := raw[blobHeaderSize:]
	if h.Magic != blobMagic {
		return nil, errBadMagic
	}
	if int(h.PayloadLen) != len(payload) {
		return nil, errLengthMismatch
	}
	if crc32.Checksum(payload, castagnoliTable) != h.CRC32 {
		return nil, errChecksumMismatch
	}
	return payload, nil
}
