package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cespare/xxhash"
)

// Chunk blob layout (big endian):
//
//	magic   1 byte
//	version 1 byte
//	count   4 bytes  number of records
//	length  4 bytes  payload length
//	sum     8 bytes  xxhash64 of the payload
//	payload          JSON array of records
const (
	MagicNumber  = 0x43
	FrameVersion = 0x01

	headerSize = 18
)

// EncodeChunk writes one chunk's records as a framed blob.
func EncodeChunk[E any](w io.Writer, records []E) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}

	header := make([]byte, headerSize)
	header[0] = MagicNumber
	header[1] = FrameVersion
	binary.BigEndian.PutUint32(header[2:6], uint32(len(records)))
	binary.BigEndian.PutUint32(header[6:10], uint32(len(payload)))
	binary.BigEndian.PutUint64(header[10:18], xxhash.Sum64(payload))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// DecodeChunk reads one framed blob. Any framing or checksum mismatch is
// reported as ErrCorrupt.
func DecodeChunk[E any](r io.Reader) ([]E, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}

	if header[0] != MagicNumber {
		return nil, fmt.Errorf("%w: invalid magic number 0x%02x", ErrCorrupt, header[0])
	}
	if header[1] != FrameVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header[1])
	}

	count := binary.BigEndian.Uint32(header[2:6])
	pLen := binary.BigEndian.Uint32(header[6:10])
	sum := binary.BigEndian.Uint64(header[10:18])

	payload := make([]byte, pLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: short payload: %v", ErrCorrupt, err)
	}
	if got := xxhash.Sum64(payload); got != sum {
		return nil, fmt.Errorf("%w: checksum %016x, want %016x", ErrCorrupt, got, sum)
	}

	var records []E
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if uint32(len(records)) != count {
		return nil, fmt.Errorf("%w: %d records, header says %d", ErrCorrupt, len(records), count)
	}
	return records, nil
}

func encodeBlob[E any](records []E) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeChunk(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeBlob[E any](blob []byte) ([]E, error) {
	r := bytes.NewReader(blob)
	records, err := DecodeChunk[E](r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.Len())
	}
	return records, nil
}
