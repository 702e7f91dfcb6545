// Package wire frames what the data container writes into a provider.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version    byte = 1
	kindEntry  byte = 1
	kindBatch  byte = 2
	maxKeyLen       = 0xFFFF
	entryHdr        = 4 + 1 + 1 + 8 + 8 + 8 + 4
	batchHdr        = 4 + 1 + 1 + 4
	batchItemH      = 1 + 2 + 8 + 4 // op | keyLen | ttl | vlen
)

var (
	ErrCorrupt    = errors.New("splitcache: corrupt entry")
	ErrKeyTooLong = errors.New("splitcache: invalid key length in batch")
	magic4        = [...]byte{'S', 'P', 'L', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry is one stored value with its metadata.
type Entry struct {
	Version uint64
	Created time.Time
	Updated time.Time
	Payload []byte
}

// EncodeEntry:
//
//	magic(4) | ver(1) | kind(1=entry) | version(u64 be) | created(i64 be, unix ns) |
//	updated(i64 be, unix ns) | vlen(u32 be) | payload(vlen)
func EncodeEntry(e Entry) []byte {
	var buf bytes.Buffer
	buf.Grow(entryHdr + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], e.Version)
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(unixNano(e.Created)))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(unixNano(e.Updated)))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])
	buf.Write(e.Payload)
	return buf.Bytes()
}

// DecodeEntry rejects anything but an exact frame. The returned payload aliases b.
func DecodeEntry(b []byte) (Entry, error) {
	if len(b) < entryHdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}
	off := 6
	var e Entry
	e.Version = binary.BigEndian.Uint64(b[off:])
	off += 8
	e.Created = fromUnixNano(int64(binary.BigEndian.Uint64(b[off:])))
	off += 8
	e.Updated = fromUnixNano(int64(binary.BigEndian.Uint64(b[off:])))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if vlen != len(b)-off {
		return Entry{}, ErrCorrupt
	}
	e.Payload = b[off : off+vlen]
	return e, nil
}

// Op is the write a batch item performs.
type Op byte

const (
	OpPut    Op = 1
	OpRemove Op = 2
)

// BatchItem is one staged write of a prepared transaction.
type BatchItem struct {
	Op      Op
	Key     string
	TTL     time.Duration
	Payload []byte
}

// EncodeBatch:
//
//	magic(4) | ver(1) | kind(2=batch) | n(u32 be)
//	op(1) | keyLen(u16 be) | key(keyLen) | ttl(i64 be, ns) | vlen(u32 be) | payload(vlen) * n
func EncodeBatch(items []BatchItem) ([]byte, error) {
	total := batchHdr
	for _, it := range items {
		if l := len(it.Key); l == 0 || l > maxKeyLen {
			return nil, ErrKeyTooLong
		}
		total += batchItemH + len(it.Key) + len(it.Payload)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindBatch)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(items)))
	buf.Write(u4[:])

	for _, it := range items {
		buf.WriteByte(byte(it.Op))
		binary.BigEndian.PutUint16(u2[:], uint16(len(it.Key)))
		buf.Write(u2[:])
		buf.WriteString(it.Key)

		binary.BigEndian.PutUint64(u8[:], uint64(it.TTL))
		buf.Write(u8[:])

		binary.BigEndian.PutUint32(u4[:], uint32(len(it.Payload)))
		buf.Write(u4[:])
		buf.Write(it.Payload)
	}
	return buf.Bytes(), nil
}

func DecodeBatch(b []byte) ([]BatchItem, error) {
	if len(b) < batchHdr || !hasMagic(b) || b[4] != version || b[5] != kindBatch {
		return nil, ErrCorrupt
	}
	off := 6
	n := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	// every item needs at least its header and a one byte key
	if n > (len(b)-off)/(batchItemH+1) {
		return nil, ErrCorrupt
	}

	items := make([]BatchItem, 0, n)
	for i := 0; i < n; i++ {
		if off+3 > len(b) {
			return nil, ErrCorrupt
		}
		op := Op(b[off])
		if op != OpPut && op != OpRemove {
			return nil, ErrCorrupt
		}
		klen := int(binary.BigEndian.Uint16(b[off+1:]))
		off += 3
		if klen == 0 || klen > len(b)-off {
			return nil, ErrCorrupt
		}
		key := string(b[off : off+klen])
		off += klen

		if off+12 > len(b) {
			return nil, ErrCorrupt
		}
		ttl := time.Duration(binary.BigEndian.Uint64(b[off:]))
		off += 8
		vlen := int(binary.BigEndian.Uint32(b[off:]))
		off += 4
		if vlen > len(b)-off {
			return nil, ErrCorrupt
		}
		items = append(items, BatchItem{Op: op, Key: key, TTL: ttl, Payload: b[off : off+vlen]})
		off += vlen
	}
	if off != len(b) {
		return nil, ErrCorrupt
	}
	return items, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
