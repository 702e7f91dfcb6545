package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"
	"time"
)

func mustDecodeEntry(t *testing.T, b []byte) Entry {
	t.Helper()
	e, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	return e
}

func mustDecodeBatch(t *testing.T, b []byte) []BatchItem {
	t.Helper()
	it, err := DecodeBatch(b)
	if err != nil {
		t.Fatalf("DecodeBatch error: %v", err)
	}
	return it
}

func TestEntryRoundTrip(t *testing.T) {
	created := time.Unix(1700000000, 123)
	cases := []Entry{
		{},
		{Version: 1, Created: created, Updated: created, Payload: []byte("hello")},
		{Version: math.MaxUint64, Created: created, Updated: created.Add(time.Hour), Payload: []byte{0, 1, 2}},
	}
	for _, tc := range cases {
		got := mustDecodeEntry(t, EncodeEntry(tc))
		if got.Version != tc.Version || !got.Created.Equal(tc.Created) || !got.Updated.Equal(tc.Updated) {
			t.Fatalf("metadata mismatch: got %+v want %+v", got, tc)
		}
		if !bytes.Equal(got.Payload, tc.Payload) {
			t.Fatalf("payload mismatch: got %x want %x", got.Payload, tc.Payload)
		}
	}
}

func TestEntryZeroTimesStayZero(t *testing.T) {
	got := mustDecodeEntry(t, EncodeEntry(Entry{Version: 3}))
	if !got.Created.IsZero() || !got.Updated.IsZero() {
		t.Fatalf("zero times must survive: %+v", got)
	}
}

func TestEntryCorruption(t *testing.T) {
	enc := EncodeEntry(Entry{Version: 1, Payload: []byte("abc")})

	mutate := func(fn func(b []byte) []byte) []byte {
		return fn(append([]byte(nil), enc...))
	}
	vlenAt := 4 + 1 + 1 + 8 + 8 + 8
	cases := map[string][]byte{
		"bad magic":   mutate(func(b []byte) []byte { b[0] = 'X'; return b }),
		"bad version": mutate(func(b []byte) []byte { b[4] = version + 1; return b }),
		"batch kind":  mutate(func(b []byte) []byte { b[5] = kindBatch; return b }),
		"trailing":    mutate(func(b []byte) []byte { return append(b, 0xDE, 0xAD) }),
		"truncated":   enc[:len(enc)-1],
		"header only": enc[:10],
		"vlen beyond": mutate(func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[vlenAt:], uint32(len("abc")+1))
			return b
		}),
	}
	for name, b := range cases {
		if _, err := DecodeEntry(b); err != ErrCorrupt {
			t.Fatalf("%s: err=%v", name, err)
		}
	}
}

func TestEntryPayloadAliasesInput(t *testing.T) {
	enc := EncodeEntry(Entry{Payload: []byte("Z")})
	e := mustDecodeEntry(t, enc)
	e.Payload[0] = 'Q'
	if mustDecodeEntry(t, enc).Payload[0] != 'Q' {
		t.Fatalf("expected zero-copy payload")
	}
}

func TestBatchRoundTrip(t *testing.T) {
	cases := [][]BatchItem{
		nil,
		{{Op: OpPut, Key: "a", TTL: time.Minute, Payload: []byte("x")}},
		{
			{Op: OpPut, Key: "a", Payload: []byte("x")},
			{Op: OpRemove, Key: "b"},
			{Op: OpPut, Key: "a", TTL: time.Second, Payload: []byte{9, 8, 7}},
		},
	}
	for _, items := range cases {
		enc, err := EncodeBatch(items)
		if err != nil {
			t.Fatalf("EncodeBatch: %v", err)
		}
		got := mustDecodeBatch(t, enc)
		if len(got) != len(items) {
			t.Fatalf("len mismatch: got %d want %d", len(got), len(items))
		}
		for i := range items {
			w := items[i]
			if got[i].Op != w.Op || got[i].Key != w.Key || got[i].TTL != w.TTL || !bytes.Equal(got[i].Payload, w.Payload) {
				t.Fatalf("item %d: got=%+v want=%+v", i, got[i], w)
			}
		}
	}
}

func TestBatchKeyLength(t *testing.T) {
	if _, err := EncodeBatch([]BatchItem{{Op: OpPut, Key: ""}}); err != ErrKeyTooLong {
		t.Fatalf("empty key err=%v", err)
	}
	if _, err := EncodeBatch([]BatchItem{{Op: OpPut, Key: strings.Repeat("a", 0x10000)}}); err != ErrKeyTooLong {
		t.Fatalf("long key err=%v", err)
	}
	if _, err := EncodeBatch([]BatchItem{{Op: OpPut, Key: strings.Repeat("b", 0xFFFF)}}); err != nil {
		t.Fatalf("boundary key: %v", err)
	}
}

func TestBatchCorruption(t *testing.T) {
	enc, err := EncodeBatch([]BatchItem{{Op: OpPut, Key: "k", Payload: []byte("xyz")}})
	if err != nil {
		t.Fatal(err)
	}
	mutate := func(fn func(b []byte) []byte) []byte {
		return fn(append([]byte(nil), enc...))
	}
	// header 10 bytes, then op(1) keyLen(2) key(1) ttl(8) vlen(4)
	cases := map[string][]byte{
		"bad magic":   mutate(func(b []byte) []byte { b[0] = 'X'; return b }),
		"entry kind":  mutate(func(b []byte) []byte { b[5] = kindEntry; return b }),
		"trailing":    mutate(func(b []byte) []byte { return append(b, 0xBE) }),
		"unknown op":  mutate(func(b []byte) []byte { b[10] = 9; return b }),
		"klen beyond": mutate(func(b []byte) []byte { binary.BigEndian.PutUint16(b[11:], 5); return b }),
		"vlen beyond": mutate(func(b []byte) []byte { binary.BigEndian.PutUint32(b[22:], 4); return b }),
		"huge n": mutate(func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[6:], ^uint32(0))
			return b
		}),
		"truncated": enc[:len(enc)-2],
	}
	for name, b := range cases {
		if _, err := DecodeBatch(b); err != ErrCorrupt {
			t.Fatalf("%s: err=%v", name, err)
		}
	}
}
