package command

import (
	"reflect"
	"strconv"
	"testing"
)

func TestAffectedKeys(t *testing.T) {
	cases := []struct {
		name string
		cmd  *Command
		want []string
	}{
		{"put", NewPut("a", []byte("1"), 0), []string{"a"}},
		{"remove", NewRemove("b"), []string{"b"}},
		{"delta", NewApplyDelta("c", []byte("x")), []string{"c"}},
		{"put_all sorted", NewPutAll(map[string][]byte{"z": nil, "m": nil, "a": nil}, 0), []string{"a", "m", "z"}},
		{"get", NewGet("a"), nil},
		{"clear", NewClear(), nil},
		{"prepare", NewPrepare(&Transaction{ID: "tx", Modifications: []*Command{
			NewPut("k2", nil, 0),
			NewRemove("k1"),
			NewPut("k2", nil, 0),
		}}), []string{"k2", "k1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cmd.AffectedKeys(); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("AffectedKeys=%v want %v", got, tc.want)
			}
		})
	}
}

func TestWithFlagsCopies(t *testing.T) {
	c := NewGet("k")
	lc := c.WithFlags(FlagLocalOnly)
	if c.HasFlag(FlagLocalOnly) {
		t.Fatalf("original command was mutated")
	}
	if !lc.HasFlag(FlagLocalOnly) || lc.Key != "k" {
		t.Fatalf("copy missing flag or key: %+v", lc)
	}
}

func TestGetAllDedup(t *testing.T) {
	c := NewGetAll("a", "b", "a", "c", "b")
	if !reflect.DeepEqual(c.Keys, []string{"a", "b", "c"}) {
		t.Fatalf("keys=%v", c.Keys)
	}

	keys := make([]string, 0, 20000)
	for i := 0; i < 10000; i++ {
		k := strconv.Itoa(i)
		keys = append(keys, k, k)
	}
	big := NewGetAll(keys...)
	if len(big.Keys) != 10000 || big.Keys[0] != "0" || big.Keys[9999] != "9999" {
		t.Fatalf("len=%d first=%q last=%q", len(big.Keys), big.Keys[0], big.Keys[len(big.Keys)-1])
	}
}

func TestAbsent(t *testing.T) {
	var nilEntry *Entry
	var nilBytes []byte
	if !Absent(nil) || !Absent(nilBytes) || !Absent(nilEntry) {
		t.Fatalf("nil shapes must be absent")
	}
	if Absent([]byte{}) {
		t.Fatalf("empty stored value is not absence")
	}
	if Absent(&Entry{Key: "k"}) || Absent(false) {
		t.Fatalf("non-nil values must not be absent")
	}
}

func TestTransactionNil(t *testing.T) {
	var tx *Transaction
	if tx.HasModifications() || tx.AffectedKeys() != nil {
		t.Fatalf("nil transaction must have no modifications")
	}
}

func TestKindString(t *testing.T) {
	if Get.String() != "get" || Rollback.String() != "rollback" || Kind(200).String() != "unknown" {
		t.Fatalf("unexpected kind names")
	}
	if !PutAll.IsWrite() || Get.IsWrite() || !Commit.IsTx() {
		t.Fatalf("unexpected kind classification")
	}
}
