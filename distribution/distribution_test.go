package distribution

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"

	"github.com/unkn0wn-root/splitcache/cluster"
	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/interceptor"
)

type call struct {
	node string
	kind command.Kind
	key  string
	keys []string
	tx   *command.Transaction
}

type fakeClient struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
	reply func(node string, cmd *command.Command) any
}

func (c *fakeClient) Invoke(_ context.Context, node string, cmd *command.Command) (any, error) {
	c.mu.Lock()
	c.calls = append(c.calls, call{node: node, kind: cmd.Kind, key: cmd.Key, keys: cmd.Keys, tx: cmd.Tx})
	err := c.fail[node]
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if c.reply != nil {
		return c.reply(node, cmd), nil
	}
	return nil, nil
}

func (c *fakeClient) nodes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, cl := range c.calls {
		out = append(out, cl.node)
	}
	sort.Strings(out)
	return out
}

type ownerMap map[string][]string

func (o ownerMap) Locate(key string) []string { return o[key] }

type liveSet []string

func (l liveSet) LiveMembers() []string { return l }

type recorder struct {
	txID   string
	failed []string
}

func (r *recorder) MarkPartiallyCommitted(_ context.Context, txID string, failed []string) error {
	r.txID, r.failed = txID, failed
	return nil
}

// local stands in for the data container of node "a".
type local struct {
	mu   sync.Mutex
	seen []*command.Command
	data map[string][]byte
}

func (l *local) Visit(inv *interceptor.Invocation, cmd *command.Command) interceptor.Step {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, cmd)
	switch cmd.Kind {
	case command.Get:
		return inv.ShortCircuit(l.data[cmd.Key])
	case command.GetAll:
		out := map[string][]byte{}
		for _, k := range cmd.Keys {
			if v, ok := l.data[k]; ok {
				out[k] = v
			}
		}
		return inv.ShortCircuit(out)
	case command.ApplyDelta:
		return inv.ShortCircuit([]byte("new"))
	case command.KeySet:
		return inv.ShortCircuit([]string{"a1", "shared"})
	case command.EntrySet:
		return inv.ShortCircuit([]command.Entry{{Key: "shared", Version: 1}})
	}
	return inv.ShortCircuit(nil)
}

// owners: "a1" on a only, "b1" on b only, "ab" on a+b, "ba" on b+a, "c1" on c only.
var owners = ownerMap{"a1": {"a"}, "b1": {"b"}, "ab": {"a", "b"}, "ba": {"b", "a"}, "c1": {"c"}}

func setup(live ...string) (*interceptor.Chain, *local, *fakeClient, *recorder) {
	l := &local{data: map[string][]byte{"a1": []byte("A"), "ab": []byte("AB")}}
	fc := &fakeClient{fail: map[string]error{}}
	rec := &recorder{}
	d := New("a", owners, liveSet(live), fc, Options{Recorder: rec})
	return interceptor.New(interceptor.Options{}, d, l), l, fc, rec
}

func run(c *interceptor.Chain, cmd *command.Command, opts ...interceptor.InvocationOption) (any, error) {
	return c.Invoke(interceptor.NewInvocation(context.Background(), opts...), cmd)
}

func TestReadOwnedLocally(t *testing.T) {
	c, l, fc, _ := setup("a", "b", "c")
	v, err := run(c, command.NewGet("ba"))
	if err != nil || !command.Absent(v) {
		t.Fatalf("v=%v err=%v", v, err)
	}
	if len(fc.calls) != 0 || len(l.seen) != 1 {
		t.Fatalf("local owner must serve the read locally: remote=%v local=%d", fc.calls, len(l.seen))
	}
}

func TestReadRoutedToRemoteOwner(t *testing.T) {
	c, l, fc, _ := setup("a", "b", "c")
	fc.reply = func(node string, cmd *command.Command) any { return []byte("from-" + node) }
	v, err := run(c, command.NewGet("b1"))
	if err != nil || string(v.([]byte)) != "from-b" {
		t.Fatalf("v=%v err=%v", v, err)
	}
	if len(l.seen) != 0 {
		t.Fatalf("non-owner executed locally")
	}
}

func TestReadWithoutLiveOwnerIsAbsent(t *testing.T) {
	c, _, fc, _ := setup("a", "b")
	v, err := run(c, command.NewGet("c1"))
	if err != nil || !command.Absent(v) {
		t.Fatalf("v=%v err=%v", v, err)
	}
	v, err = run(c, command.NewGetEntry("c1"))
	if err != nil || !command.Absent(v) {
		t.Fatalf("entry v=%v err=%v", v, err)
	}
	if len(fc.calls) != 0 {
		t.Fatalf("unexpected remote calls %v", fc.calls)
	}
}

func TestRemoteFailureIsTransportError(t *testing.T) {
	c, _, fc, _ := setup("a", "b")
	fc.fail["b"] = errors.New("connection reset")
	_, err := run(c, command.NewGet("b1"))
	var te *cluster.TransportError
	if !errors.As(err, &te) || te.Node != "b" {
		t.Fatalf("err=%v", err)
	}
}

func TestRemoteAndLocalOriginBypass(t *testing.T) {
	c, l, fc, _ := setup("a", "b")
	if _, err := run(c, command.NewGet("b1"), interceptor.Remote("b")); err != nil {
		t.Fatal(err)
	}
	if _, err := run(c, command.NewPut("b1", nil, 0).WithFlags(command.FlagLocalOnly)); err != nil {
		t.Fatal(err)
	}
	if len(fc.calls) != 0 || len(l.seen) != 2 {
		t.Fatalf("remote=%v local=%d", fc.calls, len(l.seen))
	}
}

func TestGetAllGroupsByOwner(t *testing.T) {
	c, _, fc, _ := setup("a", "b")
	fc.reply = func(node string, cmd *command.Command) any {
		return map[string][]byte{"b1": []byte("B")}
	}
	v, err := run(c, command.NewGetAll("a1", "b1", "c1", "ab"))
	if err != nil {
		t.Fatal(err)
	}
	got := v.(map[string][]byte)
	want := map[string][]byte{"a1": []byte("A"), "ab": []byte("AB"), "b1": []byte("B")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v", got)
	}
	if len(fc.calls) != 1 || !reflect.DeepEqual(fc.calls[0].keys, []string{"b1"}) {
		t.Fatalf("remote calls=%+v", fc.calls)
	}
}

func TestWriteReplicatesToOtherOwners(t *testing.T) {
	c, l, fc, _ := setup("a", "b")
	if _, err := run(c, command.NewPut("ba", []byte("v"), 0)); err != nil {
		t.Fatal(err)
	}
	// this node is an owner, so it goes first; b gets the replica
	if len(l.seen) != 1 || !reflect.DeepEqual(fc.nodes(), []string{"b"}) {
		t.Fatalf("local=%d remote=%v", len(l.seen), fc.calls)
	}
}

func TestApplyDeltaReplicatedAsPut(t *testing.T) {
	c, _, fc, _ := setup("a", "b")
	v, err := run(c, command.NewApplyDelta("ab", []byte("x")))
	if err != nil || string(v.([]byte)) != "new" {
		t.Fatalf("v=%v err=%v", v, err)
	}
	if len(fc.calls) != 1 || fc.calls[0].kind != command.Put {
		t.Fatalf("replica=%+v", fc.calls)
	}
}

func TestWriteToRemotePrimary(t *testing.T) {
	c, l, fc, _ := setup("a", "b")
	if _, err := run(c, command.NewRemove("b1")); err != nil {
		t.Fatal(err)
	}
	if len(l.seen) != 0 || !reflect.DeepEqual(fc.nodes(), []string{"b"}) {
		t.Fatalf("local=%d remote=%v", len(l.seen), fc.calls)
	}
}

func TestWriteWithoutLiveOwner(t *testing.T) {
	c, _, _, _ := setup("a", "b")
	_, err := run(c, command.NewPut("c1", nil, 0))
	if !errors.Is(err, cluster.ErrNoLiveOwner) || !cluster.IsTransportError(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestReplicaFailureSurfaces(t *testing.T) {
	c, _, fc, _ := setup("a", "b")
	fc.fail["b"] = errors.New("timeout")
	if _, err := run(c, command.NewPut("ab", nil, 0)); !cluster.IsTransportError(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestPutAllSplitsPerOwner(t *testing.T) {
	c, l, fc, _ := setup("a", "b")
	_, err := run(c, command.NewPutAll(map[string][]byte{"a1": nil, "b1": nil, "ab": nil}, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(l.seen) != 1 || len(l.seen[0].Items) != 2 {
		t.Fatalf("local share=%+v", l.seen)
	}
	if !reflect.DeepEqual(fc.nodes(), []string{"b"}) {
		t.Fatalf("remote=%v", fc.calls)
	}
}

func TestBulkReadsMerge(t *testing.T) {
	c, _, fc, _ := setup("a", "b")
	fc.reply = func(node string, cmd *command.Command) any {
		if cmd.Kind == command.KeySet {
			return []string{"shared", "b1"}
		}
		return []command.Entry{{Key: "shared", Version: 4}, {Key: "b1", Version: 1}}
	}
	keys, err := run(c, command.NewKeySet())
	if err != nil || !reflect.DeepEqual(keys, []string{"a1", "b1", "shared"}) {
		t.Fatalf("keys=%v err=%v", keys, err)
	}
	es, err := run(c, command.NewEntrySet())
	if err != nil {
		t.Fatal(err)
	}
	entries := es.([]command.Entry)
	if len(entries) != 2 || entries[1].Key != "shared" || entries[1].Version != 4 {
		t.Fatalf("entries=%+v", entries)
	}
}

func txFor(keys ...string) *command.Transaction {
	tx := &command.Transaction{ID: "tx1"}
	for _, k := range keys {
		tx.Modifications = append(tx.Modifications, command.NewPut(k, nil, 0))
	}
	return tx
}

func TestCommitReachesEveryLiveOwner(t *testing.T) {
	c, l, fc, rec := setup("a", "b")
	if _, err := run(c, command.NewCommit(txFor("a1", "b1"))); err != nil {
		t.Fatal(err)
	}
	if len(l.seen) != 1 || !reflect.DeepEqual(fc.nodes(), []string{"b"}) {
		t.Fatalf("local=%d remote=%v", len(l.seen), fc.calls)
	}
	if rec.txID != "" {
		t.Fatalf("clean commit recorded as partial")
	}
}

func TestTxWithUnreachableKeyFails(t *testing.T) {
	for _, kind := range []command.Kind{command.Prepare, command.Commit} {
		c, l, fc, rec := setup("a", "b")
		tx := txFor("a1", "c1")
		cmd := command.NewPrepare(tx)
		if kind == command.Commit {
			cmd = command.NewCommit(tx)
		}
		_, err := run(c, cmd)
		if !errors.Is(err, cluster.ErrNoLiveOwner) || !cluster.IsTransportError(err) {
			t.Fatalf("%s: err=%v", kind, err)
		}
		if len(l.seen) != 0 || len(fc.calls) != 0 {
			t.Fatalf("%s: local=%d remote=%v", kind, len(l.seen), fc.calls)
		}
		if rec.txID != "" {
			t.Fatalf("%s: recorded as partial", kind)
		}
	}

	// only c's keys: nothing reachable at all
	c, _, _, _ := setup("a", "b")
	if _, err := run(c, command.NewCommit(txFor("c1"))); !errors.Is(err, cluster.ErrNoLiveOwner) {
		t.Fatalf("err=%v", err)
	}
}

func TestRollbackReachesRemainingOwners(t *testing.T) {
	c, l, fc, _ := setup("a", "b")
	if _, err := run(c, command.NewRollback(txFor("a1", "b1", "c1"))); err != nil {
		t.Fatal(err)
	}
	if len(l.seen) != 1 || !reflect.DeepEqual(fc.nodes(), []string{"b"}) {
		t.Fatalf("local=%d remote=%v", len(l.seen), fc.calls)
	}
}

func TestPartialCommitRecorded(t *testing.T) {
	c, _, fc, rec := setup("a", "b")
	fc.fail["b"] = errors.New("timeout")
	_, err := run(c, command.NewCommit(txFor("a1", "b1")))
	if !cluster.IsTransportError(err) {
		t.Fatalf("err=%v", err)
	}
	if rec.txID != "tx1" || !reflect.DeepEqual(rec.failed, []string{"b"}) {
		t.Fatalf("recorded=%+v", rec)
	}
}

func TestFailedPrepareNotRecorded(t *testing.T) {
	c, _, fc, rec := setup("a", "b")
	fc.fail["b"] = errors.New("timeout")
	if _, err := run(c, command.NewPrepare(txFor("a1", "b1"))); err == nil {
		t.Fatalf("prepare failure swallowed")
	}
	if rec.txID != "" {
		t.Fatalf("prepare recorded as partial commit")
	}
}

func TestCommitUsesInvocationTransaction(t *testing.T) {
	c, l, fc, _ := setup("a", "b")
	_, err := run(c, command.NewCommit(nil), interceptor.WithTransaction(txFor("b1")))
	if err != nil {
		t.Fatal(err)
	}
	if len(l.seen) != 0 || len(fc.calls) != 1 {
		t.Fatalf("local=%d remote=%v", len(l.seen), fc.calls)
	}
}

func TestCommitSendsEachOwnerItsShare(t *testing.T) {
	c, l, fc, _ := setup("a", "b")
	tx := txFor("a1", "b1")
	tx.Modifications = append(tx.Modifications, command.NewPutAll(map[string][]byte{
		"a1": []byte("x"), "b1": []byte("y"), "ab": []byte("z"),
	}, 0))
	if _, err := run(c, command.NewPrepare(tx)); err != nil {
		t.Fatal(err)
	}
	if len(fc.calls) != 1 || fc.calls[0].node != "b" {
		t.Fatalf("remote=%v", fc.calls)
	}
	if got := fc.calls[0].tx.AffectedKeys(); !reflect.DeepEqual(got, []string{"b1", "ab"}) {
		t.Fatalf("b's share=%v", got)
	}
	if len(l.seen) != 1 {
		t.Fatalf("local=%d", len(l.seen))
	}
	if got := l.seen[0].Tx.AffectedKeys(); !reflect.DeepEqual(got, []string{"a1", "ab"}) {
		t.Fatalf("a's share=%v", got)
	}
	if len(tx.Modifications[2].Items) != 3 {
		t.Fatalf("caller's transaction modified")
	}
}
