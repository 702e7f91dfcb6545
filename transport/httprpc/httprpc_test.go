package httprpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/splitcache/cluster"
	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/interceptor"
	"github.com/unkn0wn-root/splitcache/partition"
)

type seen struct {
	mu     sync.Mutex
	origin interceptor.Origin
	source string
	cmd    *command.Command
}

func (s *seen) last() (interceptor.Origin, string, *command.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.origin, s.source, s.cmd
}

var created = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newPeer(t *testing.T) (*Client, *seen) {
	t.Helper()
	s := &seen{}
	stage := interceptor.Func(func(inv *interceptor.Invocation, cmd *command.Command) interceptor.Step {
		s.mu.Lock()
		s.origin, s.source, s.cmd = inv.Origin(), inv.Source(), cmd
		s.mu.Unlock()
		switch cmd.Kind {
		case command.Get:
			if cmd.Key == "missing" {
				return inv.ShortCircuit([]byte(nil))
			}
			if cmd.Key == "empty" {
				return inv.ShortCircuit([]byte{})
			}
			return inv.ShortCircuit([]byte("v:" + cmd.Key))
		case command.GetEntry:
			return inv.ShortCircuit(&command.Entry{Key: cmd.Key, Value: []byte("x"), Version: 3, Created: created, Updated: created})
		case command.GetAll:
			return inv.ShortCircuit(map[string][]byte{"a": []byte("1")})
		case command.Put:
			if cmd.Key == "denied" {
				return inv.Fail(partition.KeyUnavailable("put", "denied"))
			}
			return inv.ShortCircuit([]byte(nil))
		case command.Replace:
			return inv.ShortCircuit(true)
		case command.KeySet:
			return inv.ShortCircuit([]string{"a", "b"})
		case command.EntrySet:
			return inv.ShortCircuit([]command.Entry{{Key: "a", Value: []byte("1"), Version: 1}})
		case command.Clear:
			return inv.Fail(errors.New("disk on fire"))
		}
		return inv.ShortCircuit(nil)
	})
	chain := interceptor.New(interceptor.Options{}, stage)

	r := chi.NewRouter()
	NewHandler(chain, HandlerOptions{}).Mount(r)
	r.Get(HealthPath, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return NewClient("n1", map[string]string{"n2": srv.URL + "/"}, ClientOptions{}), s
}

func TestInvokeRunsAsRemoteOrigin(t *testing.T) {
	c, s := newPeer(t)
	v, err := c.Invoke(context.Background(), "n2", command.NewGet("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v:k"), v)

	origin, source, cmd := s.last()
	assert.Equal(t, interceptor.OriginRemote, origin)
	assert.Equal(t, "n1", source)
	assert.Equal(t, command.Get, cmd.Kind)
	assert.Equal(t, "k", cmd.Key)
}

func TestInvokeTypedResults(t *testing.T) {
	c, _ := newPeer(t)
	ctx := context.Background()

	v, err := c.Invoke(ctx, "n2", command.NewGet("missing"))
	require.NoError(t, err)
	assert.True(t, command.Absent(v))

	v, err = c.Invoke(ctx, "n2", command.NewGet("empty"))
	require.NoError(t, err)
	assert.False(t, command.Absent(v))
	assert.Len(t, v, 0)

	v, err = c.Invoke(ctx, "n2", command.NewGetEntry("k"))
	require.NoError(t, err)
	e, ok := v.(*command.Entry)
	require.True(t, ok)
	assert.Equal(t, uint64(3), e.Version)
	assert.True(t, e.Created.Equal(created))

	v, err = c.Invoke(ctx, "n2", command.NewGetAll("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1")}, v)

	v, err = c.Invoke(ctx, "n2", command.NewReplace("k", []byte("n"), nil, 0))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = c.Invoke(ctx, "n2", command.NewKeySet())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v)

	v, err = c.Invoke(ctx, "n2", command.NewEntrySet())
	require.NoError(t, err)
	es, ok := v.([]command.Entry)
	require.True(t, ok)
	require.Len(t, es, 1)
	assert.Equal(t, "a", es[0].Key)
}

func TestInvokeCarriesTransaction(t *testing.T) {
	c, s := newPeer(t)
	tx := &command.Transaction{ID: "tx-1", Modifications: []*command.Command{
		command.NewPut("a", []byte("1"), time.Minute),
		command.NewRemove("b"),
	}}
	_, err := c.Invoke(context.Background(), "n2", command.NewPrepare(tx))
	require.NoError(t, err)

	_, _, cmd := s.last()
	require.NotNil(t, cmd.Tx)
	assert.Equal(t, "tx-1", cmd.Tx.ID)
	assert.Equal(t, []string{"a", "b"}, cmd.AffectedKeys())
	assert.Equal(t, time.Minute, cmd.Tx.Modifications[0].TTL)
}

func TestRemoteAvailabilityErrorIsTransportFailure(t *testing.T) {
	c, _ := newPeer(t)
	_, err := c.Invoke(context.Background(), "n2", command.NewPut("denied", []byte("v"), 0))
	require.Error(t, err)

	var te *cluster.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "n2", te.Node)
	assert.ErrorIs(t, err, partition.ErrDegradedMode)
	keys, ok := partition.UnavailableKeys(err)
	require.True(t, ok)
	assert.Equal(t, []string{"denied"}, keys)
}

func TestRemoteGenericError(t *testing.T) {
	c, _ := newPeer(t)
	_, err := c.Invoke(context.Background(), "n2", command.NewClear())
	assert.True(t, cluster.IsTransportError(err))
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestUnknownPeerAndDeadPeer(t *testing.T) {
	c, _ := newPeer(t)
	_, err := c.Invoke(context.Background(), "n9", command.NewGet("k"))
	assert.ErrorIs(t, err, ErrUnknownPeer)
	assert.True(t, cluster.IsTransportError(err))

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	c.SetPeer("n3", dead.URL)
	_, err = c.Invoke(context.Background(), "n3", command.NewGet("k"))
	assert.True(t, cluster.IsTransportError(err))
	assert.Error(t, c.Check(context.Background(), "n3"))
}

func TestCheck(t *testing.T) {
	c, _ := newPeer(t)
	assert.NoError(t, c.Check(context.Background(), "n2"))
	assert.ErrorIs(t, c.Check(context.Background(), "n9"), ErrUnknownPeer)
}

func TestHandlerRejectsMalformedBody(t *testing.T) {
	h := NewHandler(interceptor.New(interceptor.Options{}), HandlerOptions{MaxBody: 8})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, InvokePath, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
