package splitcache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/interceptor"
	"github.com/unkn0wn-root/splitcache/log"
)

// Tx buffers writes and applies them with a two-phase Prepare/Commit across every
// owner of the touched keys. A Tx is finished by exactly one Commit or Rollback.
type Tx[V any] struct {
	c  *cache[V]
	id string

	mu   sync.Mutex
	mods []*command.Command
	done bool
}

func (c *cache[V]) Begin() *Tx[V] {
	return &Tx[V]{c: c, id: uuid.NewString()}
}

func (t *Tx[V]) ID() string { return t.id }

func (t *Tx[V]) add(cmd *command.Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	t.mods = append(t.mods, cmd)
	return nil
}

func (t *Tx[V]) Put(key string, value V, ttl time.Duration) error {
	raw, err := t.c.codec.Encode(value)
	if err != nil {
		return err
	}
	return t.add(command.NewPut(key, raw, t.c.expiry(ttl)))
}

func (t *Tx[V]) Remove(key string) error {
	return t.add(command.NewRemove(key))
}

func (t *Tx[V]) PutAll(items map[string]V, ttl time.Duration) error {
	raw := make(map[string][]byte, len(items))
	for k, v := range items {
		b, err := t.c.codec.Encode(v)
		if err != nil {
			return err
		}
		raw[k] = b
	}
	return t.add(command.NewPutAll(raw, t.c.expiry(ttl)))
}

// finish seals the transaction and returns the command set to send.
func (t *Tx[V]) finish() (*command.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, ErrTxDone
	}
	t.done = true
	return &command.Transaction{ID: t.id, Modifications: t.mods}, nil
}

func (t *Tx[V]) run(ctx context.Context, cmd *command.Command) error {
	_, err := t.c.invoke(ctx, cmd, interceptor.WithTransaction(cmd.Tx))
	return err
}

// Commit prepares then commits the buffered writes. Either failure triggers a
// rollback and is returned as *TxError.
func (t *Tx[V]) Commit(ctx context.Context) error {
	tx, err := t.finish()
	if err != nil {
		return err
	}
	if !tx.HasModifications() {
		return nil
	}
	phase := "prepare"
	err = t.run(ctx, command.NewPrepare(tx))
	if err == nil {
		phase = "commit"
		err = t.run(ctx, command.NewCommit(tx))
	}
	if err == nil {
		return nil
	}

	txErr := &TxError{ID: t.id, Phase: phase, Err: err}
	if rbErr := t.run(ctx, command.NewRollback(tx)); rbErr != nil {
		txErr.RollbackErr = rbErr
	}
	t.c.log.Warn("transaction failed", log.Fields{
		"tx":       t.id,
		"phase":    phase,
		"err":      err,
		"rollback": txErr.RollbackErr,
	})
	return txErr
}

// Rollback discards the buffered writes and anything already staged for them.
func (t *Tx[V]) Rollback(ctx context.Context) error {
	tx, err := t.finish()
	if err != nil {
		return err
	}
	if !tx.HasModifications() {
		return nil
	}
	return t.run(ctx, command.NewRollback(tx))
}
