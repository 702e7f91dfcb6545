package store

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/internal/wire"
	"github.com/unkn0wn-root/splitcache/log"
)

// prepare validates the modification set and stages it in the provider.
func (s *Interceptor) prepare(ctx context.Context, tx *command.Transaction) error {
	if tx == nil {
		return ErrNoTransaction
	}
	items, err := batchOf(tx)
	if err != nil {
		return err
	}
	raw, err := wire.EncodeBatch(items)
	if err != nil {
		return err
	}
	sk := s.stageKey(tx.ID)
	ok, err := s.p.Set(ctx, sk, raw, s.cost(sk, raw), s.stagingTTL)
	if err != nil {
		return fmt.Errorf("store: stage tx %s: %w", tx.ID, err)
	}
	if !ok {
		return ErrStagingRejected
	}
	return nil
}

// commit applies the staged writes, or the command's own modification set when nothing
// was prepared (one-phase commit).
func (s *Interceptor) commit(ctx context.Context, tx *command.Transaction) error {
	if tx == nil {
		return ErrNoTransaction
	}
	sk := s.stageKey(tx.ID)
	raw, staged, err := s.p.Get(ctx, sk)
	if err != nil {
		return fmt.Errorf("store: load tx %s: %w", tx.ID, err)
	}

	var items []wire.BatchItem
	if staged {
		items, err = wire.DecodeBatch(raw)
		if err != nil {
			s.log.Warn("staged transaction corrupt, falling back to modifications", log.Fields{"tx": tx.ID})
			staged = false
		}
	}
	if !staged {
		if items, err = batchOf(tx); err != nil {
			return err
		}
	}

	for _, it := range items {
		switch it.Op {
		case wire.OpPut:
			_, err = s.put(ctx, it.Key, it.Payload, s.ttl(it.TTL))
		case wire.OpRemove:
			_, err = s.remove(ctx, it.Key)
		}
		if err != nil {
			return fmt.Errorf("store: commit tx %s: %w", tx.ID, err)
		}
	}
	if staged {
		if err := s.p.Del(ctx, sk); err != nil {
			s.log.Warn("could not drop staged transaction", log.Fields{"tx": tx.ID, "err": err})
		}
	}
	return nil
}

func (s *Interceptor) rollback(ctx context.Context, tx *command.Transaction) error {
	if tx == nil {
		return ErrNoTransaction
	}
	return s.p.Del(ctx, s.stageKey(tx.ID))
}
