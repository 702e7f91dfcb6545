package txstore

import (
	"context"
	"slices"
	"sync"
	"time"
)

type localRecord struct {
	Failed   []string
	MarkedAt time.Time
}

// Local keeps the registry in-process, with an optional loop pruning old records.
type Local struct {
	mu     sync.RWMutex
	txs    map[string]localRecord
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ Store = (*Local)(nil)

func NewLocal(cleanupInterval, retention time.Duration) *Local {
	s := &Local{txs: make(map[string]localRecord)}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Mark(_ context.Context, txID string, failed []string) error {
	s.mu.Lock()
	r := s.txs[txID]
	for _, n := range failed {
		if !slices.Contains(r.Failed, n) {
			r.Failed = append(r.Failed, n)
		}
	}
	r.MarkedAt = time.Now()
	s.txs[txID] = r
	s.mu.Unlock()
	return nil
}

func (s *Local) IsMarked(_ context.Context, txID string) (bool, error) {
	s.mu.RLock()
	_, ok := s.txs[txID]
	s.mu.RUnlock()
	return ok, nil
}

func (s *Local) Failed(_ context.Context, txID string) ([]string, error) {
	s.mu.RLock()
	r, ok := s.txs[txID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return slices.Clone(r.Failed), nil
}

func (s *Local) Forget(_ context.Context, txID string) error {
	s.mu.Lock()
	delete(s.txs, txID)
	s.mu.Unlock()
	return nil
}

func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for id, r := range s.txs {
		if r.MarkedAt.Before(cutoff) {
			delete(s.txs, id)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			s.ticker.Stop()
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
