package cluster

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/splitcache/log"
)

// CheckFunc probes one peer; a nil error means the peer is reachable.
type CheckFunc func(ctx context.Context, node string) error

type ProberOptions struct {
	Interval time.Duration // default 1s
	Timeout  time.Duration // per probe, default 500ms
	// Failures is the number of consecutive failed probes before a peer is marked down.
	// Default 2.
	Failures int
	Logger   log.Logger
}

// Prober is a simple failure detector: it probes every peer each interval and feeds the
// result into a View.
type Prober struct {
	view     *View
	peers    []string
	check    CheckFunc
	interval time.Duration
	timeout  time.Duration
	failures int
	log      log.Logger

	mu     sync.Mutex
	misses map[string]int

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewProber(view *View, peers []string, check CheckFunc, opts ProberOptions) *Prober {
	return &Prober{
		view:     view,
		peers:    normalize(peers),
		check:    check,
		interval: coalesce(opts.Interval, time.Second),
		timeout:  coalesce(opts.Timeout, 500*time.Millisecond),
		failures: coalesce(opts.Failures, 2),
		log:      log.OrNop(opts.Logger),
		misses:   make(map[string]int),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the probe loop. Stop ends it.
func (p *Prober) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(p.done)
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-t.C:
				p.ProbeOnce(context.Background())
			}
		}
	}()
}

func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.done
	}
}

// ProbeOnce checks every peer concurrently and applies the outcome to the view.
func (p *Prober) ProbeOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, peer := range p.peers {
		if peer == p.view.Self() {
			continue
		}
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, p.timeout)
			err := p.check(cctx, peer)
			cancel()
			p.record(peer, err)
		}(peer)
	}
	wg.Wait()
}

func (p *Prober) record(peer string, err error) {
	p.mu.Lock()
	if err == nil {
		p.misses[peer] = 0
		p.mu.Unlock()
		if !p.view.IsLive(peer) {
			p.log.Info("peer reachable", log.Fields{"peer": peer})
			p.view.Up(peer)
		}
		return
	}
	p.misses[peer]++
	n := p.misses[peer]
	p.mu.Unlock()

	if n >= p.failures && p.view.IsLive(peer) {
		p.log.Warn("peer unreachable", log.Fields{"peer": peer, "misses": n, "err": err})
		p.view.Down(peer)
	}
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
