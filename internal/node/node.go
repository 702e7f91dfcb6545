// Package node assembles a cluster member from its configuration.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/splitcache"
	"github.com/unkn0wn-root/splitcache/cluster"
	"github.com/unkn0wn-root/splitcache/codec"
	"github.com/unkn0wn-root/splitcache/config"
	"github.com/unkn0wn-root/splitcache/distribution"
	"github.com/unkn0wn-root/splitcache/hooks"
	asynchook "github.com/unkn0wn-root/splitcache/hooks/async"
	"github.com/unkn0wn-root/splitcache/interceptor"
	"github.com/unkn0wn-root/splitcache/internal/api"
	"github.com/unkn0wn-root/splitcache/log"
	"github.com/unkn0wn-root/splitcache/metrics"
	"github.com/unkn0wn-root/splitcache/partition"
	"github.com/unkn0wn-root/splitcache/provider"
	"github.com/unkn0wn-root/splitcache/provider/bigcache"
	predis "github.com/unkn0wn-root/splitcache/provider/redis"
	"github.com/unkn0wn-root/splitcache/provider/ristretto"
	"github.com/unkn0wn-root/splitcache/store"
	"github.com/unkn0wn-root/splitcache/transport/httprpc"
	"github.com/unkn0wn-root/splitcache/txstore"
)

type Options struct {
	Logger log.Logger
	// Registry receives the node's metrics. nil => a fresh registry that also carries
	// the Go and process collectors.
	Registry *prometheus.Registry
	// Hooks receives availability events next to the metrics hooks, off the request path.
	Hooks hooks.Hooks
}

type Node struct {
	ID      string
	Cache   splitcache.Cache[[]byte]
	Chain   *interceptor.Chain
	View    *cluster.View
	Manager *partition.LocalManager
	Handler http.Handler

	client *httprpc.Client
	prober *cluster.Prober
	hooks  *asynchook.Hooks
	data   provider.Provider
	log    log.Logger
}

// New wires every component but starts nothing; call Start once the handler is served.
// Peers start out unreachable: the node stays degraded until probes confirm them.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Node, error) {
	l := log.OrNop(opts.Logger)
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	data, err := openProvider(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	txs, err := openTxStore(cfg)
	if err != nil {
		_ = data.Close(ctx)
		return nil, err
	}

	m := metrics.New(reg)
	h := asynchook.New(hooks.Multi{m.Hooks(), hooks.OrNop(opts.Hooks)}, 1, 1024)

	members := make([]string, 0, len(cfg.Cluster.Members))
	for id := range cfg.Cluster.Members {
		members = append(members, id)
	}
	slices.Sort(members)

	view := cluster.NewView(cfg.Node.ID)
	ring := cluster.NewRing(members, cfg.Cluster.Owners, cfg.Cluster.VNodes)
	mgr := partition.NewLocalManager(view, ring, partition.LocalManagerOptions{
		Expected: cfg.ExpectedMembers(),
		Store:    txs,
		Logger:   l,
		Hooks:    h,
	})
	client := httprpc.NewClient(cfg.Node.ID, cfg.Peers(), httprpc.ClientOptions{Timeout: cfg.RPC.Timeout})

	chain := interceptor.New(interceptor.Options{Logger: l, Hooks: h},
		m.Interceptor(),
		partition.NewInterceptor(mgr, view, ring, partition.Options{Logger: l, Hooks: h}),
		distribution.New(cfg.Node.ID, ring, view, client, distribution.Options{Recorder: mgr, Logger: l}),
		store.New(data, store.Options{
			Namespace:  cfg.Store.Namespace,
			DefaultTTL: cfg.Store.DefaultTTL,
			StagingTTL: cfg.Store.StagingTTL,
			Logger:     l,
		}),
	)
	m.ChainSize.Set(float64(chain.Size()))

	cache, err := splitcache.New[[]byte](splitcache.Options[[]byte]{Chain: chain, Codec: codec.Bytes{}, Logger: l})
	if err != nil {
		return nil, errors.Join(err, mgr.Close(ctx), data.Close(ctx))
	}

	n := &Node{
		ID:      cfg.Node.ID,
		Cache:   cache,
		Chain:   chain,
		View:    view,
		Manager: mgr,
		client:  client,
		hooks:   h,
		data:    data,
		log:     l,
	}
	n.prober = cluster.NewProber(view, members, client.Check, cluster.ProberOptions{
		Interval: cfg.Probe.Interval,
		Timeout:  cfg.Probe.Timeout,
		Failures: cfg.Probe.Failures,
		Logger:   l,
	})
	n.Handler = api.New(api.Options{
		NodeID:  cfg.Node.ID,
		Cache:   cache,
		View:    view,
		Mode:    mgr,
		RPC:     httprpc.NewHandler(chain, httprpc.HandlerOptions{Logger: l, MaxBody: cfg.RPC.MaxBody}),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:  l,
	})
	return n, nil
}

// Start probes every peer once, then keeps probing in the background.
func (n *Node) Start(ctx context.Context) {
	n.prober.ProbeOnce(ctx)
	n.prober.Start()
	n.log.Info("node started", log.Fields{
		"node": n.ID,
		"live": n.View.LiveMembers(),
		"mode": n.Manager.AvailabilityMode().String(),
	})
}

// Close stops probing and releases the stores. It does not stop the HTTP server.
func (n *Node) Close(ctx context.Context) error {
	n.prober.Stop()
	err := errors.Join(n.Manager.Close(ctx), n.data.Close(ctx))
	n.hooks.Close()
	return err
}

func openProvider(ctx context.Context, c config.StoreConfig) (provider.Provider, error) {
	switch c.Backend {
	case "ristretto":
		return ristretto.New(ristretto.Config{
			NumCounters: c.Ristretto.NumCounters,
			MaxCost:     c.Ristretto.MaxCost,
			BufferItems: c.Ristretto.BufferItems,
			Metrics:     true,
			Synchronous: true,
		})
	case "bigcache":
		return bigcache.New(ctx, bigcache.Config{
			LifeWindow:         c.Bigcache.LifeWindow,
			Shards:             c.Bigcache.Shards,
			HardMaxCacheSizeMB: c.Bigcache.HardMaxCacheSizeMB,
		})
	case "redis":
		return predis.New(predis.Config{Client: redisClient(c.Redis), CloseClient: true})
	}
	return nil, fmt.Errorf("%w: store backend %q", config.ErrInvalid, c.Backend)
}

func openTxStore(cfg *config.Config) (txstore.Store, error) {
	switch cfg.TxStore.Backend {
	case "local":
		return txstore.NewLocal(cfg.TxStore.Retention/4, cfg.TxStore.Retention), nil
	case "redis":
		return txstore.NewRedis(redisClient(cfg.TxStore.Redis), cfg.Store.Namespace, cfg.TxStore.Retention), nil
	}
	return nil, fmt.Errorf("%w: txstore backend %q", config.ErrInvalid, cfg.TxStore.Backend)
}

func redisClient(c config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
}
