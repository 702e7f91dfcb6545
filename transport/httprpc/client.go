package httprpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/splitcache/cluster"
	"github.com/unkn0wn-root/splitcache/command"
)

var ErrUnknownPeer = errors.New("httprpc: unknown peer")

type ClientOptions struct {
	HTTPClient *http.Client
	// Timeout bounds a single call when the context carries no earlier deadline.
	Timeout time.Duration
}

// Client sends commands to peers' Handler. It implements distribution.RemoteClient,
// and Check fits cluster.CheckFunc.
type Client struct {
	self    string
	hc      *http.Client
	timeout time.Duration

	mu    sync.RWMutex
	peers map[string]string // node ID -> base URL
}

func NewClient(self string, peers map[string]string, opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	c := &Client{self: self, hc: hc, timeout: timeout, peers: make(map[string]string, len(peers))}
	for id, u := range peers {
		c.SetPeer(id, u)
	}
	return c
}

// SetPeer registers or updates the base URL of node.
func (c *Client) SetPeer(node, baseURL string) {
	c.mu.Lock()
	c.peers[node] = strings.TrimRight(baseURL, "/")
	c.mu.Unlock()
}

func (c *Client) url(node, path string) (string, error) {
	c.mu.RLock()
	base, ok := c.peers[node]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPeer, node)
	}
	return base + path, nil
}

// Invoke runs cmd on node as a remote-origin invocation. Every failure, including
// one reported by the remote chain, is returned as *cluster.TransportError.
func (c *Client) Invoke(ctx context.Context, node string, cmd *command.Command) (any, error) {
	op := cmd.Kind.String()
	fail := func(err error) (any, error) {
		return nil, &cluster.TransportError{Node: node, Op: op, Err: err}
	}

	u, err := c.url(node, InvokePath)
	if err != nil {
		return fail(err)
	}
	body, err := msgpack.Marshal(&request{Source: c.self, Cmd: cmd})
	if err != nil {
		return fail(fmt.Errorf("encode request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", contentType)

	res, err := c.hc.Do(req)
	if err != nil {
		return fail(err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fail(fmt.Errorf("read response: %w", err))
	}
	if res.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out response
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		return fail(fmt.Errorf("decode response: %w", err))
	}
	if out.Err != nil {
		return fail(out.Err.err())
	}
	return out.value(cmd.Kind), nil
}

// Check probes node's health endpoint.
func (c *Client) Check(ctx context.Context, node string) error {
	u, err := c.url(node, HealthPath)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("httprpc: %s health status %d", node, res.StatusCode)
	}
	return nil
}
