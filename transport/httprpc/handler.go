// Package httprpc carries commands between nodes as msgpack over HTTP.
//
// The Handler runs every received command through the local chain as a remote-origin
// invocation; the Client is the matching distribution.RemoteClient.
package httprpc

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/interceptor"
	"github.com/unkn0wn-root/splitcache/log"
)

const (
	InvokePath = "/rpc/invoke"
	HealthPath = "/healthz"

	defaultMaxBody = 32 << 20
)

// Invoker is satisfied by *interceptor.Chain.
type Invoker interface {
	Invoke(inv *interceptor.Invocation, cmd *command.Command) (any, error)
}

type HandlerOptions struct {
	Logger  log.Logger
	MaxBody int64
}

type Handler struct {
	chain   Invoker
	log     log.Logger
	maxBody int64
}

func NewHandler(chain Invoker, opts HandlerOptions) *Handler {
	maxBody := opts.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Handler{chain: chain, log: log.OrNop(opts.Logger), maxBody: maxBody}
}

// Mount registers the invoke endpoint on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post(InvokePath, h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if int64(len(raw)) > h.maxBody {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}
	var req request
	if err := msgpack.Unmarshal(raw, &req); err != nil || req.Cmd == nil {
		http.Error(w, fmt.Sprintf("malformed request: %v", err), http.StatusBadRequest)
		return
	}
	source := req.Source
	if source == "" {
		source = r.RemoteAddr
	}

	inv := interceptor.NewInvocation(r.Context(), interceptor.Remote(source))
	v, err := h.chain.Invoke(inv, req.Cmd)
	if err != nil {
		h.log.Debug("remote command failed", log.Fields{
			"source": source,
			"op":     req.Cmd.Kind.String(),
			"err":    err,
		})
	}

	out, merr := msgpack.Marshal(encodeResult(v, err))
	if merr != nil {
		h.log.Error("encode rpc response", log.Fields{"op": req.Cmd.Kind.String(), "err": merr})
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(out)
}
