// Package api exposes a node over HTTP: the key/value surface, cluster administration,
// the inter-node RPC endpoint, metrics and health.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unkn0wn-root/splitcache"
	"github.com/unkn0wn-root/splitcache/cluster"
	"github.com/unkn0wn-root/splitcache/log"
	"github.com/unkn0wn-root/splitcache/partition"
	"github.com/unkn0wn-root/splitcache/transport/httprpc"
)

const maxValueSize = 16 << 20

type ModeSource interface {
	AvailabilityMode() partition.AvailabilityMode
}

type Options struct {
	NodeID  string
	Cache   splitcache.Cache[[]byte]
	View    *cluster.View
	Mode    ModeSource
	RPC     *httprpc.Handler // optional
	Metrics http.Handler     // optional, served on /metrics
	Logger  log.Logger
}

type server struct {
	Options
	log log.Logger
}

func New(opts Options) http.Handler {
	s := &server{Options: opts, log: log.OrNop(opts.Logger)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get(httprpc.HealthPath, s.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.RPC != nil {
		opts.RPC.Mount(r)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/keys", s.keys)
		r.Delete("/keys", s.clear)
		r.Post("/keys:getAll", s.getAll)
		r.Get("/keys/{key}", s.get)
		r.Put("/keys/{key}", s.put)
		r.Delete("/keys/{key}", s.remove)
		r.Get("/availability", s.availability)
		r.Put("/members", s.members)
	})
	return r
}

type errorBody struct {
	Error string   `json:"error"`
	Keys  []string `json:"keys,omitempty"`
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}
	if keys, ok := partition.UnavailableKeys(err); ok {
		status = http.StatusServiceUnavailable
		body.Keys = keys
	} else if cluster.IsTransportError(err) {
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", log.Fields{"path": r.URL.Path, "err": err})
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "node": s.NodeID})
}

func (s *server) get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	e, ok, err := s.Cache.GetEntry(r.Context(), key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Keys: []string{key}})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Version", strconv.FormatUint(e.Version, 10))
	w.Header().Set("Last-Modified", e.Updated.UTC().Format(http.TimeFormat))
	_, _ = w.Write(e.Value)
}

func (s *server) put(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var ttl time.Duration
	if q := r.URL.Query().Get("ttl"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil || d < 0 {
			badRequest(w, "invalid ttl")
			return
		}
		ttl = d
	}
	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueSize))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "value too large"})
			return
		}
		badRequest(w, "read body: "+err.Error())
		return
	}
	if _, _, err := s.Cache.Put(r.Context(), key, value, ttl); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) remove(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.Cache.Remove(r.Context(), chi.URLParam(r, "key")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) keys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.Cache.Keys(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"keys": keys})
}

func (s *server) clear(w http.ResponseWriter, r *http.Request) {
	if err := s.Cache.Clear(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type getAllRequest struct {
	Keys []string `json:"keys"`
}

// getAll answers with the present keys; JSON encodes the values as base64.
func (s *server) getAll(w http.ResponseWriter, r *http.Request) {
	var req getAllRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxValueSize)).Decode(&req); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return
	}
	values, err := s.Cache.GetAll(r.Context(), req.Keys)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]map[string][]byte{"values": values})
}

type availabilityBody struct {
	Node    string   `json:"node"`
	Mode    string   `json:"mode"`
	Live    []string `json:"live"`
	Version uint64   `json:"version"`
}

func (s *server) availability(w http.ResponseWriter, _ *http.Request) {
	body := availabilityBody{Node: s.NodeID, Mode: partition.Available.String()}
	if s.Mode != nil {
		body.Mode = s.Mode.AvailabilityMode().String()
	}
	if s.View != nil {
		snap := s.View.Snapshot()
		body.Live, body.Version = snap.Live, snap.Version
	}
	writeJSON(w, http.StatusOK, body)
}

type membersRequest struct {
	Live []string `json:"live"`
}

// members replaces the live view by hand. Probing keeps running and may revise it.
func (s *server) members(w http.ResponseWriter, r *http.Request) {
	if s.View == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "no membership view"})
		return
	}
	var req membersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return
	}
	s.View.Set(req.Live...)
	s.log.Info("live view set by operator", log.Fields{"live": req.Live})
	s.availability(w, r)
}
