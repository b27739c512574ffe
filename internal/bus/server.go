package bus

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/function61/gokit/logex"

	"github.com/openbmc/dump-manager/internal/dumperr"
	"github.com/openbmc/dump-manager/internal/logtee"
	"github.com/openbmc/dump-manager/internal/metrics"
)

// Server is the bus's HTTP+JSON transport: one ServeMux routed by Go
// 1.22's method+path patterns, wrapped in httpsnoop-based request
// logging so every request's status and duration reach both the health
// tail and the metrics collector without each handler reporting it
// itself.
type Server struct {
	registry *Registry
	logl     *logex.Leveled
	health   *logtee.StringTail
	metrics  *metrics.Collector
	mux      *http.ServeMux
}

// NewServer builds the bus's HTTP server. healthTail is the root
// logger's tail (see rootservice.Run) — /health surfaces the same
// recent lines an operator would see on stderr, plus every request
// this server itself handles.
func NewServer(registry *Registry, coll *metrics.Collector, healthTail *logtee.StringTail, logger *log.Logger) *Server {
	s := &Server{
		registry: registry,
		logl:     logex.Levels(logger),
		health:   healthTail,
		metrics:  coll,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", s.metrics.Handler().ServeHTTP)
	s.mux.HandleFunc("GET /dump", s.handleFamilies)
	s.mux.HandleFunc("GET /dump/{family}/entry", s.handleList)
	s.mux.HandleFunc("POST /dump/{family}/entry", s.handleCreate)
	s.mux.HandleFunc("GET /dump/{family}/entry/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /dump/{family}/entry/{id}", s.handleDelete)
	s.mux.HandleFunc("POST /dump/{family}/entry/{id}/offload", s.handleOffload)
	s.mux.HandleFunc("GET /dump/{family}/entry/{id}/file", s.handleFileHandle)
}

// Handler returns the wrapped top-level handler: metrics/logging
// middleware around the route mux, suitable for http.Server.Handler.
func (s *Server) Handler() http.Handler {
	return s.withLogging(s.mux)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		line := r.Method + " " + r.URL.Path + " " + strconv.Itoa(m.Code) + " " + m.Duration.String()
		s.health.Write(line)
		s.logl.Debug.Println(line)
		s.metrics.ObserveHTTP(strconv.Itoa(m.Code), r.Method)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	outJSON(w, http.StatusOK, map[string]any{"ok": true, "recent": s.health.Snapshot()})
}

func (s *Server) handleFamilies(w http.ResponseWriter, r *http.Request) {
	outJSON(w, http.StatusOK, map[string]any{"families": s.registry.Families()})
}

func (s *Server) family(w http.ResponseWriter, r *http.Request) (FamilyAPI, bool) {
	api, ok := s.registry.lookup(r.PathValue("family"))
	if !ok {
		httpError(w, dumperr.New(dumperr.FileNotFound, "unknown family"))
		return nil, false
	}
	return api, true
}

func idParam(r *http.Request) (uint32, error) {
	v, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		return 0, dumperr.Invalidf("malformed id %q", r.PathValue("id"))
	}
	return uint32(v), nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	api, ok := s.family(w, r)
	if !ok {
		return
	}
	outJSON(w, http.StatusOK, api.List())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	api, ok := s.family(w, r)
	if !ok {
		return
	}
	id, err := idParam(r)
	if err != nil {
		httpError(w, err)
		return
	}
	view, ok := api.Get(id)
	if !ok {
		httpError(w, dumperr.New(dumperr.FileNotFound, "no such entry"))
		return
	}
	outJSON(w, http.StatusOK, view)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	api, ok := s.family(w, r)
	if !ok {
		return
	}

	var params map[string]string
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			httpError(w, dumperr.Wrap(dumperr.InvalidArgument, "malformed request body", err))
			return
		}
	}

	objectPath, err := api.CreateDump(params)
	if err != nil {
		httpError(w, err)
		return
	}
	outJSON(w, http.StatusCreated, map[string]string{"ObjectPath": objectPath})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	api, ok := s.family(w, r)
	if !ok {
		return
	}
	id, err := idParam(r)
	if err != nil {
		httpError(w, err)
		return
	}
	if err := api.DeleteEntry(id); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOffload(w http.ResponseWriter, r *http.Request) {
	api, ok := s.family(w, r)
	if !ok {
		return
	}
	id, err := idParam(r)
	if err != nil {
		httpError(w, err)
		return
	}

	var body struct {
		URI string `json:"URI"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URI == "" {
		httpError(w, dumperr.Invalidf("offload requires a URI"))
		return
	}

	if err := api.OffloadEntry(id, body.URI); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFileHandle(w http.ResponseWriter, r *http.Request) {
	api, ok := s.family(w, r)
	if !ok {
		return
	}
	id, err := idParam(r)
	if err != nil {
		httpError(w, err)
		return
	}
	path, err := api.FileHandleCheck(id)
	if err != nil {
		httpError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

func outJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(body)
}

// httpError maps the engine's closed error taxonomy onto HTTP status
// codes and a JSON error body, so callers of the bus never need to know
// dumperr.Kind to interpret a failed request.
func httpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch dumperr.KindOf(err) {
	case dumperr.InvalidArgument:
		status = http.StatusBadRequest
	case dumperr.FileNotFound:
		status = http.StatusNotFound
	case dumperr.Unavailable:
		status = http.StatusServiceUnavailable
	case dumperr.QuotaExceeded:
		status = http.StatusInsufficientStorage
	case dumperr.OpenFailed:
		status = http.StatusConflict
	case dumperr.Internal:
		status = http.StatusInternalServerError
	}
	outJSON(w, status, map[string]string{"error": errMessage(err)})
}

func errMessage(err error) string {
	msg := err.Error()
	if idx := strings.IndexByte(msg, ':'); idx >= 0 {
		return strings.TrimSpace(msg[idx+1:])
	}
	return msg
}
