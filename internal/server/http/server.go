package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/heytom-labs/heytom-registry/internal/registry"
	"github.com/heytom-labs/heytom-registry/internal/registry/cache"
	"github.com/heytom-labs/heytom-registry/internal/registry/loadbalance"
	"github.com/heytom-labs/heytom-registry/internal/registryutils"
)

// Lookup is the registry view served over HTTP.
type Lookup interface {
	FindServiceInstance(ctx context.Context, appID, serviceName, versionRule string) ([]*registry.MicroserviceInstance, error)
	GetMicroservice(ctx context.Context, microserviceID string) (*registry.Microservice, error)
}

// Server HTTP server exposing health and discovery endpoints.
type Server struct {
	httpServer *http.Server
	lookup     Lookup
	appID      string
	log        *zap.Logger

	mu        sync.Mutex
	balancers map[string]loadbalance.Balancer
}

// New creates an HTTP server listening on address. Lookups without an appId
// parameter use appID.
func New(address, appID string, lookup Lookup, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		lookup:    lookup,
		appID:     appID,
		log:       log.Named("http"),
		balancers: make(map[string]loadbalance.Balancer),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /instances", s.handleInstances)
	mux.HandleFunc("GET /instances/select", s.handleSelect)
	mux.HandleFunc("GET /microservices/{id}", s.handleMicroservice)

	s.httpServer = &http.Server{
		Addr:    address,
		Handler: mux,
	}
	return s
}

// Handler returns the request multiplexer.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// Start serves until Stop; a clean stop returns nil.
func (s *Server) Start() error {
	s.log.Info("http server starting", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := registryutils.CurrentState()
	status := http.StatusOK
	if state != registryutils.Running {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]string{"registry": state.String()})
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	instances, ok := s.find(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, instances)
}

// handleSelect picks one instance with the strategy query parameter.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	lb, err := s.balancer(r.URL.Query().Get("strategy"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	instances, ok := s.find(w, r)
	if !ok {
		return
	}
	inst := lb.Select(instances)
	if inst == nil {
		s.writeError(w, http.StatusNotFound, registry.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *Server) find(w http.ResponseWriter, r *http.Request) ([]*registry.MicroserviceInstance, bool) {
	q := r.URL.Query()
	service := q.Get("service")
	if service == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("service is required"))
		return nil, false
	}
	appID := q.Get("appId")
	if appID == "" {
		appID = s.appID
	}

	instances, err := s.lookup.FindServiceInstance(r.Context(), appID, service, q.Get("version"))
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return instances, true
}

// balancer keeps one balancer per strategy so round robin state survives
// across requests.
func (s *Server) balancer(strategy string) (loadbalance.Balancer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lb, ok := s.balancers[strategy]; ok {
		return lb, nil
	}
	lb, err := loadbalance.New(strategy)
	if err != nil {
		return nil, err
	}
	s.balancers[strategy] = lb
	return lb, nil
}

func (s *Server) handleMicroservice(w http.ResponseWriter, r *http.Request) {
	ms, err := s.lookup.GetMicroservice(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ms)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, cache.ErrInvalidVersionRule):
		status = http.StatusBadRequest
	case errors.Is(err, registryutils.ErrUninitializedAccess):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response", zap.Error(err))
	}
}
