package api

import (
	"StreamCoverage/internal/config"
	"StreamCoverage/internal/engine/manager"
	"StreamCoverage/internal/model"
	"StreamCoverage/internal/query"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Source is the view of the engine the API serves.
type Source interface {
	StatusDump(w io.Writer) error
	Stream(key model.StreamKey) (model.FlowStatus, bool)
	Exempt(key model.StreamKey, deadline model.Timestamp) error
	Stats() manager.Stats
	Direction(flow model.FlowKey) model.Direction
}

// StreamView is the JSON form of one stream's status.
type StreamView struct {
	Key          string   `json:"key"`
	LoStart      uint64   `json:"lo_start"`
	HiEnd        uint64   `json:"hi_end"`
	Complete     bool     `json:"complete"`
	Gaps         int      `json:"gaps"`
	Covered      uint64   `json:"covered"`
	Ranges       []string `json:"ranges"`
	LastUpdate   string   `json:"last_update"`
	Observations uint64   `json:"observations"`
	Duplicates   uint64   `json:"duplicates"`
}

func newStreamView(s model.FlowStatus) StreamView {
	return StreamView{
		Key:          s.Key.String(),
		LoStart:      s.LoStart,
		HiEnd:        s.HiEnd,
		Complete:     s.Complete,
		Gaps:         s.Gaps,
		Covered:      s.Covered,
		Ranges:       s.Ranges,
		LastUpdate:   s.LastUpdate.String(),
		Observations: s.Observations,
		Duplicates:   s.Duplicates,
	}
}

// Server runs the HTTP status API and the gRPC health service.
type Server struct {
	cfg        config.APIConfig
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer builds both servers around src. q may be nil when no snapshot
// store is configured. Nothing listens until Start.
func NewServer(cfg config.APIConfig, src Source, q query.Querier) *Server {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &Server{
		cfg:        cfg,
		httpServer: &http.Server{Addr: cfg.ListenAddr, Handler: NewRouter(src, q)},
		grpcServer: gs,
		health:     hs,
	}
}

// Start listens on the configured addresses. An empty address disables that server.
func (s *Server) Start() error {
	if s.cfg.GRPCListenAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.GRPCListenAddr, err)
		}
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			log.Printf("gRPC health server starting on %s", s.cfg.GRPCListenAddr)
			if err := s.grpcServer.Serve(lis); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
	}
	if s.cfg.ListenAddr != "" {
		go func() {
			log.Printf("HTTP status server starting on %s", s.cfg.ListenAddr)
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}
	return nil
}

// Shutdown marks the service as not serving and stops both servers.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Println("API servers exited.")
}

// NewRouter returns the HTTP handler for the status API.
func NewRouter(src Source, q query.Querier) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok\n")
	}).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/flows", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := src.StatusDump(w); err != nil {
			log.Printf("Failed to write status dump: %v", err)
		}
	}).Methods("GET")

	v1.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, src.Stats())
	}).Methods("GET")

	v1.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		key, err := streamKeyFromQuery(r, src)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status, ok := src.Stream(key)
		if !ok {
			http.Error(w, "stream not found", http.StatusNotFound)
			return
		}
		writeJSON(w, newStreamView(status))
	}).Methods("GET")

	v1.HandleFunc("/stream/exempt", func(w http.ResponseWriter, r *http.Request) {
		key, err := streamKeyFromQuery(r, src)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		deadline := model.NeverExpire()
		if until := r.URL.Query().Get("until"); until != "" {
			if deadline, err = model.ParseTimestamp(until); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if err := src.Exempt(key, deadline); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods("POST")

	v1.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		if q == nil {
			http.Error(w, "no snapshot store configured", http.StatusServiceUnavailable)
			return
		}
		key, err := streamKeyFromQuery(r, src)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		until, err := untilFromQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		points, err := q.StreamHistory(r.Context(), key, until)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, points)
	}).Methods("GET")

	v1.HandleFunc("/totals", func(w http.ResponseWriter, r *http.Request) {
		if q == nil {
			http.Error(w, "no snapshot store configured", http.StatusServiceUnavailable)
			return
		}
		until, err := untilFromQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		totals, err := q.Totals(r.Context(), until)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, totals)
	}).Methods("GET")

	return r
}

// untilFromQuery reads an optional RFC 3339 "until" bound.
func untilFromQuery(r *http.Request) (time.Time, error) {
	s := r.URL.Query().Get("until")
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad until: %w", err)
	}
	return t, nil
}

// streamKeyFromQuery reads src, sport, dst, dport and dir from the query string.
// Without dir the direction is classified by engine, as for ingested packets.
func streamKeyFromQuery(r *http.Request, engine Source) (model.StreamKey, error) {
	q := r.URL.Query()
	src, err := model.ParseAddr(q.Get("src"))
	if err != nil {
		return model.StreamKey{}, err
	}
	dst, err := model.ParseAddr(q.Get("dst"))
	if err != nil {
		return model.StreamKey{}, err
	}
	sport, err := strconv.ParseUint(q.Get("sport"), 10, 16)
	if err != nil {
		return model.StreamKey{}, fmt.Errorf("bad sport: %w", err)
	}
	dport, err := strconv.ParseUint(q.Get("dport"), 10, 16)
	if err != nil {
		return model.StreamKey{}, fmt.Errorf("bad dport: %w", err)
	}
	flow := model.NewFlowKey(src, dst)
	dir := engine.Direction(flow)
	if d := q.Get("dir"); d != "" {
		if dir, err = model.ParseDirection(d); err != nil {
			return model.StreamKey{}, err
		}
	}
	return model.StreamKey{
		Flow:      flow,
		SrcPort:   uint16(sport),
		DstPort:   uint16(dport),
		Direction: dir,
	}, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
