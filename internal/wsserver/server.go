package wsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"ratefeed/internal/logging"
	"ratefeed/internal/rateservice"
)

// Config controls the server's HTTP surface.
type Config struct {
	Port        string
	IPRateLimit float64 // connection attempts/sec per IP; 0 disables limiting
	IPRateBurst int
}

// Server is the connection handler (C5): it upgrades /ws to a websocket and
// hands each connection off to its own session, and exposes /healthz for
// liveness checks.
type Server struct {
	service    *rateservice.Service
	httpServer *http.Server
	log        *logging.Logger
}

func NewServer(cfg Config, service *rateservice.Service) *Server {
	s := &Server{
		service: service,
		log:     logging.Named("wsserver"),
	}

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	limiter := newIPLimiter(cfg.IPRateLimit, cfg.IPRateBurst)
	r.Use(func(next http.Handler) http.Handler { return rateLimitMiddleware(limiter, next) })

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}
	return s
}

// Start runs the HTTP server until it is shut down or fails. It matches
// http.Server's convention of returning http.ErrServerClosed on a clean
// Shutdown, which the caller should treat as success.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("wsserver listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleWebSocket upgrades the request and runs the session inline; the
// handler returns once the peer disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	peerID := peerAddr(r)
	s.log.Info().Str("subscriber", peerID).Msg("connection opened")

	conn.SetCloseHandler(func(code int, text string) error {
		s.log.Info().Str("subscriber", peerID).Msg("connection closed")
		return nil
	})

	newConnection(peerID, conn, s.service).serve()
}

// peerAddr identifies a session by its remote host:port, the Go analogue of
// the asyncio transport's peername tuple.
func peerAddr(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "unknown"
	}
	return addr
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
