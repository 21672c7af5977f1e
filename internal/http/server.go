package httpapi

import (
	"log/slog"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/taxi-dispatch/internal/config"
	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/fleet"
	"github.com/example/taxi-dispatch/internal/ledger"
)

// Server translates the HTTP surface into registry/ledger/saga calls
// and their structured outcomes into status codes.
type Server struct {
	registry *fleet.Registry
	ledger   *ledger.Ledger
	saga     *dispatch.Saga
	wsReg    *dispatch.WSRegistry
	logger   *slog.Logger
	cfg      config.ServerConfig
	mux      *mux.Router
}

func NewServer(registry *fleet.Registry, l *ledger.Ledger, saga *dispatch.Saga, wsReg *dispatch.WSRegistry, logger *slog.Logger, cfg config.ServerConfig) *Server {
	s := &Server{
		registry: registry,
		ledger:   l,
		saga:     saga,
		wsReg:    wsReg,
		logger:   logger,
		cfg:      cfg,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/taxis/register", s.handleRegister).Methods("POST")
	s.mux.HandleFunc("/taxis/heartbeat", s.handleHeartbeat).Methods("POST")
	s.mux.HandleFunc("/taxis/deregister", s.handleDeregister).Methods("POST")
	s.mux.HandleFunc("/taxis/count", s.handleTaxiCount).Methods("GET")
	s.mux.HandleFunc("/taxis/{taxi_public_id}", s.handleGetTaxi).Methods("GET")
	s.mux.HandleFunc("/taxis", s.handleListTaxis).Methods("GET")
	s.mux.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	s.mux.HandleFunc("/orders/{trip_id:[0-9]+}", s.handleGetTrip).Methods("GET")
	s.mux.HandleFunc("/events/pickup", s.handlePickup).Methods("POST")
	s.mux.HandleFunc("/events/delivered", s.handleDelivered).Methods("POST")
	s.mux.HandleFunc("/trips", s.handleListTrips).Methods("GET")
	s.mux.HandleFunc("/ws/{taxi_public_id}", s.handleWS).Methods("GET")
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}
