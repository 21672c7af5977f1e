package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/fleet"
	"github.com/example/taxi-dispatch/internal/grid"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/storage"
)

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type registerRequest struct {
	X           int    `json:"x"`
	Y           int    `json:"y"`
	CallbackURL string `json:"callback_url"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CallbackURL == "" {
		writeError(w, http.StatusBadRequest, "callback_url is required")
		return
	}
	taxi, err := s.registry.Register(r.Context(), req.X, req.Y, req.CallbackURL)
	if errors.Is(err, fleet.ErrOutOfRange) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("register failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, taxi)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb models.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := s.registry.Heartbeat(r.Context(), hb)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "taxi not found")
		return
	}
	if err != nil {
		s.logger.Error("heartbeat failed", "taxi", hb.TaxiPublicID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deregisterRequest struct {
	TaxiPublicID string `json:"taxi_public_id"`
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	var req deregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := s.registry.Deregister(r.Context(), req.TaxiPublicID)
	if err != nil {
		s.logger.Error("deregister failed", "taxi", req.TaxiPublicID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "taxi not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTaxiCount(w http.ResponseWriter, r *http.Request) {
	status := models.TaxiAvailable
	if v := r.URL.Query().Get("status"); v != "" {
		status = models.TaxiStatus(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
	}
	count, err := s.registry.Count(r.Context(), status)
	if err != nil {
		s.logger.Error("count failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count, "status": status})
}

func (s *Server) handleListTaxis(w http.ResponseWriter, r *http.Request) {
	taxis, err := s.registry.List(r.Context())
	if err != nil {
		s.logger.Error("list taxis failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if taxis == nil {
		taxis = []models.Taxi{}
	}
	writeJSON(w, http.StatusOK, taxis)
}

func (s *Server) handleGetTaxi(w http.ResponseWriter, r *http.Request) {
	publicID := mux.Vars(r)["taxi_public_id"]
	taxi, err := s.registry.Get(r.Context(), publicID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "taxi not found")
		return
	}
	if err != nil {
		s.logger.Error("get taxi failed", "taxi", publicID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, taxi)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var order models.OrderCreate
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !grid.InBounds(order.StartX, order.StartY, s.cfg.GridSize) ||
		!grid.InBounds(order.EndX, order.EndY, s.cfg.GridSize) {
		writeError(w, http.StatusBadRequest, "coordinates out of grid range")
		return
	}
	trip, err := s.saga.Assign(r.Context(), order)
	if errors.Is(err, dispatch.ErrNoCapacity) {
		writeError(w, http.StatusConflict, "no available taxi found")
		return
	}
	if err != nil {
		s.logger.Error("order failed", "user", order.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, trip)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["trip_id"], 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid trip id")
		return
	}
	trip, err := s.ledger.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trip not found")
		return
	}
	if err != nil {
		s.logger.Error("get trip failed", "trip", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (s *Server) handlePickup(w http.ResponseWriter, r *http.Request) {
	var evt models.PickupEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := s.ledger.ApplyPickup(r.Context(), evt)
	if err != nil {
		s.logger.Error("pickup failed", "trip", evt.TripID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "trip not found or taxi mismatch")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": true})
}

func (s *Server) handleDelivered(w http.ResponseWriter, r *http.Request) {
	var evt models.DeliveredEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := s.ledger.ApplyDelivered(r.Context(), evt)
	if err != nil {
		s.logger.Error("delivered failed", "trip", evt.TripID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "trip not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": true})
}

func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.TripListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be in 1..500")
			return
		}
		limit = n
	}
	trips, err := s.ledger.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list trips failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if trips == nil {
		trips = []models.Trip{}
	}
	writeJSON(w, http.StatusOK, trips)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	publicID := mux.Vars(r)["taxi_public_id"]
	if _, err := s.registry.Get(r.Context(), publicID); err != nil {
		writeError(w, http.StatusNotFound, "taxi not found")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.wsReg.Add(publicID, conn)
	go func() {
		defer func() {
			s.wsReg.Remove(publicID)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
