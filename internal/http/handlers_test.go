package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/taxi-dispatch/internal/config"
	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/fleet"
	"github.com/example/taxi-dispatch/internal/ledger"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/storage"
)

type stubNotifier struct {
	fail  bool
	calls int
}

func (s *stubNotifier) Send(ctx context.Context, endpoint string, payload any) error {
	s.calls++
	if s.fail {
		return errors.New("unreachable")
	}
	return nil
}

func newTestServer(notifier dispatch.Notifier) *Server {
	store := storage.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.ServerConfig{GridSize: 100, TripListLimit: 50}
	registry := fleet.NewRegistry(store, log, nil, cfg.GridSize)
	l := ledger.New(store, log, nil)
	wsReg := dispatch.NewWSRegistry()
	saga := dispatch.NewSaga(l, notifier, wsReg, log)
	return NewServer(registry, l, saga, wsReg, log, cfg)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func registerVia(t *testing.T, srv *Server, x, y int) models.Taxi {
	t.Helper()
	rec := doJSON(t, srv, "POST", "/taxis/register", registerRequest{X: x, Y: y, CallbackURL: "http://taxi.local/assign"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status %d: %s", rec.Code, rec.Body.String())
	}
	var taxi models.Taxi
	if err := json.Unmarshal(rec.Body.Bytes(), &taxi); err != nil {
		t.Fatal(err)
	}
	return taxi
}

func TestRegisterValidation(t *testing.T) {
	srv := newTestServer(&stubNotifier{})
	rec := doJSON(t, srv, "POST", "/taxis/register", registerRequest{X: 0, Y: 10, CallbackURL: "http://t"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range coords, got %d", rec.Code)
	}
	rec = doJSON(t, srv, "POST", "/taxis/register", registerRequest{X: 5, Y: 5})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing callback, got %d", rec.Code)
	}
}

func TestOrderAssignsNearestTaxi(t *testing.T) {
	notifier := &stubNotifier{}
	srv := newTestServer(notifier)
	registerVia(t, srv, 90, 90)
	near := registerVia(t, srv, 10, 10)

	rec := doJSON(t, srv, "POST", "/orders", models.OrderCreate{UserID: 1, StartX: 10, StartY: 10, EndX: 12, EndY: 15})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("order status %d: %s", rec.Code, rec.Body.String())
	}
	var trip models.Trip
	if err := json.Unmarshal(rec.Body.Bytes(), &trip); err != nil {
		t.Fatal(err)
	}
	if trip.TaxiID == nil || *trip.TaxiID != near.ID {
		t.Fatalf("expected nearest taxi %d, got %v", near.ID, trip.TaxiID)
	}
	if trip.Status != models.TripRequested {
		t.Fatalf("expected requested, got %s", trip.Status)
	}
	if notifier.calls != 1 {
		t.Fatalf("expected one notify, got %d", notifier.calls)
	}

	// nearest taxi is now busy
	rec = doJSON(t, srv, "GET", "/taxis/count?status=busy", nil)
	var count struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &count); err != nil {
		t.Fatal(err)
	}
	if count.Count != 1 {
		t.Fatalf("expected 1 busy taxi, got %d", count.Count)
	}
}

func TestOrderNoCapacityReturnsConflict(t *testing.T) {
	srv := newTestServer(&stubNotifier{})
	rec := doJSON(t, srv, "POST", "/orders", models.OrderCreate{UserID: 1, StartX: 10, StartY: 10, EndX: 12, EndY: 15})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	rec = doJSON(t, srv, "GET", "/trips", nil)
	var trips []models.Trip
	if err := json.Unmarshal(rec.Body.Bytes(), &trips); err != nil {
		t.Fatal(err)
	}
	if len(trips) != 0 {
		t.Fatalf("no trips expected, got %d", len(trips))
	}
}

func TestOrderNotifyFailureCompensates(t *testing.T) {
	srv := newTestServer(&stubNotifier{fail: true})
	taxi := registerVia(t, srv, 10, 10)

	rec := doJSON(t, srv, "POST", "/orders", models.OrderCreate{UserID: 1, StartX: 10, StartY: 10, EndX: 12, EndY: 15})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 after failed notify, got %d", rec.Code)
	}

	rec = doJSON(t, srv, "GET", "/trips", nil)
	var trips []models.Trip
	if err := json.Unmarshal(rec.Body.Bytes(), &trips); err != nil {
		t.Fatal(err)
	}
	if len(trips) != 1 || trips[0].Status != models.TripCancelled {
		t.Fatalf("expected one cancelled trip, got %+v", trips)
	}

	rec = doJSON(t, srv, "GET", "/taxis", nil)
	var taxis []models.Taxi
	if err := json.Unmarshal(rec.Body.Bytes(), &taxis); err != nil {
		t.Fatal(err)
	}
	if len(taxis) != 1 || taxis[0].PublicID != taxi.PublicID || taxis[0].Status != models.TaxiAvailable {
		t.Fatalf("taxi should be released, got %+v", taxis)
	}
}

func TestFullTripLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(&stubNotifier{})
	taxi := registerVia(t, srv, 10, 10)

	rec := doJSON(t, srv, "POST", "/orders", models.OrderCreate{UserID: 1, StartX: 10, StartY: 10, EndX: 12, EndY: 15})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("order: %d %s", rec.Code, rec.Body.String())
	}
	var trip models.Trip
	if err := json.Unmarshal(rec.Body.Bytes(), &trip); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, srv, "POST", "/events/pickup", models.PickupEvent{
		TripID: trip.ID, TaxiPublicID: taxi.PublicID, Timestamp: time.Now(),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("pickup: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, "POST", "/events/delivered", models.DeliveredEvent{
		TripID: trip.ID, TaxiPublicID: taxi.PublicID, DropoffTime: time.Now().Add(10 * time.Minute), EndX: 12, EndY: 15,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("delivered: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, "GET", "/orders/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get trip: %d", rec.Code)
	}
	var got models.Trip
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TripCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.WaitingTimeMin == nil || *got.WaitingTimeMin < 0 {
		t.Fatalf("waiting time must be >= 0: %v", got.WaitingTimeMin)
	}
}

func TestPickupMismatchReturnsNotFound(t *testing.T) {
	srv := newTestServer(&stubNotifier{})
	registerVia(t, srv, 10, 10)
	intruder := registerVia(t, srv, 50, 50)

	rec := doJSON(t, srv, "POST", "/orders", models.OrderCreate{UserID: 1, StartX: 10, StartY: 10, EndX: 12, EndY: 15})
	var trip models.Trip
	if err := json.Unmarshal(rec.Body.Bytes(), &trip); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, srv, "POST", "/events/pickup", models.PickupEvent{
		TripID: trip.ID, TaxiPublicID: intruder.PublicID, Timestamp: time.Now(),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for ownership mismatch, got %d", rec.Code)
	}
}

func TestHeartbeatEndpoints(t *testing.T) {
	srv := newTestServer(&stubNotifier{})
	taxi := registerVia(t, srv, 10, 10)

	rec := doJSON(t, srv, "POST", "/taxis/heartbeat", models.Heartbeat{TaxiPublicID: taxi.PublicID, Timestamp: time.Now()})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("heartbeat: %d", rec.Code)
	}
	rec = doJSON(t, srv, "POST", "/taxis/heartbeat", models.Heartbeat{TaxiPublicID: "ghost", Timestamp: time.Now()})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown heartbeat should 404, got %d", rec.Code)
	}

	rec = doJSON(t, srv, "POST", "/taxis/deregister", deregisterRequest{TaxiPublicID: taxi.PublicID})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("deregister: %d", rec.Code)
	}
}

func TestGetTripNotFound(t *testing.T) {
	srv := newTestServer(&stubNotifier{})
	rec := doJSON(t, srv, "GET", "/orders/99", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTripListLimitValidation(t *testing.T) {
	srv := newTestServer(&stubNotifier{})
	rec := doJSON(t, srv, "GET", "/trips?limit=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("limit 0 should 400, got %d", rec.Code)
	}
	rec = doJSON(t, srv, "GET", "/trips?limit=501", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("limit 501 should 400, got %d", rec.Code)
	}
}

func TestGetTaxiByPublicID(t *testing.T) {
	srv := newTestServer(&stubNotifier{})
	taxi := registerVia(t, srv, 10, 10)

	rec := doJSON(t, srv, "GET", "/taxis/"+taxi.PublicID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get taxi: %d", rec.Code)
	}
	var got models.Taxi
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.PublicID != taxi.PublicID {
		t.Fatalf("expected %s, got %s", taxi.PublicID, got.PublicID)
	}

	rec = doJSON(t, srv, "GET", "/taxis/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown taxi should 404, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&stubNotifier{})
	rec := doJSON(t, srv, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}
