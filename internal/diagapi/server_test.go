package diagapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vcsfu/core/internal/diag"
	"github.com/vcsfu/core/internal/roomsrv"
)

func TestHealthzReportsSubscriberCount(t *testing.T) {
	bus := diag.NewBus()
	_, unsub := bus.Subscribe(1)
	defer unsub()

	srv := NewServer(bus, roomsrv.New(bus))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestRoomSizeEndpoint(t *testing.T) {
	bus := diag.NewBus()
	rooms := roomsrv.New(bus)
	srv := NewServer(bus, rooms)

	req := httptest.NewRequest(http.MethodGet, "/rooms/room1/size", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["size"] != float64(0) {
		t.Fatalf("expected size 0 for an empty room, got %v", body["size"])
	}
}
