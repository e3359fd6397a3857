package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/flockctl/internal/drone"
	"github.com/danmuck/flockctl/internal/drone/sim"
	"github.com/danmuck/flockctl/internal/swarm"
	"github.com/danmuck/flockctl/internal/testutil/testlog"
)

func newTestServer(t *testing.T, opts map[int][]sim.Option) (*Server, []*sim.Drone) {
	t.Helper()
	drones := []*sim.Drone{
		sim.New("10.0.0.1", opts[0]...),
		sim.New("10.0.0.2", opts[1]...),
	}
	f, err := swarm.New([]drone.Handle{drones[0], drones[1]})
	if err != nil {
		t.Fatalf("swarm.New: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	if _, err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return New("flock-test", ":0", f, nil, nil), drones
}

func serve(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s %s: %v body=%s", method, path, err, rr.Body.String())
	}
	return rr.Code, out
}

func TestHealthAndAgents(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t, nil)

	code, body := serve(t, s, http.MethodGet, "/health", "")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("GET /health = %d %v", code, body)
	}
	agents, ok := body["agents"].([]any)
	if !ok || len(agents) != 2 {
		t.Fatalf("health agents = %#v", body["agents"])
	}

	code, body = serve(t, s, http.MethodGet, "/agents", "")
	if code != http.StatusOK {
		t.Fatalf("GET /agents = %d", code)
	}
	list := body["agents"].([]any)
	first := list[0].(map[string]any)
	if first["addr"] != "10.0.0.1" || first["index"] != float64(0) {
		t.Fatalf("first agent = %#v", first)
	}

	code, body = serve(t, s, http.MethodGet, "/ready", "")
	if code != http.StatusOK || body["ready"] != true {
		t.Fatalf("GET /ready = %d %v", code, body)
	}
}

func TestHealthDegradedWhenAgentFails(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t, map[int][]sim.Option{1: {sim.WithTelemetryError(errors.New("no link"))}})
	code, body := serve(t, s, http.MethodGet, "/health", "")
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("GET /health = %d %v", code, body)
	}
}

func TestInvokeCapability(t *testing.T) {
	testlog.Start(t)
	s, drones := newTestServer(t, nil)

	code, body := serve(t, s, http.MethodPost, "/capabilities/takeoff", "")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("POST takeoff = %d %v", code, body)
	}
	code, _ = serve(t, s, http.MethodPost, "/capabilities/move_up", `{"args":["30"]}`)
	if code != http.StatusOK {
		t.Fatalf("POST move_up = %d", code)
	}
	for _, d := range drones {
		if _, _, z := d.Position(); z != 110 {
			t.Fatalf("height = %d, want 110", z)
		}
	}

	if code, _ := serve(t, s, http.MethodPost, "/capabilities/warp", ""); code != http.StatusNotFound {
		t.Fatalf("unknown capability status = %d", code)
	}
	if code, _ := serve(t, s, http.MethodPost, "/capabilities/move_up", `{"args":["up"]}`); code != http.StatusBadRequest {
		t.Fatalf("bad args status = %d", code)
	}
	if code, _ := serve(t, s, http.MethodPost, "/capabilities/move_up", `{"args":`); code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", code)
	}

	code, body = serve(t, s, http.MethodGet, "/capabilities", "")
	if code != http.StatusOK {
		t.Fatalf("GET /capabilities = %d", code)
	}
	if caps := body["capabilities"].([]any); len(caps) != len(drone.DefaultCapabilities()) {
		t.Fatalf("capabilities = %d entries", len(caps))
	}
}

func TestInvokeReportsPartialFailure(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t, map[int][]sim.Option{0: {sim.WithInvokeError(drone.CapFlip, errors.New("too low"))}})
	code, body := serve(t, s, http.MethodPost, "/capabilities/flip", `{"args":["l"]}`)
	if code != http.StatusOK || body["status"] != "partial" {
		t.Fatalf("POST flip = %d %v", code, body)
	}
	results := body["results"].([]any)
	if results[0].(map[string]any)["ok"] != false || results[1].(map[string]any)["ok"] != true {
		t.Fatalf("results = %#v", results)
	}
}
