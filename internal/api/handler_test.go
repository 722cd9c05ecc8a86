package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mbarbier/steamboiler/internal/boiler"
	"github.com/mbarbier/steamboiler/internal/config"
	"github.com/mbarbier/steamboiler/internal/protocol"
	"github.com/mbarbier/steamboiler/internal/store"
)

type fakeInjector struct {
	sent []protocol.Inject
	err  error
}

func (f *fakeInjector) SendInject(r *http.Request, d protocol.Inject) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, d)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *store.Store) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctrl := boiler.New(config.Default())
	h := &Handler{
		Store:  st,
		Hub:    NewHub(),
		RunID:  "run-1",
		Pumps:  4,
		Status: ctrl.Snapshot,
	}
	return h, st
}

func serve(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGetStatus(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := serve(h, "GET", "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID != "run-1" {
		t.Errorf("run_id = %q, want run-1", resp.RunID)
	}
	if resp.Controller.Mode != "waiting" {
		t.Errorf("controller mode = %q, want waiting", resp.Controller.Mode)
	}
	if resp.RedisConnected != nil {
		t.Error("redis_connected should be omitted without a health checker")
	}
}

func TestListRuns(t *testing.T) {
	h, st := newTestHandler(t)

	rec := serve(h, "GET", "/api/runs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty store should list [], got %s", rec.Body.String())
	}

	if err := st.CreateRun("run-1"); err != nil {
		t.Fatal(err)
	}
	rec = serve(h, "GET", "/api/runs", "")
	var runs []store.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("runs = %+v, want the created run", runs)
	}
}

func TestRunHistoryEndpoints(t *testing.T) {
	h, st := newTestHandler(t)
	if err := st.CreateRun("run-1"); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordTick("run-1", 0, 500, 0, "normal", 1, false); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordEvent("run-1", 0, "mode_change", "", "ready -> normal"); err != nil {
		t.Fatal(err)
	}

	rec := serve(h, "GET", "/api/runs/run-1/ticks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ticks status = %d, want 200", rec.Code)
	}
	var ticks []store.Tick
	if err := json.Unmarshal(rec.Body.Bytes(), &ticks); err != nil {
		t.Fatal(err)
	}
	if len(ticks) != 1 || ticks[0].Level != 500 {
		t.Errorf("ticks = %+v", ticks)
	}

	rec = serve(h, "GET", "/api/runs/run-1/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d, want 200", rec.Code)
	}

	// Unknown run is a 404 on every history endpoint.
	for _, path := range []string{
		"/api/runs/ghost/ticks",
		"/api/runs/ghost/events",
		"/api/runs/ghost/report.csv",
		"/api/runs/ghost/report.json",
		"/api/runs/ghost/report.pdf",
	} {
		if rec := serve(h, "GET", path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestReportEndpoints(t *testing.T) {
	h, st := newTestHandler(t)
	if err := st.CreateRun("run-1"); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordTick("run-1", 0, 500, 0, "normal", 1, false); err != nil {
		t.Fatal(err)
	}

	rec := serve(h, "GET", "/api/runs/run-1/report.csv", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("csv status = %d, want 200", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "seq,level,steam,mode") {
		t.Errorf("csv header missing, got %q", rec.Body.String()[:40])
	}

	rec = serve(h, "GET", "/api/runs/run-1/report.pdf", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pdf status = %d, want 200", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "%PDF") {
		t.Error("pdf body should start with %PDF")
	}
}

func TestPostInject(t *testing.T) {
	h, _ := newTestHandler(t)

	// Without a plant attached.
	rec := serve(h, "POST", "/api/inject", `{"action":"pump_stuck_off","pump":1}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 with no injector", rec.Code)
	}

	inj := &fakeInjector{}
	h.Injector = inj

	rec = serve(h, "POST", "/api/inject", `{"action":"pump_stuck_off","pump":1}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}
	if len(inj.sent) != 1 || inj.sent[0].Action != protocol.InjectPumpOff || inj.sent[0].Pump != 1 {
		t.Fatalf("sent = %+v, want the directive forwarded", inj.sent)
	}

	// Structural validation happens before forwarding.
	rec = serve(h, "POST", "/api/inject", `{"action":"explode"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an unknown action", rec.Code)
	}
	rec = serve(h, "POST", "/api/inject", `{"action":"pump_stuck_off","pump":9}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an out-of-range pump", rec.Code)
	}
	rec = serve(h, "POST", "/api/inject", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a bad body", rec.Code)
	}
	if len(inj.sent) != 1 {
		t.Fatalf("invalid directives must not be forwarded, sent = %+v", inj.sent)
	}

	// Transport errors surface as 500.
	inj.err = fmt.Errorf("broker gone")
	rec = serve(h, "POST", "/api/inject", `{"action":"clear"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 on send failure", rec.Code)
	}
}
