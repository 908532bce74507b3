package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vsariola/kantele/api"
	"github.com/vsariola/kantele/engine"
	"github.com/vsariola/kantele/events"
	"github.com/vsariola/kantele/metrics"
)

const program = `instr 1, Bass
outs p4, p4
endin`

type fixture struct {
	engine *engine.Engine
	bus    *events.MemoryBus
	server *api.Server
	reg    *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	e := engine.New(engine.Options{Observer: metrics.NewCollector(reg)})
	if err := e.Compile(program); err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	bus := events.NewMemoryBus(16)
	t.Cleanup(func() {
		bus.Close()
		e.Close()
	})
	s := api.NewServer(&api.Config{Performance: e, Bus: bus, Gatherer: reg})
	return &fixture{engine: e, bus: bus, server: s, reg: reg}
}

func (f *fixture) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid response body %q: %v", w.Body.String(), err)
	}
	return v
}

func TestCompile(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name, contentType, body string
	}{
		{"text", "text/plain", "instr 2\nouts 1, 1\nendin"},
		{"json", "application/json", `{"orchestra": "instr 3\nouts 1, 1\nendin"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/v1/compile", c.contentType, c.body)
			if w.Code != http.StatusAccepted {
				t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
			}
			resp := decode[api.SubmitResponse](t, w)
			if _, err := uuid.Parse(resp.UpdateID); err != nil || resp.Status != "queued" {
				t.Errorf("unexpected response %+v", resp)
			}
		})
	}
	if got := f.engine.Status().Pending; got != 2 {
		t.Errorf("expected 2 pending updates, got %d", got)
	}
}

func TestCompileErrorReportsPosition(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/v1/compile", "text/plain", "instr 1\na1 oscil 1,\nendin")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[api.ErrorResponse](t, w)
	if resp.Error.Code != "COMPILE_ERROR" {
		t.Errorf("expected COMPILE_ERROR, got %q", resp.Error.Code)
	}
	details, ok := resp.Error.Details.(map[string]interface{})
	if !ok || details["line"] != float64(2) {
		t.Errorf("expected the error on line 2, got %v", resp.Error.Details)
	}
	if f.engine.Status().Pending != 0 {
		t.Errorf("a failed compile must not queue anything")
	}
}

func TestCompileUnresolvedWiring(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/v1/compile", "text/plain", "instr 1\nouts a9, a9\nendin")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if resp := decode[api.ErrorResponse](t, w); resp.Error.Code != "UNRESOLVED_WIRING" {
		t.Errorf("expected UNRESOLVED_WIRING, got %q", resp.Error.Code)
	}
}

func TestScore(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name, contentType, body string
		status                  int
		code                    string
	}{
		{"text", "text/plain", "i1 0 1 0.5", http.StatusAccepted, ""},
		{"json", "application/json", `{"events": [{"instr": "BASS", "start": 0.5, "dur": 1, "params": [0.25]}]}`, http.StatusAccepted, ""},
		{"negative start", "application/json", `{"events": [{"instr": "1", "start": -1, "dur": 1}]}`, http.StatusUnprocessableEntity, "INVALID_EVENT"},
		{"missing events", "application/json", `{}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad text", "text/plain", "i", http.StatusUnprocessableEntity, "COMPILE_ERROR"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/v1/score", c.contentType, c.body)
			if w.Code != c.status {
				t.Fatalf("expected %d, got %d: %s", c.status, w.Code, w.Body.String())
			}
			if c.code != "" {
				if resp := decode[api.ErrorResponse](t, w); resp.Error.Code != c.code {
					t.Errorf("expected %s, got %q", c.code, resp.Error.Code)
				}
			}
		})
	}
}

func TestStatusAndInstruments(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/status", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	status := decode[map[string]interface{}](t, w)
	if status["state"] != "running" || status["instruments"] != float64(2) {
		t.Errorf("unexpected status %v", status)
	}
	w = f.do(http.MethodGet, "/api/v1/instruments", "", "")
	list := decode[struct {
		Instruments []engine.InstrumentInfo `json:"instruments"`
		Total       int                     `json:"total"`
	}](t, w)
	if list.Total != 2 || len(list.Instruments) != 2 {
		t.Errorf("expected two instruments, got %+v", list)
	}
	w = f.do(http.MethodGet, "/api/v1/instruments/Bass", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	info := decode[engine.InstrumentInfo](t, w)
	if info.ID != "bass" || len(info.Listing) != 1 || info.NumParams != 4 {
		t.Errorf("unexpected instrument %+v", info)
	}
	if w = f.do(http.MethodGet, "/api/v1/instruments/99", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestStoppedPerformance(t *testing.T) {
	f := newFixture(t)
	f.engine.Close()
	if w := f.do(http.MethodPost, "/api/v1/score", "text/plain", "i1 0 1"); w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/health", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/api/v1/compile", "text/plain", "instr")
	w := f.do(http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "kantele_compile_failures_total 1") {
		t.Errorf("expected the compile failure to be counted, got:\n%s", w.Body.String())
	}
}

func TestNotificationStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/notifications/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	want := engine.Notification{Kind: engine.NoteEventDropped, Instrument: "7", Block: 3, Message: "unknown instrument"}
	if err := f.bus.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got engine.Notification
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Kind != want.Kind || got.Instrument != want.Instrument || got.Block != want.Block {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestListing(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/listing", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "instr bass ; reads p4..p4") {
		t.Errorf("unexpected listing %d:\n%s", w.Code, w.Body.String())
	}
	w = f.do(http.MethodGet, "/api/v1/listing?view=status", "", "")
	if !strings.Contains(w.Body.String(), "RUNNING") {
		t.Errorf("unexpected status view:\n%s", w.Body.String())
	}
}
