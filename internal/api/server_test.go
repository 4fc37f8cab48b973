package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/star/polargen/internal/auth"
	"github.com/star/polargen/internal/batch"
	"github.com/star/polargen/internal/polar"
	"github.com/star/polargen/internal/viterna"
	"github.com/star/polargen/internal/xfoil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func lowAngle() []polar.Sample {
	var out []polar.Sample
	for a := -10; a <= 16; a++ {
		aoa := float64(a)
		out = append(out, polar.Sample{AoA: aoa, Cl: 0.1 * aoa, Cd: 0.008 + 0.0001*aoa*aoa})
	}
	return out
}

func baseConfig() batch.Config {
	return batch.Config{
		Mach:        0.05,
		AoAMin:      -10,
		AoAMax:      16,
		AoAStep:     1,
		AspectRatio: 6,
		NCrit:       9,
		Iterations:  250,
		Workers:     2,
	}
}

type testServer struct {
	store   *polar.Store
	handler http.Handler
}

func newTestServer(t *testing.T, cfg Config, src batch.Source) *testServer {
	t.Helper()
	store := polar.NewStore()
	var runner *batch.Runner
	if src != nil {
		runner = batch.NewRunner(src, store, testLogger())
	}
	s := NewServer(cfg, store, runner, baseConfig(), nil, testLogger())
	return &testServer{store: store, handler: s.Handler()}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func extrapolateBody(t *testing.T, ar float64, samples []polar.Sample) string {
	t.Helper()
	b, err := json.Marshal(extrapolateRequest{AspectRatio: ar, Samples: samples})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestExtrapolateEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)

	w := ts.do("POST", "/api/v1/extrapolate", extrapolateBody(t, 6, lowAngle()))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}

	var got polar.Table
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	want := len(lowAngle()) + viterna.SyntheticPoints
	if got.Len() != want || len(got.Cl) != want || len(got.Cd) != want {
		t.Fatalf("response has %d/%d/%d rows, want %d", got.Len(), len(got.Cl), len(got.Cd), want)
	}
	if got.AoA[0] != -180 || got.AoA[got.Len()-1] != 180 {
		t.Errorf("range = [%g, %g], want [-180, 180]", got.AoA[0], got.AoA[got.Len()-1])
	}
}

func TestExtrapolateEndpointRejects(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)

	stalled := lowAngle()
	stalled = append(stalled, polar.Sample{AoA: 25, Cl: 1, Cd: 0.1})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"aspect_ratio": 6, "samples": [`},
		{"unknown field", `{"aspect_ratio": 6, "samples": [], "chord": 1}`},
		{"no samples", extrapolateBody(t, 6, nil)},
		{"zero aspect ratio", extrapolateBody(t, 0, lowAngle())},
		{"stall past post-stall start", extrapolateBody(t, 6, stalled)},
		{"degenerate stall", extrapolateBody(t, 6, []polar.Sample{{AoA: 0, Cl: 0, Cd: 0.01}, {AoA: 90, Cl: 0, Cd: 1}})},
		{"result overflows", extrapolateBody(t, 6, []polar.Sample{{AoA: 10, Cl: 0.5, Cd: 1.5e308}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do("POST", "/api/v1/extrapolate", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", w.Code, w.Body)
			}
			var resp map[string]string
			json.NewDecoder(w.Body).Decode(&resp)
			if resp["error"] == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestExtrapolateWrongMethod(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	for _, tt := range []struct{ method, path string }{
		{"GET", "/api/v1/extrapolate"},
		{"GET", "/api/v1/runs"},
		{"DELETE", "/api/v1/polars"},
		{"POST", "/api/v1/polars/naca0012/100000"},
	} {
		w := ts.do(tt.method, tt.path, "")
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d, want 405", tt.method, tt.path, w.Code)
			continue
		}
		var resp map[string]string
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp["error"] == "" {
			t.Errorf("%s %s: body = %q, want a JSON error", tt.method, tt.path, w.Body.String())
		}
	}
	if w := ts.do("GET", "/api/v1/nothing", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown path: status = %d, want 404", w.Code)
	}
}

func TestWriteJSONUnencodable(t *testing.T) {
	w := httptest.NewRecorder()
	if err := writeJSON(w, http.StatusOK, map[string]float64{"cd": math.Inf(1)}); err == nil {
		t.Fatal("expected encode error")
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp["error"] == "" {
		t.Errorf("body = %q, want a JSON error", w.Body.String())
	}
}

func TestPolarEndpoints(t *testing.T) {
	ts := newTestServer(t, Config{}, nil)
	table := polar.FromSamples([]polar.Sample{{AoA: -1, Cl: -0.1, Cd: 0.01}, {AoA: 0, Cl: 0, Cd: 0.009}, {AoA: 1, Cl: 0.1, Cd: 0.01}})
	ts.store.Put("naca0012", 100000, table)
	ts.store.Put("naca4412", 200000, table)

	t.Run("list", func(t *testing.T) {
		w := ts.do("GET", "/api/v1/polars", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var got []polarSummary
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].Airfoil != "naca0012" || got[0].Points != 3 {
			t.Errorf("list = %+v", got)
		}
	})

	t.Run("text", func(t *testing.T) {
		w := ts.do("GET", "/api/v1/polars/naca0012/100000", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		want := "AoA Cl Cd\n-1 -0.1 0.01\n0 0 0.009\n1 0.1 0.01\n"
		if w.Body.String() != want {
			t.Errorf("body = %q, want %q", w.Body.String(), want)
		}
		if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "naca0012_100000.txt") {
			t.Errorf("Content-Disposition = %q", cd)
		}
	})

	t.Run("json", func(t *testing.T) {
		w := ts.do("GET", "/api/v1/polars/naca0012/1e5?format=json", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var got polar.Table
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		if got.Len() != 3 || got.Cl[2] != 0.1 {
			t.Errorf("table = %+v", got)
		}
	})

	t.Run("stats", func(t *testing.T) {
		w := ts.do("GET", "/api/v1/polars/stats", "")
		var got polar.StoreStats
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		if got.Entries != 2 || got.Points != 6 {
			t.Errorf("stats = %+v", got)
		}
		if got.Hits < 2 {
			t.Errorf("hits = %d, want the lookups above counted", got.Hits)
		}
	})

	errs := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"unknown airfoil", "/api/v1/polars/clarky/100000", http.StatusNotFound},
		{"unknown reynolds", "/api/v1/polars/naca0012/300000", http.StatusNotFound},
		{"bad reynolds", "/api/v1/polars/naca0012/fast", http.StatusBadRequest},
		{"negative reynolds", "/api/v1/polars/naca0012/-5", http.StatusBadRequest},
		{"bad format", "/api/v1/polars/naca0012/100000?format=xml", http.StatusBadRequest},
	}
	for _, tt := range errs {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do("GET", tt.path, ""); w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRunsEndpoint(t *testing.T) {
	src := batch.StaticSource{1e5: lowAngle(), 2e5: lowAngle()}
	ts := newTestServer(t, Config{}, src)

	w := ts.do("POST", "/api/v1/runs", `{"airfoil": "naca0012", "reynolds": [100000, 200000, 300000]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var got runResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Completed) != 2 || len(got.Failed) != 1 {
		t.Fatalf("completed=%d failed=%d, want 2/1", len(got.Completed), len(got.Failed))
	}
	if got.Completed[0].Reynolds != 1e5 || got.Completed[0].Points != len(lowAngle())+viterna.SyntheticPoints {
		t.Errorf("completed[0] = %+v", got.Completed[0])
	}
	if got.Failed[0].Reynolds != 3e5 || got.Failed[0].Error == "" {
		t.Errorf("failed[0] = %+v", got.Failed[0])
	}

	// The completed polars are now served from the store.
	if w := ts.do("GET", "/api/v1/polars/naca0012/200000", ""); w.Code != http.StatusOK {
		t.Errorf("stored polar status = %d", w.Code)
	}
}

func TestRunsEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		src        batch.Source
		body       string
		wantStatus int
	}{
		{"runs disabled", nil, `{"airfoil": "naca0012", "reynolds": [100000]}`, http.StatusServiceUnavailable},
		{"missing airfoil", batch.StaticSource{}, `{"reynolds": [100000]}`, http.StatusBadRequest},
		{"missing reynolds", batch.StaticSource{}, `{"airfoil": "naca0012"}`, http.StatusBadRequest},
		{"airfoil outside airfoil dir", batch.StaticSource{1e5: lowAngle()}, `{"airfoil": "../secret", "reynolds": [100000]}`, http.StatusBadRequest},
		{"airfoil with path", batch.StaticSource{1e5: lowAngle()}, `{"airfoil": "/etc/passwd", "reynolds": [100000]}`, http.StatusBadRequest},
		{"airfoil with newline", batch.StaticSource{1e5: lowAngle()}, `{"airfoil": "naca0012\nQUIT", "reynolds": [100000]}`, http.StatusBadRequest},
		{"all failed", batch.StaticSource{}, `{"airfoil": "naca0012", "reynolds": [100000]}`, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, Config{}, tt.src)
			if w := ts.do("POST", "/api/v1/runs", tt.body); w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body)
			}
		})
	}
}

// blockingSource holds every job until its context ends.
type blockingSource struct{}

func (blockingSource) Samples(ctx context.Context, job xfoil.Job) ([]polar.Sample, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunsEndpointTimeout(t *testing.T) {
	cfg := Config{RunTimeout: 50 * time.Millisecond}
	ts := newTestServer(t, cfg, blockingSource{})

	start := time.Now()
	w := ts.do("POST", "/api/v1/runs", `{"airfoil": "naca0012", "reynolds": [100000]}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (body %s)", w.Code, w.Body)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("run took %v, want it cut at the run timeout", elapsed)
	}
}

func TestServerWriteTimeoutCoversRuns(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		run  time.Duration
	}{
		{"default", Config{}, defaultRunTimeout},
		{"configured", Config{RunTimeout: 90 * time.Second}, 90 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(tt.cfg, polar.NewStore(), nil, baseConfig(), nil, testLogger())
			if got := s.HTTPServer().WriteTimeout; got != tt.run+writeGrace {
				t.Errorf("WriteTimeout = %v, want %v", got, tt.run+writeGrace)
			}
		})
	}
}

func TestServerAuth(t *testing.T) {
	ts := newTestServer(t, Config{Auth: auth.Config{Enabled: true, Token: "tok"}}, nil)
	body := extrapolateBody(t, 6, lowAngle())

	if w := ts.do("POST", "/api/v1/extrapolate", body); w.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest("POST", "/api/v1/extrapolate", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", w.Code)
	}

	if w := ts.do("GET", "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz: status = %d, want 200", w.Code)
	}
}

func TestReadyzUsesCheck(t *testing.T) {
	s := NewServer(Config{}, polar.NewStore(), nil, baseConfig(), func() error {
		return errors.New("solver missing")
	}, testLogger())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	lim := newRequestLimiter(1)
	router := mux.NewRouter()
	registerRoutes(router, &Handler{store: polar.NewStore(), limiter: lim, logger: testLogger()})
	h := http.Handler(router)

	// httptest requests come from 192.0.2.1; hold its only slot.
	if !lim.acquire("192.0.2.1") {
		t.Fatal("first acquire should succeed")
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/extrapolate", strings.NewReader(extrapolateBody(t, 6, lowAngle()))))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Reads are not limited.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/polars", nil))
	if w.Code != http.StatusOK {
		t.Errorf("list status = %d, want 200", w.Code)
	}

	lim.release("192.0.2.1")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/extrapolate", strings.NewReader(extrapolateBody(t, 6, lowAngle()))))
	if w.Code != http.StatusOK {
		t.Errorf("after release: status = %d, want 200", w.Code)
	}
	if n := lim.count("192.0.2.1"); n != 0 {
		t.Errorf("slot leaked: count = %d", n)
	}
}

func TestRequestLimiter(t *testing.T) {
	l := newRequestLimiter(2)
	l.maxTotal = 3

	if !l.acquire("a") || !l.acquire("a") {
		t.Fatal("two slots for a should be available")
	}
	if l.acquire("a") {
		t.Error("third slot for a should be refused")
	}
	if !l.acquire("b") {
		t.Fatal("b should get a slot")
	}
	if l.acquire("c") {
		t.Error("global cap should refuse c")
	}

	l.release("a")
	l.release("a")
	if l.count("a") != 0 {
		t.Errorf("count(a) = %d after release", l.count("a"))
	}
	if _, ok := l.inflight["a"]; ok {
		t.Error("released IP should be removed from the map")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		xff, xri   string
		trustProxy bool
		want       string
	}{
		{"remote addr", "10.0.0.1:5555", "", "", false, "10.0.0.1"},
		{"headers ignored without trust", "10.0.0.1:5555", "1.2.3.4", "5.6.7.8", false, "10.0.0.1"},
		{"first forwarded entry", "10.0.0.1:5555", " 1.2.3.4 , 9.9.9.9", "", true, "1.2.3.4"},
		{"real ip fallback", "10.0.0.1:5555", "", "5.6.7.8", true, "5.6.7.8"},
		{"no port", "10.0.0.1", "", "", false, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := clientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
