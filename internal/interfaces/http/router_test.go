package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/Opposition-Intelligence/internal/domain/scoring"
	"github.com/turtacn/Opposition-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/Opposition-Intelligence/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingMetrics struct {
	mu     sync.Mutex
	routes []string
}

func (m *recordingMetrics) RecordHTTPRequest(method, path string, statusCode int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, method+" "+path)
}

func (m *recordingMetrics) InFlight(string) func() { return func() {} }

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func testRouter(mutate func(*RouterConfig)) *gin.Engine {
	cfg := RouterConfig{
		Similarity: handlers.NewSimilarityHandler(nil, nil, scoring.DefaultThresholds(), nil),
		Health:     handlers.NewHealthHandler("test", nil),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRouter(cfg)
}

func TestNewRouter_Routes(t *testing.T) {
	r := testRouter(func(c *RouterConfig) {
		c.Prediction = handlers.NewPredictionHandler(nil, nil, nil)
		c.Precedent = handlers.NewPrecedentHandler(nil, nil)
	})

	want := map[string]bool{
		"GET /healthz":                      true,
		"GET /readyz":                       true,
		"POST /api/v1/mark_similarity":      true,
		"POST /api/v1/gs_similarity":        true,
		"POST /api/v1/visual_similarity":    true,
		"POST /api/v1/aural_similarity":     true,
		"POST /api/v1/case_prediction":      true,
		"POST /api/v1/full_case_prediction": true,
		"POST /api/v1/precedents":           true,
	}
	got := map[string]bool{}
	for _, ri := range r.Routes() {
		got[ri.Method+" "+ri.Path] = true
	}
	assert.Equal(t, want, got)
}

func TestNewRouter_NilHandlersLeaveRoutesOut(t *testing.T) {
	r := NewRouter(RouterConfig{})

	w := serve(r, http.MethodPost, "/api/v1/mark_similarity", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body.Code)
}

func TestNewRouter_MethodNotAllowed(t *testing.T) {
	r := testRouter(nil)
	w := serve(r, http.MethodGet, "/api/v1/visual_similarity", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestNewRouter_VisualEndToEnd(t *testing.T) {
	m := &recordingMetrics{}
	r := testRouter(func(c *RouterConfig) { c.Metrics = m })

	w := serve(r, http.MethodPost, "/api/v1/visual_similarity", `{"applicant_mark":"NOVA","opponent_mark":"NOVA"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
	assert.Equal(t, []string{"POST /api/v1/visual_similarity"}, m.routes)
}

func TestNewRouter_BodyLimitOnAPI(t *testing.T) {
	r := testRouter(func(c *RouterConfig) { c.MaxBodySize = 16 })

	w := serve(r, http.MethodPost, "/api/v1/visual_similarity", `{"applicant_mark":"a long mark","opponent_mark":"b"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestNewRouter_RateLimitSparesProbes(t *testing.T) {
	lim := middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})
	r := testRouter(func(c *RouterConfig) { c.RateLimiter = lim })

	body := `{"applicant_mark":"a","opponent_mark":"b"}`
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/api/v1/aural_similarity", body).Code)
	w := serve(r, http.MethodPost, "/api/v1/aural_similarity", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz", "").Code)
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	r := testRouter(func(c *RouterConfig) {
		c.MetricsPath = "/internal/metrics"
		c.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("oppo_up 1\n"))
		})
	})

	w := serve(r, http.MethodGet, "/internal/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "oppo_up 1\n", w.Body.String())
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/metrics", "").Code)
}

func TestNewRouter_CORS(t *testing.T) {
	r := testRouter(func(c *RouterConfig) {
		c.CORS = middleware.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/mark_similarity", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
