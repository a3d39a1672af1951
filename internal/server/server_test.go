package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaocaoooo/mobile-screenshot/internal/capture"
	"github.com/xiaocaoooo/mobile-screenshot/internal/config"
)

var namespaceSeq uint64

func nextNamespace() string {
	return fmt.Sprintf("test_%d", atomic.AddUint64(&namespaceSeq, 1))
}

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSession struct {
	hang   bool
	closes int32
}

func (s *stubSession) Goto(context.Context, string) error { return nil }

func (s *stubSession) WaitIdle(ctx context.Context, _ capture.IdleCondition) error {
	if s.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *stubSession) Capture(context.Context, bool) (*capture.Bitmap, error) {
	return &capture.Bitmap{Data: []byte("png"), Width: 780, Height: 1688}, nil
}

func (s *stubSession) Close() error {
	atomic.AddInt32(&s.closes, 1)
	return nil
}

type stubLauncher struct {
	session   *stubSession
	viewports []capture.Viewport
}

func (l *stubLauncher) Launch(_ context.Context, vp capture.Viewport) (capture.Session, error) {
	l.viewports = append(l.viewports, vp)
	return l.session, nil
}

type stubEncoder struct{}

func (stubEncoder) Encode(*capture.Bitmap, int) (*capture.Image, error) {
	return &capture.Image{Data: []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), MIMEType: "image/webp"}, nil
}

type fixture struct {
	server   *Server
	launcher *stubLauncher
	metrics  *Metrics
}

func newFixture(t *testing.T, sess *stubSession) *fixture {
	t.Helper()
	launcher := &stubLauncher{session: sess}
	metrics := NewMetrics(nextNamespace())
	pipeline := capture.NewPipeline(launcher, stubEncoder{},
		capture.WithNavigator(capture.Navigator{
			Timeout: 50 * time.Millisecond,
			Idle:    capture.IdleCondition{MaxInflight: 2, Quiet: time.Millisecond},
		}),
		capture.WithRecorder(metrics),
	)
	return &fixture{
		server:   New(Options{Capturer: pipeline, Metrics: metrics, Logger: zap.NewNop()}),
		launcher: launcher,
		metrics:  metrics,
	}
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestScreenshot_Success(t *testing.T) {
	f := newFixture(t, &stubSession{})

	w := do(t, f.server.Handler(), http.MethodGet, "/api/screenshot?url="+url.QueryEscape("https://example.com"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/webp", w.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=60", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Body.Bytes())

	assert.Equal(t, []capture.Viewport{{Width: 390, Height: 844}}, f.launcher.viewports)
	assert.EqualValues(t, 1, f.launcher.session.closes)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.capturesTotal.WithLabelValues("OK")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.sessionsActive))
}

func TestScreenshot_AliasRoute(t *testing.T) {
	f := newFixture(t, &stubSession{})
	w := do(t, f.server.Handler(), http.MethodGet, "/screenshot?url=https://example.com")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScreenshot_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		query   string
		wantMsg string
	}{
		{name: "invalid url", query: "url=not-a-url", wantMsg: "Invalid url query param"},
		{name: "missing url", query: "width=500", wantMsg: "Missing required query param: url"},
		{name: "no params", query: "", wantMsg: "Missing required query param: url"},
		{name: "ftp scheme", query: "url=" + url.QueryEscape("ftp://example.com/file"), wantMsg: "Only http/https URLs are allowed"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &stubSession{})

			w := do(t, f.server.Handler(), http.MethodGet, "/api/screenshot?"+tc.query)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tc.wantMsg, errorBody(t, w))
			assert.Empty(t, f.launcher.viewports, "validation failures must not launch a browser")
		})
	}
}

func TestScreenshot_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, &stubSession{})

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead} {
		w := do(t, f.server.Handler(), method, "/api/screenshot?url=https://example.com")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
		assert.Equal(t, "GET", w.Header().Get("Allow"), method)
	}

	w := do(t, f.server.Handler(), http.MethodPost, "/api/screenshot")
	assert.Equal(t, "Method not allowed. Use GET.", errorBody(t, w))
	assert.Empty(t, f.launcher.viewports)
}

func TestScreenshot_MissingConfiguration(t *testing.T) {
	cfgErr := config.Default().Validate()
	require.Error(t, cfgErr)

	launcher := &stubLauncher{session: &stubSession{}}
	s := New(Options{
		Capturer:  capture.NewPipeline(launcher, stubEncoder{}),
		ConfigErr: cfgErr,
		Metrics:   NewMetrics(nextNamespace()),
	})

	for _, q := range []string{"", "url=https://example.com", "url=not-a-url", "url=ftp://x&width=50000"} {
		w := do(t, s.Handler(), http.MethodGet, "/api/screenshot?"+q)
		require.Equal(t, http.StatusInternalServerError, w.Code, q)
		assert.Contains(t, errorBody(t, w), "CHROMIUM_PACK_URL")
	}
	assert.Empty(t, launcher.viewports)

	// 方法检查仍然优先
	w := do(t, s.Handler(), http.MethodPost, "/api/screenshot")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestScreenshot_NoCapturerIsConfigurationError(t *testing.T) {
	s := New(Options{Metrics: NewMetrics(nextNamespace())})
	w := do(t, s.Handler(), http.MethodGet, "/api/screenshot?url=https://example.com")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestScreenshot_ClampsDimensions(t *testing.T) {
	f := newFixture(t, &stubSession{})

	w := do(t, f.server.Handler(), http.MethodGet, "/api/screenshot?url=https://example.com&width=50000&height=50000")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []capture.Viewport{{Width: 2000, Height: 2000}}, f.launcher.viewports)
}

func TestScreenshot_NavigationTimeout(t *testing.T) {
	sess := &stubSession{hang: true}
	f := newFixture(t, sess)

	w := do(t, f.server.Handler(), http.MethodGet, "/api/screenshot?url=https://example.com")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Navigation timeout of 50 ms exceeded", errorBody(t, w))
	assert.EqualValues(t, 1, sess.closes)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.capturesTotal.WithLabelValues("TIMEOUT")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.sessionsActive))
}

type nilCapturer struct{}

func (nilCapturer) Handle(context.Context, url.Values) (*capture.Image, error) { return nil, nil }

func TestScreenshot_EmptyResultIsError(t *testing.T) {
	s := New(Options{Capturer: nilCapturer{}, Metrics: NewMetrics(nextNamespace())})
	w := do(t, s.Handler(), http.MethodGet, "/api/screenshot?url=https://example.com")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Screenshot failed", errorBody(t, w))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &stubSession{})
	w := do(t, f.server.Handler(), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["browser_configured"])

	degraded := New(Options{ConfigErr: config.Default().Validate(), Metrics: NewMetrics(nextNamespace())})
	w = do(t, degraded.Handler(), http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["browser_configured"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, &stubSession{})
	do(t, f.server.Handler(), http.MethodGet, "/api/screenshot?url=https://example.com")

	w := do(t, f.server.Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "_captures_total"), "captures counter exported")
	assert.True(t, strings.Contains(body, "_stage_duration_seconds"), "stage histogram exported")
	assert.True(t, strings.Contains(body, `path="/api/screenshot"`), "http counter labelled by route")
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, &stubSession{})

	w := do(t, f.server.Handler(), http.MethodGet, "/health")
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "caller-supplied", rec.Header().Get("X-Request-ID"))
}
