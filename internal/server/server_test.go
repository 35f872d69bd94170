package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quiz-funnel/internal/attribution"
	"github.com/sells-group/quiz-funnel/internal/funnel"
	"github.com/sells-group/quiz-funnel/internal/monitoring"
	"github.com/sells-group/quiz-funnel/internal/session"
)

type testEnv struct {
	srv   *httptest.Server
	reg   *session.Registry
	sched *session.Manual
	kv    *attribution.Memory
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	sched := session.NewManual()
	kv := attribution.NewMemory()
	reg, err := session.NewRegistry(funnel.NewStatic(funnel.Adjusted()), session.Options{
		AnswerDelay:   session.DefaultAnswerDelay,
		CheckoutBase:  "https://pay.example.com/c",
		RedirectDelay: 300 * time.Millisecond,
		Attribution:   kv,
		Scheduler:     sched,
	}, 16)
	require.NoError(t, err)

	s := New(reg, kv, cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		reg.Close()
	})
	return &testEnv{srv: ts, reg: reg, sched: sched, kv: kv}
}

func noRedirectClient() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusFound {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (e *testEnv) create(t *testing.T, query string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/sessions"+query, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	state := body["state"].(map[string]any)
	return state["id"].(string)
}

func screenOf(body map[string]any) string {
	return body["state"].(map[string]any)["current_screen"].(string)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	resp, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", body["status"])
}

func TestHealth_Unavailable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{Health: func(context.Context) error { return errors.New("db down") }})

	resp, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unavailable", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	promReg := prometheus.NewRegistry()
	m := monitoring.MustNewMetrics(promReg, "srv")
	m.SessionStarted("adjusted")
	env := newTestEnv(t, Config{Metrics: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})})

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, buf.String(), "srv_sessions_started_total")
}

func TestCreateSession_SetsCookieAndCapturesAttribution(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{VisitorCookie: "vid"})

	resp, body := env.do(t, http.MethodPost, "/sessions?utm_source=ig&utm_campaign=spring&other=x", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "screen_intro", screenOf(body))

	var visitor string
	for _, c := range resp.Cookies() {
		if c.Name == "vid" {
			visitor = c.Value
			assert.True(t, c.HttpOnly)
		}
	}
	require.NotEmpty(t, visitor)

	tags, err := attribution.Stored(context.Background(), env.kv, visitor)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"utm_source": "ig", "utm_campaign": "spring"}, tags)

	view := body["view"].(map[string]any)
	assert.Equal(t, "screen_intro", view["active"])
}

func TestCreateSession_ReusesVisitorCookie(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/sessions", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "qf_visitor", Value: "known-visitor"})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "known-visitor", body["state"].(map[string]any)["visitor_id"])
	assert.Empty(t, resp.Cookies())
}

func TestUnknownSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/sessions/nope"},
		{http.MethodPost, "/sessions/nope/next"},
		{http.MethodPost, "/sessions/nope/checkout"},
	} {
		resp, body := env.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, tc.path)
		assert.Equal(t, "session not found", body["error"])
	}
}

func TestAnswer_Flow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	id := env.create(t, "")

	resp, body := env.do(t, http.MethodPost, "/sessions/"+id+"/next", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["moved"])
	assert.Equal(t, "screen_q1", screenOf(body))

	resp, body = env.do(t, http.MethodPost, "/sessions/"+id+"/answers", map[string]any{
		"question_id": "1", "label": "Mais ou menos",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "q1", body["answer"].(map[string]any)["question_id"])
	assert.EqualValues(t, 300, body["advance_after_ms"])
	assert.Equal(t, "screen_q1", screenOf(body))

	env.sched.Advance(session.DefaultAnswerDelay)
	_, body = env.do(t, http.MethodGet, "/sessions/"+id, nil)
	assert.Equal(t, "screen_q2", screenOf(body))
}

func TestAnswer_BadRequests(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	id := env.create(t, "")

	resp, body := env.do(t, http.MethodPost, "/sessions/"+id+"/answers", map[string]any{"label": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "question_id is required", body["error"])

	resp, body = env.do(t, http.MethodPost, "/sessions/"+id+"/answers", map[string]any{"question_id": "junk-1", "label": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unknown question_id", body["error"])
	assert.Equal(t, 0, env.sched.Pending())

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/sessions/"+id+"/answers", strings.NewReader("{not json"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/sessions/"+id+"/jump", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJump(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	id := env.create(t, "")

	_, body := env.do(t, http.MethodPost, "/sessions/"+id+"/jump", map[string]any{"screen_id": "screen_q5"})
	assert.Equal(t, true, body["moved"])
	assert.Equal(t, "screen_q5", screenOf(body))

	resp, body := env.do(t, http.MethodPost, "/sessions/"+id+"/jump", map[string]any{"screen_id": "screen_nope"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["moved"])
	assert.Equal(t, "screen_q5", screenOf(body))
}

func TestCalculateAndResult(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	id := env.create(t, "")

	env.do(t, http.MethodPost, "/sessions/"+id+"/answers", map[string]any{"question_id": "q2", "label": "80", "numeric": 80})
	env.sched.Advance(session.DefaultAnswerDelay)

	resp, body := env.do(t, http.MethodPost, "/sessions/"+id+"/calculate", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["calculating"])
	assert.Equal(t, "screen_calculating", screenOf(body))

	env.sched.Flush()
	_, body = env.do(t, http.MethodGet, "/sessions/"+id, nil)
	assert.Equal(t, "screen_result", screenOf(body))
	assert.Equal(t, "Empresário em Escala", body["state"].(map[string]any)["profile"])
}

func TestResult_Direct(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	id := env.create(t, "")

	_, body := env.do(t, http.MethodPost, "/sessions/"+id+"/result", nil)
	assert.Equal(t, "screen_result", screenOf(body))
	assert.Equal(t, "construction", body["state"].(map[string]any)["tier"])
}

func TestCheckout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	id := env.create(t, "?utm_source=ig")

	resp, body := env.do(t, http.MethodPost, "/sessions/"+id+"/checkout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://pay.example.com/c?utm_source=ig&perfil=Empres%C3%A1rio+em+Constru%C3%A7%C3%A3o", body["url"])
	assert.EqualValues(t, 300, body["redirect_after_ms"])

	resp, _ = env.do(t, http.MethodGet, "/sessions/"+id+"/checkout", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, body["url"], resp.Header.Get("Location"))
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	id := env.create(t, "")

	resp, _ := env.do(t, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, ok := env.reg.Get(id)
	assert.False(t, ok)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{AllowedOrigins: []string{"https://quiz.example.com"}})

	req, err := http.NewRequest(http.MethodOptions, env.srv.URL+"/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://quiz.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "https://quiz.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestCORS_WildcardDropsCredentials(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})

	req, err := http.NewRequest(http.MethodOptions, env.srv.URL+"/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.net")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestNotFoundRoute(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	resp, body := env.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", body["error"])
}
