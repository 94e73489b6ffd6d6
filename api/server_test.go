package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rustyeddy/pmtrader/engine"
	"github.com/rustyeddy/pmtrader/lock"
	"github.com/rustyeddy/pmtrader/market"
	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/risk"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePipeline struct {
	status    engine.Status
	positions []position.Position
	halted    bool
	resetErr  error
	submitted []market.Signal
}

func (f *fakePipeline) Status(context.Context) engine.Status {
	st := f.status
	switch {
	case f.halted:
		st.Breaker = risk.Halted
	case st.Breaker == "":
		st.Breaker = risk.Armed
	}
	return st
}

func (f *fakePipeline) Positions(all bool) []position.Position {
	if all {
		return f.positions
	}
	var open []position.Position
	for _, p := range f.positions {
		if p.IsOpen() {
			open = append(open, p)
		}
	}
	return open
}

func (f *fakePipeline) ForceReset(context.Context) (bool, error) {
	if f.resetErr != nil {
		return false, f.resetErr
	}
	was := f.halted
	f.halted = false
	return was, nil
}

func (f *fakePipeline) Submit(_ context.Context, sig market.Signal) (engine.ExecutionResult, error) {
	f.submitted = append(f.submitted, sig)
	return engine.ExecutionResult{Signal: sig, Rejection: risk.ReasonCooldownActive}, nil
}

func newTestServer(p Pipeline, metrics http.Handler) *Server {
	logger, _ := test.NewNullLogger()
	return NewServer(ServerConfig{}, p, metrics, logger)
}

func do(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestStatus(t *testing.T) {
	p := &fakePipeline{status: engine.Status{
		Breaker:      risk.Armed,
		BalanceUSD:   decimal.NewFromInt(170),
		DailyLossUSD: decimal.NewFromInt(30),
		Seq:          12,
	}}
	code, body := do(t, newTestServer(p, nil), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)

	data := body["data"].(map[string]any)
	assert.Equal(t, "ARMED", data["breaker"])
	assert.Equal(t, "170", data["balance_usd"])
	assert.Equal(t, "30", data["daily_loss_usd"])
	assert.Equal(t, 12.0, data["seq"])
}

func TestPositions(t *testing.T) {
	exit := decimal.RequireFromString("0.6")
	p := &fakePipeline{positions: []position.Position{
		{ID: "a", MarketID: "m1", Status: position.StatusOpen},
		{ID: "b", MarketID: "m2", Status: position.StatusClosed, ExitPrice: &exit},
	}}
	s := newTestServer(p, nil)

	_, body := do(t, s, http.MethodGet, "/positions", "")
	assert.Len(t, body["data"], 1)

	_, body = do(t, s, http.MethodGet, "/positions?all=true", "")
	assert.Len(t, body["data"], 2)
}

func TestReset(t *testing.T) {
	p := &fakePipeline{halted: true}
	s := newTestServer(p, nil)

	code, body := do(t, s, http.MethodPost, "/reset", "")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["reset"])
	assert.Equal(t, "ARMED", data["status"].(map[string]any)["breaker"])

	_, body = do(t, s, http.MethodPost, "/reset", "")
	assert.Equal(t, false, body["data"].(map[string]any)["reset"])

	p.resetErr = fmt.Errorf("acquire: %w", lock.ErrTimeout)
	code, body = do(t, s, http.MethodPost, "/reset", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, true, body["error"])
}

func TestSubmitSignal(t *testing.T) {
	p := &fakePipeline{}
	s := newTestServer(p, nil)

	code, body := do(t, s, http.MethodPost, "/signals",
		`{"market_id":"m1","side":"YES","estimated_probability":0.6,"market_price":0.5,"confidence":1}`)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, p.submitted, 1)
	assert.Equal(t, market.Yes, p.submitted[0].Side)
	assert.Equal(t, "COOLDOWN_ACTIVE", body["data"].(map[string]any)["rejection"])

	code, _ = do(t, s, http.MethodPost, "/signals", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pmtrader_cycles_total 1\n"))
	})
	s := newTestServer(&fakePipeline{}, metrics)

	code, body := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pmtrader_cycles_total")

	code, _ = do(t, newTestServer(&fakePipeline{}, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestWritesRequireToken(t *testing.T) {
	p := &fakePipeline{halted: true}
	logger, _ := test.NewNullLogger()
	s := NewServer(ServerConfig{Host: "0.0.0.0", Token: "s3cret"}, p, nil, logger)

	send := func(path, auth, body string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send("/reset", "", ""))
	assert.Equal(t, http.StatusUnauthorized, send("/reset", "Bearer wrong", ""))
	assert.Equal(t, http.StatusUnauthorized, send("/reset", "s3cret", ""))
	assert.True(t, p.halted, "a rejected reset never reaches the pipeline")

	sig := `{"market_id":"m1","side":"YES","estimated_probability":0.6,"market_price":0.5,"confidence":1}`
	assert.Equal(t, http.StatusUnauthorized, send("/signals", "", sig))
	assert.Empty(t, p.submitted)

	assert.Equal(t, http.StatusOK, send("/reset", "Bearer s3cret", ""))
	assert.False(t, p.halted)
	assert.Equal(t, http.StatusOK, send("/signals", "Bearer s3cret", sig))
	assert.Len(t, p.submitted, 1)

	// reads stay open
	code, _ := do(t, s, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, code)
}
