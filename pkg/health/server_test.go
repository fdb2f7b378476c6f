package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-batcher/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

type stubLedger struct {
	counters models.Counters
	err      error
}

func (l *stubLedger) Counters(context.Context) (models.Counters, error) { return l.counters, l.err }
func (l *stubLedger) OrderingRule() string                              { return ledger.OrderingByIntentID }
func (l *stubLedger) BatchConfig() ledger.BatchConfig                   { return ledger.DefaultBatchConfig() }

func newTestServer(apiKey string) (*Server, *circuitbreaker.Registry) {
	log := &logger.EmptyLogger{}
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		Enabled: true, Threshold: 1, FailureWindow: time.Minute, ResetTimeout: time.Hour,
	}, log)
	l := &stubLedger{counters: models.Counters{Intents: 4, Batches: 1, Pending: 2}}
	return NewServer("0", apiKey, l, breakers, log), breakers
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer("")
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReady(t *testing.T) {
	s, _ := newTestServer("")
	s.AddCheck("store", func(context.Context) error { return nil })

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	s.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis not ready")
}

func TestStatus(t *testing.T) {
	s, breakers := newTestServer("")
	breakers.Get("default:DOT:USDT").RecordFailure()

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, uint64(4), status.Counters.Intents)
	assert.Equal(t, ledger.OrderingByIntentID, status.OrderingRule)
	require.Len(t, status.Circuits, 1)
	assert.True(t, status.Circuits[0].Open)
}

func TestCircuitReset(t *testing.T) {
	s, breakers := newTestServer("secret")
	breakers.Get("default:DOT:USDT").RecordFailure()

	tests := []struct {
		name     string
		target   string
		auth     string
		expected int
	}{
		{"missing auth", "/circuit/reset?route=default:DOT:USDT", "", http.StatusUnauthorized},
		{"wrong key", "/circuit/reset?route=default:DOT:USDT", "Bearer nope", http.StatusUnauthorized},
		{"missing route", "/circuit/reset", "Bearer secret", http.StatusBadRequest},
		{"unknown route", "/circuit/reset?route=other", "Bearer secret", http.StatusNotFound},
		{"reset", "/circuit/reset?route=default:DOT:USDT", "Bearer secret", http.StatusOK},
		{"reset all", "/circuit/reset?route=all", "Bearer secret", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.target, nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rec := serve(s, req)
			assert.Equal(t, tc.expected, rec.Code)
		})
	}
	assert.False(t, breakers.AnyOpen())
}

func TestMetricsAuth(t *testing.T) {
	s, _ := newTestServer("secret")

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = serve(s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
