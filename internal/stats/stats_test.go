package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")

	assert.NotPanics(t, func() { NewStatsUpdater(http.NewServeMux()) }, "expected a second updater not to collide")
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.RegisterMetric(NumActiveClients)
	su.Run()
	defer su.Stop()

	su.Incr(NumActiveClients)
	su.Incr(NumActiveClients)
	su.Decr(NumActiveClients)
	su.Incr(NumCommands)

	assert.Eventually(t, func() bool {
		return su.Value(NumActiveClients) == 1 && su.Value(NumCommands) == 1
	}, time.Second, 10*time.Millisecond, "expected counters to be updated")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body[NumActiveClients])
	assert.Contains(t, body, "Uptime")
}
