package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expvar registration is process-global, so the updater is built once
// and shared by the subtests.
func TestStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.Run()
	defer su.Stop()

	su.RegisterMetric("TestMetric")

	t.Run("incr and decr", func(t *testing.T) {
		su.Incr("TestMetric")
		su.Incr("TestMetric")
		su.Decr("TestMetric")

		// updates are applied by a background goroutine
		assert.Eventually(t, func() bool {
			return su.vars.Get("TestMetric").String() == "1"
		}, time.Second, 10*time.Millisecond, "expected metric to settle at 1")
	})

	t.Run("unregistered counter is created on first delta", func(t *testing.T) {
		su.Incr("LateMetric")

		assert.Eventually(t, func() bool {
			v := su.vars.Get("LateMetric")
			return v != nil && v.String() == "1"
		}, time.Second, 10*time.Millisecond, "expected the counter to be created and applied")
	})

	t.Run("expvar endpoint", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code, "expected 200 from the vars endpoint")

		var body map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body), "expected JSON metrics")
		assert.Contains(t, body, "TestMetric", "expected the registered metric to be exported")
		assert.Contains(t, body, "Uptime", "expected the uptime metric to be exported")
	})
}
