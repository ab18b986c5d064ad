package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testMux     *http.ServeMux
	testUpdater *StatsUpdater
	setupOnce   sync.Once
)

// expvar names are process-global, so the updater is created once and
// shared by every test in the package.
func testStatsUpdater() (*http.ServeMux, *StatsUpdater) {
	setupOnce.Do(func() {
		testMux = http.NewServeMux()
		testUpdater = NewStatsUpdater(testMux)
	})
	return testMux, testUpdater
}

func TestStatsUpdater(t *testing.T) {
	_, su := testStatsUpdater()
	su.RegisterMetric(NumConnections)
	su.RegisterMetric(MessagesDelivered)
	su.Run()

	su.Incr(NumConnections)
	su.Incr(NumConnections)
	su.Decr(NumConnections)
	su.Add(MessagesDelivered, 5)

	// updates are applied by a background goroutine
	assert.Eventually(t, func() bool {
		return su.vars.Get(NumConnections).String() == "1" &&
			su.vars.Get(MessagesDelivered).String() == "5"
	}, time.Second, 10*time.Millisecond)
}

func TestExpvarHandler(t *testing.T) {
	mux, su := testStatsUpdater()
	su.RegisterMetric(NumOnlineUsers)

	req := httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var data map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	assert.Contains(t, data, NumOnlineUsers)
	assert.Contains(t, data, "Uptime")
}
