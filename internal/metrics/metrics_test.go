package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserveCheckAndNotification(t *testing.T) {
	before := testutil.ToFloat64(checksTotal.WithLabelValues("changed"))
	ObserveCheck("changed")
	require.InDelta(t, before+1, testutil.ToFloat64(checksTotal.WithLabelValues("changed")), 0.001)

	beforeNotify := testutil.ToFloat64(notificationsTotal.WithLabelValues("wecom", "failed"))
	ObserveNotification("wecom", "failed")
	require.InDelta(t, beforeNotify+1, testutil.ToFloat64(notificationsTotal.WithLabelValues("wecom", "failed")), 0.001)
}

func TestGauges(t *testing.T) {
	start := testutil.ToFloat64(checksInFlight)
	IncInFlight()
	IncInFlight()
	DecInFlight()
	require.InDelta(t, start+1, testutil.ToFloat64(checksInFlight), 0.001)
	DecInFlight()

	SetDueTasks(7)
	require.InDelta(t, 7, testutil.ToFloat64(scanDueTasks), 0.001)
}

func TestObserveFetchUsesHostLabel(t *testing.T) {
	ObserveFetch("https://Advisories.Example.org/feed?page=2", 150*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(fetchDurationSeconds))
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))
	for _, path := range []string{"/ok", "/teapot"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")), 0.001)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
