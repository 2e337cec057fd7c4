package exporter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rxtx-hosting/cardcount/pkg/durations"
	"github.com/rxtx-hosting/cardcount/pkg/estimator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testStore(t *testing.T) *durations.Store {
	t.Helper()
	s := durations.NewStore()
	for _, rec := range [][3]int64{{1, 0, 100}, {1, 50, 500}, {1, 20, 800}, {2, 0, 50}} {
		d, err := durations.NewDuration(uint32(rec[0]), rec[1], rec[2])
		require.NoError(t, err)
		s.Add(d)
	}
	return s
}

func newTestServer(t *testing.T, apiKey string, recorder Recorder) *APIServer {
	t.Helper()
	api, err := NewAPIServer(apiKey, testStore(t), estimator.NewEstimator(estimator.Options{}), 1337, 16, recorder)
	require.NoError(t, err)
	return api
}

func doGet(t *testing.T, handler http.Handler, url string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestGetEstimate(t *testing.T) {
	api := newTestServer(t, "", nil)
	router := api.Router()

	w := doGet(t, router, "/estimates/1?ips=5&start=0&end=1000", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp estimateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.ASN)
	assert.Equal(t, 5, resp.IPs)
	assert.Equal(t, 3, resp.Observed)
	assert.Equal(t, estimator.DefaultResamples, resp.Resamples)
	assert.Equal(t, estimator.DefaultConfidence, resp.Confidence)
	assert.Empty(t, resp.ObservedDurations)
	assert.LessOrEqual(t, resp.LowerBound, resp.NumHosts)
	assert.LessOrEqual(t, resp.NumHosts, resp.UpperBound)

	again := doGet(t, router, "/estimates/1?ips=5&start=0&end=1000&diagnostics=true", nil)
	require.Equal(t, http.StatusOK, again.Code)

	var cached estimateResponse
	require.NoError(t, json.Unmarshal(again.Body.Bytes(), &cached))
	assert.Equal(t, resp.NumHosts, cached.NumHosts)
	assert.Equal(t, resp.LowerBound, cached.LowerBound)
	assert.Equal(t, resp.UpperBound, cached.UpperBound)
	assert.Len(t, cached.ObservedDurations, 3)
	assert.Equal(t, 1, api.cache.Len())
}

func TestGetEstimateMatchesFreshComputation(t *testing.T) {
	first := newTestServer(t, "", nil)
	second := newTestServer(t, "", nil)

	a := doGet(t, first.Router(), "/estimates/1?ips=3&start=10&end=900", nil)
	b := doGet(t, second.Router(), "/estimates/1?ips=3&start=10&end=900", nil)
	require.Equal(t, http.StatusOK, a.Code)
	require.Equal(t, http.StatusOK, b.Code)

	var ra, rb estimateResponse
	require.NoError(t, json.Unmarshal(a.Body.Bytes(), &ra))
	require.NoError(t, json.Unmarshal(b.Body.Bytes(), &rb))
	assert.Equal(t, ra.NumHosts, rb.NumHosts)
	assert.Equal(t, ra.LowerBound, rb.LowerBound)
	assert.Equal(t, ra.UpperBound, rb.UpperBound)
}

func TestGetEstimateErrors(t *testing.T) {
	prom := NewPrometheusExporter()
	router := newTestServer(t, "", prom).Router()

	cases := []struct {
		name   string
		url    string
		status int
	}{
		{"unknown asn", "/estimates/3?ips=5&start=0&end=1000", http.StatusNotFound},
		{"zero ips", "/estimates/1?ips=0&start=0&end=1000", http.StatusBadRequest},
		{"missing ips", "/estimates/1?start=0&end=1000", http.StatusBadRequest},
		{"inverted window", "/estimates/1?ips=5&start=1000&end=0", http.StatusBadRequest},
		{"no durations in window", "/estimates/2?ips=5&start=5000&end=6000", http.StatusUnprocessableEntity},
		{"non-numeric asn", "/estimates/AS3320?ips=5&start=0&end=1000", http.StatusBadRequest},
		{"non-numeric ips", "/estimates/1?ips=many&start=0&end=1000", http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doGet(t, router, tc.url, nil)
			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}

	assert.InDelta(t, 1, testutil.ToFloat64(prom.estimateErrors.WithLabelValues("unknown_as")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(prom.estimateErrors.WithLabelValues("invalid_sample_size")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(prom.estimateErrors.WithLabelValues("invalid_window")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(prom.estimateErrors.WithLabelValues("empty_population")), 0)
}

func TestGetASNs(t *testing.T) {
	router := newTestServer(t, "", nil).Router()

	w := doGet(t, router, "/asns", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ASNs []asnResponse `json:"asns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []asnResponse{{ASN: 1, Durations: 3}, {ASN: 2, Durations: 1}}, body.ASNs)
}

func TestAuthMiddleware(t *testing.T) {
	router := newTestServer(t, "secret", nil).Router()

	w := doGet(t, router, "/asns", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doGet(t, router, "/asns", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doGet(t, router, "/asns", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewAPIServerRejectsInvalidCacheSize(t *testing.T) {
	_, err := NewAPIServer("", durations.NewStore(), estimator.NewEstimator(estimator.Options{}), 1, 0, nil)
	assert.Error(t, err)
}
