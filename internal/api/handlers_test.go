package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aircast-dev/aircast/internal/config"
	"github.com/aircast-dev/aircast/internal/metrics"
	"github.com/aircast-dev/aircast/internal/schedule"
	"github.com/aircast-dev/aircast/internal/station"
	"github.com/aircast-dev/aircast/internal/storage/sqlite"
	"github.com/aircast-dev/aircast/pkg/logger"
)

var baseline = time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Pacing:  config.PacingConfig{TargetHz: 10},
		Metrics: config.MetricsConfig{SampleHz: 1, AggregationWindowSec: 5, FlushIntervalSec: 5},
		Encoder: config.EncoderConfig{BinaryPath: "ffmpeg", DrainSec: 1},
		Channels: []config.ChannelConfig{
			{
				ID:        "ch-1",
				Name:      "Channel One",
				Mode:      "normal",
				Producer:  "loop",
				ClockRate: 1,
				Programmes: []config.ProgrammeConfig{
					{ID: "morning", Source: "/media/morning.ts", Kind: "content", DurationSec: 300},
				},
			},
		},
	}
}

func newTestRouter(t *testing.T, store *sqlite.SampleStorage) (http.Handler, *station.Station) {
	t.Helper()
	cfg := testConfig()
	st, err := station.New(cfg, baseline,
		schedule.NewStaticResolver(cfg.Channels),
		schedule.NewStaticDirector(cfg.Channels),
		nil, store, logger.NewNop())
	require.NoError(t, err)

	exporter := metrics.NewExporter()
	for _, rt := range st.Runtimes() {
		rt := rt
		exporter.RegisterChannel(rt.Manager().ID(),
			rt.Manager().ChannelMetrics,
			rt.Publisher().IsSampleFresh)
	}

	router := NewRouter(st, store, nil, exporter, cfg, logger.NewNop())
	return router.Routes(), st
}

func doRequest(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestGetChannels(t *testing.T) {
	handler, _ := newTestRouter(t, nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/channels")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Channels []ChannelSummary `json:"channels"`
		Count    int              `json:"count"`
	}
	decodeBody(t, rec, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "ch-1", body.Channels[0].ID)
	assert.Equal(t, "idle", body.Channels[0].State)
	assert.Equal(t, 0, body.Channels[0].ViewerCount)
}

func TestGetChannelByIDNotFound(t *testing.T) {
	handler, _ := newTestRouter(t, nil)
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/channels/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJoinAndLeaveChannel(t *testing.T) {
	handler, st := newTestRouter(t, nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/channels/ch-1/viewers")
	require.Equal(t, http.StatusCreated, rec.Code)

	var joined ViewerResponse
	decodeBody(t, rec, &joined)
	assert.NotEmpty(t, joined.ViewerID)
	assert.Equal(t, "loop://ch-1", joined.StreamEndpoint)

	rt, ok := st.Runtime("ch-1")
	require.True(t, ok)
	assert.Equal(t, 1, rt.Manager().ViewerCount())

	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/channels/ch-1/viewers/"+joined.ViewerID)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, rt.Manager().ViewerCount())
}

func TestJoinUnknownChannel(t *testing.T) {
	handler, _ := newTestRouter(t, nil)
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/channels/nope/viewers")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetChannelMetrics(t *testing.T) {
	handler, _ := newTestRouter(t, nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/channels/ch-1/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sample metrics.ChannelMetricsSample `json:"sample"`
		Fresh  bool                         `json:"fresh"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "idle", body.Sample.ChannelState)
	assert.Equal(t, "stopped", body.Sample.ProducerState)
}

func TestGetChannelSamples(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := sqlite.NewSampleStorage(db, logger.NewNop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.StoreSample(&sqlite.SampleRecord{
			ChannelID:     "ch-1",
			ChannelState:  "active",
			ViewerCount:   1,
			ProducerState: "running",
			StationTime:   float64(10 + i),
			CreatedAt:     time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	handler, _ := newTestRouter(t, store)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/channels/ch-1/samples?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, 2, body.Count)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/channels/ch-1/samples?from=10&to=11")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, 2, body.Count)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/channels/ch-1/samples?limit=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/channels/ch-1/samples?from=9&to=3")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSamplesDisabled(t *testing.T) {
	handler, _ := newTestRouter(t, nil)
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/channels/ch-1/samples")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetHealth(t *testing.T) {
	handler, _ := newTestRouter(t, nil)
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	handler, _ := newTestRouter(t, nil)
	rec := doRequest(t, handler, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "aircast_channel_viewers")
}
