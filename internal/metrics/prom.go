package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SampleSource returns the latest sample for a channel.
type SampleSource func() ChannelMetricsSample

// Exporter exposes the latest channel samples as Prometheus gauges. Gauges
// are refreshed from the registered sources at scrape time, so the scrape
// path never touches the pacing loop.
type Exporter struct {
	registry        *prometheus.Registry
	viewers         *prometheus.GaugeVec
	channelActive   *prometheus.GaugeVec
	segmentPosition *prometheus.GaugeVec
	droppedFrames   *prometheus.GaugeVec
	queuedFrames    *prometheus.GaugeVec
	sampleFresh     *prometheus.GaugeVec

	mu      sync.RWMutex
	sources map[string]SampleSource
	fresh   map[string]func() bool
}

// NewExporter creates and registers the channel gauges on a private
// registry.
func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()

	viewers := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aircast_channel_viewers",
		Help: "Current viewer session count per channel",
	}, []string{"channel"})
	channelActive := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aircast_channel_active",
		Help: "1 when the channel has an active producer, 0 when idle",
	}, []string{"channel"})
	segmentPosition := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aircast_channel_segment_position_seconds",
		Help: "Elapsed seconds into the currently playing segment",
	}, []string{"channel"})
	droppedFrames := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aircast_channel_dropped_frames",
		Help: "Encoder dropped frame count from the latest sample",
	}, []string{"channel"})
	queuedFrames := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aircast_channel_queued_frames",
		Help: "Encoder queued frame count from the latest sample",
	}, []string{"channel"})
	sampleFresh := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aircast_channel_sample_fresh",
		Help: "1 when the latest metrics sample is within the aggregation window",
	}, []string{"channel"})

	registry.MustRegister(viewers, channelActive, segmentPosition, droppedFrames, queuedFrames, sampleFresh)

	return &Exporter{
		registry:        registry,
		viewers:         viewers,
		channelActive:   channelActive,
		segmentPosition: segmentPosition,
		droppedFrames:   droppedFrames,
		queuedFrames:    queuedFrames,
		sampleFresh:     sampleFresh,
		sources:         make(map[string]SampleSource),
		fresh:           make(map[string]func() bool),
	}
}

// RegisterChannel wires a channel's sample source and freshness check into
// the exporter.
func (e *Exporter) RegisterChannel(channelID string, source SampleSource, fresh func() bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[channelID] = source
	e.fresh[channelID] = fresh
}

// refresh pulls the latest sample from every source into the gauges.
func (e *Exporter) refresh() {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for id, source := range e.sources {
		sample := source()
		e.viewers.WithLabelValues(id).Set(float64(sample.ViewerCount))
		if sample.ChannelState == "active" {
			e.channelActive.WithLabelValues(id).Set(1)
		} else {
			e.channelActive.WithLabelValues(id).Set(0)
		}
		e.segmentPosition.WithLabelValues(id).Set(sample.SegmentPosition)
		e.droppedFrames.WithLabelValues(id).Set(float64(sample.DroppedFrames))
		e.queuedFrames.WithLabelValues(id).Set(float64(sample.QueuedFrames))
		if freshFn, ok := e.fresh[id]; ok && freshFn() {
			e.sampleFresh.WithLabelValues(id).Set(1)
		} else {
			e.sampleFresh.WithLabelValues(id).Set(0)
		}
	}
}

// Handler returns an http.Handler serving the exporter's registry, with
// gauges refreshed before each scrape.
func (e *Exporter) Handler() http.Handler {
	promHandler := promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.refresh()
		promHandler.ServeHTTP(w, r)
	})
}
