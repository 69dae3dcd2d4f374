package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aircast-dev/aircast/internal/channel"
	"github.com/aircast-dev/aircast/internal/station"
	"github.com/aircast-dev/aircast/internal/storage/sqlite"
	"github.com/aircast-dev/aircast/internal/websocket"
	"github.com/aircast-dev/aircast/pkg/logger"
)

const defaultSampleLimit = 100

// Handler serves the channel runtime API
type Handler struct {
	station  *station.Station
	samples  *sqlite.SampleStorage
	wsServer *websocket.Server
	logger   *logger.Logger
}

// NewHandler creates a new API handler. samples and wsServer may be nil
// when persistence or the live feed are disabled.
func NewHandler(st *station.Station, samples *sqlite.SampleStorage, wsServer *websocket.Server, log *logger.Logger) *Handler {
	return &Handler{
		station:  st,
		samples:  samples,
		wsServer: wsServer,
		logger:   log.Named("api-handler"),
	}
}

// ChannelSummary is the channel list representation
type ChannelSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	State          string `json:"state"`
	ProducerState  string `json:"producer_state"`
	ViewerCount    int    `json:"viewer_count"`
	StreamEndpoint string `json:"stream_endpoint,omitempty"`
}

// ViewerResponse is returned on a successful viewer join
type ViewerResponse struct {
	ViewerID       string `json:"viewer_id"`
	StreamEndpoint string `json:"stream_endpoint"`
}

func summarize(m *channel.Manager) ChannelSummary {
	return ChannelSummary{
		ID:             m.ID(),
		Name:           m.Name(),
		State:          m.State(),
		ProducerState:  m.ProducerStatus(),
		ViewerCount:    m.ViewerCount(),
		StreamEndpoint: m.StreamEndpoint(),
	}
}

// GetChannels returns all configured channels
func (h *Handler) GetChannels(w http.ResponseWriter, r *http.Request) {
	runtimes := h.station.Runtimes()
	summaries := make([]ChannelSummary, 0, len(runtimes))
	for _, rt := range runtimes {
		summaries = append(summaries, summarize(rt.Manager()))
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"channels": summaries,
		"count":    len(summaries),
	})
}

// GetChannelByID returns one channel's summary
func (h *Handler) GetChannelByID(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.station.Runtime(chi.URLParam(r, "id"))
	if !ok {
		h.respondError(w, http.StatusNotFound, "channel not found")
		return
	}
	h.respondJSON(w, http.StatusOK, summarize(rt.Manager()))
}

// GetChannelMetrics returns the channel's latest metrics sample and its
// freshness
func (h *Handler) GetChannelMetrics(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.station.Runtime(chi.URLParam(r, "id"))
	if !ok {
		h.respondError(w, http.StatusNotFound, "channel not found")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sample": rt.Manager().ChannelMetrics(),
		"fresh":  rt.Publisher().IsSampleFresh(),
	})
}

// JoinChannel registers a new viewer and returns the stream endpoint
func (h *Handler) JoinChannel(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.station.Runtime(chi.URLParam(r, "id"))
	if !ok {
		h.respondError(w, http.StatusNotFound, "channel not found")
		return
	}

	viewerID := uuid.New().String()
	endpoint, err := rt.Manager().ViewerJoin(viewerID)
	if err != nil {
		if errors.Is(err, channel.ErrChannelDraining) {
			h.respondError(w, http.StatusConflict, "channel is draining, retry shortly")
			return
		}
		h.logger.Error("Viewer join failed",
			logger.String("channel_id", rt.Manager().ID()),
			logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to start channel playback")
		return
	}

	h.respondJSON(w, http.StatusCreated, ViewerResponse{
		ViewerID:       viewerID,
		StreamEndpoint: endpoint,
	})
}

// LeaveChannel removes a viewer session
func (h *Handler) LeaveChannel(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.station.Runtime(chi.URLParam(r, "id"))
	if !ok {
		h.respondError(w, http.StatusNotFound, "channel not found")
		return
	}
	rt.Manager().ViewerLeave(chi.URLParam(r, "viewerID"))
	w.WriteHeader(http.StatusNoContent)
}

// GetChannelSamples returns persisted metrics history for a channel.
// With from and to query parameters it returns the station time range,
// otherwise the most recent samples up to limit.
func (h *Handler) GetChannelSamples(w http.ResponseWriter, r *http.Request) {
	if h.samples == nil {
		h.respondError(w, http.StatusNotFound, "sample history is disabled")
		return
	}
	channelID := chi.URLParam(r, "id")
	if _, ok := h.station.Runtime(channelID); !ok {
		h.respondError(w, http.StatusNotFound, "channel not found")
		return
	}

	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")
	if fromStr != "" || toStr != "" {
		from, err1 := strconv.ParseFloat(fromStr, 64)
		to, err2 := strconv.ParseFloat(toStr, 64)
		if err1 != nil || err2 != nil || to < from {
			h.respondError(w, http.StatusBadRequest, "invalid station time range")
			return
		}
		records, err := h.samples.GetSamplesByStationTimeRange(channelID, from, to)
		if err != nil {
			h.logger.Error("Failed to query samples", logger.Error(err))
			h.respondError(w, http.StatusInternalServerError, "failed to query samples")
			return
		}
		h.respondJSON(w, http.StatusOK, map[string]interface{}{
			"samples": records,
			"count":   len(records),
		})
		return
	}

	limit := defaultSampleLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	records, err := h.samples.GetRecentSamples(channelID, limit)
	if err != nil {
		h.logger.Error("Failed to query samples", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to query samples")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"samples": records,
		"count":   len(records),
	})
}

// HandleChannelFeed upgrades to a websocket streaming live metrics samples
func (h *Handler) HandleChannelFeed(w http.ResponseWriter, r *http.Request) {
	if h.wsServer == nil {
		h.respondError(w, http.StatusNotFound, "live feed is disabled")
		return
	}
	h.wsServer.ServeChannel(w, r, chi.URLParam(r, "id"))
}

// GetHealth returns service health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"channels": len(h.station.Runtimes()),
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
