package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/archscope/archscope/internal/discovery"
	"github.com/archscope/archscope/internal/drift"
	"github.com/archscope/archscope/internal/metrics"
	"github.com/archscope/archscope/internal/models"
	"github.com/archscope/archscope/internal/store"
	"github.com/archscope/archscope/internal/topology"
	"github.com/archscope/archscope/internal/trace"
	"github.com/archscope/archscope/internal/utils"
)

// Handlers binds the collector's HTTP surface to the core components.
type Handlers struct {
	logger        *slog.Logger
	store         *store.EventStore
	reconstructor *trace.Reconstructor
	discoverer    discovery.Discoverer
	engine        *drift.Engine
	latencies     *utils.LatencyTracker
}

// NewHandlers constructs the handler set.
func NewHandlers(logger *slog.Logger, eventStore *store.EventStore, reconstructor *trace.Reconstructor, discoverer discovery.Discoverer, engine *drift.Engine) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		logger:        logger,
		store:         eventStore,
		reconstructor: reconstructor,
		discoverer:    discoverer,
		engine:        engine,
		latencies:     utils.NewLatencyTracker(1024),
	}
}

// Register attaches all routes to the router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/health", h.health)
	router.POST("/services/collector/event", h.collectEvent)

	api := router.Group("/api")
	api.POST("/events", h.ingestEvent)
	api.POST("/search", h.searchEvents)
	api.GET("/trace/:correlation_id", h.traceRequest)
	api.GET("/stats", h.stats)
	api.POST("/clear", h.clearEvents)
	api.POST("/snapshots", h.ingestSnapshot)
	api.POST("/discover", h.discover)
	api.GET("/drift/reports", h.driftReports)
	api.GET("/drift/trend", h.driftTrend)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  "archscope-collector",
		"degraded": h.store.Degraded(),
	})
}

// collectEvent is the HEC-compatible ingestion endpoint: it accepts either a
// bare event object or an {event: ..., sourcetype: ...} envelope, where the
// inner event may itself be a JSON-encoded string.
func (h *Handlers) collectEvent(c *gin.Context) {
	start := time.Now()

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		metrics.ObserveIngestion(time.Since(start), metrics.OutcomeRejected)
		c.JSON(http.StatusBadRequest, gin.H{"text": "invalid JSON body", "code": 1})
		return
	}

	fields := unwrapEnvelope(body)
	event := models.LogEvent{
		CorrelationID: popString(fields, "correlation_id"),
		Service:       popString(fields, "service"),
		EventType:     popString(fields, "event_type"),
		Payload:       fields,
	}

	if _, err := h.store.Append(event); err != nil {
		metrics.ObserveIngestion(time.Since(start), metrics.OutcomeRejected)
		h.logger.Warn("event rejected", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{"text": err.Error(), "code": 1})
		return
	}

	duration := time.Since(start)
	metrics.ObserveIngestion(duration, metrics.OutcomeAccepted)
	h.observeLatency(duration)
	c.JSON(http.StatusOK, gin.H{"text": "Success", "code": 0})
}

type ingestRequest struct {
	CorrelationID string         `json:"correlation_id" binding:"required"`
	Service       string         `json:"service" binding:"required"`
	EventType     string         `json:"event_type"`
	Payload       map[string]any `json:"payload"`
}

// ingestEvent is the typed ingestion endpoint used by collaborators that do
// not speak the HEC envelope.
func (h *Handlers) ingestEvent(c *gin.Context) {
	start := time.Now()

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.ObserveIngestion(time.Since(start), metrics.OutcomeRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.store.Append(models.LogEvent{
		CorrelationID: req.CorrelationID,
		Service:       req.Service,
		EventType:     req.EventType,
		Payload:       req.Payload,
	})
	if err != nil {
		metrics.ObserveIngestion(time.Since(start), metrics.OutcomeRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	duration := time.Since(start)
	metrics.ObserveIngestion(duration, metrics.OutcomeAccepted)
	h.observeLatency(duration)
	c.JSON(http.StatusOK, gin.H{"event_id": id})
}

func (h *Handlers) searchEvents(c *gin.Context) {
	var filter store.Filter
	if err := c.ShouldBindJSON(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results := h.store.Search(filter)
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (h *Handlers) traceRequest(c *gin.Context) {
	reconstructed := h.reconstructor.Reconstruct(c.Param("correlation_id"))
	c.JSON(http.StatusOK, reconstructed)
}

func (h *Handlers) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Stats())
}

func (h *Handlers) clearEvents(c *gin.Context) {
	if err := h.store.Clear(); err != nil {
		h.logger.Error("clear failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logs cleared"})
}

// ingestSnapshot accepts one discovered-topology document per discovery run
// and executes a drift cycle against the persisted baseline.
func (h *Handlers) ingestSnapshot(c *gin.Context) {
	var snapshot topology.Snapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if snapshot.CapturedAt.IsZero() {
		snapshot.CapturedAt = time.Now().UTC()
	}
	h.runDrift(c, &snapshot)
}

// discover runs rule-based discovery over the aggregated events. With
// ?drift=true the discovered snapshot also goes through a drift cycle.
func (h *Handlers) discover(c *gin.Context) {
	snapshot, err := h.discoverer.Discover()
	if err != nil {
		h.logger.Error("discovery failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if c.Query("drift") == "true" {
		h.runDrift(c, snapshot)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *Handlers) runDrift(c *gin.Context, snapshot *topology.Snapshot) {
	result, err := h.engine.Run(snapshot)
	if err != nil {
		metrics.ObserveDriftRun(metrics.OutcomeError, 0)
		switch {
		case errors.Is(err, drift.ErrDriftRunInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
		case errors.Is(err, drift.ErrDuplicateSnapshot):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.Error("drift run failed", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	score := 0
	if result.Report != nil {
		score = result.Report.Score
	}
	metrics.ObserveDriftRun(metrics.OutcomeSuccess, score)
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) driftReports(c *gin.Context) {
	reports, err := h.engine.Reports()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if reports == nil {
		reports = []models.DriftReport{}
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

func (h *Handlers) driftTrend(c *gin.Context) {
	trendReport, err := h.engine.Trend()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trendReport)
}

func (h *Handlers) observeLatency(duration time.Duration) {
	h.latencies.Observe(duration)
	if count := h.latencies.Count(); count >= 100 && count%100 == 0 {
		h.logger.Info("ingestion latency",
			slog.Duration("p95", h.latencies.Percentile(95)),
			slog.Int("samples", count))
	}
}

// unwrapEnvelope extracts the event object from an HEC envelope, tolerating
// a JSON-encoded string payload. A body without an "event" key is treated
// as the event itself.
func unwrapEnvelope(body map[string]any) map[string]any {
	raw, ok := body["event"]
	if !ok {
		return body
	}
	switch event := raw.(type) {
	case map[string]any:
		return event
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(event), &parsed); err == nil {
			return parsed
		}
		return map[string]any{"message": event}
	default:
		return map[string]any{}
	}
}

func popString(fields map[string]any, key string) string {
	value, _ := fields[key].(string)
	delete(fields, key)
	return value
}
