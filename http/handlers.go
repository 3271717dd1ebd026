package http

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"clinique/artifacts"
	"clinique/ml"
	"clinique/monitoring"
	"clinique/predict"
)

const rootMessage = "Clinical prediction service (v2) online"

// Inventory lists the artifacts known to the serving process.
type Inventory interface {
	Inventory() []artifacts.Status
}

// API holds the dependencies of the prediction endpoints.
type API struct {
	service   *predict.Service
	inventory Inventory
	metrics   *monitoring.MetricsCollector
	feed      *monitoring.WebSocketHub
	logger    *zap.Logger
}

// NewAPI wires the handlers. feed may be nil to disable the live feed.
func NewAPI(service *predict.Service, inventory Inventory, metrics *monitoring.MetricsCollector, feed *monitoring.WebSocketHub, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector()
	}
	return &API{service: service, inventory: inventory, metrics: metrics, feed: feed, logger: logger}
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": rootMessage})
}

func (a *API) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": a.inventory.Inventory()})
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := a.metrics.Snapshot()
	if a.feed != nil {
		stats := a.feed.Stats()
		snapshot.Feed = &stats
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) handleFeed(w http.ResponseWriter, r *http.Request) {
	if a.feed == nil {
		writeError(w, http.StatusNotFound, "live feed disabled")
		return
	}
	a.feed.HandleWebSocket(w, r)
}

func (a *API) handleCancellation(w http.ResponseWriter, r *http.Request) {
	var req predict.CancellationRequest
	serveTask(a, w, r, ml.TaskCancellation, &req, func() (any, bool, error) {
		res, err := a.service.PredictCancellation(req)
		return res, res.Unavailable, err
	})
}

func (a *API) handleTiming(w http.ResponseWriter, r *http.Request) {
	var req predict.TimingRequest
	serveTask(a, w, r, ml.TaskTiming, &req, func() (any, bool, error) {
		res, err := a.service.PredictTiming(req)
		return res, res.Unavailable, err
	})
}

func (a *API) handleSentiment(w http.ResponseWriter, r *http.Request) {
	var req predict.SentimentRequest
	serveTask(a, w, r, "sentiment", &req, func() (any, bool, error) {
		res, err := a.service.PredictSentiment(req)
		return res, false, err
	})
}

func (a *API) handleChurn(w http.ResponseWriter, r *http.Request) {
	var req predict.ChurnRequest
	serveTask(a, w, r, ml.TaskChurn, &req, func() (any, bool, error) {
		res, err := a.service.PredictChurn(req)
		return res, res.Unavailable, err
	})
}

// serveTask decodes the body into req, runs the prediction and records the
// outcome in the metrics and the live feed.
func serveTask(a *API, w http.ResponseWriter, r *http.Request, task string, req any, run func() (any, bool, error)) {
	start := GetStartTime(r.Context())
	if start.IsZero() {
		start = time.Now()
	}

	if err := decodeBody(r, req); err != nil {
		a.record(r, task, monitoring.OutcomeInvalid, start)
		writeRequestError(w, err)
		return
	}
	res, unavailable, err := run()
	if err != nil {
		if !predict.IsValidationError(err) {
			a.logger.Error("prediction failed", zap.String("task", task), zap.Error(err))
		}
		a.record(r, task, monitoring.OutcomeInvalid, start)
		writeRequestError(w, err)
		return
	}

	outcome := monitoring.OutcomeServed
	if unavailable {
		outcome = monitoring.OutcomeUnavailable
	}
	a.record(r, task, outcome, start)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) record(r *http.Request, task string, outcome monitoring.Outcome, start time.Time) {
	elapsed := time.Since(start)
	a.metrics.RecordPrediction(task, outcome, elapsed)
	if a.feed != nil {
		a.feed.Publish(monitoring.PredictionEvent{
			Task:        task,
			Outcome:     outcome,
			Unavailable: outcome == monitoring.OutcomeUnavailable,
			DurationMs:  float64(elapsed) / float64(time.Millisecond),
			RequestID:   GetRequestID(r.Context()),
		})
	}
}
