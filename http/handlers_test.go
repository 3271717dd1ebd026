package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clinique/artifacts"
	"clinique/ml"
	"clinique/monitoring"
	"clinique/predict"
	"clinique/sentiment"

	"github.com/gorilla/websocket"
)

func newTestRouter(t *testing.T, loaded ...*ml.Artifact) (http.Handler, *monitoring.MetricsCollector) {
	t.Helper()
	store := artifacts.NewStore(artifacts.DefaultNames, loaded...)
	scorer, err := sentiment.NewScorer(nil, 16)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	metrics := monitoring.NewMetricsCollector()
	api := NewAPI(predict.NewService(store, scorer, nil), store, metrics, nil, nil)
	cfg := DefaultServerConfig()
	cfg.MaxBodyBytes = 512
	return NewRouter(api, cfg, nil), metrics
}

func do(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
	return payload
}

func TestRoot(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(t, router, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode(t, w)["message"]; got != "Clinical prediction service (v2) online" {
		t.Fatalf("unexpected message: %v", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestAbsentModelsAnswerWithSentinels(t *testing.T) {
	router, metrics := newTestRouter(t)

	tests := []struct {
		path  string
		body  string
		field string
		want  any
	}{
		{"/predict", `{"lead_time_days": 2.5, "day_of_week": 1, "hour_of_day": 9}`, "cancellation_risk_score", -1.0},
		{"/predict-timing", `{"last_progress_score": 7}`, "recommended_days_next_session", -1.0},
		{"/predict-churn", `{"days_since_last_visit": 120, "total_visits": 3, "cancellation_rate": 0.4}`, "churn_probability", -1.0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(t, router, http.MethodPost, tt.path, tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			payload := decode(t, w)
			if payload[tt.field] != tt.want {
				t.Fatalf("expected %s=%v, got %v", tt.field, tt.want, payload[tt.field])
			}
		})
	}

	w := do(t, router, http.MethodPost, "/predict-churn", `{"days_since_last_visit": 1, "total_visits": 1, "cancellation_rate": 0}`)
	if decode(t, w)["is_churn_risk"] != false {
		t.Fatalf("sentinel churn must not flag risk: %s", w.Body.String())
	}

	for _, stat := range metrics.TaskStats() {
		if stat.Unavailable != stat.Requests {
			t.Fatalf("every %s request should count as unavailable: %+v", stat.Task, stat)
		}
	}
}

func TestTimingEndpointRounds(t *testing.T) {
	timing, err := ml.NewArtifact(ml.TaskTiming, ml.KindLinearRegression, ml.TimingFeatureNames(), "", time.Now(),
		&ml.LinearRegression{Coefficients: []float64{2}, Intercept: -0.4})
	if err != nil {
		t.Fatal(err)
	}
	router, _ := newTestRouter(t, timing)

	w := do(t, router, http.MethodPost, "/predict-timing", `{"last_progress_score": 7}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"recommended_days_next_session":14}` {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestSentimentEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(t, router, http.MethodPost, "/predict-sentiment", `{"text": "I love this!"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	payload := decode(t, w)
	if payload["sentiment_label"] != "POSITIVE" || payload["polarity"].(float64) <= 0.1 {
		t.Fatalf("unexpected sentiment: %v", payload)
	}
	if _, ok := payload["subjectivity"]; !ok {
		t.Fatal("missing subjectivity")
	}
}

func TestRequestErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"missing field", "/predict", `{"lead_time_days": 1, "day_of_week": 2}`, http.StatusUnprocessableEntity},
		{"empty object", "/predict-timing", `{}`, http.StatusUnprocessableEntity},
		{"null text", "/predict-sentiment", `{"text": null}`, http.StatusUnprocessableEntity},
		{"string for number", "/predict-timing", `{"last_progress_score": "7"}`, http.StatusBadRequest},
		{"fractional int", "/predict-churn", `{"days_since_last_visit": 1.5, "total_visits": 1, "cancellation_rate": 0}`, http.StatusBadRequest},
		{"malformed json", "/predict", `{"lead_time_days":`, http.StatusBadRequest},
		{"empty body", "/predict-timing", "", http.StatusBadRequest},
		{"two values", "/predict-timing", `{"last_progress_score": 1} {}`, http.StatusBadRequest},
		{"array body", "/predict-timing", `[1]`, http.StatusBadRequest},
		{"string body", "/predict-sentiment", `"hello"`, http.StatusBadRequest},
		{"too large", "/predict-sentiment", `{"text": "` + strings.Repeat("a", 1024) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if msg, _ := decode(t, w)["error"].(string); msg == "" {
				t.Fatal("expected an error message")
			}
		})
	}
}

func TestNonObjectBodyMessage(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(t, router, http.MethodPost, "/predict-timing", `[1]`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := decode(t, w)["error"]; got != "request body must be a JSON object" {
		t.Fatalf("unexpected message: %v", got)
	}
}

func TestValidationDetails(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(t, router, http.MethodPost, "/predict-churn", `{"total_visits": 4}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	var payload struct {
		Error   string                   `json:"error"`
		Details []predict.FieldViolation `json:"details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Error != "validation failed" || len(payload.Details) != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestModelsInventory(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(t, router, http.MethodGet, "/models", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var payload struct {
		Models []artifacts.Status `json:"models"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Models) != len(artifacts.DefaultNames) {
		t.Fatalf("expected %d models, got %d", len(artifacts.DefaultNames), len(payload.Models))
	}
	for _, m := range payload.Models {
		if m.Loaded {
			t.Fatalf("%s should be absent", m.Name)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	do(t, router, http.MethodPost, "/predict-timing", `{}`)
	do(t, router, http.MethodPost, "/predict-timing", `{"last_progress_score": 3}`)

	w := do(t, router, http.MethodGet, "/metrics", "")
	var snap monitoring.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].Requests != 2 || snap.Tasks[0].ValidationFailed != 1 {
		t.Fatalf("unexpected task stats: %+v", snap.Tasks)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	router, _ := newTestRouter(t)
	if w := do(t, router, http.MethodGet, "/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/predict", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestFeedDisabled(t *testing.T) {
	router, _ := newTestRouter(t)
	if w := do(t, router, http.MethodGet, "/ws/predictions", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a feed, got %d", w.Code)
	}
}

func TestFeedStreamsPredictions(t *testing.T) {
	store := artifacts.NewStore(artifacts.DefaultNames)
	scorer, err := sentiment.NewScorer(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	hub := monitoring.NewWebSocketHub([]string{"*"}, nil)
	go hub.Start()
	defer hub.Stop()

	api := NewAPI(predict.NewService(store, scorer, nil), store, nil, hub, nil)
	server := httptest.NewServer(NewRouter(api, DefaultServerConfig(), nil))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws/predictions", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Stats().ConnectedClients != 1 {
		if time.Now().After(deadline) {
			t.Fatal("feed client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Post(server.URL+"/predict-churn", "application/json",
		strings.NewReader(`{"days_since_last_visit": 10, "total_visits": 2, "cancellation_rate": 0.1}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg monitoring.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	var event monitoring.PredictionEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		t.Fatal(err)
	}
	if event.Task != ml.TaskChurn || !event.Unavailable || event.RequestID == "" {
		t.Fatalf("unexpected event: %+v", event)
	}
}
