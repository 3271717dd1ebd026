package training

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clinique/artifacts"
	"clinique/db"
	"clinique/ml"
	"clinique/predict"
)

type fakeHistory struct {
	records []ml.HistoricalRecord
	err     error
}

func (f *fakeHistory) Appointments(_ context.Context, statuses ...ml.AppointmentStatus) ([]ml.HistoricalRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(statuses) == 0 {
		return f.records, nil
	}
	allowed := map[ml.AppointmentStatus]bool{}
	for _, s := range statuses {
		allowed[s] = true
	}
	out := make([]ml.HistoricalRecord, 0)
	for _, r := range f.records {
		if allowed[r.Status] {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeRecorder struct {
	entries []db.TrainingLog
	err     error
}

func (f *fakeRecorder) RecordTraining(_ context.Context, entry db.TrainingLog) error {
	f.entries = append(f.entries, entry)
	return f.err
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestTrainer(t *testing.T, source HistorySource, recorder RunRecorder, cfg Config) (*Trainer, string) {
	t.Helper()
	dir := t.TempDir()
	tr := NewTrainer(source, recorder, dir, cfg, nil)
	tr.now = func() time.Time { return now }
	return tr, dir
}

func score(v int) *int { return &v }

func cancellationHistory() []ml.HistoricalRecord {
	records := make([]ml.HistoricalRecord, 0)
	for i := 0; i < 20; i++ {
		session := now.AddDate(0, 0, -60+i)
		status := ml.StatusCompleted
		lead := 2
		if i%2 == 0 {
			status = ml.StatusCancelledByPatient
			lead = 25
		}
		records = append(records, ml.HistoricalRecord{
			PatientID:    int64(i),
			SessionStart: session,
			CreatedAt:    session.AddDate(0, 0, -lead),
			Status:       status,
		})
	}
	records = append(records, ml.HistoricalRecord{
		PatientID: 99, SessionStart: now, CreatedAt: now, Status: ml.StatusCancelledByTherapist,
	})
	return records
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestTrainCancellationWritesPair(t *testing.T) {
	recorder := &fakeRecorder{}
	tr, dir := newTestTrainer(t, &fakeHistory{records: cancellationHistory()}, recorder, DefaultConfig())

	report, err := tr.TrainCancellation(context.Background())
	if err != nil {
		t.Fatalf("TrainCancellation: %v", err)
	}
	if report.Samples != 20 {
		t.Fatalf("expected 20 samples, got %d", report.Samples)
	}
	if report.Accuracy == nil || *report.Accuracy < 0.9 {
		t.Fatalf("expected separable data to train well, got %v", report.Accuracy)
	}
	if len(recorder.entries) != 1 || recorder.entries[0].RunID != report.RunID {
		t.Fatalf("expected one recorded run, got %+v", recorder.entries)
	}

	store := artifacts.Open(dir, nil)
	scaler := store.Get(ml.TaskScaler)
	model := store.Get(ml.TaskCancellation)
	if scaler.Absent() || model.Absent() {
		t.Fatalf("expected both artifacts: %s / %s", scaler.Reason, model.Reason)
	}
	if scaler.Artifact.RunID != model.Artifact.RunID {
		t.Fatal("scaler and model should come from the same run")
	}

	svc := predict.NewService(store, nil, nil)
	lead, dow, hour := 25.0, 0, 12
	got, err := svc.PredictCancellation(predict.CancellationRequest{LeadTimeDays: &lead, DayOfWeek: &dow, HourOfDay: &hour})
	if err != nil {
		t.Fatalf("PredictCancellation: %v", err)
	}
	if got.CancellationRiskScore < 0 || got.CancellationRiskScore > 1 {
		t.Fatalf("risk score out of range: %v", got.CancellationRiskScore)
	}
}

func TestTrainCancellationRefusesSmallOrSingleClass(t *testing.T) {
	tests := []struct {
		name    string
		records []ml.HistoricalRecord
	}{
		{"empty", nil},
		{"one row", []ml.HistoricalRecord{{SessionStart: now, CreatedAt: now, Status: ml.StatusCompleted}}},
		{"single class", []ml.HistoricalRecord{
			{SessionStart: now, CreatedAt: now, Status: ml.StatusCompleted},
			{SessionStart: now, CreatedAt: now.AddDate(0, 0, -1), Status: ml.StatusCompleted},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &fakeRecorder{}
			tr, dir := newTestTrainer(t, &fakeHistory{records: tt.records}, recorder, DefaultConfig())
			_, err := tr.TrainCancellation(context.Background())
			if !errors.Is(err, ErrInsufficientData) {
				t.Fatalf("expected ErrInsufficientData, got %v", err)
			}
			if fileExists(ml.ArtifactPath(dir, ml.TaskCancellation)) || fileExists(ml.ArtifactPath(dir, ml.TaskScaler)) {
				t.Fatal("no artifact may be written")
			}
			if len(recorder.entries) != 0 {
				t.Fatal("refused run must not be recorded")
			}
		})
	}
}

func TestTrainTiming(t *testing.T) {
	start := now.AddDate(0, 0, -100)
	records := []ml.HistoricalRecord{
		{PatientID: 1, SessionStart: start, Status: ml.StatusCompleted, ProgressScore: score(2)},
		{PatientID: 1, SessionStart: start.AddDate(0, 0, 6), Status: ml.StatusCompleted, ProgressScore: score(4)},
		{PatientID: 1, SessionStart: start.AddDate(0, 0, 16), Status: ml.StatusCompleted, ProgressScore: score(8)},
		{PatientID: 1, SessionStart: start.AddDate(0, 0, 34), Status: ml.StatusCompleted},
	}
	tr, dir := newTestTrainer(t, &fakeHistory{records: records}, nil, DefaultConfig())

	report, err := tr.TrainTiming(context.Background())
	if err != nil {
		t.Fatalf("TrainTiming: %v", err)
	}
	if report.Samples != 3 || report.Accuracy != nil {
		t.Fatalf("unexpected report: %+v", report)
	}

	store := artifacts.Open(dir, nil)
	model, ok := store.Regressor(ml.TaskTiming)
	if !ok {
		t.Fatalf("timing model not loaded: %s", store.Get(ml.TaskTiming).Reason)
	}
	// gaps 6, 10, 18 for scores 2, 4, 8 lie on days = 2*score + 2
	got, err := model.Predict([]float64{6})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if got < 13.99 || got > 14.01 {
		t.Fatalf("expected 14, got %v", got)
	}
}

func TestTrainTimingRefusesSinglePair(t *testing.T) {
	records := []ml.HistoricalRecord{
		{PatientID: 1, SessionStart: now.AddDate(0, 0, -10), Status: ml.StatusCompleted, ProgressScore: score(5)},
		{PatientID: 1, SessionStart: now, Status: ml.StatusCompleted, ProgressScore: score(6)},
		{PatientID: 2, SessionStart: now, Status: ml.StatusCompleted, ProgressScore: score(6)},
	}
	tr, dir := newTestTrainer(t, &fakeHistory{records: records}, nil, DefaultConfig())
	if _, err := tr.TrainTiming(context.Background()); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if fileExists(ml.ArtifactPath(dir, ml.TaskTiming)) {
		t.Fatal("no artifact may be written")
	}
}

func TestTrainChurnSynthetic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Churn.Forest.Trees = 20
	recorder := &fakeRecorder{}
	tr, dir := newTestTrainer(t, nil, recorder, cfg)

	report, err := tr.TrainChurnSynthetic(context.Background())
	if err != nil {
		t.Fatalf("TrainChurnSynthetic: %v", err)
	}
	if report.Samples != 200 {
		t.Fatalf("expected 200 samples, got %d", report.Samples)
	}
	if report.Accuracy == nil || *report.Accuracy < 0.85 {
		t.Fatalf("expected held-out accuracy, got %v", report.Accuracy)
	}
	if !fileExists(ml.ArtifactPath(dir, ml.TaskChurn)) {
		t.Fatal("churn artifact missing")
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Accuracy == nil {
		t.Fatalf("expected recorded run with accuracy, got %+v", recorder.entries)
	}
}

func TestSyntheticChurnDataIsBalanced(t *testing.T) {
	features, labels := SyntheticChurnData(200, 42)
	positives := 0
	for i, label := range labels {
		positives += label
		days, visits, rate := features[i][0], features[i][1], features[i][2]
		if visits < 1 || visits > 19 {
			t.Fatalf("row %d: visits %v out of range", i, visits)
		}
		if label == 1 && (days < 90 || days > 364 || rate < 0.3 || rate >= 1) {
			t.Fatalf("row %d: churned row out of range: %v", i, features[i])
		}
		if label == 0 && (days < 1 || days > 59 || rate < 0 || rate >= 0.5) {
			t.Fatalf("row %d: active row out of range: %v", i, features[i])
		}
		if got := ChurnLabel(int(days), DefaultConfig().Churn.ChurnAfterDays); got != label {
			t.Fatalf("row %d: synthetic label %d, history rule says %d", i, label, got)
		}
	}
	if positives != 100 {
		t.Fatalf("expected 100 churned rows, got %d", positives)
	}
}

func TestChurnLabelBoundary(t *testing.T) {
	tests := []struct {
		days int
		want int
	}{
		{0, 0},
		{89, 0},
		{90, 1},
		{91, 1},
	}
	for _, tt := range tests {
		if got := ChurnLabel(tt.days, 90); got != tt.want {
			t.Errorf("ChurnLabel(%d, 90) = %d, want %d", tt.days, got, tt.want)
		}
	}
}

func TestChurnTooFewRowsLeavesServingOnSentinel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Churn.SyntheticSamples = 1
	tr, dir := newTestTrainer(t, nil, nil, cfg)

	if _, err := tr.TrainChurnSynthetic(context.Background()); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if fileExists(ml.ArtifactPath(dir, ml.TaskChurn)) {
		t.Fatal("churn_model must not be written")
	}

	historyTrainer, dir2 := newTestTrainer(t, &fakeHistory{records: []ml.HistoricalRecord{
		{PatientID: 1, SessionStart: now.AddDate(0, 0, -200), Status: ml.StatusCompleted},
	}}, nil, cfg)
	if _, err := historyTrainer.TrainChurnFromHistory(context.Background()); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if fileExists(ml.ArtifactPath(dir2, ml.TaskChurn)) {
		t.Fatal("churn_model must not be written")
	}

	svc := predict.NewService(artifacts.Open(dir, nil), nil, nil)
	days, visits, rate := 120, 3, 0.6
	got, err := svc.PredictChurn(predict.ChurnRequest{DaysSinceLastVisit: &days, TotalVisits: &visits, CancellationRate: &rate})
	if err != nil {
		t.Fatalf("PredictChurn: %v", err)
	}
	if got.IsChurnRisk || got.ChurnProbability != -1.0 {
		t.Fatalf("expected churn sentinel, got %+v", got)
	}
}

func TestTrainChurnFromHistory(t *testing.T) {
	records := make([]ml.HistoricalRecord, 0)
	for p := 1; p <= 12; p++ {
		last := now.AddDate(0, 0, -10*p)
		if p%2 == 0 {
			last = now.AddDate(0, 0, -100-10*p)
		}
		records = append(records,
			ml.HistoricalRecord{PatientID: int64(p), SessionStart: last.AddDate(0, 0, -14), Status: ml.StatusCancelledByPatient},
			ml.HistoricalRecord{PatientID: int64(p), SessionStart: last, Status: ml.StatusCompleted},
		)
	}
	cfg := DefaultConfig()
	cfg.Churn.Forest.Trees = 10
	tr, dir := newTestTrainer(t, &fakeHistory{records: records}, nil, cfg)

	report, err := tr.TrainChurnFromHistory(context.Background())
	if err != nil {
		t.Fatalf("TrainChurnFromHistory: %v", err)
	}
	if report.Samples != 12 {
		t.Fatalf("expected 12 patient snapshots, got %d", report.Samples)
	}
	if entry := artifacts.LoadArtifact(dir, ml.TaskChurn); entry.Absent() {
		t.Fatalf("churn model not loadable: %s", entry.Reason)
	}
}

func TestRecorderFailureIsNotFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Churn.Forest.Trees = 5
	recorder := &fakeRecorder{err: errors.New("disk full")}
	tr, _ := newTestTrainer(t, nil, recorder, cfg)
	if _, err := tr.TrainChurnSynthetic(context.Background()); err != nil {
		t.Fatalf("recorder failure should only warn: %v", err)
	}
}

func TestHistoryErrorPropagates(t *testing.T) {
	tr, _ := newTestTrainer(t, &fakeHistory{err: errors.New("connection refused")}, nil, DefaultConfig())
	_, err := tr.TrainTiming(context.Background())
	if err == nil || errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected a load error, got %v", err)
	}
}

func TestHistoryFeaturesFollowClinicCalendar(t *testing.T) {
	ctx := context.Background()
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatal(err)
	}
	history, err := db.Open(ctx, db.DriverSQLite, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer history.Close()
	if err := history.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	// Monday 00:30 in Paris is Sunday 22:30 UTC.
	session := time.Date(2024, 6, 3, 0, 30, 0, 0, paris)
	created := session.AddDate(0, 0, -2)
	if _, err := history.InsertAppointment(ctx, ml.HistoricalRecord{
		PatientID: 1, TherapistID: 2, SessionStart: session, CreatedAt: created, Status: ml.StatusCompleted,
	}); err != nil {
		t.Fatal(err)
	}
	want := ml.DeriveCancellationFeatures(session, created)

	cfg := DefaultConfig()
	cfg.Timezone = "Europe/Paris"
	tr, _ := newTestTrainer(t, history, nil, cfg)
	records, err := tr.history(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := ml.DeriveCancellationFeatures(records[0].SessionStart, records[0].CreatedAt)
	if got != want {
		t.Fatalf("features changed through storage: got %+v, want %+v", got, want)
	}
	if got.DayOfWeek != 0 || got.HourOfDay != 0 {
		t.Fatalf("expected Monday hour 0, got %+v", got)
	}
}

func TestConfigLocation(t *testing.T) {
	cfg := DefaultConfig()
	if loc, err := cfg.Location(); err != nil || loc != time.Local {
		t.Fatalf("empty timezone should be local, got %v %v", loc, err)
	}
	cfg.Timezone = "UTC"
	if loc, err := cfg.Location(); err != nil || loc.String() != "UTC" {
		t.Fatalf("expected UTC, got %v %v", loc, err)
	}
	cfg.Timezone = "Nowhere/Special"
	if _, err := cfg.Location(); err == nil {
		t.Fatal("expected an error for an unknown zone")
	}
}
