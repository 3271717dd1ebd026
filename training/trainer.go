// Package training fits the serving models from appointment history.
package training

import (
	"context"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clinique/db"
	"clinique/ml"
)

// minRows is the smallest data set any trainer will fit.
const minRows = 2

// ErrInsufficientData marks a planned early exit: nothing is written.
var ErrInsufficientData = errors.New("insufficient training data")

// HistorySource supplies past appointments.
type HistorySource interface {
	Appointments(ctx context.Context, statuses ...ml.AppointmentStatus) ([]ml.HistoricalRecord, error)
}

// RunRecorder keeps a log of successful runs.
type RunRecorder interface {
	RecordTraining(ctx context.Context, entry db.TrainingLog) error
}

type Config struct {
	// Timezone names the clinic calendar that day_of_week and hour_of_day are
	// read in. Empty or "Local" is the host zone.
	Timezone string                      `yaml:"timezone"`
	Logistic ml.LogisticRegressionConfig `yaml:"logistic"`
	Churn    ChurnConfig                 `yaml:"churn"`
}

type ChurnConfig struct {
	Forest           ml.RandomForestConfig `yaml:"forest"`
	SyntheticSamples int                   `yaml:"synthetic_samples"`
	ChurnAfterDays   int                   `yaml:"churn_after_days"`
	TestRatio        float64               `yaml:"test_ratio"`
	Seed             int64                 `yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		Logistic: ml.DefaultLogisticRegressionConfig(),
		Churn: ChurnConfig{
			Forest:           ml.DefaultRandomForestConfig(),
			SyntheticSamples: 200,
			ChurnAfterDays:   churnAfterDays,
			TestRatio:        0.2,
			Seed:             42,
		},
	}
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Report summarises one successful training run.
type Report struct {
	RunID     string
	Model     string
	Samples   int
	Accuracy  *float64
	Artifacts []string
	TrainedAt time.Time
}

type Trainer struct {
	source    HistorySource
	recorder  RunRecorder
	modelsDir string
	cfg       Config
	logger    *zap.Logger
	loc       *time.Location
	now       func() time.Time
}

// NewTrainer builds a trainer writing artifacts into modelsDir. source may be
// nil for the synthetic churn path, recorder may be nil to skip the run log.
func NewTrainer(source HistorySource, recorder RunRecorder, modelsDir string, cfg Config, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Warn("unknown clinic timezone, using local time", zap.Error(err))
		loc = time.Local
	}
	return &Trainer{
		source:    source,
		recorder:  recorder,
		modelsDir: modelsDir,
		cfg:       cfg,
		logger:    logger,
		loc:       loc,
		now:       time.Now,
	}
}

func (t *Trainer) history(ctx context.Context, statuses ...ml.AppointmentStatus) ([]ml.HistoricalRecord, error) {
	if t.source == nil {
		return nil, errors.New("no history source configured")
	}
	records, err := t.source.Appointments(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	// Drivers hand back UTC or host-local instants; features are read on the
	// clinic's wall clock, as callers send them.
	for i := range records {
		records[i].SessionStart = records[i].SessionStart.In(t.loc)
		records[i].CreatedAt = records[i].CreatedAt.In(t.loc)
	}
	return records, nil
}

// insufficient logs the early exit and returns an error wrapping
// ErrInsufficientData.
func (t *Trainer) insufficient(model, reason string, rows int) error {
	t.logger.Warn("not enough data to train, stopping",
		zap.String("model", model),
		zap.String("reason", reason),
		zap.Int("rows", rows))
	return fmt.Errorf("%s: %w: %s", model, ErrInsufficientData, reason)
}

// commit writes the artifacts together and records the run.
func (t *Trainer) commit(ctx context.Context, report *Report, artifacts ...*ml.Artifact) error {
	if err := ml.WriteArtifacts(t.modelsDir, artifacts...); err != nil {
		return fmt.Errorf("write %s artifacts: %w", report.Model, err)
	}
	for _, a := range artifacts {
		report.Artifacts = append(report.Artifacts, ml.ArtifactPath(t.modelsDir, a.Name))
	}

	fields := []zap.Field{
		zap.String("model", report.Model),
		zap.String("run_id", report.RunID),
		zap.Int("samples", report.Samples),
		zap.Strings("artifacts", report.Artifacts),
	}
	if report.Accuracy != nil {
		fields = append(fields, zap.Float64("accuracy", *report.Accuracy))
	}
	t.logger.Info("model trained", fields...)

	if t.recorder != nil {
		entry := db.TrainingLog{
			RunID:      report.RunID,
			ModelName:  report.Model,
			Accuracy:   report.Accuracy,
			DataPoints: report.Samples,
			TrainedAt:  report.TrainedAt,
		}
		if err := t.recorder.RecordTraining(ctx, entry); err != nil {
			t.logger.Warn("failed to record training run", zap.String("run_id", report.RunID), zap.Error(err))
		}
	}
	return nil
}

func (t *Trainer) newReport(model string, samples int) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Model:     model,
		Samples:   samples,
		TrainedAt: t.now().UTC(),
	}
}

// TrainCancellation fits the scaler and the cancellation classifier on
// completed and patient-cancelled appointments. Both artifacts are written
// together or not at all.
func (t *Trainer) TrainCancellation(ctx context.Context) (*Report, error) {
	records, err := t.history(ctx, ml.StatusCompleted, ml.StatusCancelledByPatient)
	if err != nil {
		return nil, err
	}
	if len(records) < minRows {
		return nil, t.insufficient(ml.TaskCancellation, "need at least 2 historical appointments", len(records))
	}

	features := make([][]float64, len(records))
	labels := make([]int, len(records))
	for i, r := range records {
		features[i] = ml.DeriveCancellationFeatures(r.SessionStart, r.CreatedAt).Vector()
		labels[i] = ml.CancellationLabel(r.Status)
	}
	if !ml.HasBothClasses(labels) {
		return nil, t.insufficient(ml.TaskCancellation, "need both completed and cancelled appointments", len(records))
	}

	scaler := &ml.StandardScaler{}
	if err := scaler.Fit(features); err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	scaled, err := scaler.TransformAll(features)
	if err != nil {
		return nil, fmt.Errorf("scale features: %w", err)
	}
	model := &ml.LogisticRegression{}
	if err := model.Fit(scaled, labels, t.cfg.Logistic); err != nil {
		return nil, fmt.Errorf("fit cancellation model: %w", err)
	}

	report := t.newReport(ml.TaskCancellation, len(records))
	accuracy := ml.Accuracy(model, scaled, labels)
	report.Accuracy = &accuracy

	names := ml.CancellationFeatureNames()
	scalerArtifact, err := ml.NewArtifact(ml.TaskScaler, ml.KindStandardScaler, names, report.RunID, report.TrainedAt, scaler)
	if err != nil {
		return nil, err
	}
	modelArtifact, err := ml.NewArtifact(ml.TaskCancellation, ml.KindLogisticRegression, names, report.RunID, report.TrainedAt, model)
	if err != nil {
		return nil, err
	}
	if err := t.commit(ctx, report, scalerArtifact, modelArtifact); err != nil {
		return nil, err
	}
	return report, nil
}

// TrainTiming regresses the gap to the next completed session on the last
// progress score.
func (t *Trainer) TrainTiming(ctx context.Context) (*Report, error) {
	records, err := t.history(ctx, ml.StatusCompleted)
	if err != nil {
		return nil, err
	}
	samples := ml.DeriveTimingSamples(records)
	if len(samples) < minRows {
		return nil, t.insufficient(ml.TaskTiming, "need at least 2 consecutive completed sessions with a progress score", len(samples))
	}

	features := make([][]float64, len(samples))
	targets := make([]float64, len(samples))
	for i, s := range samples {
		features[i] = s.Features.Vector()
		targets[i] = float64(s.DaysUntilNext)
	}
	model := &ml.LinearRegression{}
	if err := model.Fit(features, targets); err != nil {
		return nil, fmt.Errorf("fit timing model: %w", err)
	}

	report := t.newReport(ml.TaskTiming, len(samples))
	artifact, err := ml.NewArtifact(ml.TaskTiming, ml.KindLinearRegression, ml.TimingFeatureNames(), report.RunID, report.TrainedAt, model)
	if err != nil {
		return nil, err
	}
	if err := t.commit(ctx, report, artifact); err != nil {
		return nil, err
	}
	return report, nil
}
