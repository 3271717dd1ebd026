package training

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"clinique/ml"
)

// churnAfterDays is the default churn boundary. The synthetic data set is
// generated around it.
const churnAfterDays = 90

// ChurnLabel is 1 once the last visit is at least cutoff days old. Both churn
// paths label with it.
func ChurnLabel(daysSinceLastVisit, cutoff int) int {
	if daysSinceLastVisit >= cutoff {
		return 1
	}
	return 0
}

// TrainChurnFromHistory labels each patient's snapshot with ChurnLabel against
// ChurnAfterDays.
func (t *Trainer) TrainChurnFromHistory(ctx context.Context) (*Report, error) {
	records, err := t.history(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := t.cfg.Churn.ChurnAfterDays
	if cutoff <= 0 {
		cutoff = churnAfterDays
	}

	snapshots := ml.DeriveChurnSnapshots(records, t.now())
	features := make([][]float64, len(snapshots))
	labels := make([]int, len(snapshots))
	for i, s := range snapshots {
		features[i] = s.Features.Vector()
		labels[i] = ChurnLabel(s.Features.DaysSinceLastVisit, cutoff)
	}
	if len(features) < minRows {
		return nil, t.insufficient(ml.TaskChurn, "need at least 2 patients with a completed visit", len(features))
	}
	if !ml.HasBothClasses(labels) {
		return nil, t.insufficient(ml.TaskChurn, "need both churned and active patients", len(features))
	}
	return t.fitChurn(ctx, "history", features, labels)
}

// TrainChurnSynthetic bootstraps the churn model from a balanced generated
// data set. It stands in for real history until enough patients have churned
// and is not meant as a pattern for other models.
func (t *Trainer) TrainChurnSynthetic(ctx context.Context) (*Report, error) {
	n := t.cfg.Churn.SyntheticSamples
	if n == 0 {
		n = DefaultConfig().Churn.SyntheticSamples
	}
	if n < minRows {
		return nil, t.insufficient(ml.TaskChurn, "synthetic sample count below 2", max(n, 0))
	}
	features, labels := SyntheticChurnData(n, t.cfg.Churn.Seed)
	return t.fitChurn(ctx, "synthetic", features, labels)
}

// SyntheticChurnData draws n rows alternating churned and active patients.
// Churned rows have 90 to 364 days since the last visit and a cancellation
// rate in [0.3, 1); active rows 1 to 59 days and a rate in [0, 0.5).
func SyntheticChurnData(n int, seed int64) ([][]float64, []int) {
	rnd := rand.New(rand.NewSource(seed))
	features := make([][]float64, n)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		churned := i%2 == 0
		var f ml.ChurnFeatures
		if churned {
			f.DaysSinceLastVisit = churnAfterDays + rnd.Intn(275)
		} else {
			f.DaysSinceLastVisit = 1 + rnd.Intn(59)
		}
		f.TotalVisits = 1 + rnd.Intn(19)
		if churned {
			f.CancellationRate = 0.3 + 0.7*rnd.Float64()
			labels[i] = 1
		} else {
			f.CancellationRate = 0.5 * rnd.Float64()
		}
		features[i] = f.Vector()
	}
	return features, labels
}

func (t *Trainer) fitChurn(ctx context.Context, source string, features [][]float64, labels []int) (*Report, error) {
	cfg := t.cfg.Churn
	trainX, trainY, testX, testY := ml.SplitDataset(features, labels, cfg.TestRatio, cfg.Seed)
	t.logger.Info("training churn model",
		zap.String("source", source),
		zap.Int("train_rows", len(trainX)),
		zap.Int("test_rows", len(testX)))

	model := &ml.RandomForest{}
	if err := model.Fit(trainX, trainY, cfg.Forest); err != nil {
		return nil, fmt.Errorf("fit churn model: %w", err)
	}

	report := t.newReport(ml.TaskChurn, len(features))
	if len(testX) > 0 {
		accuracy := ml.Accuracy(model, testX, testY)
		report.Accuracy = &accuracy
	}
	artifact, err := ml.NewArtifact(ml.TaskChurn, ml.KindRandomForest, ml.ChurnFeatureNames(), report.RunID, report.TrainedAt, model)
	if err != nil {
		return nil, err
	}
	if err := t.commit(ctx, report, artifact); err != nil {
		return nil, err
	}
	return report, nil
}
