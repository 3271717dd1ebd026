package ml

import (
	"errors"
	"fmt"
	"math"
)

type LogisticRegressionConfig struct {
	Iterations   int     `yaml:"iterations"`
	LearningRate float64 `yaml:"learning_rate"`
	// C is the inverse L2 regularisation strength.
	C float64 `yaml:"c"`
}

func DefaultLogisticRegressionConfig() LogisticRegressionConfig {
	return LogisticRegressionConfig{
		Iterations:   2000,
		LearningRate: 0.1,
		C:            1.0,
	}
}

// LogisticRegression is a binary classifier fitted with batch gradient descent
// on the L2-penalised log loss.
type LogisticRegression struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

func (m *LogisticRegression) Fit(features [][]float64, labels []int, cfg LogisticRegressionConfig) error {
	if err := checkTrainingShape(features, len(labels)); err != nil {
		return err
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultLogisticRegressionConfig().Iterations
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultLogisticRegressionConfig().LearningRate
	}
	if cfg.C <= 0 {
		cfg.C = DefaultLogisticRegressionConfig().C
	}

	n := float64(len(features))
	width := len(features[0])
	weights := make([]float64, width)
	intercept := 0.0
	grad := make([]float64, width)

	for iter := 0; iter < cfg.Iterations; iter++ {
		for j := range grad {
			grad[j] = 0
		}
		gradIntercept := 0.0
		for i, row := range features {
			diff := sigmoid(dot(weights, row)+intercept) - float64(labels[i])
			for j, v := range row {
				grad[j] += diff * v
			}
			gradIntercept += diff
		}
		for j := range weights {
			// penalty is weights/C over the whole sample, scaled like the loss
			weights[j] -= cfg.LearningRate * (grad[j] + weights[j]/cfg.C) / n
		}
		intercept -= cfg.LearningRate * gradIntercept / n
	}

	m.Weights = weights
	m.Intercept = intercept
	return nil
}

func (m *LogisticRegression) PredictProbability(features []float64) (float64, error) {
	if len(m.Weights) == 0 {
		return 0, errors.New("model not trained")
	}
	if len(features) != len(m.Weights) {
		return 0, fmt.Errorf("expected %d features, got %d", len(m.Weights), len(features))
	}
	return sigmoid(dot(m.Weights, features) + m.Intercept), nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func checkTrainingShape(features [][]float64, targets int) error {
	if len(features) == 0 || targets == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != targets {
		return errors.New("features and labels size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature vectors are empty")
	}
	for _, row := range features {
		if len(row) != width {
			return errors.New("feature vectors have inconsistent length")
		}
	}
	return nil
}
