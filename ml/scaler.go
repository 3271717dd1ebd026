package ml

import (
	"errors"
	"fmt"
	"math"
)

// StandardScaler centers each feature on its training mean and divides by its
// population standard deviation. Constant features keep a scale of 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Fit(features [][]float64) error {
	if err := checkTrainingShape(features, len(features)); err != nil {
		return err
	}
	n := float64(len(features))
	width := len(features[0])
	mean := make([]float64, width)
	for _, row := range features {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= n
	}
	scale := make([]float64, width)
	for _, row := range features {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	s.Mean = mean
	s.Scale = scale
	return nil
}

func (s *StandardScaler) Transform(features []float64) ([]float64, error) {
	if len(s.Mean) == 0 {
		return nil, errors.New("scaler not fitted")
	}
	if len(features) != len(s.Mean) {
		return nil, fmt.Errorf("expected %d features, got %d", len(s.Mean), len(features))
	}
	out := make([]float64, len(features))
	for j, v := range features {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

func (s *StandardScaler) TransformAll(features [][]float64) ([][]float64, error) {
	out := make([][]float64, len(features))
	for i, row := range features {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}
