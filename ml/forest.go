package ml

import (
	"errors"
	"math/rand"
)

type RandomForestConfig struct {
	Trees    int   `yaml:"trees"`
	MaxDepth int   `yaml:"max_depth"`
	Seed     int64 `yaml:"seed"`
}

func DefaultRandomForestConfig() RandomForestConfig {
	return RandomForestConfig{Trees: 100, MaxDepth: 10, Seed: 42}
}

// RandomForest averages the leaf probabilities of bootstrap-trained trees.
type RandomForest struct {
	Trees []DecisionTree `json:"trees"`
}

func (f *RandomForest) Fit(features [][]float64, labels []int, cfg RandomForestConfig) error {
	if err := checkTrainingShape(features, len(labels)); err != nil {
		return err
	}
	defaults := DefaultRandomForestConfig()
	if cfg.Trees <= 0 {
		cfg.Trees = defaults.Trees
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaults.MaxDepth
	}

	rnd := rand.New(rand.NewSource(cfg.Seed))
	maxFeatures := defaultMaxFeatures(len(features[0]))
	trees := make([]DecisionTree, cfg.Trees)
	sampleX := make([][]float64, len(features))
	sampleY := make([]int, len(labels))
	for t := range trees {
		for i := range sampleX {
			idx := rnd.Intn(len(features))
			sampleX[i] = features[idx]
			sampleY[i] = labels[idx]
		}
		if err := trees[t].Train(sampleX, sampleY, cfg.MaxDepth, maxFeatures, rnd); err != nil {
			return err
		}
	}
	f.Trees = trees
	return nil
}

func (f *RandomForest) PredictProbability(features []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, errors.New("model not trained")
	}
	sum := 0.0
	for i := range f.Trees {
		p, err := f.Trees[i].PredictProbability(features)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	return sum / float64(len(f.Trees)), nil
}
