package ml

import (
	"math"
	"math/rand"
)

// SplitDataset shuffles with the given seed and holds out testRatio of the
// rows. An out-of-range ratio falls back to 0.2.
func SplitDataset(features [][]float64, labels []int, testRatio float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(len(features))

	split := int(math.Round(float64(len(features)) * (1 - testRatio)))
	for i, idx := range indices {
		if i < split {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, labels[idx])
		} else {
			testX = append(testX, features[idx])
			testY = append(testY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}

// Accuracy thresholds the classifier at 0.5. Rows the model fails on count as
// misses; an empty set scores 0.
func Accuracy(model BinaryClassifier, features [][]float64, labels []int) float64 {
	if len(features) == 0 {
		return 0
	}
	correct := 0
	for i, row := range features {
		p, err := model.PredictProbability(row)
		if err != nil {
			continue
		}
		predicted := 0
		if p > 0.5 {
			predicted = 1
		}
		if predicted == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(features))
}

// HasBothClasses reports whether labels contain at least one 0 and one 1.
func HasBothClasses(labels []int) bool {
	seen := [2]bool{}
	for _, label := range labels {
		if label == 0 || label == 1 {
			seen[label] = true
		}
	}
	return seen[0] && seen[1]
}
