package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

type DecisionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

type TreeNode struct {
	FeatureIdx  int     `json:"feature_idx"`
	Threshold   float64 `json:"threshold"`
	LeftChild   int     `json:"left_child"`
	RightChild  int     `json:"right_child"`
	Probability float64 `json:"probability"`
	IsLeaf      bool    `json:"is_leaf"`
}

type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	maxFeatures     int
	rnd             *rand.Rand
}

// Train grows a binary CART tree on labels in {0,1}. When maxFeatures is below
// the feature count a random subset is searched at every node.
func (dt *DecisionTree) Train(features [][]float64, labels []int, maxDepth, maxFeatures int, rnd *rand.Rand) error {
	if err := checkTrainingShape(features, len(labels)); err != nil {
		return err
	}
	for _, label := range labels {
		if label != 0 && label != 1 {
			return errors.New("labels must be 0 or 1")
		}
	}
	if maxDepth <= 0 {
		maxDepth = 10
	}
	width := len(features[0])
	if maxFeatures <= 0 || maxFeatures > width {
		maxFeatures = width
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}

	params := treeParams{maxDepth: maxDepth, minSamplesSplit: 2, maxFeatures: maxFeatures, rnd: rnd}
	dt.Nodes = dt.buildNode(features, labels, 0, params)
	return nil
}

// PredictProbability walks the tree and returns the class-1 fraction of the
// training samples that reached the leaf.
func (dt *DecisionTree) PredictProbability(features []float64) (float64, error) {
	if len(dt.Nodes) == 0 {
		return 0, errors.New("model not trained")
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node.Probability, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

func (dt *DecisionTree) buildNode(features [][]float64, labels []int, depth int, params treeParams) []TreeNode {
	leaf := []TreeNode{{
		FeatureIdx:  -1,
		LeftChild:   -1,
		RightChild:  -1,
		Probability: positiveFraction(labels),
		IsLeaf:      true,
	}}
	if depth >= params.maxDepth || len(labels) < params.minSamplesSplit || isPure(labels) {
		return leaf
	}

	bestFeature, threshold, ok := findBestSplit(features, labels, params)
	if !ok {
		return leaf
	}

	leftFeatures, leftLabels, rightFeatures, rightLabels := splitData(features, labels, bestFeature, threshold)
	if len(leftLabels) == 0 || len(rightLabels) == 0 {
		return leaf
	}

	leftNodes := dt.buildNode(leftFeatures, leftLabels, depth+1, params)
	rightNodes := dt.buildNode(rightFeatures, rightLabels, depth+1, params)

	root := TreeNode{
		FeatureIdx:  bestFeature,
		Threshold:   threshold,
		LeftChild:   1,
		RightChild:  1 + len(leftNodes),
		Probability: leaf[0].Probability,
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetChildren(leftNodes, 1)...)
	nodes = append(nodes, offsetChildren(rightNodes, 1+len(leftNodes))...)
	return nodes
}

// offsetChildren rebases child indexes of a subtree placed at offset.
func offsetChildren(nodes []TreeNode, offset int) []TreeNode {
	for i := range nodes {
		if nodes[i].IsLeaf {
			continue
		}
		nodes[i].LeftChild += offset
		nodes[i].RightChild += offset
	}
	return nodes
}

func findBestSplit(features [][]float64, labels []int, params treeParams) (int, float64, bool) {
	width := len(features[0])
	order := params.rnd.Perm(width)

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := gini(labels)

	// Keep drawing features past maxFeatures until one improving split exists;
	// constant features do not count toward the budget.
	values := make([]float64, len(features))
	inspected := 0
	for _, featureIdx := range order {
		if inspected >= params.maxFeatures && bestFeature != -1 {
			break
		}
		for i := range features {
			values[i] = features[i][featureIdx]
		}
		thresholds := midpoints(values)
		if len(thresholds) == 0 {
			continue
		}
		inspected++
		for _, threshold := range thresholds {
			leftLabels, rightLabels := splitLabels(features, labels, featureIdx, threshold)
			if len(leftLabels) == 0 || len(rightLabels) == 0 {
				continue
			}
			impurity := weightedGini(leftLabels, rightLabels)
			if impurity < bestImpurity-1e-12 {
				bestImpurity = impurity
				bestFeature = featureIdx
				bestThreshold = threshold
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

// midpoints returns the thresholds halfway between consecutive distinct values.
func midpoints(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	out := make([]float64, 0, len(sorted))
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			out = append(out, (sorted[i]+sorted[i-1])/2)
		}
	}
	return out
}

func splitData(features [][]float64, labels []int, featureIdx int, threshold float64) ([][]float64, []int, [][]float64, []int) {
	leftFeatures := make([][]float64, 0)
	leftLabels := make([]int, 0)
	rightFeatures := make([][]float64, 0)
	rightLabels := make([]int, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftFeatures = append(leftFeatures, feature)
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightFeatures = append(rightFeatures, feature)
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftFeatures, leftLabels, rightFeatures, rightLabels
}

func splitLabels(features [][]float64, labels []int, featureIdx int, threshold float64) ([]int, []int) {
	leftLabels := make([]int, 0)
	rightLabels := make([]int, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftLabels, rightLabels
}

func weightedGini(leftLabels, rightLabels []int) float64 {
	leftWeight := float64(len(leftLabels))
	rightWeight := float64(len(rightLabels))
	total := leftWeight + rightWeight
	return (leftWeight/total)*gini(leftLabels) + (rightWeight/total)*gini(rightLabels)
}

func gini(labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	p := positiveFraction(labels)
	return 1 - p*p - (1-p)*(1-p)
}

func positiveFraction(labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	positives := 0
	for _, label := range labels {
		positives += label
	}
	return float64(positives) / float64(len(labels))
}

func isPure(labels []int) bool {
	if len(labels) == 0 {
		return true
	}
	first := labels[0]
	for _, label := range labels[1:] {
		if label != first {
			return false
		}
	}
	return true
}

func defaultMaxFeatures(width int) int {
	return int(math.Max(1, math.Floor(math.Sqrt(float64(width)))))
}
