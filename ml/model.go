package ml

// Capability tags what an artifact can do for the dispatcher.
type Capability string

const (
	CapabilityBinaryClassifier   Capability = "classifies-binary"
	CapabilityScalarRegressor    Capability = "regresses-scalar"
	CapabilityFeatureTransformer Capability = "transforms-features"
)

// BinaryClassifier returns the probability of class 1 in [0,1].
type BinaryClassifier interface {
	PredictProbability(features []float64) (float64, error)
}

type ScalarRegressor interface {
	Predict(features []float64) (float64, error)
}

// FeatureTransformer rescales a feature vector before inference.
type FeatureTransformer interface {
	Transform(features []float64) ([]float64, error)
}
