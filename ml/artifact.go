package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Kind string

const (
	KindLogisticRegression Kind = "logistic_regression"
	KindLinearRegression   Kind = "linear_regression"
	KindRandomForest       Kind = "random_forest"
	KindStandardScaler     Kind = "standard_scaler"
)

const artifactExt = ".json"

var ErrUnknownKind = errors.New("unknown artifact kind")

// Artifact is a trained model tagged with its task name and capability.
type Artifact struct {
	Name         string
	Kind         Kind
	Capability   Capability
	FeatureNames []string
	TrainedAt    time.Time
	RunID        string
	Model        any
}

type artifactEnvelope struct {
	Name         string          `json:"name"`
	Kind         Kind            `json:"kind"`
	Capability   Capability      `json:"capability"`
	FeatureNames []string        `json:"feature_names"`
	TrainedAt    time.Time       `json:"trained_at"`
	RunID        string          `json:"run_id,omitempty"`
	Params       json.RawMessage `json:"params"`
}

func NewArtifact(name string, kind Kind, featureNames []string, runID string, trainedAt time.Time, model any) (*Artifact, error) {
	capability, err := capabilityOf(kind)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Name:         name,
		Kind:         kind,
		Capability:   capability,
		FeatureNames: append([]string(nil), featureNames...),
		TrainedAt:    trainedAt.UTC(),
		RunID:        runID,
		Model:        model,
	}, nil
}

func (a *Artifact) Classifier() (BinaryClassifier, bool) {
	if a == nil || a.Capability != CapabilityBinaryClassifier {
		return nil, false
	}
	m, ok := a.Model.(BinaryClassifier)
	return m, ok
}

func (a *Artifact) Regressor() (ScalarRegressor, bool) {
	if a == nil || a.Capability != CapabilityScalarRegressor {
		return nil, false
	}
	m, ok := a.Model.(ScalarRegressor)
	return m, ok
}

func (a *Artifact) Transformer() (FeatureTransformer, bool) {
	if a == nil || a.Capability != CapabilityFeatureTransformer {
		return nil, false
	}
	m, ok := a.Model.(FeatureTransformer)
	return m, ok
}

func EncodeArtifact(a *Artifact) ([]byte, error) {
	if a == nil || a.Model == nil {
		return nil, errors.New("artifact has no model")
	}
	params, err := json.Marshal(a.Model)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", a.Name, err)
	}
	return json.MarshalIndent(artifactEnvelope{
		Name:         a.Name,
		Kind:         a.Kind,
		Capability:   a.Capability,
		FeatureNames: a.FeatureNames,
		TrainedAt:    a.TrainedAt,
		RunID:        a.RunID,
		Params:       params,
	}, "", "  ")
}

func ArtifactPath(dir, name string) string {
	return filepath.Join(dir, name+artifactExt)
}

// WriteArtifacts encodes every artifact before touching the directory, then
// replaces each file through a temp file and rename. Either all encodings
// succeed or nothing is written.
func WriteArtifacts(dir string, artifacts ...*Artifact) error {
	payloads := make([][]byte, len(artifacts))
	for i, a := range artifacts {
		payload, err := EncodeArtifact(a)
		if err != nil {
			return err
		}
		payloads[i] = payload
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	temps := make([]string, len(artifacts))
	cleanup := func() {
		for _, tmp := range temps {
			if tmp != "" {
				os.Remove(tmp)
			}
		}
	}
	for i, a := range artifacts {
		f, err := os.CreateTemp(dir, a.Name+".*.tmp")
		if err != nil {
			cleanup()
			return err
		}
		temps[i] = f.Name()
		if _, err := f.Write(payloads[i]); err != nil {
			f.Close()
			cleanup()
			return err
		}
		if err := f.Close(); err != nil {
			cleanup()
			return err
		}
	}
	for i, a := range artifacts {
		if err := os.Rename(temps[i], ArtifactPath(dir, a.Name)); err != nil {
			cleanup()
			return err
		}
		temps[i] = ""
	}
	return nil
}

func capabilityOf(kind Kind) (Capability, error) {
	switch kind {
	case KindLogisticRegression, KindRandomForest:
		return CapabilityBinaryClassifier, nil
	case KindLinearRegression:
		return CapabilityScalarRegressor, nil
	case KindStandardScaler:
		return CapabilityFeatureTransformer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
