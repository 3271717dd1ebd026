package ml

import (
	"encoding/json"
	"fmt"
	"os"
)

// ReadArtifact loads and decodes one artifact file.
func ReadArtifact(path string) (*Artifact, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeArtifact(payload)
}

func DecodeArtifact(payload []byte) (*Artifact, error) {
	var env artifactEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	capability, err := capabilityOf(env.Kind)
	if err != nil {
		return nil, err
	}
	if env.Capability != "" && env.Capability != capability {
		return nil, fmt.Errorf("artifact %s declares %s but kind %s provides %s", env.Name, env.Capability, env.Kind, capability)
	}

	model, err := newModel(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Params, model); err != nil {
		return nil, fmt.Errorf("decode %s params: %w", env.Name, err)
	}

	return &Artifact{
		Name:         env.Name,
		Kind:         env.Kind,
		Capability:   capability,
		FeatureNames: env.FeatureNames,
		TrainedAt:    env.TrainedAt,
		RunID:        env.RunID,
		Model:        model,
	}, nil
}

func newModel(kind Kind) (any, error) {
	switch kind {
	case KindLogisticRegression:
		return &LogisticRegression{}, nil
	case KindLinearRegression:
		return &LinearRegression{}, nil
	case KindRandomForest:
		return &RandomForest{}, nil
	case KindStandardScaler:
		return &StandardScaler{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
