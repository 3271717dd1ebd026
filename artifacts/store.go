// Package artifacts holds the trained models loaded once at process start.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"clinique/ml"
)

// DefaultNames is every artifact the serving process expects.
var DefaultNames = []string{ml.TaskCancellation, ml.TaskScaler, ml.TaskTiming, ml.TaskChurn}

// Entry is either a loaded artifact or an Absent marker with the reason.
type Entry struct {
	Name     string
	Artifact *ml.Artifact
	Reason   string
}

func (e Entry) Absent() bool {
	return e.Artifact == nil
}

func absent(name, reason string) Entry {
	return Entry{Name: name, Reason: reason}
}

// expectedCapability is what each task name must provide.
var expectedCapability = map[string]ml.Capability{
	ml.TaskCancellation: ml.CapabilityBinaryClassifier,
	ml.TaskScaler:       ml.CapabilityFeatureTransformer,
	ml.TaskTiming:       ml.CapabilityScalarRegressor,
	ml.TaskChurn:        ml.CapabilityBinaryClassifier,
}

// LoadArtifact reads one named artifact from dir. It never fails: anything
// that keeps the artifact from being served is returned as Absent.
func LoadArtifact(dir, name string) Entry {
	path := ml.ArtifactPath(dir, name)
	a, err := ml.ReadArtifact(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return absent(name, "not found: "+path)
		}
		return absent(name, err.Error())
	}
	if a.Name != "" && a.Name != name {
		return absent(name, fmt.Sprintf("file holds artifact %q", a.Name))
	}
	if want, ok := expectedCapability[name]; ok && a.Capability != want {
		return absent(name, fmt.Sprintf("capability %s, want %s", a.Capability, want))
	}
	if want := ml.FeatureNamesFor(name); want != nil && !equalNames(a.FeatureNames, want) {
		return absent(name, fmt.Sprintf("feature schema %v, want %v", a.FeatureNames, want))
	}
	return Entry{Name: name, Artifact: a}
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Store is populated by Open and read-only afterwards, so lookups need no lock.
type Store struct {
	dir     string
	names   []string
	entries map[string]Entry
}

// Open attempts every named artifact once and logs each absence once.
func Open(dir string, logger *zap.Logger, names ...string) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(names) == 0 {
		names = DefaultNames
	}
	s := &Store{
		dir:     dir,
		names:   append([]string(nil), names...),
		entries: make(map[string]Entry, len(names)),
	}
	for _, name := range s.names {
		s.entries[name] = LoadArtifact(dir, name)
	}
	s.checkCancellationPair()

	for _, name := range s.names {
		entry := s.entries[name]
		if entry.Absent() {
			logger.Warn("model artifact absent",
				zap.String("artifact", name),
				zap.String("reason", entry.Reason))
			continue
		}
		logger.Info("model artifact loaded",
			zap.String("artifact", name),
			zap.String("kind", string(entry.Artifact.Kind)),
			zap.Time("trained_at", entry.Artifact.TrainedAt))
	}
	return s
}

// checkCancellationPair keeps the cancellation model only when it was trained
// in the same run as the scaler it is served with.
func (s *Store) checkCancellationPair() {
	model, ok := s.entries[ml.TaskCancellation]
	if !ok || model.Absent() {
		return
	}
	scaler, ok := s.entries[ml.TaskScaler]
	if !ok || scaler.Absent() {
		return
	}
	if model.Artifact.RunID != scaler.Artifact.RunID {
		s.entries[ml.TaskCancellation] = absent(ml.TaskCancellation,
			fmt.Sprintf("run %q does not match scaler run %q", model.Artifact.RunID, scaler.Artifact.RunID))
	}
}

// NewStore builds a store from already loaded artifacts. Names without an
// artifact are recorded as Absent.
func NewStore(names []string, loaded ...*ml.Artifact) *Store {
	s := &Store{
		names:   append([]string(nil), names...),
		entries: make(map[string]Entry, len(names)),
	}
	for _, name := range names {
		s.entries[name] = absent(name, "not provided")
	}
	for _, a := range loaded {
		if _, ok := s.entries[a.Name]; !ok {
			s.names = append(s.names, a.Name)
		}
		s.entries[a.Name] = Entry{Name: a.Name, Artifact: a}
	}
	return s
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Get(name string) Entry {
	if entry, ok := s.entries[name]; ok {
		return entry
	}
	return absent(name, "not registered")
}

func (s *Store) Classifier(name string) (ml.BinaryClassifier, bool) {
	return s.Get(name).Artifact.Classifier()
}

func (s *Store) Regressor(name string) (ml.ScalarRegressor, bool) {
	return s.Get(name).Artifact.Regressor()
}

func (s *Store) Transformer(name string) (ml.FeatureTransformer, bool) {
	return s.Get(name).Artifact.Transformer()
}

// Status describes one registry entry for the inventory endpoint.
type Status struct {
	Name         string     `json:"name"`
	Loaded       bool       `json:"loaded"`
	Kind         string     `json:"kind,omitempty"`
	Capability   string     `json:"capability,omitempty"`
	FeatureNames []string   `json:"feature_names,omitempty"`
	TrainedAt    *time.Time `json:"trained_at,omitempty"`
	RunID        string     `json:"run_id,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

// Inventory lists every expected artifact in registration order.
func (s *Store) Inventory() []Status {
	out := make([]Status, 0, len(s.names))
	for _, name := range s.names {
		entry := s.entries[name]
		if entry.Absent() {
			out = append(out, Status{Name: name, Reason: entry.Reason})
			continue
		}
		a := entry.Artifact
		trainedAt := a.TrainedAt
		out = append(out, Status{
			Name:         name,
			Loaded:       true,
			Kind:         string(a.Kind),
			Capability:   string(a.Capability),
			FeatureNames: a.FeatureNames,
			TrainedAt:    &trainedAt,
			RunID:        a.RunID,
		})
	}
	return out
}
