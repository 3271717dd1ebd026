// Package predict turns validated requests into model outputs.
package predict

import (
	"math"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"clinique/ml"
	"clinique/sentiment"
)

// Values returned in place of a prediction when the model is unavailable.
const (
	UnavailableRiskScore   = -1.0
	UnavailableDays        = -1
	UnavailableProbability = -1.0

	churnThreshold = 0.5
	minimumDays    = 1
)

// ModelSource is the read-only view of loaded artifacts the service needs.
type ModelSource interface {
	Classifier(name string) (ml.BinaryClassifier, bool)
	Regressor(name string) (ml.ScalarRegressor, bool)
	Transformer(name string) (ml.FeatureTransformer, bool)
}

// TextScorer is the lexicon scorer behind the sentiment task.
type TextScorer interface {
	Score(text string) sentiment.Score
}

// Service dispatches each task to its model. It keeps no mutable state, so a
// single instance serves concurrent requests.
type Service struct {
	models   ModelSource
	scorer   TextScorer
	validate *validator.Validate
	logger   *zap.Logger
}

func NewService(models ModelSource, scorer TextScorer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		models:   models,
		scorer:   scorer,
		validate: newValidator(),
		logger:   logger,
	}
}

// PredictCancellation scales the features and returns the patient
// cancellation probability. Both the scaler and the classifier must be loaded.
func (s *Service) PredictCancellation(req CancellationRequest) (CancellationResult, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return CancellationResult{}, err
	}
	unavailable := CancellationResult{CancellationRiskScore: UnavailableRiskScore, Unavailable: true}

	scaler, ok := s.models.Transformer(ml.TaskScaler)
	if !ok {
		return unavailable, nil
	}
	model, ok := s.models.Classifier(ml.TaskCancellation)
	if !ok {
		return unavailable, nil
	}

	features := ml.CancellationFeatures{
		LeadTimeDays: *req.LeadTimeDays,
		DayOfWeek:    *req.DayOfWeek,
		HourOfDay:    *req.HourOfDay,
	}
	scaled, err := scaler.Transform(features.Vector())
	if err != nil {
		s.inferenceFailed(ml.TaskScaler, err)
		return unavailable, nil
	}
	prob, err := model.PredictProbability(scaled)
	if err != nil {
		s.inferenceFailed(ml.TaskCancellation, err)
		return unavailable, nil
	}
	return CancellationResult{CancellationRiskScore: prob}, nil
}

// PredictTiming returns the predicted gap in days, rounded half to even and
// never below one day.
func (s *Service) PredictTiming(req TimingRequest) (TimingResult, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return TimingResult{}, err
	}
	unavailable := TimingResult{RecommendedDaysNextSession: UnavailableDays, Unavailable: true}

	model, ok := s.models.Regressor(ml.TaskTiming)
	if !ok {
		return unavailable, nil
	}
	features := ml.TimingFeatures{LastProgressScore: *req.LastProgressScore}
	predicted, err := model.Predict(features.Vector())
	if err != nil || math.IsNaN(predicted) {
		s.inferenceFailed(ml.TaskTiming, err)
		return unavailable, nil
	}
	return TimingResult{RecommendedDaysNextSession: RecommendedDays(predicted)}, nil
}

// RecommendedDays converts a raw regression output into a whole day count of
// at least one.
func RecommendedDays(predicted float64) int {
	if math.IsInf(predicted, 1) {
		return math.MaxInt32
	}
	days := math.RoundToEven(predicted)
	if days < minimumDays {
		return minimumDays
	}
	if days > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(days)
}

// PredictSentiment scores the text directly; it does not use stored models.
func (s *Service) PredictSentiment(req SentimentRequest) (SentimentResult, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return SentimentResult{}, err
	}
	score := s.scorer.Score(*req.Text)
	return SentimentResult{
		Polarity:       score.Polarity,
		Subjectivity:   score.Subjectivity,
		SentimentLabel: sentiment.Label(score.Polarity),
	}, nil
}

// PredictChurn flags a patient as at risk when the churn probability is above
// one half. The cancellation rate is not range checked.
func (s *Service) PredictChurn(req ChurnRequest) (ChurnResult, error) {
	if err := validateRequest(s.validate, req); err != nil {
		return ChurnResult{}, err
	}
	unavailable := ChurnResult{IsChurnRisk: false, ChurnProbability: UnavailableProbability, Unavailable: true}

	model, ok := s.models.Classifier(ml.TaskChurn)
	if !ok {
		return unavailable, nil
	}
	features := ml.ChurnFeatures{
		DaysSinceLastVisit: *req.DaysSinceLastVisit,
		TotalVisits:        *req.TotalVisits,
		CancellationRate:   *req.CancellationRate,
	}
	prob, err := model.PredictProbability(features.Vector())
	if err != nil {
		s.inferenceFailed(ml.TaskChurn, err)
		return unavailable, nil
	}
	return ChurnResult{IsChurnRisk: prob > churnThreshold, ChurnProbability: prob}, nil
}

func (s *Service) inferenceFailed(task string, err error) {
	if err == nil {
		s.logger.Warn("model returned NaN", zap.String("artifact", task))
		return
	}
	s.logger.Warn("inference failed", zap.String("artifact", task), zap.Error(err))
}
