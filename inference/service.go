package inference

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"healthai/db"
	"healthai/ml"
	"healthai/monitoring"
)

// PredictionStore persists served predictions.
type PredictionStore interface {
	SavePrediction(ctx context.Context, p db.Prediction) error
}

// Broadcaster pushes served predictions to live subscribers.
type Broadcaster interface {
	Publish(kind monitoring.MessageType, data any) error
}

type Options struct {
	// TopK is the number of ranked features returned per model.
	TopK      int
	CacheSize int
	Store     PredictionStore
	Feed      Broadcaster
	// Metrics is optional; a nil collector records nothing.
	Metrics *monitoring.Metrics
}

func DefaultOptions() Options {
	return Options{TopK: 2, CacheSize: 1024}
}

const (
	metricPredictions = "healthai_predictions_total"
	metricFailures    = "healthai_prediction_failures_total"
	metricCacheHits   = "healthai_prediction_cache_hits_total"
	metricLatency     = "healthai_prediction_duration_seconds"
	metricGeneration  = "healthai_model_generation"
)

type cacheKey struct {
	generation uint64
	features   [4]float64
}

type outcome struct {
	readmission *ModelResult
	severity    *ModelResult
}

// Service answers /predict requests against the current model generation.
type Service struct {
	models *ModelSet
	cache  *lru.Cache[cacheKey, outcome]
	opts   Options
	logger *zap.Logger
}

func NewService(models *ModelSet, opts Options, logger *zap.Logger) (*Service, error) {
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	s := &Service{models: models, opts: opts, logger: logger}
	if opts.CacheSize > 0 {
		cache, err := lru.New[cacheKey, outcome](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	opts.Metrics.Describe(metricPredictions, monitoring.MetricTypeCounter, "Predictions served by model and label.")
	opts.Metrics.Describe(metricFailures, monitoring.MetricTypeCounter, "Model failures by model and stage.")
	opts.Metrics.Describe(metricCacheHits, monitoring.MetricTypeCounter, "Predictions answered from the cache.")
	opts.Metrics.Describe(metricLatency, monitoring.MetricTypeHistogram, "Time spent answering one prediction.")
	opts.Metrics.Describe(metricGeneration, monitoring.MetricTypeGauge, "Generation of the models being served.")
	opts.Metrics.SetGauge(metricGeneration, float64(models.Current().Generation), nil)
	return s, nil
}

// ReloadHook returns a ModelSet.OnReload callback that updates the
// generation gauge and announces the new models on the feed. Either of
// feed and metrics may be nil.
func ReloadHook(feed Broadcaster, metrics *monitoring.Metrics, logger *zap.Logger) func(*Models) {
	return func(m *Models) {
		metrics.SetGauge(metricGeneration, float64(m.Generation), nil)
		if feed == nil {
			return
		}
		event := map[string]any{"generation": m.Generation, "loaded_at": m.LoadedAt}
		if err := feed.Publish(monitoring.ModelReload, event); err != nil {
			logger.Debug("failed to publish model reload", zap.Uint64("generation", m.Generation), zap.Error(err))
		}
	}
}

func (s *Service) Models() *Models {
	return s.models.Current()
}

// Metrics returns the collector the service records into, or nil.
func (s *Service) Metrics() *monitoring.Metrics {
	return s.opts.Metrics
}

// Predict runs both models on the request and composes the response. Only
// model failures are returned; recording and broadcasting are best effort.
func (s *Service) Predict(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	models := s.models.Current()
	key := cacheKey{generation: models.Generation}
	copy(key.features[:], req.Vector())

	out, hit := outcome{}, false
	if s.cache != nil {
		out, hit = s.cache.Get(key)
	}
	if hit {
		s.opts.Metrics.IncrCounter(metricCacheHits, 1, nil)
	} else {
		readmission, err := s.run(ReadmissionModel, models.Readmission, req)
		if err != nil {
			s.countFailure(err)
			return nil, err
		}
		severity, err := s.run(SeverityModel, models.Severity, req)
		if err != nil {
			s.countFailure(err)
			return nil, err
		}
		out = outcome{readmission: readmission, severity: severity}
		if s.cache != nil {
			s.cache.Add(key, out)
		}
	}

	resp := Compose(req, out.readmission, out.severity)
	s.opts.Metrics.IncrCounter(metricPredictions, 1, map[string]string{"model": ReadmissionModel, "label": labelString(resp.Readmission.Prediction)})
	s.opts.Metrics.IncrCounter(metricPredictions, 1, map[string]string{"model": SeverityModel, "label": labelString(resp.Severity.Prediction)})
	s.opts.Metrics.ObserveHistogram(metricLatency, time.Since(start).Seconds(), nil, monitoring.DefaultLatencyBuckets)
	s.record(ctx, models.Generation, req, resp)
	return resp, nil
}

func (s *Service) countFailure(err error) {
	var ie *InferenceError
	if errors.As(err, &ie) {
		s.opts.Metrics.IncrCounter(metricFailures, 1, map[string]string{"model": ie.Model, "stage": ie.Stage})
	}
}

func (s *Service) run(name string, p *ml.Pipeline, req Request) (*ModelResult, error) {
	vector := req.Vector()
	pred, err := p.Predict(vector)
	if err != nil {
		return nil, &InferenceError{Model: name, Stage: "predict", Err: err}
	}
	attr, err := p.Explain(vector)
	if err != nil {
		return nil, &InferenceError{Model: name, Stage: "explain", Err: err}
	}
	values, err := ml.SelectAttribution(attr, pred.Probabilities, len(p.FeatureNames))
	if err != nil {
		return nil, &InferenceError{Model: name, Stage: "explain", Err: err}
	}
	ranked, err := ml.RankContributions(p.FeatureNames, values, s.opts.TopK)
	if err != nil {
		return nil, &InferenceError{Model: name, Stage: "explain", Err: err}
	}
	return &ModelResult{
		Classes:       p.Classes,
		Prediction:    pred,
		Contributions: ranked,
		Method:        attr.Method,
	}, nil
}

func (s *Service) record(ctx context.Context, generation uint64, req Request, resp *Response) {
	if s.opts.Store == nil && s.opts.Feed == nil {
		return
	}
	rec := db.Prediction{
		ID:                 uuid.NewString(),
		PatientID:          req.PatientID,
		Readmission:        labelString(resp.Readmission.Prediction),
		Severity:           labelString(resp.Severity.Prediction),
		RiskScore:          resp.RiskScore,
		HighRiskConditions: strings.Join(resp.HighRiskConditions, ","),
		ModelGeneration:    generation,
		CreatedAt:          time.Now().UTC(),
	}
	copy(rec.Features[:], req.Vector())

	if s.opts.Store != nil {
		if err := s.opts.Store.SavePrediction(context.WithoutCancel(ctx), rec); err != nil {
			s.logger.Warn("failed to record prediction", zap.String("id", rec.ID), zap.Error(err))
		}
	}
	if s.opts.Feed != nil {
		if err := s.opts.Feed.Publish(monitoring.PredictionEvent, rec); err != nil {
			s.logger.Debug("failed to publish prediction", zap.String("id", rec.ID), zap.Error(err))
		}
	}
}

func labelString(v any) string {
	switch label := v.(type) {
	case string:
		return label
	case int:
		return strconv.Itoa(label)
	}
	return ""
}
