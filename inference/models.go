package inference

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"healthai/ml"
)

const (
	ReadmissionModel = "readmission"
	SeverityModel    = "severity"
)

// Models is one immutable generation of the two served pipelines.
type Models struct {
	Readmission *ml.Pipeline
	Severity    *ml.Pipeline
	Generation  uint64
	LoadedAt    time.Time
}

type ModelPaths struct {
	Readmission string
	Severity    string
}

// ModelSet hands out the current Models. Readers never lock; a reload builds
// a complete new generation and swaps the pointer.
type ModelSet struct {
	paths      ModelPaths
	opts       ml.ExplainOptions
	logger     *zap.Logger
	current    atomic.Pointer[Models]
	generation atomic.Uint64
	onReload   func(*Models)
}

// LoadModelSet reads both artifacts. Either failing is fatal to the caller.
func LoadModelSet(paths ModelPaths, opts ml.ExplainOptions, logger *zap.Logger) (*ModelSet, error) {
	s := &ModelSet{paths: paths, opts: opts, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewModelSet wraps pipelines that are already prepared.
func NewModelSet(readmission, severity *ml.Pipeline, logger *zap.Logger) *ModelSet {
	s := &ModelSet{logger: logger}
	s.store(readmission, severity)
	return s
}

func (s *ModelSet) Current() *Models {
	return s.current.Load()
}

// OnReload registers a callback run after every successful reload.
func (s *ModelSet) OnReload(fn func(*Models)) {
	s.onReload = fn
}

// Reload loads both artifacts from disk. On failure the current generation
// stays in service.
func (s *ModelSet) Reload() error {
	if s.paths.Readmission == "" || s.paths.Severity == "" {
		return errors.New("model paths are not configured")
	}

	var readmission, severity *ml.Pipeline
	var g errgroup.Group
	g.Go(func() error {
		p, err := ml.LoadPipeline(s.paths.Readmission, s.opts)
		if err != nil {
			return fmt.Errorf("load %s model: %w", ReadmissionModel, err)
		}
		readmission = p
		return nil
	})
	g.Go(func() error {
		p, err := ml.LoadPipeline(s.paths.Severity, s.opts)
		if err != nil {
			return fmt.Errorf("load %s model: %w", SeverityModel, err)
		}
		severity = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	models := s.store(readmission, severity)
	s.logger.Info("models loaded",
		zap.Uint64("generation", models.Generation),
		zap.String("readmission_explainer", readmission.ExplainerMethod()),
		zap.String("severity_explainer", severity.ExplainerMethod()),
	)
	if s.onReload != nil {
		s.onReload(models)
	}
	return nil
}

func (s *ModelSet) store(readmission, severity *ml.Pipeline) *Models {
	models := &Models{
		Readmission: readmission,
		Severity:    severity,
		Generation:  s.generation.Add(1),
		LoadedAt:    time.Now().UTC(),
	}
	s.current.Store(models)
	return models
}

// Watch reloads the models whenever either artifact is rewritten, until ctx
// is cancelled. Artifacts are replaced by rename, so the parent directories
// are watched rather than the files.
func (s *ModelSet) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	targets := map[string]bool{
		filepath.Clean(s.paths.Readmission): true,
		filepath.Clean(s.paths.Severity):    true,
	}
	dirs := map[string]bool{}
	for path := range targets {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	// artifacts are usually written in pairs; wait for the second one
	const settle = 500 * time.Millisecond
	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !targets[filepath.Clean(event.Name)] || !event.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
			timer.Reset(settle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("model watcher error", zap.Error(err))
		case <-timer.C:
			if err := s.Reload(); err != nil {
				s.logger.Error("model reload failed, keeping current models", zap.Error(err))
			}
		}
	}
}
