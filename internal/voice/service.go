// Package voice runs the synthesis and tone color conversion pipelines and
// stores their output as artifacts.
package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/openvoice-api/internal/artifact"
	"github.com/book-expert/openvoice-api/internal/audio"
	"github.com/book-expert/openvoice-api/internal/core"
	"github.com/book-expert/openvoice-api/internal/metrics"
	"github.com/book-expert/openvoice-api/internal/request"
	"github.com/book-expert/openvoice-api/internal/text"
)

// Operation names used in logs and metrics.
const (
	OperationGenerate    = "generate"
	OperationSpeech      = "speech"
	OperationChangeVoice = "change_voice"

	engineSynthesize = "synthesize"
	engineConvert    = "convert"
)

// Models is the view of the loaded models needed to run a pipeline.
type Models interface {
	request.Catalog
	Target(version, speaker string) (core.Embedding, bool)
	Device(version string) string
	Watermark() string
	SourceEmbeddingPath(version, language, accentFileKey string) string
}

// ErrMissingTarget is returned when a validated speaker has no embedding for the version.
var ErrMissingTarget = errors.New("speaker embedding not loaded")

// Result is a stored pipeline output.
type Result struct {
	Artifact artifact.Artifact
	Format   request.Format
	Audio    []byte
	Info     audio.Info
}

// Options holds the optional collaborators of a Service.
type Options struct {
	// Normalizer cleans input text before synthesis when set.
	Normalizer *text.Normalizer
	Metrics    *metrics.Collector
}

// Service validates requests and turns them into audio artifacts.
type Service struct {
	engine     core.Engine
	models     Models
	validator  *request.Validator
	store      *artifact.Store
	normalizer *text.Normalizer
	metrics    *metrics.Collector
	log        *logger.Logger
}

// NewService creates a Service.
func NewService(engine core.Engine, models Models, store *artifact.Store, log *logger.Logger, opts Options) *Service {
	return &Service{
		engine:     engine,
		models:     models,
		validator:  request.NewValidator(models),
		store:      store,
		normalizer: opts.Normalizer,
		metrics:    opts.Metrics,
		log:        log,
	}
}

// Generate synthesizes the input text and converts it to the requested voice.
func (s *Service) Generate(ctx context.Context, version string, params request.Params) (*Result, error) {
	synthesis, err := s.validator.GenerateAudio(version, params)
	if err != nil {
		return nil, err
	}

	return s.generate(ctx, OperationGenerate, synthesis)
}

// Speech is Generate for the OpenAI compatible endpoint.
func (s *Service) Speech(ctx context.Context, version string, params request.Params) (*Result, error) {
	synthesis, err := s.validator.Speech(version, params)
	if err != nil {
		return nil, err
	}

	return s.generate(ctx, OperationSpeech, synthesis)
}

// ChangeVoice converts an uploaded clip to the requested voice.
func (s *Service) ChangeVoice(ctx context.Context, version string, params request.Params) (*Result, error) {
	conversion, err := s.validator.ChangeVoice(version, params)
	if err != nil {
		return nil, err
	}

	s.log.Info("Changing voice of %s clip (%d bytes) to '%s' with %s model %s",
		conversion.Detection.Format, len(conversion.Audio), conversion.Voice, version, conversion.Language)

	converted, err := s.convert(ctx, conversion.Synthesis, conversion.Audio)
	if err != nil {
		return nil, err
	}

	return s.save(ctx, OperationChangeVoice, conversion.Synthesis, converted)
}

func (s *Service) generate(ctx context.Context, operation string, synthesis request.Synthesis) (*Result, error) {
	input := synthesis.Input
	if s.normalizer != nil {
		input = s.normalizer.Normalize(input, synthesis.Language)
	}

	job := core.SynthesisJob{
		Version:      synthesis.Version,
		Device:       s.models.Device(synthesis.Version),
		Language:     synthesis.Language,
		LanguageName: synthesis.LanguageName,
		Text:         input,
		Speed:        synthesis.Speed,
	}

	if synthesis.Version == core.VersionV1 {
		job.Style = synthesis.Style
	} else {
		job.SpeakerID = synthesis.Accent.ID
	}

	s.log.Info("Synthesizing %d characters with %s model %s (voice '%s')",
		len(input), synthesis.Version, synthesis.Language, synthesis.Voice)

	started := time.Now()
	audioData, err := s.engine.Synthesize(ctx, job)
	s.metrics.ObserveEngine(engineSynthesize, synthesis.Version, time.Since(started), err)

	if err != nil {
		return nil, fmt.Errorf("failed to synthesize %s audio: %w", synthesis.Version, err)
	}

	if synthesis.ConvertsVoice() {
		audioData, err = s.convert(ctx, synthesis, audioData)
		if err != nil {
			return nil, err
		}
	}

	return s.save(ctx, operation, synthesis, audioData)
}

// convert applies the tone color of the requested speaker to audioData.
func (s *Service) convert(ctx context.Context, synthesis request.Synthesis, audioData []byte) ([]byte, error) {
	target, ok := s.models.Target(synthesis.Version, synthesis.Voice)
	if !ok {
		return nil, fmt.Errorf("%w: '%s' (%s)", ErrMissingTarget, synthesis.Voice, synthesis.Version)
	}

	job := core.ConversionJob{
		Version:             synthesis.Version,
		Device:              s.models.Device(synthesis.Version),
		Audio:               audioData,
		SourceEmbeddingPath: s.models.SourceEmbeddingPath(synthesis.Version, synthesis.Language, synthesis.AccentFileKey),
		Target:              target,
		Watermark:           s.models.Watermark(),
	}

	started := time.Now()
	converted, err := s.engine.Convert(ctx, job)
	s.metrics.ObserveEngine(engineConvert, synthesis.Version, time.Since(started), err)

	if err != nil {
		return nil, fmt.Errorf("failed to convert voice to '%s': %w", synthesis.Voice, err)
	}

	return converted, nil
}

func (s *Service) save(ctx context.Context, operation string, synthesis request.Synthesis, audioData []byte) (*Result, error) {
	info, err := audio.Inspect(audioData)
	if err != nil {
		s.log.Warn("Engine returned audio that could not be inspected: %v", err)
	}

	saved, err := s.store.Save(ctx, audioData)
	if err != nil {
		return nil, fmt.Errorf("failed to save %s audio: %w", operation, err)
	}

	s.metrics.ObserveArtifact(synthesis.Version, operation, info.Duration)
	s.log.Info("Saved %s (%d bytes, %s)", saved.Name, saved.Size, info.Duration)

	return &Result{Artifact: saved, Format: synthesis.Format, Audio: audioData, Info: info}, nil
}

// Health reports whether the engine is reachable.
func (s *Service) Health(ctx context.Context) error {
	err := s.engine.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("engine health check failed: %w", err)
	}

	return nil
}

// Store returns the artifact store of the service.
func (s *Service) Store() *artifact.Store {
	return s.store
}
