// Package registry holds the models, accents and speaker embeddings loaded at
// startup. A Registry is immutable once Load returns and is shared by all
// requests without locking.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/openvoice-api/internal/config"
	"github.com/book-expert/openvoice-api/internal/core"
)

// Checkpoint layout below the OpenVoice root.
const (
	v1CheckpointDir      = "checkpoints"
	v2CheckpointDir      = "checkpoints_v2"
	converterDir         = "converter"
	baseSpeakersDir      = "base_speakers"
	v2EmbeddingsDir      = "ses"
	configFileName       = "config.json"
	checkpointFileName   = "checkpoint.pth"
	v1SourceEmbeddingFmt = "%s_default_se.pth"
	embeddingExtension   = ".pth"
	speakerClipExtension = ".mp3"
)

// ErrNoAccents is returned when the engine reports no base speaker for a v2 language.
var ErrNoAccents = errors.New("v2 language has no accents")

// Registry is the read-only catalog of everything loaded at startup.
type Registry struct {
	openVoicePath   string
	devices         map[string]string
	v1Languages     []string
	v1Names         map[string]string
	v2Languages     []string
	accents         map[string][]core.Accent
	speakers        []string
	styleLanguages  []string
	targets         map[string]map[string]core.Embedding
	useVAD          bool
	watermark       string
	speakersFolder  string
	speakerFileName map[string]string
}

// Load asks the engine to load the configured models, reads the accent lists
// of the v2 languages and extracts the embedding of every reference speaker
// for every loaded version.
func Load(ctx context.Context, cfg *config.Config, engine core.Engine, log *logger.Logger) (*Registry, error) {
	v1Languages, err := cfg.V1Languages()
	if err != nil {
		return nil, fmt.Errorf("failed to parse v1 languages: %w", err)
	}

	v2Languages := cfg.V2Languages()

	if len(v1Languages) == 0 && len(v2Languages) == 0 {
		return nil, config.ErrNoLanguages
	}

	reg := &Registry{
		openVoicePath:   cfg.Engine.OpenVoicePath,
		devices:         map[string]string{core.VersionV1: cfg.Engine.DeviceV1, core.VersionV2: cfg.Engine.DeviceV2},
		v1Names:         make(map[string]string, len(v1Languages)),
		v2Languages:     v2Languages,
		accents:         make(map[string][]core.Accent, len(v2Languages)),
		styleLanguages:  cfg.Models.SupportedStylesV1,
		targets:         make(map[string]map[string]core.Embedding),
		useVAD:          cfg.Engine.UseVAD,
		watermark:       cfg.Engine.Watermark,
		speakersFolder:  cfg.Speakers.Folder,
		speakerFileName: make(map[string]string),
	}

	for _, name := range cfg.Speakers.Names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || slices.Contains(reg.speakers, key) {
			continue
		}

		reg.speakers = append(reg.speakers, key)
		reg.speakerFileName[key] = strings.TrimSpace(name)
	}

	if len(reg.speakers) == 0 {
		return nil, config.ErrNoSpeakers
	}

	for _, language := range v1Languages {
		reg.v1Languages = append(reg.v1Languages, language.Code)
		reg.v1Names[language.Code] = language.Name
	}

	if len(v1Languages) > 0 {
		err = reg.loadV1(ctx, engine, log, v1Languages)
		if err != nil {
			return nil, err
		}
	}

	if len(v2Languages) > 0 {
		err = reg.loadV2(ctx, engine, log)
		if err != nil {
			return nil, err
		}
	}

	err = reg.loadSpeakers(ctx, engine, log)
	if err != nil {
		return nil, err
	}

	return reg, nil
}

func (r *Registry) loadV1(ctx context.Context, engine core.Engine, log *logger.Logger, languages []config.Language) error {
	log.Info("Loading v1 tone color converter and models: %s", strings.Join(r.v1Languages, ", "))

	converter := filepath.Join(r.openVoicePath, v1CheckpointDir, converterDir)
	spec := core.ModelSpec{
		Version:             core.VersionV1,
		Device:              r.devices[core.VersionV1],
		ConverterConfig:     filepath.Join(converter, configFileName),
		ConverterCheckpoint: filepath.Join(converter, checkpointFileName),
	}

	for _, language := range languages {
		base := r.v1BaseDir(language.Code)
		spec.Languages = append(spec.Languages, core.LanguageModel{
			Code:       language.Code,
			Name:       language.Name,
			Config:     filepath.Join(base, configFileName),
			Checkpoint: filepath.Join(base, checkpointFileName),
		})
	}

	err := engine.LoadModels(ctx, spec)
	if err != nil {
		return fmt.Errorf("failed to load v1 models: %w", err)
	}

	return nil
}

func (r *Registry) loadV2(ctx context.Context, engine core.Engine, log *logger.Logger) error {
	log.Info("Loading v2 tone color converter and models: %s", strings.Join(r.v2Languages, ", "))

	converter := filepath.Join(r.openVoicePath, v2CheckpointDir, converterDir)
	spec := core.ModelSpec{
		Version:             core.VersionV2,
		Device:              r.devices[core.VersionV2],
		ConverterConfig:     filepath.Join(converter, configFileName),
		ConverterCheckpoint: filepath.Join(converter, checkpointFileName),
	}

	for _, code := range r.v2Languages {
		spec.Languages = append(spec.Languages, core.LanguageModel{Code: code})
	}

	err := engine.LoadModels(ctx, spec)
	if err != nil {
		return fmt.Errorf("failed to load v2 models: %w", err)
	}

	for _, code := range r.v2Languages {
		accents, accentsErr := engine.Accents(ctx, code)
		if accentsErr != nil {
			return fmt.Errorf("failed to list accents for %s: %w", code, accentsErr)
		}

		if len(accents) == 0 {
			return fmt.Errorf("%w: %s", ErrNoAccents, code)
		}

		r.accents[code] = accents
	}

	return nil
}

func (r *Registry) loadSpeakers(ctx context.Context, engine core.Engine, log *logger.Logger) error {
	versions := make([]string, 0, 2)

	if len(r.v1Languages) > 0 {
		versions = append(versions, core.VersionV1)
	}

	if len(r.v2Languages) > 0 {
		versions = append(versions, core.VersionV2)
	}

	for _, version := range versions {
		r.targets[version] = make(map[string]core.Embedding, len(r.speakers))
	}

	for _, speaker := range r.speakers {
		clipPath := r.SpeakerClipPath(speaker)

		clip, err := os.ReadFile(clipPath)
		if err != nil {
			return fmt.Errorf("failed to read reference clip for speaker '%s': %w", speaker, err)
		}

		for _, version := range versions {
			log.Info("Loading SE extractor %s for speaker %s", version, speaker)

			embedding, extractErr := engine.ExtractEmbedding(ctx, core.EmbeddingRequest{
				Version: version,
				Device:  r.devices[version],
				Audio:   clip,
				VAD:     r.useVAD,
			})
			if extractErr != nil {
				return fmt.Errorf("failed to extract %s embedding for speaker '%s': %w", version, speaker, extractErr)
			}

			r.targets[version][speaker] = embedding
		}
	}

	return nil
}

func (r *Registry) v1BaseDir(code string) string {
	return filepath.Join(r.openVoicePath, v1CheckpointDir, baseSpeakersDir, code)
}

// Loaded reports whether any language of the version is loaded.
func (r *Registry) Loaded(version string) bool {
	return len(r.Languages(version)) > 0
}

// Languages returns the upper-case language codes of a version.
func (r *Registry) Languages(version string) []string {
	switch version {
	case core.VersionV1:
		return r.v1Languages
	case core.VersionV2:
		return r.v2Languages
	default:
		return nil
	}
}

// LanguageName returns the v1 display name of a language code.
func (r *Registry) LanguageName(code string) string {
	return r.v1Names[code]
}

// StylesSupported reports whether the v1 model of a language supports styles.
func (r *Registry) StylesSupported(code string) bool {
	return slices.Contains(r.styleLanguages, r.v1Names[code])
}

// Accents returns the ordered v2 base speakers of a language code.
func (r *Registry) Accents(code string) []core.Accent {
	return r.accents[code]
}

// Speakers returns the lower-case reference speaker names.
func (r *Registry) Speakers() []string {
	return r.speakers
}

// Target returns the embedding of a reference speaker for a version.
func (r *Registry) Target(version, speaker string) (core.Embedding, bool) {
	embedding, ok := r.targets[version][speaker]

	return embedding, ok
}

// Device returns the engine device configured for a version.
func (r *Registry) Device(version string) string {
	return r.devices[version]
}

// Watermark returns the message embedded by the tone color converter.
func (r *Registry) Watermark() string {
	return r.watermark
}

// SpeakerClipPath returns the reference clip of a speaker.
func (r *Registry) SpeakerClipPath(speaker string) string {
	name, ok := r.speakerFileName[speaker]
	if !ok {
		name = speaker
	}

	return filepath.Join(r.speakersFolder, name+speakerClipExtension)
}

// SourceEmbeddingPath returns the checkpoint of the base speaker embedding
// that conversion starts from. v1 uses the language default speaker and v2
// the accent, named by its lower-case file key.
func (r *Registry) SourceEmbeddingPath(version, language, accentFileKey string) string {
	if version == core.VersionV1 {
		return filepath.Join(r.v1BaseDir(language), fmt.Sprintf(v1SourceEmbeddingFmt, strings.ToLower(language)))
	}

	return filepath.Join(r.openVoicePath, v2CheckpointDir, baseSpeakersDir, v2EmbeddingsDir, accentFileKey+embeddingExtension)
}
