// Package core defines the interfaces and job types shared by the openvoice-api packages.
package core

import "context"

// Model versions.
const (
	VersionV1 = "v1"
	VersionV2 = "v2"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Embedding is a speaker embedding (tone color) vector.
type Embedding []float32

// Accent is a base speaker of a v2 language model.
type Accent struct {
	Key string `json:"key"`
	ID  int    `json:"id"`
}

// LanguageModel identifies a language checkpoint to be loaded by the engine.
type LanguageModel struct {
	Code       string `json:"code"`
	Name       string `json:"name,omitempty"`
	Config     string `json:"config,omitempty"`
	Checkpoint string `json:"checkpoint,omitempty"`
}

// ModelSpec describes the converter and language models of one version.
type ModelSpec struct {
	Version             string          `json:"version"`
	Device              string          `json:"device"`
	ConverterConfig     string          `json:"converter_config"`
	ConverterCheckpoint string          `json:"converter_checkpoint"`
	Languages           []LanguageModel `json:"languages"`
}

// SynthesisJob is a single text-to-speech request for the engine.
type SynthesisJob struct {
	Version      string  `json:"version"`
	Device       string  `json:"device"`
	Language     string  `json:"language"`
	LanguageName string  `json:"language_name,omitempty"`
	Text         string  `json:"text"`
	Speed        float64 `json:"speed"`
	// Style is used by v1 base speakers.
	Style string `json:"style,omitempty"`
	// SpeakerID selects the v2 accent.
	SpeakerID int `json:"speaker_id"`
}

// ConversionJob asks the engine to transfer the tone color of Target onto Audio.
type ConversionJob struct {
	Version             string    `json:"version"`
	Device              string    `json:"device"`
	Audio               []byte    `json:"audio"`
	SourceEmbeddingPath string    `json:"source_se_path"`
	Target              Embedding `json:"target_se"`
	Watermark           string    `json:"watermark,omitempty"`
}

// EmbeddingRequest asks the engine to extract a speaker embedding from reference audio.
type EmbeddingRequest struct {
	Version string `json:"version"`
	Device  string `json:"device"`
	Audio   []byte `json:"audio"`
	VAD     bool   `json:"vad"`
}

// Engine defines the interface of the model runtime that performs synthesis
// and tone color conversion.
type Engine interface {
	LoadModels(ctx context.Context, spec ModelSpec) error
	Accents(ctx context.Context, language string) ([]Accent, error)
	ExtractEmbedding(ctx context.Context, req EmbeddingRequest) (Embedding, error)
	Synthesize(ctx context.Context, job SynthesisJob) ([]byte, error)
	Convert(ctx context.Context, job ConversionJob) ([]byte, error)
	HealthCheck(ctx context.Context) error
}
