// Package enginetest provides an in-memory engine and WAV fixtures for tests.
package enginetest

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/book-expert/openvoice-api/internal/core"
	"github.com/youpy/go-wav"
)

const (
	fixtureSampleRate = 16000
	fixtureChannels   = 1
	fixtureBitDepth   = 16
)

// ErrInjected is returned by a Fake configured to fail.
var ErrInjected = errors.New("injected engine failure")

// WAV returns a mono 16-bit PCM stream holding the given number of samples.
func WAV(samples int) []byte {
	var buffer bytes.Buffer

	writer := wav.NewWriter(&buffer, uint32(samples), fixtureChannels, fixtureSampleRate, fixtureBitDepth)

	frames := make([]wav.Sample, samples)
	for i := range frames {
		frames[i].Values[0] = (i % 64) * 256
	}

	err := writer.WriteSamples(frames)
	if err != nil {
		panic(err)
	}

	return buffer.Bytes()
}

// Fake is a core.Engine that records its calls.
type Fake struct {
	mu sync.Mutex

	// Accent lists per upper-case language code.
	AccentsByLanguage map[string][]core.Accent
	// Audio returned by Synthesize and Convert; defaults to a short WAV.
	Audio []byte

	FailLoad       bool
	FailSynthesize bool
	FailConvert    bool
	FailEmbedding  bool
	Unhealthy      bool

	Loaded      []core.ModelSpec
	Embeddings  []core.EmbeddingRequest
	Syntheses   []core.SynthesisJob
	Conversions []core.ConversionJob
}

// NewFake returns a Fake with the usual v2 accents of the English and French models.
func NewFake() *Fake {
	return &Fake{
		AccentsByLanguage: map[string][]core.Accent{
			"EN": {
				{Key: "EN-US", ID: 0},
				{Key: "EN-BR", ID: 1},
				{Key: "EN_INDIA", ID: 2},
				{Key: "EN-AU", ID: 3},
				{Key: "EN-Default", ID: 4},
			},
			"FR": {{Key: "FR", ID: 0}},
		},
		Audio: WAV(1600),
	}
}

// LoadModels implements core.Engine.
func (f *Fake) LoadModels(_ context.Context, spec core.ModelSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailLoad {
		return ErrInjected
	}

	f.Loaded = append(f.Loaded, spec)

	return nil
}

// Accents implements core.Engine.
func (f *Fake) Accents(_ context.Context, language string) ([]core.Accent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	accents, ok := f.AccentsByLanguage[language]
	if !ok {
		return []core.Accent{{Key: language, ID: 0}}, nil
	}

	return accents, nil
}

// ExtractEmbedding implements core.Engine.
func (f *Fake) ExtractEmbedding(_ context.Context, req core.EmbeddingRequest) (core.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailEmbedding {
		return nil, ErrInjected
	}

	f.Embeddings = append(f.Embeddings, req)

	return core.Embedding{float32(len(req.Audio)), 1}, nil
}

// Synthesize implements core.Engine.
func (f *Fake) Synthesize(_ context.Context, job core.SynthesisJob) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailSynthesize {
		return nil, ErrInjected
	}

	f.Syntheses = append(f.Syntheses, job)

	return f.Audio, nil
}

// Convert implements core.Engine.
func (f *Fake) Convert(_ context.Context, job core.ConversionJob) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailConvert {
		return nil, ErrInjected
	}

	f.Conversions = append(f.Conversions, job)

	return f.Audio, nil
}

// HealthCheck implements core.Engine.
func (f *Fake) HealthCheck(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Unhealthy {
		return ErrInjected
	}

	return nil
}

// SynthesisCalls returns a copy of the recorded synthesis jobs.
func (f *Fake) SynthesisCalls() []core.SynthesisJob {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]core.SynthesisJob(nil), f.Syntheses...)
}

// ConversionCalls returns a copy of the recorded conversion jobs.
func (f *Fake) ConversionCalls() []core.ConversionJob {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]core.ConversionJob(nil), f.Conversions...)
}

// Update changes the behaviour of the fake while it may be serving calls.
func (f *Fake) Update(mutate func(f *Fake)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	mutate(f)
}
