// Package config_test tests the configuration loading for the openvoice-api service.
package config_test

import (
	"testing"
	"time"

	"github.com/book-expert/openvoice-api/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, ok := values[name]

		return value, ok
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[server]
address = "127.0.0.1"
port = 8080

[engine]
url = "http://engine:9000"
timeout_seconds = 60
device_v1 = "cpu"
use_vad = true

[models]
languages_v1 = ["EN:English"]
languages_v2 = ["en", "fr"]
supported_styles_v1 = ["English"]

[speakers]
folder = "voices"
names = ["elon"]

[paths]
audio_files_dir = "/var/lib/openvoice"
base_logs_dir = "/var/log/openvoice"

[artifacts]
retention_minutes = 30

[nats]
url = "nats://127.0.0.1:4222"
text_processed_subject = "text.processed"
audio_object_store_bucket = "AUDIO_FILES"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr())
	assert.Equal(t, "http://engine:9000", cfg.Engine.URL)
	assert.Equal(t, time.Minute, cfg.EngineTimeout())
	assert.Equal(t, "cpu", cfg.Engine.DeviceV1)
	assert.Equal(t, "cuda:0", cfg.Engine.DeviceV2)
	assert.True(t, cfg.Engine.UseVAD)
	assert.Equal(t, []string{"EN", "FR"}, cfg.V2Languages())
	assert.Equal(t, "voices", cfg.Speakers.Folder)
	assert.Equal(t, []string{"elon"}, cfg.Speakers.Names)
	assert.Equal(t, "/var/lib/openvoice", cfg.Paths.AudioFilesDir)
	assert.Equal(t, 30*time.Minute, cfg.Retention())
	assert.Equal(t, "AUDIO_FILES", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, "v2", cfg.NATS.DefaultVersion)

	languages, err := cfg.V1Languages()
	require.NoError(t, err)
	assert.Equal(t, []config.Language{{Code: "EN", Name: "English"}}, languages)
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:5000", cfg.ListenAddr())
	assert.Equal(t, "/tmp", cfg.Paths.AudioFilesDir)
	assert.Equal(t, "@OpenVoiceAPI", cfg.Engine.Watermark)
	assert.Equal(t, "/app/OpenVoice", cfg.Engine.OpenVoicePath)
	assert.Equal(t, []string{"EN", "ES", "FR", "ZH", "JP"}, cfg.V2Languages())
	assert.Equal(t, []string{"elon", "rachel", "kaiwen"}, cfg.Speakers.Names)
	assert.Equal(t, time.Duration(0), cfg.Retention())

	languages, err := cfg.V1Languages()
	require.NoError(t, err)
	assert.Equal(t, []config.Language{
		{Code: "EN", Name: "English"},
		{Code: "ZH", Name: "Chinese"},
	}, languages)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()

	err := cfg.ApplyEnv(envLookup(map[string]string{
		config.EnvServerPort:       "6000",
		config.EnvModelLanguagesV1: "",
		config.EnvModelLanguagesV2: "EN, ES ,",
		config.EnvSpeakers:         "rachel",
		config.EnvUseVAD:           "true",
		config.EnvAudioFilesPath:   "/data/audio",
		config.EnvEngineURL:        "http://gpu:8000",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Empty(t, cfg.Models.LanguagesV1)
	assert.Equal(t, []string{"EN", "ES"}, cfg.Models.LanguagesV2)
	assert.Equal(t, []string{"rachel"}, cfg.Speakers.Names)
	assert.True(t, cfg.Engine.UseVAD)
	assert.Equal(t, "/data/audio", cfg.Paths.AudioFilesDir)
	assert.Equal(t, "http://gpu:8000", cfg.Engine.URL)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "port", env: map[string]string{config.EnvServerPort: "http"}},
		{name: "vad", env: map[string]string{config.EnvUseVAD: "maybe"}},
		{name: "retention", env: map[string]string{config.EnvArtifactRetention: "soon"}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var cfg config.Config

			cfg.ApplyDefaults()
			require.Error(t, cfg.ApplyEnv(envLookup(testCase.env)))
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{
			name:    "no languages",
			env:     map[string]string{config.EnvModelLanguagesV1: "", config.EnvModelLanguagesV2: " "},
			wantErr: config.ErrNoLanguages,
		},
		{
			name:    "no speakers",
			env:     map[string]string{config.EnvSpeakers: ",,"},
			wantErr: config.ErrNoSpeakers,
		},
		{
			name:    "malformed v1 language",
			env:     map[string]string{config.EnvModelLanguagesV1: "EN"},
			wantErr: config.ErrInvalidLanguagePair,
		},
		{
			name:    "port out of range",
			env:     map[string]string{config.EnvServerPort: "70000"},
			wantErr: config.ErrInvalidPort,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var cfg config.Config

			cfg.ApplyDefaults()
			require.NoError(t, cfg.ApplyEnv(envLookup(testCase.env)))
			require.ErrorIs(t, cfg.Validate(), testCase.wantErr)
		})
	}
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b"}, config.SplitList(" a ,b,, "))
	assert.Empty(t, config.SplitList(""))
}
