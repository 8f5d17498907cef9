// Package registrytest builds registries backed by a fake engine for tests.
package registrytest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/openvoice-api/internal/config"
	"github.com/book-expert/openvoice-api/internal/engine/enginetest"
	"github.com/book-expert/openvoice-api/internal/registry"
	"github.com/stretchr/testify/require"
)

// Speakers are the reference speakers of the default deployment.
var Speakers = []string{"elon", "rachel", "kaiwen"}

// Config returns a default configuration with v1 EN/ZH, v2 EN/FR and a
// temporary speakers folder holding a clip per speaker.
func Config(t *testing.T) *config.Config {
	t.Helper()

	var cfg config.Config

	cfg.ApplyDefaults()
	cfg.Models.LanguagesV2 = []string{"EN", "FR"}
	cfg.Engine.OpenVoicePath = "/opt/OpenVoice"
	cfg.Speakers.Folder = t.TempDir()
	cfg.Paths.AudioFilesDir = t.TempDir()
	cfg.Paths.BaseLogsDir = t.TempDir()

	for _, speaker := range Speakers {
		clip := filepath.Join(cfg.Speakers.Folder, speaker+".mp3")
		require.NoError(t, os.WriteFile(clip, []byte("ID3 reference clip of "+speaker), 0o600))
	}

	return &cfg
}

// Logger returns a logger writing into a temporary directory.
func Logger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

// Load builds a registry from cfg using engine.
func Load(t *testing.T, cfg *config.Config, engine *enginetest.Fake) *registry.Registry {
	t.Helper()

	reg, err := registry.Load(context.Background(), cfg, engine, Logger(t))
	require.NoError(t, err)

	return reg
}
