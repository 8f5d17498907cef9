// Package config provides the configuration structure for the openvoice-api service.
//
// Values come from the project TOML file located by the configurator and may be
// overridden by environment variables, which keeps container deployments that
// only set variables working without a config file edit.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Environment variable names.
const (
	EnvServerAddress     = "SERVER_ADDRESS"
	EnvServerPort        = "SERVER_PORT"
	EnvAudioFilesPath    = "AUDIO_FILES_PATH"
	EnvModelLanguagesV1  = "MODEL_LANGUAGES_V1"
	EnvModelLanguagesV2  = "MODEL_LANGUAGES_V2"
	EnvSpeakersFolder    = "SPEAKERS_FOLDER"
	EnvSpeakers          = "SPEAKERS"
	EnvWatermark         = "WATERMARK"
	EnvDeviceV1          = "DEVICE_V1"
	EnvDeviceV2          = "DEVICE_V2"
	EnvSupportedStyles   = "SUPPORTED_STYLES_V1"
	EnvUseVAD            = "USE_VAD"
	EnvOpenVoicePath     = "OPENVOICE_PATH"
	EnvEngineURL         = "ENGINE_URL"
	EnvNATSURL           = "NATS_URL"
	EnvArtifactRetention = "ARTIFACT_RETENTION_MINUTES"
)

// Default values.
const (
	defaultServerAddress        = "0.0.0.0"
	defaultServerPort           = 5000
	defaultReadTimeoutSeconds   = 30
	defaultWriteTimeoutSeconds  = 300
	defaultShutdownSeconds      = 30
	defaultMaxBodyBytes         = 50 << 20
	defaultEngineURL            = "http://localhost:8000"
	defaultEngineTimeoutSeconds = 300
	defaultDevice               = "cuda:0"
	defaultWatermark            = "@OpenVoiceAPI"
	defaultOpenVoicePath        = "/app/OpenVoice"
	defaultAudioFilesDir        = "/tmp"
	defaultSpeakersFolder       = "speakers"
	defaultSweepSeconds         = 300
	defaultWorkerVersion        = "v2"
	defaultWorkerModel          = "en"
	defaultSubject              = "text.processed"
	defaultAudioBucket          = "audio_files"
	listSeparator               = ","
	languagePairSeparator       = ":"
	maxPort                     = 65535
)

var (
	defaultLanguagesV1     = []string{"EN:English", "ZH:Chinese"}
	defaultLanguagesV2     = []string{"EN", "ES", "FR", "ZH", "JP"}
	defaultSpeakers        = []string{"elon", "rachel", "kaiwen"}
	defaultSupportedStyles = []string{"English"}
)

var (
	// ErrNoLanguages is returned when neither model version has a language configured.
	ErrNoLanguages = errors.New("please specify at least one language model (version 1 or version 2) to use")
	// ErrNoSpeakers is returned when the speaker list is empty.
	ErrNoSpeakers = errors.New("please specify at least one speaker from the speakers folder")
	// ErrInvalidLanguagePair is returned for a v1 language entry not shaped like CODE:Name.
	ErrInvalidLanguagePair = errors.New("v1 language must be formatted as CODE:Name")
	// ErrInvalidPort is returned when the listen port is out of range.
	ErrInvalidPort = errors.New("server port must be between 1 and 65535")
	// ErrEngineURLEmpty is returned when no inference engine URL is configured.
	ErrEngineURLEmpty = errors.New("engine url cannot be empty")
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Address                string `toml:"address"`
	Port                   int    `toml:"port"`
	ReadTimeoutSeconds     int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `toml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
	MaxBodyBytes           int64  `toml:"max_body_bytes"`
}

// EngineConfig holds the settings for the inference engine that hosts the models.
type EngineConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	DeviceV1       string `toml:"device_v1"`
	DeviceV2       string `toml:"device_v2"`
	UseVAD         bool   `toml:"use_vad"`
	Watermark      string `toml:"watermark"`
	OpenVoicePath  string `toml:"openvoice_path"`
}

// ModelsConfig lists the languages loaded per model version.
type ModelsConfig struct {
	// LanguagesV1 entries are CODE:Name pairs, e.g. "EN:English".
	LanguagesV1       []string `toml:"languages_v1"`
	LanguagesV2       []string `toml:"languages_v2"`
	SupportedStylesV1 []string `toml:"supported_styles_v1"`
	NormalizeText     bool     `toml:"normalize_text"`
}

// SpeakersConfig lists the reference speakers available for voice conversion.
type SpeakersConfig struct {
	Folder string   `toml:"folder"`
	Names  []string `toml:"names"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir   string `toml:"base_logs_dir"`
	AudioFilesDir string `toml:"audio_files_dir"`
}

// ArtifactsConfig controls the lifetime of generated audio files.
type ArtifactsConfig struct {
	// RetentionMinutes of 0 keeps files forever.
	RetentionMinutes     int  `toml:"retention_minutes"`
	SweepIntervalSeconds int  `toml:"sweep_interval_seconds"`
	MirrorToNATS         bool `toml:"mirror_to_nats"`
}

// NATSConfig holds the configuration for the optional NATS job intake.
type NATSConfig struct {
	URL                    string `toml:"url"`
	TextProcessedSubject   string `toml:"text_processed_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	DefaultVersion         string `toml:"default_version"`
	DefaultModel           string `toml:"default_model"`
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Engine    EngineConfig    `toml:"engine"`
	Models    ModelsConfig    `toml:"models"`
	Speakers  SpeakersConfig  `toml:"speakers"`
	Paths     PathsConfig     `toml:"paths"`
	Artifacts ArtifactsConfig `toml:"artifacts"`
	NATS      NATSConfig      `toml:"nats"`
}

// Language is a v1 language code with the display name the v1 models expect.
type Language struct {
	Code string
	Name string
}

// Load loads the configuration for the openvoice-api service, applies defaults
// and environment overrides, and validates the result.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	err = cfg.ApplyEnv(os.LookupEnv)
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default value. Language and
// speaker lists are only defaulted when absent from the file (nil), so an
// explicit empty list disables them.
func (c *Config) ApplyDefaults() {
	setString(&c.Server.Address, defaultServerAddress)
	setInt(&c.Server.Port, defaultServerPort)
	setInt(&c.Server.ReadTimeoutSeconds, defaultReadTimeoutSeconds)
	setInt(&c.Server.WriteTimeoutSeconds, defaultWriteTimeoutSeconds)
	setInt(&c.Server.ShutdownTimeoutSeconds, defaultShutdownSeconds)

	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = defaultMaxBodyBytes
	}

	setString(&c.Engine.URL, defaultEngineURL)
	setInt(&c.Engine.TimeoutSeconds, defaultEngineTimeoutSeconds)
	setString(&c.Engine.DeviceV1, defaultDevice)
	setString(&c.Engine.DeviceV2, defaultDevice)
	setString(&c.Engine.Watermark, defaultWatermark)
	setString(&c.Engine.OpenVoicePath, defaultOpenVoicePath)

	if c.Models.LanguagesV1 == nil {
		c.Models.LanguagesV1 = append([]string(nil), defaultLanguagesV1...)
	}

	if c.Models.LanguagesV2 == nil {
		c.Models.LanguagesV2 = append([]string(nil), defaultLanguagesV2...)
	}

	if c.Models.SupportedStylesV1 == nil {
		c.Models.SupportedStylesV1 = append([]string(nil), defaultSupportedStyles...)
	}

	setString(&c.Speakers.Folder, defaultSpeakersFolder)

	if c.Speakers.Names == nil {
		c.Speakers.Names = append([]string(nil), defaultSpeakers...)
	}

	setString(&c.Paths.AudioFilesDir, defaultAudioFilesDir)
	setString(&c.Paths.BaseLogsDir, os.TempDir())
	setInt(&c.Artifacts.SweepIntervalSeconds, defaultSweepSeconds)
	setString(&c.NATS.TextProcessedSubject, defaultSubject)
	setString(&c.NATS.AudioObjectStoreBucket, defaultAudioBucket)
	setString(&c.NATS.DefaultVersion, defaultWorkerVersion)
	setString(&c.NATS.DefaultModel, defaultWorkerModel)
}

// ApplyEnv overrides configuration values with the environment variables
// returned by lookup. A list variable that is set but empty clears the list.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	overrideString(lookup, EnvServerAddress, &c.Server.Address)
	overrideString(lookup, EnvAudioFilesPath, &c.Paths.AudioFilesDir)
	overrideString(lookup, EnvSpeakersFolder, &c.Speakers.Folder)
	overrideString(lookup, EnvWatermark, &c.Engine.Watermark)
	overrideString(lookup, EnvDeviceV1, &c.Engine.DeviceV1)
	overrideString(lookup, EnvDeviceV2, &c.Engine.DeviceV2)
	overrideString(lookup, EnvOpenVoicePath, &c.Engine.OpenVoicePath)
	overrideString(lookup, EnvEngineURL, &c.Engine.URL)
	overrideString(lookup, EnvNATSURL, &c.NATS.URL)

	overrideList(lookup, EnvModelLanguagesV1, &c.Models.LanguagesV1)
	overrideList(lookup, EnvModelLanguagesV2, &c.Models.LanguagesV2)
	overrideList(lookup, EnvSpeakers, &c.Speakers.Names)
	overrideList(lookup, EnvSupportedStyles, &c.Models.SupportedStylesV1)

	if value, ok := lookup(EnvServerPort); ok && value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("failed to parse %s %q: %w", EnvServerPort, value, err)
		}

		c.Server.Port = port
	}

	if value, ok := lookup(EnvArtifactRetention); ok && value != "" {
		minutes, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("failed to parse %s %q: %w", EnvArtifactRetention, value, err)
		}

		c.Artifacts.RetentionMinutes = minutes
	}

	if value, ok := lookup(EnvUseVAD); ok && value != "" {
		useVAD, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("failed to parse %s %q: %w", EnvUseVAD, value, err)
		}

		c.Engine.UseVAD = useVAD
	}

	return nil
}

// Validate checks that the configuration can start the service.
func (c *Config) Validate() error {
	if len(c.Models.LanguagesV1) == 0 && len(c.Models.LanguagesV2) == 0 {
		return ErrNoLanguages
	}

	if len(c.Speakers.Names) == 0 {
		return ErrNoSpeakers
	}

	_, err := c.V1Languages()
	if err != nil {
		return err
	}

	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Server.Port)
	}

	if c.Engine.URL == "" {
		return ErrEngineURLEmpty
	}

	return nil
}

// V1Languages parses the CODE:Name pairs of the v1 language list. Codes are
// upper-cased.
func (c *Config) V1Languages() ([]Language, error) {
	languages := make([]Language, 0, len(c.Models.LanguagesV1))

	for _, entry := range c.Models.LanguagesV1 {
		code, name, found := strings.Cut(entry, languagePairSeparator)
		code = strings.TrimSpace(code)
		name = strings.TrimSpace(name)

		if !found || code == "" || name == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLanguagePair, entry)
		}

		languages = append(languages, Language{Code: strings.ToUpper(code), Name: name})
	}

	return languages, nil
}

// V2Languages returns the upper-cased v2 language codes.
func (c *Config) V2Languages() []string {
	codes := make([]string, 0, len(c.Models.LanguagesV2))
	for _, code := range c.Models.LanguagesV2 {
		codes = append(codes, strings.ToUpper(code))
	}

	return codes
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

// EngineTimeout returns the per-request timeout for inference engine calls.
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// Retention returns how long generated artifacts are kept; zero disables cleanup.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Artifacts.RetentionMinutes) * time.Minute
}

// SweepInterval returns how often expired artifacts are removed.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Artifacts.SweepIntervalSeconds) * time.Second
}

func setString(target *string, value string) {
	if *target == "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if *target <= 0 {
		*target = value
	}
}

func overrideString(lookup func(string) (string, bool), name string, target *string) {
	if value, ok := lookup(name); ok && value != "" {
		*target = value
	}
}

func overrideList(lookup func(string) (string, bool), name string, target *[]string) {
	value, ok := lookup(name)
	if !ok {
		return
	}

	*target = SplitList(value)
}

// SplitList splits a comma separated list, trimming blanks and dropping empty items.
func SplitList(value string) []string {
	items := []string{}

	for _, item := range strings.Split(value, listSeparator) {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}

	return items
}
