// voice-client calls the openvoice-api endpoints from the command line.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/openvoice-api/internal/response"
	"github.com/pelletier/go-toml/v2"
	"github.com/sashabaranov/go-openai"
)

// Flag descriptions.
const (
	flagServerDesc   = "Base URL of the openvoice-api service"
	flagVersionDesc  = "Model version (v1 or v2)"
	flagModeDesc     = "One of: generate, change-voice, speech, fetch, health"
	flagTextDesc     = "Text to convert to speech"
	flagModelDesc    = "Language model, e.g. en"
	flagVoiceDesc    = "Reference speaker, or raw"
	flagAccentDesc   = "v2 accent, e.g. en-us"
	flagStyleDesc    = "v1 style, e.g. cheerful"
	flagSpeedDesc    = "Speech speed"
	flagFormatDesc   = "Response format: url, bytes, base64 or stream"
	flagInputDesc    = "Audio clip (.mp3 or .wav) for change-voice"
	flagOutputDesc   = "Output file path (.wav)"
	flagParamsDesc   = "TOML file with extra request parameters"
	flagFileDesc     = "Artifact name for fetch"
	flagStreamDesc   = "Stream the artifact for fetch"
	flagTimeoutDesc  = "Request timeout"
	defaultServerURL = "http://localhost:5000"
	defaultOutput    = "output.wav"
	defaultTimeout   = 5 * time.Minute
	logFileName      = "voice-client.log"
	sdkAPIKey        = "not-needed"
)

// Modes.
const (
	modeGenerate    = "generate"
	modeChangeVoice = "change-voice"
	modeSpeech      = "speech"
	modeFetch       = "fetch"
	modeHealth      = "health"
)

var (
	errUnknownMode      = errors.New("unknown mode")
	errTextRequired     = errors.New("--text is required")
	errInputRequired    = errors.New("--input is required for change-voice")
	errFileRequired     = errors.New("--file is required for fetch")
	errRequestFailed    = errors.New("request failed")
	errUnexpectedAnswer = errors.New("unexpected response")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	server     string
	version    string
	mode       string
	text       string
	model      string
	voice      string
	accent     string
	style      string
	format     string
	input      string
	output     string
	paramsFile string
	file       string
	speed      float64
	stream     bool
	timeout    time.Duration
}

type client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
	stdout  io.Writer
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	err = validateFlags(flags)
	if err != nil {
		return err
	}

	log, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	c := &client{
		baseURL: strings.TrimSuffix(flags.server, "/"),
		http:    &http.Client{Timeout: flags.timeout},
		log:     log,
		stdout:  stdout,
	}

	return c.execute(ctx, flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	set := flag.NewFlagSet("voice-client", flag.ContinueOnError)
	set.StringVar(&flags.server, "server", defaultServerURL, flagServerDesc)
	set.StringVar(&flags.version, "version", "v2", flagVersionDesc)
	set.StringVar(&flags.mode, "mode", modeGenerate, flagModeDesc)
	set.StringVar(&flags.text, "text", "", flagTextDesc)
	set.StringVar(&flags.model, "model", "en", flagModelDesc)
	set.StringVar(&flags.voice, "voice", "", flagVoiceDesc)
	set.StringVar(&flags.accent, "accent", "", flagAccentDesc)
	set.StringVar(&flags.style, "style", "", flagStyleDesc)
	set.Float64Var(&flags.speed, "speed", 0, flagSpeedDesc)
	set.StringVar(&flags.format, "format", "bytes", flagFormatDesc)
	set.StringVar(&flags.input, "input", "", flagInputDesc)
	set.StringVar(&flags.output, "output", defaultOutput, flagOutputDesc)
	set.StringVar(&flags.paramsFile, "params", "", flagParamsDesc)
	set.StringVar(&flags.file, "file", "", flagFileDesc)
	set.BoolVar(&flags.stream, "stream", false, flagStreamDesc)
	set.DurationVar(&flags.timeout, "timeout", defaultTimeout, flagTimeoutDesc)

	err := set.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateFlags checks the flags required by the selected mode.
func validateFlags(flags appFlags) error {
	switch flags.mode {
	case modeGenerate, modeSpeech:
		if flags.text == "" {
			return errTextRequired
		}
	case modeChangeVoice:
		if flags.input == "" {
			return errInputRequired
		}
	case modeFetch:
		if flags.file == "" {
			return errFileRequired
		}
	case modeHealth:
	default:
		return fmt.Errorf("%w: %q", errUnknownMode, flags.mode)
	}

	return nil
}

// buildParams collects the request parameters of the generate and
// change-voice modes. Values from the params file are overridden by flags.
func buildParams(flags appFlags) (map[string]any, error) {
	params := map[string]any{}

	if flags.paramsFile != "" {
		data, err := os.ReadFile(flags.paramsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read params file: %w", err)
		}

		err = toml.Unmarshal(data, &params)
		if err != nil {
			return nil, fmt.Errorf("failed to parse params file %s: %w", flags.paramsFile, err)
		}
	}

	setParam(params, "model", flags.model)
	setParam(params, "voice", flags.voice)
	setParam(params, "accent", flags.accent)
	setParam(params, "style", flags.style)
	setParam(params, "response_format", flags.format)

	if flags.mode == modeGenerate {
		setParam(params, "input", flags.text)

		if flags.speed > 0 {
			params["speed"] = flags.speed
		}
	}

	if flags.mode == modeChangeVoice {
		clip, err := os.ReadFile(flags.input)
		if err != nil {
			return nil, fmt.Errorf("failed to read input clip: %w", err)
		}

		params["audio_data"] = base64.StdEncoding.EncodeToString(clip)
	}

	return params, nil
}

func setParam(params map[string]any, key, value string) {
	if value != "" {
		params[key] = value
	}
}

func (c *client) execute(ctx context.Context, flags appFlags) error {
	switch flags.mode {
	case modeHealth:
		return c.health(ctx)
	case modeSpeech:
		return c.speech(ctx, flags)
	case modeFetch:
		return c.fetch(ctx, flags)
	case modeGenerate, modeChangeVoice:
		params, err := buildParams(flags)
		if err != nil {
			return err
		}

		endpoint := "generate-audio"
		if flags.mode == modeChangeVoice {
			endpoint = "change-voice"
		}

		return c.post(ctx, fmt.Sprintf("%s/%s/%s", c.baseURL, flags.version, endpoint), params, flags.output)
	default:
		return fmt.Errorf("%w: %q", errUnknownMode, flags.mode)
	}
}

// post sends params and saves or prints the answer depending on its type.
func (c *client) post(ctx context.Context, endpoint string, params map[string]any, output string) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	c.log.Info("POST %s", endpoint)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "audio/") {
		return c.save(resp.Body, output)
	}

	answer, err := decodeEnvelope(resp)
	if err != nil {
		return err
	}

	if audioData, ok := answer.Result.Data["audio_data"].(string); ok {
		decoded, decodeErr := base64.StdEncoding.DecodeString(audioData)
		if decodeErr != nil {
			return fmt.Errorf("failed to decode audio_data: %w", decodeErr)
		}

		return c.save(bytes.NewReader(decoded), output)
	}

	if audioURL, ok := answer.Result.Data["url"].(string); ok {
		fmt.Fprintln(c.stdout, audioURL)

		return nil
	}

	return fmt.Errorf("%w: %s", errUnexpectedAnswer, answer.Result.Message)
}

// speech uses the OpenAI SDK against the compatible endpoint.
func (c *client) speech(ctx context.Context, flags appFlags) error {
	config := openai.DefaultConfig(sdkAPIKey)
	config.BaseURL = fmt.Sprintf("%s/%s", c.baseURL, flags.version)
	config.HTTPClient = c.http

	sdk := openai.NewClientWithConfig(config)

	request := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(flags.model),
		Input:          flags.text,
		Voice:          openai.SpeechVoice(flags.voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	}

	if flags.speed > 0 {
		request.Speed = flags.speed
	}

	c.log.Info("Speech request to %s", config.BaseURL)

	audioStream, err := sdk.CreateSpeech(ctx, request)
	if err != nil {
		return fmt.Errorf("%w: %w", errRequestFailed, err)
	}
	defer audioStream.Close()

	return c.save(audioStream, flags.output)
}

func (c *client) fetch(ctx context.Context, flags appFlags) error {
	endpoint := fmt.Sprintf("%s/audio-file/%s", c.baseURL, url.PathEscape(flags.file))
	if flags.stream {
		endpoint += "?stream=true"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		answer, decodeErr := decodeEnvelope(resp)
		if decodeErr != nil {
			return decodeErr
		}

		return fmt.Errorf("%w: %s", errRequestFailed, answer.Result.Message)
	}

	return c.save(resp.Body, flags.output)
}

func (c *client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	answer, err := decodeEnvelope(resp)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.stdout, answer.Result.Message)

	return nil
}

func (c *client) save(source io.Reader, output string) error {
	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}

	written, copyErr := io.Copy(file, source)
	closeErr := file.Close()

	if copyErr != nil || closeErr != nil {
		return fmt.Errorf("failed to write %s: %w", output, errors.Join(copyErr, closeErr))
	}

	c.log.Info("Saved %d bytes to %s", written, output)
	fmt.Fprintf(c.stdout, "Generated: %s\n", output)

	return nil
}

// decodeEnvelope reads a JSON answer and turns a failed one into an error.
func decodeEnvelope(resp *http.Response) (*response.Payload, error) {
	var answer response.Payload

	err := json.NewDecoder(resp.Body).Decode(&answer)
	if err != nil {
		return nil, fmt.Errorf("%w: status %d: %w", errUnexpectedAnswer, resp.StatusCode, err)
	}

	if !answer.Result.Success {
		return nil, fmt.Errorf("%w (%d): %s", errRequestFailed, answer.Code, answer.Result.Message)
	}

	return &answer, nil
}
