// Package request validates the parameters of the generate-audio, change-voice
// and speech endpoints.
//
// Checks run in a fixed order and stop at the first failure, so a request
// with several problems always reports the same one.
package request

import (
	"encoding/base64"
	"encoding/json"
	"slices"
	"sort"
	"strings"

	"github.com/book-expert/openvoice-api/internal/audio"
	"github.com/book-expert/openvoice-api/internal/core"
)

// AudioDataSentinel marks a synthesis whose input is an uploaded clip rather than text.
const AudioDataSentinel = "__AUDIO_DATA__"

// VoiceRaw selects the base speaker without tone color conversion.
const VoiceRaw = "raw"

// StyleDefault is the neutral v1 style.
const StyleDefault = "default"

const defaultSpeed = 1.0

// StylesV1 lists the speaking styles of the v1 base speakers.
var StylesV1 = []string{"default", "whispering", "shouting", "excited", "cheerful", "terrified", "angry", "sad", "friendly"}

var baseParams = []string{ParamModel, ParamSpeed, ParamInput, ParamResponseFormat, ParamVoice}

// Error messages.
const (
	msgInvalidVersion        = "Invalid version"
	msgV1NotLoaded           = "version 1 module is not loaded"
	msgV2NotLoaded           = "version 2 module is not loaded"
	msgFmtInvalidParams      = "Invalid parameter(s) sent: %s. valid params are: %s"
	msgModelRequired         = "Parameter 'model' is required"
	msgFmtInvalidFormat      = "Invalid response_format sent '%s', valid params are: %s"
	msgFmtInvalidModel       = "Invalid model '%s', valid values are: %s"
	msgInputRequired         = "Parameter 'input' is required"
	msgSpeedNotNumber        = "Parameter 'speed' must be a number"
	msgFmtInvalidVoice       = "Invalid voice '%s', valid values are: %s, raw"
	msgRawFromAudio          = "Parameter 'voice' cannot be 'raw' when converting from audio."
	msgFmtStyleNotSupported  = "Param 'style' is not supported for language '%s'"
	msgFmtInvalidStyle       = "Invalid style '%s', valid values are: %s"
	msgFmtInvalidAccent      = "Invalid accent '%s', valid values are: %s"
	msgAudioDataRequired     = "Parameter 'audio_data' is required"
	msgInvalidBase64         = "Invalid base64 audio data"
	msgFmtUnsupportedAudio   = "Unsupported audio file type: %s, valid extensions are: %s"
	msgInvalidInputForChange = "Invalid parameter(s) 'input'"
	msgRawForChange          = "Parameter 'voice' cannot be used with raw value for change voice service."
	msgStyleForChange        = "Parameter 'style' not supported for change voice service"
	msgSpeedForChange        = "Parameter 'speed' not supported for change voice service"
	listSeparator            = ", "
)

// Format is the transport encoding of the generated audio.
type Format string

// Response formats.
const (
	FormatURL    Format = "url"
	FormatBytes  Format = "bytes"
	FormatStream Format = "stream"
	FormatBase64 Format = "base64"
	// FormatWAV is the only format of the speech endpoint; it is streamed.
	FormatWAV Format = "wav"
)

var (
	generateFormats = []Format{FormatURL, FormatBytes, FormatStream, FormatBase64}
	speechFormats   = []Format{FormatWAV}
)

// Catalog is the read-only view of the loaded models used by validation.
type Catalog interface {
	// Loaded reports whether any language of the version is loaded.
	Loaded(version string) bool
	// Languages returns the upper-case language codes of a version.
	Languages(version string) []string
	// LanguageName returns the v1 display name of a language code.
	LanguageName(code string) string
	// StylesSupported reports whether non-default v1 styles work for a language code.
	StylesSupported(code string) bool
	// Accents returns the ordered v2 base speakers of a language code.
	Accents(code string) []core.Accent
	// Speakers returns the reference speaker names.
	Speakers() []string
}

// Synthesis is a validated generate-audio request.
type Synthesis struct {
	Version string
	// Model is the language exactly as sent.
	Model string
	// Language is the upper-case language code.
	Language     string
	LanguageName string
	Input        string
	Speed        float64
	// Voice is the lower-case reference speaker or VoiceRaw.
	Voice  string
	Style  string
	Accent core.Accent
	// AccentFileKey names the v2 source embedding checkpoint of the accent.
	AccentFileKey string
	Format        Format
}

// ConvertsVoice reports whether the synthesis needs tone color conversion.
func (s Synthesis) ConvertsVoice() bool {
	return s.Voice != VoiceRaw
}

// FromAudio reports whether the input is an uploaded clip.
func (s Synthesis) FromAudio() bool {
	return s.Input == AudioDataSentinel
}

// Conversion is a validated change-voice request.
type Conversion struct {
	Synthesis
	Audio     []byte
	Detection audio.Detection
}

// Validator checks request parameters against the loaded models.
type Validator struct {
	catalog Catalog
}

// NewValidator creates a Validator backed by catalog.
func NewValidator(catalog Catalog) *Validator {
	return &Validator{catalog: catalog}
}

// GenerateAudio validates a generate-audio request.
func (v *Validator) GenerateAudio(version string, params Params) (Synthesis, error) {
	return v.synthesis(version, params.Clone(), generateFormats)
}

// Speech validates a request of the OpenAI compatible speech endpoint, which
// only accepts the wav response format.
func (v *Validator) Speech(version string, params Params) (Synthesis, error) {
	return v.synthesis(version, params.Clone(), speechFormats)
}

// ChangeVoice validates a change-voice request, then applies the
// generate-audio rules with the clip standing in for the text input.
func (v *Validator) ChangeVoice(version string, params Params) (Conversion, error) {
	args := params.Clone()

	rawAudio, isString := args[ParamAudioData].(string)
	present := args.has(ParamAudioData) && args[ParamAudioData] != nil
	delete(args, ParamAudioData)

	if !present || (isString && rawAudio == "") {
		return Conversion{}, badRequest(msgAudioDataRequired)
	}

	if !isString {
		return Conversion{}, badRequest(msgInvalidBase64)
	}

	audioBytes, err := base64.StdEncoding.DecodeString(rawAudio)
	if err != nil {
		return Conversion{}, badRequest(msgInvalidBase64)
	}

	detection := audio.Detect(audioBytes)
	if !detection.Supported() {
		return Conversion{}, badRequest(msgFmtUnsupportedAudio, detection.MIME, strings.Join(audio.SupportedExtensions(), listSeparator))
	}

	input, err := args.text(ParamInput)
	if err != nil || (args.has(ParamInput) && args[ParamInput] != nil && input != AudioDataSentinel) {
		return Conversion{}, badRequest(msgInvalidInputForChange)
	}

	args.setDefault(ParamVoice, VoiceRaw)

	voice, err := args.text(ParamVoice)
	if err != nil {
		return Conversion{}, err
	}

	if strings.ToLower(voice) == VoiceRaw {
		return Conversion{}, badRequest(msgRawForChange)
	}

	if args.has(ParamStyle) {
		return Conversion{}, badRequest(msgStyleForChange)
	}

	if args.has(ParamSpeed) {
		return Conversion{}, badRequest(msgSpeedForChange)
	}

	args[ParamInput] = AudioDataSentinel

	synthesis, err := v.synthesis(version, args, generateFormats)
	if err != nil {
		return Conversion{}, err
	}

	return Conversion{Synthesis: synthesis, Audio: audioBytes, Detection: detection}, nil
}

// synthesis runs the common checks followed by the version specific ones.
// args is owned by the call.
func (v *Validator) synthesis(version string, args Params, formats []Format) (Synthesis, error) {
	args.setDefault(ParamResponseFormat, string(FormatURL))
	args.setDefault(ParamSpeed, json.Number("1.0"))

	allowed := slices.Clone(baseParams)

	switch version {
	case core.VersionV1:
		if !v.catalog.Loaded(version) {
			return Synthesis{}, notLoaded(msgV1NotLoaded)
		}

		allowed = append(allowed, ParamStyle)
	case core.VersionV2:
		if !v.catalog.Loaded(version) {
			return Synthesis{}, notLoaded(msgV2NotLoaded)
		}

		allowed = append(allowed, ParamAccent)
	default:
		return Synthesis{}, badRequest(msgInvalidVersion)
	}

	invalid := unknownParams(args, allowed)
	if len(invalid) > 0 {
		return Synthesis{}, badRequest(msgFmtInvalidParams, strings.Join(invalid, listSeparator), strings.Join(allowed, listSeparator))
	}

	model, err := args.text(ParamModel)
	if err != nil {
		return Synthesis{}, err
	}

	if model == "" {
		return Synthesis{}, badRequest(msgModelRequired)
	}

	format, err := responseFormat(args, formats)
	if err != nil {
		return Synthesis{}, err
	}

	language := strings.ToUpper(model)
	languages := v.catalog.Languages(version)

	if !slices.Contains(languages, language) {
		return Synthesis{}, badRequest(msgFmtInvalidModel, model, strings.ToLower(strings.Join(languages, listSeparator)))
	}

	input, err := args.text(ParamInput)
	if err != nil {
		return Synthesis{}, err
	}

	if input == "" {
		return Synthesis{}, badRequest(msgInputRequired)
	}

	speed, ok := parseSpeed(args[ParamSpeed])
	if !ok {
		return Synthesis{}, badRequest(msgSpeedNotNumber)
	}

	synthesis := Synthesis{
		Version:  version,
		Model:    model,
		Language: language,
		Input:    input,
		Speed:    speed,
		Format:   format,
	}

	if version == core.VersionV1 {
		return v.v1(args, synthesis)
	}

	return v.v2(args, synthesis)
}

func (v *Validator) v1(args Params, synthesis Synthesis) (Synthesis, error) {
	args.setDefault(ParamVoice, VoiceRaw)
	args.setDefault(ParamStyle, StyleDefault)

	voice, err := v.voice(args, synthesis)
	if err != nil {
		return Synthesis{}, err
	}

	rawStyle, err := args.text(ParamStyle)
	if err != nil {
		return Synthesis{}, err
	}

	style := strings.ToLower(rawStyle)

	if style != StyleDefault && !v.catalog.StylesSupported(synthesis.Language) {
		return Synthesis{}, badRequest(msgFmtStyleNotSupported, synthesis.Model)
	}

	if !slices.Contains(StylesV1, style) {
		return Synthesis{}, badRequest(msgFmtInvalidStyle, style, strings.Join(StylesV1, listSeparator))
	}

	synthesis.Voice = voice
	synthesis.Style = style
	synthesis.LanguageName = v.catalog.LanguageName(synthesis.Language)

	return synthesis, nil
}

func (v *Validator) v2(args Params, synthesis Synthesis) (Synthesis, error) {
	args.setDefault(ParamVoice, VoiceRaw)

	accents := v.catalog.Accents(synthesis.Language)

	rawAccent, err := args.text(ParamAccent)
	if err != nil {
		return Synthesis{}, err
	}

	// An explicit empty accent is rejected below; only an absent one defaults.
	accentKey := strings.ToLower(rawAccent)
	if args[ParamAccent] == nil && len(accents) > 0 {
		accentKey = strings.ToLower(accents[len(accents)-1].Key)
	}

	formatted := FormatAccentKey(accentKey)

	index := slices.IndexFunc(accents, func(accent core.Accent) bool { return accent.Key == formatted })
	if index < 0 {
		keys := make([]string, 0, len(accents))
		for _, accent := range accents {
			keys = append(keys, strings.ToLower(accent.Key))
		}

		return Synthesis{}, badRequest(msgFmtInvalidAccent, accentKey, strings.Join(keys, listSeparator))
	}

	voice, err := v.voice(args, synthesis)
	if err != nil {
		return Synthesis{}, err
	}

	synthesis.Voice = voice
	synthesis.Accent = accents[index]
	synthesis.AccentFileKey = strings.ReplaceAll(accentKey, "_", "-")

	return synthesis, nil
}

func (v *Validator) voice(args Params, synthesis Synthesis) (string, error) {
	rawVoice, err := args.text(ParamVoice)
	if err != nil {
		return "", err
	}

	voice := strings.ToLower(rawVoice)
	if voice == "" {
		voice = VoiceRaw
	}

	speakers := v.catalog.Speakers()

	if voice != VoiceRaw && !slices.Contains(speakers, voice) {
		return "", badRequest(msgFmtInvalidVoice, voice, strings.Join(speakers, listSeparator))
	}

	if voice == VoiceRaw && synthesis.FromAudio() {
		return "", badRequest(msgRawFromAudio)
	}

	return voice, nil
}

// FormatAccentKey maps a lower-case accent to the key used by the v2 models.
func FormatAccentKey(accent string) string {
	switch accent {
	case "en-default":
		return "EN-Default"
	case "en-newest":
		return "EN-Newest"
	default:
		return strings.ToUpper(accent)
	}
}

func responseFormat(args Params, formats []Format) (Format, error) {
	names := make([]string, 0, len(formats))
	for _, format := range formats {
		names = append(names, string(format))
	}

	raw, err := args.text(ParamResponseFormat)
	if err != nil {
		return "", err
	}

	format := Format(strings.ToLower(raw))
	if !slices.Contains(formats, format) {
		return "", badRequest(msgFmtInvalidFormat, raw, strings.Join(names, listSeparator))
	}

	return format, nil
}

func unknownParams(args Params, allowed []string) []string {
	var invalid []string

	for key := range args {
		if !slices.Contains(allowed, key) {
			invalid = append(invalid, key)
		}
	}

	sort.Strings(invalid)

	return invalid
}
