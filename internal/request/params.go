package request

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Parameter names.
const (
	ParamModel          = "model"
	ParamSpeed          = "speed"
	ParamInput          = "input"
	ParamResponseFormat = "response_format"
	ParamVoice          = "voice"
	ParamStyle          = "style"
	ParamAccent         = "accent"
	ParamAudioData      = "audio_data"
)

// First generation parameter names accepted on /generate-audio/{version}.
const (
	legacyParamLanguage = "language"
	legacyParamText     = "text"
	legacyParamSpeaker  = "speaker"
	legacyDefaultModel  = "en"
)

// Params is a decoded JSON request body. Numbers are expected as json.Number.
type Params map[string]any

// Clone returns a shallow copy, so validation never mutates the caller's map.
func (p Params) Clone() Params {
	clone := make(Params, len(p))
	for key, value := range p {
		clone[key] = value
	}

	return clone
}

// setDefault stores value under key unless the key is already present.
func (p Params) setDefault(key string, value any) {
	if _, ok := p[key]; !ok {
		p[key] = value
	}
}

// has reports whether key was sent, including an explicit null.
func (p Params) has(key string) bool {
	_, ok := p[key]

	return ok
}

// text returns the string value of key. Absent and null values read as empty.
func (p Params) text(key string) (string, error) {
	value, ok := p[key]
	if !ok || value == nil {
		return "", nil
	}

	str, isString := value.(string)
	if !isString {
		return "", badRequest("Parameter '%s' must be a string", key)
	}

	return str, nil
}

// LegacyParams translates the first generation parameter names (language,
// text, speaker) to the current ones. A missing language defaults to "en".
// Names that would overwrite a current parameter are left in place and
// rejected later as unknown parameters.
func LegacyParams(params Params) Params {
	translated := params.Clone()

	renames := []struct{ from, to string }{
		{from: legacyParamLanguage, to: ParamModel},
		{from: legacyParamText, to: ParamInput},
		{from: legacyParamSpeaker, to: ParamVoice},
	}

	for _, rename := range renames {
		value, ok := translated[rename.from]
		if !ok || translated.has(rename.to) {
			continue
		}

		delete(translated, rename.from)
		translated[rename.to] = value
	}

	if !translated.has(legacyParamLanguage) {
		translated.setDefault(ParamModel, legacyDefaultModel)
	}

	return translated
}

// parseSpeed accepts JSON numbers and numeric strings.
func parseSpeed(value any) (float64, bool) {
	var (
		speed float64
		err   error
	)

	switch typed := value.(type) {
	case json.Number:
		speed, err = typed.Float64()
	case float64:
		speed = typed
	case int:
		speed = float64(typed)
	case string:
		speed, err = strconv.ParseFloat(strings.TrimSpace(typed), 64)
	default:
		return 0, false
	}

	if err != nil || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return 0, false
	}

	return speed, true
}
