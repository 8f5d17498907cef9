// Package audio detects the type of uploaded clips and inspects WAV data
// produced by the inference engine.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/youpy/go-wav"
)

// Format represents a supported audio container.
type Format string

// Supported formats.
const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// MIME types of the supported formats.
const (
	MIMETypeWAV  = "audio/wav"
	MIMETypeMP3  = "audio/mpeg"
	mimeTypeXWAV = "audio/x-wav"
)

// Limits for a plausible WAV stream.
const (
	maxSampleRate = 192000
	maxChannels   = 8
)

// Error message formats.
const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtBitDepthValues  = "%w: bit depth must be 8, 16, 24, or 32, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
)

var (
	// ErrInvalidWAV is returned when data cannot be parsed as a WAV stream.
	ErrInvalidWAV = errors.New("invalid wav data")
	// ErrInvalidQuality is returned when a WAV header carries implausible values.
	ErrInvalidQuality = errors.New("invalid quality settings")
)

// supportedFormats is ordered so that listings are stable.
var supportedFormats = []struct {
	format Format
	mime   string
}{
	{format: FormatMP3, mime: MIMETypeMP3},
	{format: FormatWAV, mime: MIMETypeWAV},
}

// Detection is the result of sniffing an uploaded clip.
type Detection struct {
	// MIME is the detected type, with audio/x-wav reported as audio/wav.
	MIME string
	// Format is empty when the clip is not a supported format.
	Format Format
}

// Supported reports whether the clip can be converted.
func (d Detection) Supported() bool {
	return d.Format != ""
}

// Info describes a WAV stream.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Duration      time.Duration
}

// Detect sniffs the content type of data.
func Detect(data []byte) Detection {
	detected := mimetype.Detect(data)

	for _, candidate := range supportedFormats {
		if detected.Is(candidate.mime) {
			return Detection{MIME: candidate.mime, Format: candidate.format}
		}
	}

	mime, _, _ := strings.Cut(detected.String(), ";")
	if mime == mimeTypeXWAV {
		mime = MIMETypeWAV
	}

	return Detection{MIME: mime, Format: ""}
}

// SupportedExtensions returns the extensions accepted for uploads.
func SupportedExtensions() []string {
	extensions := make([]string, 0, len(supportedFormats))
	for _, candidate := range supportedFormats {
		extensions = append(extensions, string(candidate.format))
	}

	return extensions
}

// Inspect parses the WAV header of data and validates it.
func Inspect(data []byte) (Info, error) {
	reader := wav.NewReader(bytes.NewReader(data))

	format, err := reader.Format()
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	duration, err := reader.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	info := Info{
		SampleRate:    int(format.SampleRate),
		Channels:      int(format.NumChannels),
		BitsPerSample: int(format.BitsPerSample),
		Duration:      duration,
	}

	validationErr := info.Validate()
	if validationErr != nil {
		return Info{}, validationErr
	}

	return info, nil
}

// Validate checks that the stream parameters are within reasonable bounds.
func (i Info) Validate() error {
	if i.SampleRate < 1 || i.SampleRate > maxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidQuality, maxSampleRate, i.SampleRate)
	}

	switch i.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidQuality, i.BitsPerSample)
	}

	if i.Channels < 1 || i.Channels > maxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidQuality, maxChannels, i.Channels)
	}

	return nil
}
