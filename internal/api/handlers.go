package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/openvoice-api/internal/artifact"
	"github.com/book-expert/openvoice-api/internal/audio"
	"github.com/book-expert/openvoice-api/internal/request"
	"github.com/book-expert/openvoice-api/internal/response"
	"github.com/book-expert/openvoice-api/internal/voice"
	"github.com/go-chi/chi/v5"
)

// StreamChunkSize is the size of the chunks written by streaming responses.
const StreamChunkSize = 1024

const (
	messageHome             = "OpenVoice API"
	messageHealthy          = "OK"
	messageEngineDown       = "Inference engine unavailable"
	messageNotFound         = "Not Found"
	messageMethodNotAllowed = "Method Not Allowed"
	messageBodyTooLarge     = "Request body too large"

	dataKeyURL       = "url"
	dataKeyAudioData = "audio_data"
	dataKeyStatus    = "status"

	queryStream          = "stream"
	headerForwardedProto = "X-Forwarded-Proto"
)

// Handler serves the voice endpoints.
type Handler struct {
	service      *voice.Service
	log          *logger.Logger
	maxBodyBytes int64
}

// NewHandler creates a Handler.
func NewHandler(service *voice.Service, log *logger.Logger, maxBodyBytes int64) *Handler {
	return &Handler{service: service, log: log, maxBodyBytes: maxBodyBytes}
}

// Home answers with the service banner.
func (h *Handler) Home(w http.ResponseWriter, _ *http.Request) {
	response.Write(w, response.OK(messageHome, nil))
}

// Health reports whether the inference engine answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	err := h.service.Health(r.Context())
	if err != nil {
		h.log.Warn("Health check failed: %v", err)
		response.Write(w, response.New(false, http.StatusServiceUnavailable, messageEngineDown, map[string]any{dataKeyStatus: "unhealthy"}))

		return
	}

	response.Write(w, response.OK(messageHealthy, map[string]any{dataKeyStatus: "ok"}))
}

// NotFound answers unknown routes with the envelope.
func (h *Handler) NotFound(w http.ResponseWriter, _ *http.Request) {
	response.Write(w, response.Fail(http.StatusNotFound, messageNotFound))
}

// MethodNotAllowed answers known routes called with the wrong method.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	response.Write(w, response.Fail(http.StatusMethodNotAllowed, messageMethodNotAllowed))
}

// GenerateAudio handles POST /{version}/generate-audio.
func (h *Handler) GenerateAudio(w http.ResponseWriter, r *http.Request) {
	params, ok := h.decodeParams(w, r)
	if !ok {
		return
	}

	result, err := h.service.Generate(r.Context(), chi.URLParam(r, "version"), params)
	h.respond(w, r, result, err, response.MessageGenerated)
}

// GenerateAudioLegacy handles POST /generate-audio/{version}, which uses the
// language, text and speaker parameter names.
func (h *Handler) GenerateAudioLegacy(w http.ResponseWriter, r *http.Request) {
	params, ok := h.decodeParams(w, r)
	if !ok {
		return
	}

	result, err := h.service.Generate(r.Context(), chi.URLParam(r, "version"), request.LegacyParams(params))
	h.respond(w, r, result, err, response.MessageGenerated)
}

// ChangeVoice handles POST /{version}/change-voice.
func (h *Handler) ChangeVoice(w http.ResponseWriter, r *http.Request) {
	params, ok := h.decodeParams(w, r)
	if !ok {
		return
	}

	result, err := h.service.ChangeVoice(r.Context(), chi.URLParam(r, "version"), params)
	h.respond(w, r, result, err, response.MessageConverted)
}

// Speech handles POST /{version}/audio/speech, the OpenAI compatible endpoint.
func (h *Handler) Speech(w http.ResponseWriter, r *http.Request) {
	params, ok := h.decodeParams(w, r)
	if !ok {
		return
	}

	result, err := h.service.Speech(r.Context(), chi.URLParam(r, "version"), params)
	h.respond(w, r, result, err, response.MessageGenerated)
}

// AudioFile serves a stored artifact, streamed in chunks when stream=true.
func (h *Handler) AudioFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	object, err := h.service.Store().Open(r.Context(), name)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			response.Write(w, response.Fail(http.StatusNotFound, response.MessageFileNotFound))

			return
		}

		h.internalError(w, fmt.Errorf("failed to open audio file %s: %w", name, err))

		return
	}
	defer object.Close()

	if strings.EqualFold(r.URL.Query().Get(queryStream), "true") {
		h.stream(w, object)

		return
	}

	contentType := object.ContentType
	if contentType == "" {
		contentType = audio.MIMETypeWAV
	}

	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, object.Name, object.ModTime, object)
}

func (h *Handler) decodeParams(w http.ResponseWriter, r *http.Request) (request.Params, bool) {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	decoder.UseNumber()

	var params request.Params

	err := decoder.Decode(&params)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			response.Write(w, response.Fail(http.StatusRequestEntityTooLarge, messageBodyTooLarge))

			return nil, false
		}

		response.Write(w, response.Fail(http.StatusBadRequest, response.MessageInvalidJSON))

		return nil, false
	}

	if params == nil {
		params = request.Params{}
	}

	return params, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, result *voice.Result, err error, message string) {
	if err != nil {
		var requestErr *request.Error
		if errors.As(err, &requestErr) {
			response.Write(w, response.Fail(requestErr.Code, requestErr.Message))

			return
		}

		h.internalError(w, err)

		return
	}

	switch result.Format {
	case request.FormatURL:
		response.Write(w, response.OK(message, map[string]any{
			dataKeyURL: fmt.Sprintf("%s://%s%s%s", scheme(r), r.Host, audioFilePrefix, result.Artifact.Name),
		}))
	case request.FormatBase64:
		response.Write(w, response.OK(message, map[string]any{
			dataKeyAudioData: base64.StdEncoding.EncodeToString(result.Audio),
		}))
	case request.FormatBytes:
		w.Header().Set("Content-Type", audio.MIMETypeWAV)
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Audio)))
		w.WriteHeader(http.StatusOK)

		_, writeErr := w.Write(result.Audio)
		if writeErr != nil {
			h.log.Warn("Failed to write audio bytes: %v", writeErr)
		}
	case request.FormatStream, request.FormatWAV:
		h.stream(w, bytes.NewReader(result.Audio))
	default:
		h.internalError(w, fmt.Errorf("unhandled response format %q", result.Format))
	}
}

// stream copies source in StreamChunkSize chunks, flushing after each one.
func (h *Handler) stream(w http.ResponseWriter, source io.Reader) {
	w.Header().Set("Content-Type", audio.MIMETypeWAV)
	w.WriteHeader(http.StatusOK)

	controller := http.NewResponseController(w)
	buffer := make([]byte, StreamChunkSize)

	for {
		n, readErr := source.Read(buffer)
		if n > 0 {
			_, writeErr := w.Write(buffer[:n])
			if writeErr != nil {
				h.log.Warn("Client went away while streaming audio: %v", writeErr)

				return
			}

			flushErr := controller.Flush()
			if flushErr != nil && !errors.Is(flushErr, http.ErrNotSupported) {
				h.log.Warn("Failed to flush audio chunk: %v", flushErr)

				return
			}
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				h.log.Error("Failed to read audio while streaming: %v", readErr)
			}

			return
		}
	}
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	h.log.Error("Error: %v", err)
	response.Write(w, response.Fail(http.StatusInternalServerError, response.MessageInternalError))
}

func scheme(r *http.Request) string {
	if proto := r.Header.Get(headerForwardedProto); proto != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}

	if r.TLS != nil {
		return "https"
	}

	return "http"
}
