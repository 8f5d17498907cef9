package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/openvoice-api/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWAVPayload = "RIFF....WAVEfmt "
	testTimeout    = 5 * time.Second
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewHTTPClient(server.URL+"/", testTimeout)
}

func writeWAV(responseWriter http.ResponseWriter) {
	responseWriter.Header().Set(headerContentType, contentTypeWAV)
	_, _ = responseWriter.Write([]byte(testWAVPayload))
}

func TestHTTPClient_Synthesize_Success(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(responseWriter http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodPost, request.Method)
		assert.Equal(t, apiSynthesize, request.URL.Path)
		assert.Equal(t, contentTypeJSON, request.Header.Get(headerContentType))
		assert.Equal(t, contentTypeWAV, request.Header.Get(headerAccept))

		var job core.SynthesisJob

		err := json.NewDecoder(request.Body).Decode(&job)
		assert.NoError(t, err)
		assert.Equal(t, "Hello, world!", job.Text)
		assert.Equal(t, "EN", job.Language)
		assert.Equal(t, "English", job.LanguageName)
		assert.Equal(t, "cheerful", job.Style)
		assert.InEpsilon(t, 1.25, job.Speed, 0.0001)

		writeWAV(responseWriter)
	})

	audio, err := client.Synthesize(context.Background(), core.SynthesisJob{
		Version:      core.VersionV1,
		Device:       "cpu",
		Language:     "EN",
		LanguageName: "English",
		Text:         "Hello, world!",
		Speed:        1.25,
		Style:        "cheerful",
	})
	require.NoError(t, err)
	assert.Equal(t, testWAVPayload, string(audio))
}

func TestHTTPClient_Synthesize_EmptyText(t *testing.T) {
	t.Parallel()

	client := NewHTTPClient("http://127.0.0.1:1", testTimeout)

	_, err := client.Synthesize(context.Background(), core.SynthesisJob{Text: ""})
	require.ErrorIs(t, err, ErrTextEmpty)
}

func TestHTTPClient_Synthesize_StructuredError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.Header().Set(headerContentType, contentTypeJSON)
		responseWriter.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(responseWriter).Encode(ErrorResponse{
			Detail:    "language not loaded",
			ErrorCode: "LANGUAGE_NOT_LOADED",
		})
	})

	_, err := client.Synthesize(context.Background(), core.SynthesisJob{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "language not loaded")
	assert.Contains(t, err.Error(), "LANGUAGE_NOT_LOADED")
}

func TestHTTPClient_Synthesize_RawError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(responseWriter http.ResponseWriter, _ *http.Request) {
		http.Error(responseWriter, "CUDA out of memory", http.StatusInternalServerError)
	})

	_, err := client.Synthesize(context.Background(), core.SynthesisJob{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestHTTPClient_Synthesize_WrongContentType(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.Header().Set(headerContentType, "text/plain")
		_, _ = responseWriter.Write([]byte("not audio"))
	})

	_, err := client.Synthesize(context.Background(), core.SynthesisJob{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content type")
}

func TestHTTPClient_Convert(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(responseWriter http.ResponseWriter, request *http.Request) {
		assert.Equal(t, apiConvert, request.URL.Path)

		var job core.ConversionJob

		err := json.NewDecoder(request.Body).Decode(&job)
		assert.NoError(t, err)
		assert.Equal(t, []byte("source audio"), job.Audio)
		assert.Equal(t, "/ckpt/en-us.pth", job.SourceEmbeddingPath)
		assert.Equal(t, core.Embedding{0.5, -0.25}, job.Target)
		assert.Equal(t, "@OpenVoiceAPI", job.Watermark)

		writeWAV(responseWriter)
	})

	audio, err := client.Convert(context.Background(), core.ConversionJob{
		Version:             core.VersionV2,
		Audio:               []byte("source audio"),
		SourceEmbeddingPath: "/ckpt/en-us.pth",
		Target:              core.Embedding{0.5, -0.25},
		Watermark:           "@OpenVoiceAPI",
	})
	require.NoError(t, err)
	assert.Equal(t, testWAVPayload, string(audio))

	_, err = client.Convert(context.Background(), core.ConversionJob{})
	require.ErrorIs(t, err, ErrAudioEmpty)
}

func TestHTTPClient_Accents(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(responseWriter http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodGet, request.Method)
		assert.Equal(t, apiSpeakers, request.URL.Path)
		assert.Equal(t, "EN", request.URL.Query().Get("language"))

		responseWriter.Header().Set(headerContentType, contentTypeJSON)
		_, _ = responseWriter.Write([]byte(`{"speakers":[{"key":"EN-US","id":0},{"key":"EN-Default","id":1}]}`))
	})

	accents, err := client.Accents(context.Background(), "EN")
	require.NoError(t, err)
	assert.Equal(t, []core.Accent{{Key: "EN-US", ID: 0}, {Key: "EN-Default", ID: 1}}, accents)
}

func TestHTTPClient_ExtractEmbedding(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(responseWriter http.ResponseWriter, request *http.Request) {
		assert.Equal(t, apiEmbeddings, request.URL.Path)

		var req core.EmbeddingRequest

		err := json.NewDecoder(request.Body).Decode(&req)
		assert.NoError(t, err)
		assert.True(t, req.VAD)

		responseWriter.Header().Set(headerContentType, contentTypeJSON)
		_, _ = responseWriter.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	})

	embedding, err := client.ExtractEmbedding(context.Background(), core.EmbeddingRequest{
		Version: core.VersionV1,
		Audio:   []byte("mp3"),
		VAD:     true,
	})
	require.NoError(t, err)
	assert.Len(t, embedding, 3)

	_, err = client.ExtractEmbedding(context.Background(), core.EmbeddingRequest{})
	require.ErrorIs(t, err, ErrAudioEmpty)
}

func TestHTTPClient_ExtractEmbedding_Empty(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(responseWriter http.ResponseWriter, _ *http.Request) {
		_, _ = responseWriter.Write([]byte(`{"embedding":[]}`))
	})

	_, err := client.ExtractEmbedding(context.Background(), core.EmbeddingRequest{Audio: []byte("mp3")})
	require.ErrorIs(t, err, ErrEmbeddingEmpty)
}

func TestHTTPClient_LoadModels(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(responseWriter http.ResponseWriter, request *http.Request) {
		assert.Equal(t, apiLoadModels, request.URL.Path)

		var spec core.ModelSpec

		err := json.NewDecoder(request.Body).Decode(&spec)
		assert.NoError(t, err)

		if spec.Version == core.VersionV2 {
			http.Error(responseWriter, "checkpoint missing", http.StatusNotFound)

			return
		}

		responseWriter.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.LoadModels(context.Background(), core.ModelSpec{Version: core.VersionV1}))

	err := client.LoadModels(context.Background(), core.ModelSpec{Version: core.VersionV2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint missing")
}

func TestHTTPClient_HealthCheck(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(responseWriter http.ResponseWriter, request *http.Request) {
		assert.Equal(t, apiHealth, request.URL.Path)
		responseWriter.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.HealthCheck(context.Background()))

	unhealthy := newTestClient(t, func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.WriteHeader(http.StatusServiceUnavailable)
	})

	require.Error(t, unhealthy.HealthCheck(context.Background()))
}

func TestHTTPClient_Timeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeWAV(responseWriter)
	}))
	t.Cleanup(server.Close)

	client := NewHTTPClient(server.URL, 20*time.Millisecond)

	_, err := client.Synthesize(context.Background(), core.SynthesisJob{Text: "hi"})
	require.Error(t, err)
}
