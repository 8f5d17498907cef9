// Package api exposes the voice service over HTTP.
package api

import (
	"net/http"

	"github.com/book-expert/logger"
	"github.com/book-expert/openvoice-api/internal/metrics"
	"github.com/book-expert/openvoice-api/internal/voice"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Routes.
const (
	RouteHome             = "/"
	RouteHealth           = "/healthz"
	RouteMetrics          = "/metrics"
	RouteGenerateLegacy   = "/generate-audio/{version}"
	RouteGenerate         = "/{version}/generate-audio"
	RouteChangeVoice      = "/{version}/change-voice"
	RouteSpeech           = "/{version}/audio/speech"
	RouteAudioFile        = "/audio-file/{filename}"
	audioFilePrefix       = "/audio-file/"
	defaultMaxRequestSize = 50 << 20
)

// Options configures the router.
type Options struct {
	// MaxBodyBytes limits request bodies; zero uses 50 MiB.
	MaxBodyBytes int64
	Metrics      *metrics.Collector
}

// NewRouter wires the middleware stack and the routes.
func NewRouter(service *voice.Service, log *logger.Logger, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxRequestSize
	}

	handler := NewHandler(service, log, opts.MaxBodyBytes)

	r := chi.NewRouter()

	r.Use(chimiddleware.StripSlashes)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logging(log))
	r.Use(Recover(log))
	r.Use(CORS)

	if opts.Metrics != nil {
		r.Use(Metrics(opts.Metrics))
		r.Method(http.MethodGet, RouteMetrics, opts.Metrics.Handler())
	}

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	r.Get(RouteHome, handler.Home)
	r.Get(RouteHealth, handler.Health)

	r.Post(RouteGenerateLegacy, handler.GenerateAudioLegacy)
	r.Post(RouteGenerate, handler.GenerateAudio)
	r.Post(RouteChangeVoice, handler.ChangeVoice)
	r.Post(RouteSpeech, handler.Speech)

	r.Get(RouteAudioFile, handler.AudioFile)

	return r
}
