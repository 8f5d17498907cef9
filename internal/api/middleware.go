package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/openvoice-api/internal/metrics"
	"github.com/book-expert/openvoice-api/internal/response"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const unmatchedRoute = "unmatched"

// Logging logs the start and the end of every request.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			requestID := chimiddleware.GetReqID(r.Context())

			log.Info("[%s] Started processing %s request from %s => %s", requestID, r.Method, r.RemoteAddr, r.URL)

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info("[%s] Finished processing %s request from %s => %s (%d, %d bytes, %s)",
				requestID, r.Method, r.RemoteAddr, r.URL, status(ww), ww.BytesWritten(), time.Since(started))
		})
	}
}

// Metrics records the status and duration of every request under its route pattern.
func Metrics(collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			collector.ObserveHTTP(r.Method, route, status(ww), time.Since(started))
		})
	}
}

// Recover answers a panicking request with the generic 500 envelope.
func Recover(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}

				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}

				log.Error("Panic while processing %s %s: %v\n%s", r.Method, r.URL.Path, recovered, debug.Stack())
				response.Write(w, response.Fail(http.StatusInternalServerError, response.MessageInternalError))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// CORS allows requests from any origin.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func status(ww chimiddleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}

	return ww.Status()
}
