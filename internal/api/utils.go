package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"visitor-relay/internal/api/middleware"
	"visitor-relay/internal/queue"
)

type apiFunc func(http.ResponseWriter, *http.Request) error

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func (s *APIServer) corsConfig() middleware.CORSConfig {
	origins := s.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return middleware.CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Requested-With", "X-Tenant-Key", "X-Request-ID"},
		MaxAge:         10 * time.Minute,
	}
}

func (s *APIServer) MakeHTTPHandleFunc(f apiFunc, extra ...middleware.Middleware) http.HandlerFunc {
	baseHandler := func(w http.ResponseWriter, r *http.Request) {
		errc := make(chan error, 1)

		job := queue.Job{
			Fn: func() error {
				return f(w, r)
			},
			Errc: errc,
		}

		s.requestQueueManager.EnqueueJob(job)

		err := <-errc
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				if httpErr.ErrorLog != nil {
					s.logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "status", httpErr.StatusCode, "error", httpErr.ErrorLog)
				}
				WriteJSON(w, httpErr.StatusCode, ApiError{Error: httpErr.Message})
			} else {
				s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
				WriteJSON(w, http.StatusInternalServerError, ApiError{Error: "Internal server error"})
			}
		}
	}

	middlewares := []middleware.Middleware{
		middleware.CORS(s.corsConfig()),
		middleware.Logging(s.logger),
	}

	return middleware.Chain(middleware.Chain(baseHandler, extra...), middlewares...)
}

// MakeStreamHandleFunc is MakeHTTPHandleFunc for handlers that take over the
// connection, such as websocket upgrades. They bypass the request queue so a
// long lived stream never holds a worker.
func (s *APIServer) MakeStreamHandleFunc(f apiFunc) http.HandlerFunc {
	baseHandler := func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				if httpErr.ErrorLog != nil {
					s.logger.Warn("stream request failed", "path", r.URL.Path, "status", httpErr.StatusCode, "error", httpErr.ErrorLog)
				}
				WriteJSON(w, httpErr.StatusCode, ApiError{Error: httpErr.Message})
				return
			}
			s.logger.Error("stream request failed", "path", r.URL.Path, "error", err)
			WriteJSON(w, http.StatusInternalServerError, ApiError{Error: "Internal server error"})
		}
	}

	return middleware.Chain(baseHandler, middleware.CORS(s.corsConfig()), middleware.Logging(s.logger))
}
