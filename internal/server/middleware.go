package server

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syntrixbase/livequery/internal/metrics"
	"github.com/syntrixbase/livequery/internal/server/ratelimit"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// APIError is the JSON body of error responses.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{Code: code, Message: message}); err != nil {
		slog.Warn("Failed to encode error response", "error", err)
	}
}

// GetRequestID returns the request ID stored by the request ID middleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws so that the first one sees the request first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func (s *httpService) wrapMiddleware(h http.Handler) http.Handler {
	mws := []Middleware{
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
		securityHeadersMiddleware,
	}
	if s.cfg.EnableCORS {
		mws = append(mws, s.corsMiddleware)
	}
	if s.limiter != nil {
		mws = append(mws, s.rateLimitMiddleware)
	}
	return Chain(h, mws...)
}

func (s *httpService) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyRequestID, reqID)))
	})
}

// loggingMiddleware logs and counts every request. Websocket upgrades are
// logged once the handshake is done; the connection outlives the request.
func (s *httpService) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(ww, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", GetRequestID(r.Context()),
			"ip", r.RemoteAddr,
		}
		if ww.hijacked {
			metrics.HTTPRequests.WithLabelValues("upgrade").Inc()
			s.logger.Debug("Connection upgraded", attrs...)
			return
		}
		metrics.HTTPRequests.WithLabelValues(statusClass(ww.statusCode)).Inc()

		level := slog.LevelInfo
		switch {
		case ww.statusCode >= 500 && r.Context().Err() != nil:
			level = slog.LevelWarn
		case ww.statusCode >= 500:
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "HTTP Request", append(attrs, "status", ww.statusCode)...)
	})
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// recoveryMiddleware turns a handler panic into a 500. Nothing is written
// once the connection has been hijacked.
func (s *httpService) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			s.logger.Error("Panic recovered",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
				"stack", string(debug.Stack()),
				"request_id", GetRequestID(r.Context()),
			)
			if rw, ok := w.(*responseWriter); ok && rw.hijacked {
				return
			}
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

var securityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
	"Content-Security-Policy": "default-src 'none'",
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range securityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed reports whether origin may make cross-origin requests. An
// empty allow list admits every origin.
func (s *httpService) originAllowed(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *httpService) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			if s.cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Methods", strings.Join(s.cfg.AllowedMethods, ", "))
			h.Set("Access-Control-Allow-Headers", strings.Join(s.cfg.AllowedHeaders, ", "))
			h.Set("Access-Control-Max-Age", strconv.Itoa(s.cfg.CORSMaxAge))
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware limits requests per client address. Websocket
// handshakes count as one request; messages on an open connection are
// limited by the realtime layer.
func (s *httpService) rateLimitMiddleware(next http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(s.cfg.RateLimit.Window.Round(time.Second) / time.Second))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(ratelimit.ClientKey(r, s.cfg.RateLimit.TrustProxy)) {
			w.Header().Set("Retry-After", retryAfter)
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter records the status code and whether the connection was
// hijacked for a websocket.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	hijacked   bool
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, buf, err := h.Hijack()
	if err == nil {
		rw.hijacked = true
	}
	return conn, buf, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
