package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wrannaman/agentdo/errors"
	"github.com/wrannaman/agentdo/ratelimit"
)

type contextKey string

const apiKeyContextKey contextKey = "api-key"

// apiKeyFrom returns the authenticated caller's key, or "" on
// unauthenticated routes.
func apiKeyFrom(r *http.Request) string {
	key, _ := r.Context().Value(apiKeyContextKey).(string)
	return key
}

// wrap applies the outermost middleware: security headers, CORS, the
// request body cap, and request logging.
func (s *Server) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, x-api-key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Reject oversized bodies on the declared length before routing;
		// MaxBytesReader still covers chunked requests that lie or omit it.
		if r.ContentLength > MaxBodySize {
			s.writeError(w, errors.PayloadTooLarge("request body exceeds 100KB"))
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Request(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ratedByIP gates a public route on a per-IP rate policy.
func (s *Server) ratedByIP(policy ratelimit.Policy, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(w, policy, clientIP(r)) {
			return
		}
		next(w, r)
	}
}

// authed requires a valid x-api-key and gates the route on a per-key
// rate policy.
func (s *Server) authed(policy ratelimit.Policy, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get("x-api-key")
		if presented == "" {
			s.writeError(w, errors.Unauthorized("x-api-key header required"))
			return
		}

		key, err := s.keys.Resolve(r.Context(), presented)
		if err != nil {
			s.writeError(w, errors.Unauthorized("invalid API key"))
			return
		}

		if !s.allow(w, policy, key.Key) {
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyContextKey, key.Key)
		next(w, r.WithContext(ctx))
	}
}

// authedByIP requires a valid x-api-key like authed, but keeps the rate
// counter keyed by source address. Used on the polling routes, where the
// original budget is per caller address rather than per key.
func (s *Server) authedByIP(policy ratelimit.Policy, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get("x-api-key")
		if presented == "" {
			s.writeError(w, errors.Unauthorized("x-api-key header required"))
			return
		}

		key, err := s.keys.Resolve(r.Context(), presented)
		if err != nil {
			s.writeError(w, errors.Unauthorized("invalid API key"))
			return
		}

		if !s.allow(w, policy, clientIP(r)) {
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyContextKey, key.Key)
		next(w, r.WithContext(ctx))
	}
}

// allow consults the limiter, writing the 429 itself when the budget is
// spent. Returns false when the request must not proceed.
func (s *Server) allow(w http.ResponseWriter, policy ratelimit.Policy, key string) bool {
	decision := s.limiter.Allow(policy, key)
	if decision.Allowed {
		return true
	}

	s.log.RateLimited(policy.Name, key, decision.RetryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds()+0.5)))
	s.writeError(w, errors.RateLimited(
		"rate limit exceeded for "+policy.Name, decision.RetryAfter))
	return false
}

// clientIP extracts the caller's address, honoring the first hop of
// X-Forwarded-For when a proxy set it.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON renders a successful response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode failed", map[string]interface{}{"error": err.Error()})
	}
}

// writeError renders a structured error with its mapped HTTP status.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	berr := errors.AsBoardError(err)
	if berr == nil {
		berr = errors.Internal("internal error", errors.WithCause(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatus(err))
	if encErr := json.NewEncoder(w).Encode(berr); encErr != nil {
		s.log.Error("error encode failed", map[string]interface{}{"error": encErr.Error()})
	}
}
