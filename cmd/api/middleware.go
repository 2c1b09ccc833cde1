package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pactflow/httpx"
	"pactflow/wallet"
)

type ctxKey string

const ctxKeySession ctxKey = "session"

func sessionFrom(ctx context.Context) *wallet.Session {
	sess, _ := ctx.Value(ctxKeySession).(*wallet.Session)
	return sess
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestID echoes the caller's X-Request-ID or assigns one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(httpx.RequestIDHeader)
		if id == "" {
			id = httpx.NewRequestID()
		}
		w.Header().Set(httpx.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     wrapped.statusCode,
			"duration":   time.Since(start).String(),
			"request_id": w.Header().Get(httpx.RequestIDHeader),
		}).Info("request")
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.WithField("panic", err).Error("panic recovered")
				httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authenticate turns the bearer token into a wallet session on the context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "bearer token required", nil)
			return
		}
		sess, err := s.verifier.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid or expired token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeySession, sess)))
	})
}
