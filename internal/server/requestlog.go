package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"
)

// requestID is a short random correlation id for log lines.
func requestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// RequestLogMiddleware logs state-changing requests after completion.
// Bodies are never logged: draft and store payloads carry signatures,
// and signature material does not belong in log storage.
func RequestLogMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	reqLogger := logger.With("component", "http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sw, r)

		reqLogger.Info("request",
			"request_id", requestID(),
			"method", r.Method,
			"path", r.URL.Path,
			"client_ip", extractClientIP(r),
			"status", sw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
