// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

// Package middleware holds the HTTP middleware chain shared by every
// route: request identity, structured access logging and Prometheus
// instrumentation.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/connlens/connlens/internal/logging"
)

// RequestID tags each request with an ID, honoring one supplied by an
// upstream proxy, and exposes it in the response header and the request
// context for log correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)
		ctx := logging.ContextWithRequestID(r.Context(), requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
