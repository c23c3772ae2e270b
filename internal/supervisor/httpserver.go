// Connlens - Network Connection Telemetry and Geographic Visualization
// Copyright 2026 Connlens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/connlens/connlens

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/connlens/connlens/internal/logging"
)

// HTTPServer runs an http.Server as a supervised service.
type HTTPServer struct {
	addr            string
	handler         http.Handler
	timeout         time.Duration
	shutdownTimeout time.Duration
}

// NewHTTPServer creates a supervised HTTP server.
func NewHTTPServer(addr string, handler http.Handler, timeout, shutdownTimeout time.Duration) *HTTPServer {
	return &HTTPServer{
		addr:            addr,
		handler:         handler,
		timeout:         timeout,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve listens until ctx is canceled, then drains with the shutdown
// timeout.
func (s *HTTPServer) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.timeout,
		// No WriteTimeout: WebSocket connections outlive any sane value.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
