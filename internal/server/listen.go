package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	apperrors "github.com/alexjbarnes/mdpreview/internal/errors"
	"github.com/alexjbarnes/mdpreview/internal/tlscert"
)

// ShutdownGrace bounds how long in-flight requests get after shutdown
// starts.
const ShutdownGrace = 2 * time.Second

// Listen binds host:port, moving to the next port while the address is
// in use, for at most attempts ports. Any other bind error is returned
// immediately.
func Listen(ctx context.Context, host string, port, attempts int, logger *slog.Logger) (net.Listener, int, error) {
	var lc net.ListenConfig

	for p := port; p < port+attempts && p <= 65535; p++ {
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err == nil {
			return ln, p, nil
		}

		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, 0, fmt.Errorf("binding port %d: %w", p, err)
		}

		logger.Info("port already in use, trying next one", slog.Int("port", p))
	}

	return nil, 0, fmt.Errorf("%w: %d-%d", apperrors.ErrNoFreePort, port, port+attempts-1)
}

// Serve runs handler on ln until ctx is cancelled, then shuts down with
// ShutdownGrace. Long-lived streams see their request context cancelled
// as soon as shutdown begins. A nil tlsFiles serves plain HTTP.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, tlsFiles *tlscert.Pair, logger *slog.Logger) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	// No WriteTimeout: /events and /ws hold responses open indefinitely.
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelBase)

	done := make(chan struct{})

	go func() {
		defer close(done)

		<-ctx.Done()
		logger.Info("shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown incomplete", slog.String("error", err.Error()))
			_ = server.Close()
		}
	}()

	var err error
	if tlsFiles != nil {
		err = server.ServeTLS(ln, tlsFiles.CertFile, tlsFiles.KeyFile)
	} else {
		err = server.Serve(ln)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	<-done

	return nil
}
