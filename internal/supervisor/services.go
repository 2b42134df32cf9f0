package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPServer matches *http.Server's lifecycle methods, grounded on the
// teacher's own supervisor/services.HTTPServer interface (http_service.go)
// so HTTPServerService can be unit-tested against a fake without pulling in
// net/http.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService adapts an HTTPServer's ListenAndServe/Shutdown lifecycle
// to suture.Service's Serve(ctx) error shape, copied near-verbatim from the
// teacher's internal/supervisor/services/http_service.go.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPServerService wraps server as a supervised service.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string { return "http-server" }

// RunFunc adapts any `func(context.Context) error` that already blocks until
// ctx is cancelled (internal/nfc's reader loop, internal/playback's backend
// event pump and position broadcaster) directly into a suture.Service: these
// components were written against the same "run until ctx is done" shape the
// teacher's own long-running services use (internal/supervisor/services/
// websocket_service.go), so no translation logic is needed beyond naming.
type RunFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Serve implements suture.Service.
func (r RunFunc) Serve(ctx context.Context) error { return r.Fn(ctx) }

func (r RunFunc) String() string { return r.Name }

// TickerService runs fn on a fixed interval until ctx is cancelled, used for
// internal/upload's PurgeExpired sweep (spec §4.7, default every 5 min). It
// is grounded on the teacher's own WALCompactorService ticker-driven
// background-sweep shape (internal/supervisor/services/wal_service.go
// survey).
type TickerService struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context)
}

// Serve implements suture.Service.
func (t TickerService) Serve(ctx context.Context) error {
	interval := t.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Fn(ctx)
		}
	}
}

func (t TickerService) String() string { return t.Name }
