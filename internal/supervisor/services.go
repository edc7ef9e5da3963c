package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Func adapts a Serve function into a named suture service.
type Func struct {
	Name string
	Run  func(ctx context.Context) error
}

// Serve implements suture.Service.
func (f Func) Serve(ctx context.Context) error {
	return f.Run(ctx)
}

func (f Func) String() string { return f.Name }

// HTTPServer is the part of *http.Server the supervisor needs.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server until its context ends, then shuts it
// down gracefully.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService wraps server.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. A listen error is returned so the
// supervisor restarts the server.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// Lifecycle is a component with explicit start and stop, like the
// processing service.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop()
}

// LifecycleService starts l, holds it until the context ends, then stops it.
type LifecycleService struct {
	name string
	l    Lifecycle
}

// NewLifecycleService wraps l.
func NewLifecycleService(name string, l Lifecycle) *LifecycleService {
	return &LifecycleService{name: name, l: l}
}

// Serve implements suture.Service.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.l.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", s.name, err)
	}
	<-ctx.Done()
	s.l.Stop()
	return ctx.Err()
}

func (s *LifecycleService) String() string { return s.name }
