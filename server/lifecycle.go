package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/teranos/foreman/errors"
)

const (
	// statsInterval paces the WebSocket stats stream
	statsInterval = time.Second

	// shutdownGrace bounds how long Stop waits for in-flight requests
	shutdownGrace = 10 * time.Second
)

// Start binds the configured address and serves until the listener is
// closed by Stop. Blocks; run it from the caller's main goroutine.
func (s *Server) Start() error {
	// Hub before broadcasters, so messages always have a consumer.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run()
	}()

	s.startStatsBroadcaster()
	s.startJobUpdateForwarder()

	requested := s.srvCfg.GetPort()
	port, err := findAvailablePort(requested)
	if err != nil {
		return errors.Wrap(err, "failed to find available port")
	}
	if port != requested {
		s.logger.Infow("Port in use, using alternative",
			"requested_port", requested,
			"actual_port", port)
	}

	addr := fmt.Sprintf("%s:%d", s.srvCfg.GetHost(), port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to bind %s", addr)
	}

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// No global write timeout: /api/tasks sync mode and /file_parse
		// legitimately hold the response open for a full job lifetime.
	}

	s.logger.Infow("Server ready",
		"url", fmt.Sprintf("http://localhost:%d", port),
		"addr", addr)

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Stop drains in-flight requests, closes WebSocket clients, and waits
// for server goroutines to finish
func (s *Server) Stop() error {
	s.logger.Infow("Initiating server shutdown")

	var shutdownErr error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = errors.Wrap(err, "http shutdown")
		}
	}

	// Cancelling the context stops the hub, the broadcasters, and every
	// client write pump; read pumps exit when their conns close.
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Infow("Server stopped")
	case <-time.After(shutdownGrace):
		s.logger.Warnw("Server goroutines did not stop in time")
	}
	return shutdownErr
}

// startStatsBroadcaster pushes a stats frame to WebSocket clients once
// per second
func (s *Server) startStatsBroadcaster() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.broadcastMessage(s.statsMessage())
			}
		}
	}()
}

// startJobUpdateForwarder relays engine lifecycle snapshots to
// WebSocket clients as job_update events
func (s *Server) startJobUpdateForwarder() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				return
			case job, ok := <-s.engine.Updates():
				if !ok {
					return
				}
				s.broadcastMessage(map[string]interface{}{
					"type": "job_update",
					"data": job,
				})
			}
		}
	}()
}

// isPortAvailable checks if a port is available for binding
func isPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// findAvailablePort tries the requested port first, then up to ten
// successors
func findAvailablePort(requested int) (int, error) {
	if isPortAvailable(requested) {
		return requested, nil
	}
	for port := requested + 1; port <= requested+10; port++ {
		if isPortAvailable(port) {
			return port, nil
		}
	}
	return 0, errors.Newf("no available port in range %d-%d", requested, requested+10)
}
