// Package statusws pushes machine status snapshots to WebSocket clients.
package statusws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fornellas/mgs/marlin"
)

const subscriberBufferSize = 16

const writeTimeout = 5 * time.Second

// StatusSource provides status snapshots, eg: controller.Controller.
type StatusSource interface {
	Subscribe(name string, size int) <-chan *marlin.StatusSnapshot
	Unsubscribe(name string)
	Status() *marlin.StatusSnapshot
}

// Server is a http.Handler that upgrades connections to WebSocket, and then sends the last
// status snapshot followed by every new one, as JSON text messages.
type Server struct {
	logger   *slog.Logger
	source   StatusSource
	upgrader websocket.Upgrader
}

func NewServer(ctx context.Context, source StatusSource) *Server {
	return &Server{
		logger: log.MustLogger(ctx).WithGroup("Status WebSocket"),
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) write(conn *websocket.Conn, snapshot *marlin.StatusSnapshot) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(snapshot)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := uuid.NewString()
	logger := s.logger.With("client", name, "remote-addr", r.RemoteAddr)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade failed", "err", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug("Close failed", "err", err)
		}
	}()
	logger.Info("Connected")

	ch := s.source.Subscribe(name, subscriberBufferSize)
	defer s.source.Unsubscribe(name)

	// Reading is required to process control messages and to detect the client going away.
	closedCh := make(chan struct{})
	go func() {
		defer close(closedCh)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.write(conn, s.source.Status()); err != nil {
		logger.Info("Write failed", "err", err)
		return
	}

	for {
		select {
		case snapshot, ok := <-ch:
			if !ok {
				return
			}
			if err := s.write(conn, snapshot); err != nil {
				logger.Info("Write failed", "err", err)
				return
			}
		case <-closedCh:
			logger.Info("Disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}

// ListenAndServe serves the status on address until ctx is done.
func ListenAndServe(ctx context.Context, address string, source StatusSource) error {
	ctx, logger := log.MustWithAttrs(ctx, "listen-address", address)

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("statusws: failed to listen: %s: %w", address, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/status", NewServer(ctx, source))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving status", "path", "/status")
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("statusws: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	if err != nil {
		return fmt.Errorf("statusws: %w", err)
	}
	return ctx.Err()
}
