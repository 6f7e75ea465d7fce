// internal/server/server.go

// Package server accepts the single dashboard TCP connection and feeds its
// inbound stream to the command dispatcher.
package server

import (
	"context"
	"errors"
	"log"
	"net"

	"github.com/standfire/engine-controller/internal/command"
	"github.com/standfire/engine-controller/internal/outbox"
	"github.com/standfire/engine-controller/internal/protocol"
)

// DefaultAddr is the fixed dashboard listen address.
const DefaultAddr = ":2707"

// Server owns the listener. One connection is served at a time; when it
// drops, the controller keeps running headless and the listener re-accepts.
type Server struct {
	addr     string
	out      *outbox.Outbox
	dispatch *command.Dispatcher
}

// New creates a Server listening on addr.
func New(addr string, out *outbox.Outbox, dispatch *command.Dispatcher) *Server {
	return &Server{addr: addr, out: out, dispatch: dispatch}
}

// Run accepts dashboard connections until ctx is cancelled. It returns an
// error only if the listener cannot be opened.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	log.Printf("server: listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			log.Printf("server: accept failed: %v", err)
			continue
		}
		s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log.Printf("server: accepted dashboard %v", conn.RemoteAddr())

	// The configuration greeting must be the first message on the wire.
	if err := s.out.Attach(conn); err != nil {
		log.Printf("server: failed to greet dashboard: %v", err)
		return
	}
	defer s.out.Detach(conn)

	// Unblock the read loop when the supervisor shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sc := protocol.NewScanner(conn)
	for {
		raw, err := sc.Next()
		if err != nil {
			var stray *protocol.MalformedError
			if errors.As(err, &stray) {
				log.Printf("server: %v", stray)
				s.out.SendControl(protocol.NewMalformed(
					string(stray.Bytes), "bytes do not begin a JSON object"))
				continue
			}
			log.Printf("server: dashboard disconnected: %v", err)
			return
		}
		s.dispatch.Handle(ctx, raw)
	}
}
