// Package server implements the operator command server: a TCP listener that
// serves one client session at a time, exchanging newline-delimited JSON.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cjeanneret/turret/internal/debug"
	"github.com/cjeanneret/turret/internal/hw/actuator"
	"github.com/cjeanneret/turret/internal/hw/gpio"
	"github.com/cjeanneret/turret/internal/journal"
	"github.com/cjeanneret/turret/internal/logic/motion"
	"github.com/cjeanneret/turret/internal/observability"
	"github.com/cjeanneret/turret/internal/protocol"
	"github.com/cjeanneret/turret/internal/safety"
)

// ErrSessionActive is sent to a client that connects while another session
// is live.
var ErrSessionActive = errors.New("session already active")

// PositionSink receives every broadcast position. *web.StatusBroadcaster
// satisfies it.
type PositionSink interface {
	PublishPosition(yaw, pitch float64)
}

// Options wires the server to the hardware-facing components. Controller is
// required; every other dependency may be nil.
type Options struct {
	Controller *motion.Controller
	Relay      *actuator.Relay
	Interlock  *safety.Interlock
	Lines      *gpio.Lines
	Metrics    *observability.Collector
	Journal    *journal.Journal
	Positions  PositionSink

	BroadcastInterval time.Duration // unsolicited get_angles period
	ManualInterval    time.Duration // manual-motion tick period
	WriteTimeout      time.Duration // deadline for each response line
}

// Server accepts operator connections and runs at most one Session.
type Server struct {
	opts Options

	mu     sync.Mutex
	active *Session
}

// New creates a server. Zero intervals fall back to 100ms broadcast,
// 30ms manual tick and a 1s write deadline.
func New(opts Options) *Server {
	if opts.BroadcastInterval <= 0 {
		opts.BroadcastInterval = 100 * time.Millisecond
	}
	if opts.ManualInterval <= 0 {
		opts.ManualInterval = 30 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = time.Second
	}
	return &Server{opts: opts}
}

// ActiveSession returns the id of the live session, or "".
func (s *Server) ActiveSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.ID
}

// Run listens on addr and serves until ctx is cancelled or the interlock trips.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. It returns nil when ctx is cancelled and
// safety.ErrTripped once the interlock has tripped; in both cases the live
// session has ended before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.tripped():
		}
		ln.Close()
	}()

	debug.Info("Command server listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isTripped() {
				return safety.ErrTripped
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		sess, ok := s.claim(conn)
		if !ok {
			s.reject(conn)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Run(ctx)
			s.release(sess)
		}()
	}
}

// tripped returns a channel closed on trip, or nil (never ready) when the
// server runs without an interlock.
func (s *Server) tripped() <-chan struct{} {
	if s.opts.Interlock == nil {
		return nil
	}
	return s.opts.Interlock.Done()
}

func (s *Server) isTripped() bool {
	return s.opts.Interlock != nil && errors.Is(s.opts.Interlock.Err(), safety.ErrTripped)
}

func (s *Server) claim(conn net.Conn) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, false
	}
	s.active = newSession(s, conn)
	return s.active, true
}

func (s *Server) release(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == sess {
		s.active = nil
	}
}

// reject answers a surplus connection with one error line and closes it.
func (s *Server) reject(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	debug.Warn("Rejecting %s: %v", remote, ErrSessionActive)

	s.opts.Metrics.SessionRejected()
	s.opts.Journal.Record(journal.SessionRejected, "", remote)

	b, err := protocol.Error(protocol.ActionConnect, ErrSessionActive).Encode()
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	conn.Write(b)
}
