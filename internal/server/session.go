package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/turret/internal/debug"
	"github.com/cjeanneret/turret/internal/hw/stepper"
	"github.com/cjeanneret/turret/internal/journal"
	"github.com/cjeanneret/turret/internal/protocol"
	"github.com/cjeanneret/turret/internal/safety"
)

// maxLineBytes bounds one request line.
const maxLineBytes = 64 * 1024

var (
	errClientGone  = errors.New("client disconnected")
	errLineTooLong = fmt.Errorf("request line exceeds %d bytes", maxLineBytes)
)

// Session is one operator connection. Three loops share it: receive,
// position broadcast and manual motion. The first to fail ends all three.
type Session struct {
	ID string

	srv  *Server
	conn net.Conn

	writeMu sync.Mutex
}

func newSession(srv *Server, conn net.Conn) *Session {
	return &Session{
		ID:   uuid.NewString(),
		srv:  srv,
		conn: conn,
	}
}

// Run serves the connection until the client leaves, a write fails, ctx is
// cancelled or the interlock trips. It always closes the connection.
func (s *Session) Run(ctx context.Context) error {
	opts := s.srv.opts
	remote := s.conn.RemoteAddr().String()
	log := debug.Logger().With().Str("session", s.ID).Str("remote", remote).Logger()
	log.Info().Msg("Session opened")
	opts.Metrics.SessionOpened()
	opts.Journal.Record(journal.SessionOpen, s.ID, remote)

	g, gctx := errgroup.WithContext(ctx)
	// Closing the connection is what unblocks the reader.
	stop := context.AfterFunc(gctx, func() { s.conn.Close() })
	defer stop()

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-s.srv.tripped():
			return safety.ErrTripped
		}
	})
	g.Go(func() error { return s.receive(gctx) })
	g.Go(func() error { return s.broadcast(gctx) })
	g.Go(func() error { return s.manual(gctx) })

	err := g.Wait()
	s.conn.Close()
	if s.srv.isTripped() {
		err = safety.ErrTripped
	}
	s.end(err)

	switch {
	case errors.Is(err, safety.ErrTripped):
		log.Warn().Msg("Session terminated by emergency stop")
	case err == nil, errors.Is(err, errClientGone), errors.Is(err, context.Canceled):
		log.Info().Msg("Session closed")
	default:
		log.Warn().Err(err).Msg("Session closed on error")
	}
	return err
}

// end leaves the hardware in its safe state between sessions: no standing
// manual motion and the relay inactive. Motor enable state is kept.
func (s *Session) end(err error) {
	opts := s.srv.opts
	opts.Controller.ClearIntent()

	result := "closed"
	if errors.Is(err, safety.ErrTripped) {
		result = "tripped"
	} else if opts.Relay != nil {
		opts.Relay.ForceInactive()
	}
	opts.Metrics.SessionEnded(result)
	opts.Journal.Record(journal.SessionClose, s.ID, result)
}

func (s *Session) receive(ctx context.Context) error {
	br := bufio.NewReader(s.conn)

	for {
		line, err := readLine(br, maxLineBytes)
		if errors.Is(err, errLineTooLong) {
			if err := s.send(s.invalid(err)); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return errClientGone
			}
			return fmt.Errorf("read: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		resp := s.handle(line)
		if s.srv.isTripped() {
			// A trip reaches the client as connection loss only.
			return nil
		}
		if err := s.send(resp); err != nil {
			return err
		}
	}
}

// readLine returns the next newline-terminated line. A line longer than
// limit is consumed up to its newline and reported as errLineTooLong, so
// the next call starts on a fresh line. A final line without newline is
// returned as is.
func readLine(br *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err != nil:
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return line, nil
			}
			return nil, err
		case tooLong:
			return nil, errLineTooLong
		default:
			return line, nil
		}
	}
}

func (s *Session) broadcast(ctx context.Context) error {
	opts := s.srv.opts
	ticker := time.NewTicker(opts.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pos := opts.Controller.Position()
			if opts.Positions != nil {
				opts.Positions.PublishPosition(pos.Yaw, pos.Pitch)
			}
			if err := s.send(protocol.Angles(protocol.ActionGetAngles, pos.Yaw, pos.Pitch)); err != nil {
				return err
			}
		}
	}
}

func (s *Session) manual(ctx context.Context) error {
	ctrl := s.srv.opts.Controller
	ticker := time.NewTicker(s.srv.opts.ManualInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := ctrl.ApplyManualTick(); err != nil {
				if errors.Is(err, stepper.ErrHalted) {
					// The trip watcher ends the session.
					return nil
				}
				debug.Warn("manual tick: %v", err)
			}
		}
	}
}

// send writes one response line. Writers from all loops are serialized so
// lines never interleave.
func (s *Session) send(resp protocol.Response) error {
	b, err := resp.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", resp.Action, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.srv.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if _, err := s.conn.Write(b); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
