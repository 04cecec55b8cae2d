package tcp

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/roomrelay/relayd/internal/core"
	"github.com/roomrelay/relayd/internal/proto"
)

// Server accepts raw TCP connections and bridges them to hub sessions.
// It owns every connection handle; the hub only ever sees session IDs.
type Server struct {
	hub      *core.Hub
	addr     string
	maxFrame int
	log      *zerolog.Logger

	ln net.Listener
	wg sync.WaitGroup
}

// NewServer builds a TCP server for the given listen address.
func NewServer(hub *core.Hub, addr string, maxFrame int, logger *zerolog.Logger) *Server {
	return &Server{
		hub:      hub,
		addr:     addr,
		maxFrame: maxFrame,
		log:      logger,
	}
}

// Listen binds the listen address. Split from Serve so callers can learn
// the bound address (":0" in tests) before serving.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled or the listener fails.
// It blocks; connection handlers run on their own goroutines.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			// A failed accept discards that connection only.
			s.log.Warn().Err(err).Msg("accept connection")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Cancellation must unblock the read loop below, not just the accept
	// loop, or shutdown waits forever on idle clients.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-connDone:
		}
	}()

	sess := s.hub.Connect()
	defer s.hub.Disconnect(sess)

	s.log.Debug().
		Str("session_id", sess.ID).
		Str("remote", conn.RemoteAddr().String()).
		Msg("connection accepted")

	// Write pump: drains the session's outbound envelopes onto the wire.
	// It exits when the hub closes the channel on disconnect.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for env := range sess.Events() {
			if err := proto.WriteFrame(conn, env); err != nil {
				s.log.Debug().Err(err).Str("session_id", sess.ID).Msg("write frame")
				conn.Close()
				return
			}
		}
	}()

	fr := proto.NewFrameReader(conn, s.maxFrame)
	for {
		frame, err := fr.Next()
		if err != nil {
			if errors.Is(err, proto.ErrFrameTooLarge) {
				// The stream cannot be resynchronized past an oversized
				// frame; drop the connection.
				s.log.Warn().Str("session_id", sess.ID).Msg("frame too large, closing connection")
			}
			break
		}
		s.hub.Dispatch(sess, frame)
	}

	s.hub.Disconnect(sess)
	<-writeDone
}
