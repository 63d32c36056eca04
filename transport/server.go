package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rbaliyan/clusterbus/wire"
)

// Server accepts inbound peer connections and decodes envelopes off each
// one, handing application envelopes to a router callback. It answers a
// PING by writing the single literal PONG byte straight to the socket,
// outside the length-prefixed framing; any envelope that fails to decode
// is treated as unrecoverable and closes that one connection, matching
// the Java peer handler's behaviour of ending a stream it can no longer
// parse.
type Server struct {
	listener   net.Listener
	onEnvelope func(from wire.NodeAddress, env wire.Envelope)
	onError    func(error)

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

func WithServerOnEnvelope(fn func(from wire.NodeAddress, env wire.Envelope)) ServerOption {
	return func(s *Server) { s.onEnvelope = fn }
}

func WithServerOnError(fn func(error)) ServerOption {
	return func(s *Server) { s.onError = fn }
}

// Listen binds addr and returns a Server ready to Serve. addr is the
// "host:port" to bind; use "0.0.0.0:port" to listen on every interface.
func Listen(addr string, opts ...ServerOption) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBindFailed, err)
	}
	s := &Server{
		listener:   ln,
		onEnvelope: func(wire.NodeAddress, wire.Envelope) {},
		onError:    func(error) {},
		conns:      make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Addr returns the address the server is actually bound to, which
// matters when the configured port was 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until ctx is canceled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	var writeMu sync.Mutex
	writePong := func() error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return wire.WritePong(conn)
	}

	var peer wire.NodeAddress
	framer := wire.NewFramer(conn)
	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			return
		}
		env, err := wire.Decode(frame)
		if err != nil {
			s.onError(fmt.Errorf("%w: %v", wire.ErrDecodeFailed, err))
			return
		}

		if peer.IsZero() {
			peer = wire.NodeAddress{Host: env.SenderHost, Port: env.SenderPort}
		}

		if env.IsPing() {
			if err := writePong(); err != nil {
				return
			}
			continue
		}
		s.onEnvelope(peer, env)
	}
}

// Close stops accepting new connections and closes every connection
// currently being served.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}
