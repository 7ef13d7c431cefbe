package app

import (
	"log/slog"
	"time"

	"github.com/anvall/lbsim/internal/simnet"
	"github.com/anvall/lbsim/internal/wire"
)

// LatencyServer is a framed echo backend. Each reassembled request is
// counted and answered with the request's own header and an empty payload
// once the processing delay elapses.
type LatencyServer struct {
	log   *slog.Logger
	net   *simnet.Network
	sched *simnet.Scheduler
	addr  string
	delay time.Duration

	listener *simnet.Listener
	conns    map[simnet.SocketID]*serverConn

	requestsReceived uint64
}

type serverConn struct {
	sock *simnet.Socket
	rx   wire.Buffer
}

func NewLatencyServer(net *simnet.Network, addr string, delay time.Duration, log *slog.Logger) *LatencyServer {
	return &LatencyServer{
		log:   log,
		net:   net,
		sched: net.Scheduler(),
		addr:  addr,
		delay: delay,
		conns: make(map[simnet.SocketID]*serverConn),
	}
}

func (s *LatencyServer) Start() error {
	l, err := s.net.Listen(s.addr, s.handleAccept)
	if err != nil {
		return err
	}
	s.listener = l
	s.log.Debug("server listening", slog.String("addr", s.addr))
	return nil
}

func (s *LatencyServer) Stop() {
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	for id, c := range s.conns {
		c.sock.SetRecvCallback(nil)
		c.sock.SetCloseCallbacks(nil, nil)
		c.sock.Close()
		delete(s.conns, id)
	}
}

// RequestsReceived reports how many complete requests this server has
// processed.
func (s *LatencyServer) RequestsReceived() uint64 {
	return s.requestsReceived
}

// Addr returns the listen address.
func (s *LatencyServer) Addr() string {
	return s.addr
}

// FailConnections aborts every established connection, simulating a
// backend crash. The listener stays bound, so new connections succeed.
func (s *LatencyServer) FailConnections() {
	for id, c := range s.conns {
		c.sock.Abort()
		delete(s.conns, id)
	}
}

func (s *LatencyServer) handleAccept(conn *simnet.Socket, peerAddr string) {
	s.log.Debug("server accepted connection",
		slog.String("addr", s.addr),
		slog.String("peer", peerAddr))

	c := &serverConn{sock: conn}
	s.conns[conn.ID()] = c

	conn.SetCloseCallbacks(s.dropConn, s.dropConn)
	conn.SetRecvCallback(func(sock *simnet.Socket) { s.handleRead(c) })
}

func (s *LatencyServer) dropConn(sock *simnet.Socket) {
	delete(s.conns, sock.ID())
}

func (s *LatencyServer) handleRead(c *serverConn) {
	for chunk := c.sock.Recv(); chunk != nil; chunk = c.sock.Recv() {
		c.rx.Append(chunk)
	}

	for {
		h, _, ok := c.rx.Next()
		if !ok {
			break
		}
		s.processRequest(c, h)
	}
}

func (s *LatencyServer) processRequest(c *serverConn, h wire.Header) {
	s.requestsReceived++
	s.log.Debug("server received request",
		slog.String("addr", s.addr),
		slog.Uint64("seq", uint64(h.Seq)),
		slog.Uint64("total", s.requestsReceived))

	if s.delay > 0 {
		s.sched.Schedule(s.delay, func() { s.sendResponse(c, h) })
		return
	}
	s.sendResponse(c, h)
}

func (s *LatencyServer) sendResponse(c *serverConn, h wire.Header) {
	if _, ok := s.conns[c.sock.ID()]; !ok {
		s.log.Debug("connection gone before response could be sent",
			slog.Uint64("seq", uint64(h.Seq)))
		return
	}
	if sent := c.sock.Send(wire.EncodeMessage(h, nil)); sent < 0 {
		s.log.Warn("error sending response",
			slog.Uint64("seq", uint64(h.Seq)),
			slog.String("errno", c.sock.Errno().String()))
	}
}
