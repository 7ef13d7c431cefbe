package simnet

import (
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Errno is the small error code a socket reports through Errno().
type Errno int

const (
	ErrnoOK Errno = iota
	ErrnoWouldBlock
	ErrnoNotConnected
	ErrnoShutdown
	ErrnoRefused
	ErrnoReset
)

func (e Errno) String() string {
	switch e {
	case ErrnoOK:
		return "ok"
	case ErrnoWouldBlock:
		return "would-block"
	case ErrnoNotConnected:
		return "not-connected"
	case ErrnoShutdown:
		return "shutdown"
	case ErrnoRefused:
		return "connection-refused"
	case ErrnoReset:
		return "connection-reset"
	default:
		return fmt.Sprintf("errno(%d)", int(e))
	}
}

// SocketID is a stable identifier usable as a map key for the lifetime of
// the socket.
type SocketID uint64

// Network owns listeners and creates connected socket pairs. Every byte
// sent crosses one link delay before it is delivered; the transport is
// reliable and ordered.
type Network struct {
	sched      *Scheduler
	log        *slog.Logger
	linkDelay  time.Duration
	sendBufCap int
	listeners  map[string]*Listener
	nextSockID SocketID
}

// DefaultSendBufferSize bounds how many in-flight bytes a socket accepts
// before Send starts reporting pushback.
const DefaultSendBufferSize = 64 * 1024

func NewNetwork(sched *Scheduler, log *slog.Logger, linkDelay time.Duration, sendBufCap int) *Network {
	if sendBufCap <= 0 {
		sendBufCap = DefaultSendBufferSize
	}
	if linkDelay < 0 {
		linkDelay = 0
	}
	return &Network{
		sched:      sched,
		log:        log,
		linkDelay:  linkDelay,
		sendBufCap: sendBufCap,
		listeners:  make(map[string]*Listener),
	}
}

// Scheduler returns the event loop the network schedules on.
func (n *Network) Scheduler() *Scheduler {
	return n.sched
}

// Listener accepts inbound connections on one address.
type Listener struct {
	net      *Network
	addr     string
	onAccept func(conn *Socket, peerAddr string)
	closed   bool
}

// Listen binds addr and delivers accepted connections to onAccept.
func (n *Network) Listen(addr string, onAccept func(conn *Socket, peerAddr string)) (*Listener, error) {
	if _, ok := n.listeners[addr]; ok {
		return nil, fmt.Errorf("simnet: address %s already bound", addr)
	}
	l := &Listener{net: n, addr: addr, onAccept: onAccept}
	n.listeners[addr] = l
	return l, nil
}

// Close unbinds the listener. Established connections are unaffected.
// Close is idempotent.
func (l *Listener) Close() {
	if l.closed {
		return
	}
	l.closed = true
	delete(l.net.listeners, l.addr)
}

func (l *Listener) Addr() string {
	return l.addr
}

// Socket is one endpoint of a byte-stream connection. All operations are
// non-blocking; completion is signalled through callbacks.
type Socket struct {
	id     SocketID
	net    *Network
	local  string
	remote string
	peer   *Socket

	connected bool
	closed    bool
	errno     Errno

	recvQ      [][]byte
	inFlight   int
	backlogged bool

	onRecv        func(*Socket)
	onSend        func(*Socket, int)
	onClose       func(*Socket)
	onError       func(*Socket)
	onConnectOK   func(*Socket)
	onConnectFail func(*Socket)
}

func (n *Network) newSocket(local, remote string) *Socket {
	n.nextSockID++
	return &Socket{
		id:     n.nextSockID,
		net:    n,
		local:  local,
		remote: remote,
	}
}

// Dial starts a connection attempt from localAddr to remoteAddr. The
// attempt resolves asynchronously: the connect-success or connect-failure
// callback fires after one link delay.
func (n *Network) Dial(localAddr, remoteAddr string) *Socket {
	s := n.newSocket(localAddr, remoteAddr)
	n.sched.Schedule(n.linkDelay, func() { n.completeConnect(s) })
	return s
}

func (n *Network) completeConnect(s *Socket) {
	if s.closed {
		return
	}
	l, ok := n.listeners[s.remote]
	if !ok || l.closed {
		s.errno = ErrnoRefused
		if s.onConnectFail != nil {
			s.onConnectFail(s)
		}
		return
	}

	p := n.newSocket(s.remote, s.local)
	p.connected = true
	s.peer = p
	p.peer = s
	s.connected = true

	if l.onAccept != nil {
		l.onAccept(p, s.local)
	}
	if s.onConnectOK != nil {
		s.onConnectOK(s)
	}
}

func (s *Socket) ID() SocketID       { return s.id }
func (s *Socket) LocalAddr() string  { return s.local }
func (s *Socket) PeerAddr() string   { return s.remote }
func (s *Socket) Errno() Errno       { return s.errno }
func (s *Socket) Connected() bool    { return s.connected && !s.closed }

func (s *Socket) SetRecvCallback(fn func(*Socket))             { s.onRecv = fn }
func (s *Socket) SetSendCallback(fn func(*Socket, int))        { s.onSend = fn }
func (s *Socket) SetCloseCallbacks(onClose, onError func(*Socket)) {
	s.onClose = onClose
	s.onError = onError
}
func (s *Socket) SetConnectCallbacks(onOK, onFail func(*Socket)) {
	s.onConnectOK = onOK
	s.onConnectFail = onFail
}

// Send queues p for delivery to the peer and returns the number of bytes
// that fit within the send buffer, which may be less than len(p). Surplus
// bytes are still queued by the transport; a short return is the pushback
// signal, and the send callback fires once buffer space frees up.
// Returns -1 on a closed or errored socket. Bytes sent while the connect
// is still in flight are buffered and flow once it completes; they are
// discarded if the connect fails.
func (s *Socket) Send(p []byte) int {
	if s.closed || s.errno != ErrnoOK {
		return -1
	}

	free := s.net.sendBufCap - s.inFlight
	if free < 0 {
		free = 0
	}
	accepted := min(len(p), free)
	if accepted < len(p) {
		s.backlogged = true
	}
	s.inFlight += len(p)

	data := slices.Clone(p)
	s.net.sched.Schedule(s.net.linkDelay, func() { s.completeDelivery(data) })
	return accepted
}

func (s *Socket) completeDelivery(data []byte) {
	s.inFlight -= len(data)

	// peer is nil until the connect completes; the connect event always
	// precedes same-tick deliveries, so a nil peer here means the
	// connect failed and the bytes are dropped.
	if p := s.peer; p != nil && !p.closed {
		p.recvQ = append(p.recvQ, data)
		if p.onRecv != nil {
			p.onRecv(p)
		}
	}

	if s.backlogged && !s.closed {
		if avail := s.net.sendBufCap - s.inFlight; avail > 0 {
			s.backlogged = false
			if s.onSend != nil {
				s.onSend(s, avail)
			}
		}
	}
}

// Recv drains one received chunk, or returns nil when nothing is pending.
func (s *Socket) Recv() []byte {
	if len(s.recvQ) == 0 {
		return nil
	}
	chunk := s.recvQ[0]
	s.recvQ = s.recvQ[1:]
	return chunk
}

// Close shuts the socket down gracefully. The peer observes the close
// through its close callback after one link delay. Close is idempotent.
func (s *Socket) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.errno == ErrnoOK {
		s.errno = ErrnoShutdown
	}

	peer := s.peer
	if peer == nil {
		return
	}
	s.net.sched.Schedule(s.net.linkDelay, func() {
		if peer.closed {
			return
		}
		if peer.errno == ErrnoOK {
			peer.errno = ErrnoShutdown
		}
		if peer.onClose != nil {
			peer.onClose(peer)
		}
	})
}

// Abort tears the connection down abruptly. The peer observes a
// connection-reset error through its error callback after one link delay.
func (s *Socket) Abort() {
	if s.closed {
		return
	}
	s.closed = true
	s.errno = ErrnoReset

	peer := s.peer
	if peer == nil {
		return
	}
	s.net.sched.Schedule(s.net.linkDelay, func() {
		if peer.closed {
			return
		}
		peer.errno = ErrnoReset
		if peer.onError != nil {
			peer.onError(peer)
		}
	})
}
