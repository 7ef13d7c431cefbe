package proxy

import (
	"log/slog"
	"time"

	"github.com/anvall/lbsim/internal/simnet"
	"github.com/anvall/lbsim/internal/strategy"
	"github.com/anvall/lbsim/internal/wire"
)

// clientState tracks one accepted client connection: its reassembly buffer
// and the backend socket open for each backend address this client is
// currently talking to (at most one per backend).
type clientState struct {
	sock     *simnet.Socket
	rx       wire.Buffer
	backends map[string]*simnet.Socket
}

// backendState tracks one backend-side connection and the client it serves.
// A backend socket serves exactly one client.
type backendState struct {
	sock   *simnet.Socket
	rx     wire.Buffer
	client *simnet.Socket
	addr   string
	ready  bool
}

// pendingRequest holds a request waiting for its freshly dialed backend
// connection to complete. At most one per backend socket.
type pendingRequest struct {
	client  *simnet.Socket
	message []byte
	addr    string
}

// requestKey identifies an in-flight request for RTT measurement.
type requestKey struct {
	sock simnet.SocketID
	seq  uint32
}

// Stats are the proxy's request counters.
type Stats struct {
	Accepted uint64
	Routed   uint64
	Dropped  uint64
}

// Proxy is the L7 load-balancer core. It owns every connection-level map;
// sockets are referenced by their stable ids, and closing a socket removes
// it from all maps in one pass.
type Proxy struct {
	log   *slog.Logger
	net   *simnet.Network
	sched *simnet.Scheduler
	addr  string
	strat strategy.Strategy

	listener  *simnet.Listener
	clients   map[simnet.SocketID]*clientState
	backends  map[simnet.SocketID]*backendState
	pending   map[simnet.SocketID]*pendingRequest
	sendTimes map[requestKey]time.Time

	stats Stats
}

func New(net *simnet.Network, addr string, strat strategy.Strategy, log *slog.Logger) *Proxy {
	return &Proxy{
		log:       log,
		net:       net,
		sched:     net.Scheduler(),
		addr:      addr,
		strat:     strat,
		clients:   make(map[simnet.SocketID]*clientState),
		backends:  make(map[simnet.SocketID]*backendState),
		pending:   make(map[simnet.SocketID]*pendingRequest),
		sendTimes: make(map[requestKey]time.Time),
	}
}

// Start binds the listening endpoint.
func (p *Proxy) Start() error {
	l, err := p.net.Listen(p.addr, p.handleAccept)
	if err != nil {
		return err
	}
	p.listener = l
	p.log.Info("load balancer listening", slog.String("addr", p.addr))
	return nil
}

// Stop closes the listener, tears down every client together with its
// backend sockets and pending records, and leaves the strategy state
// intact for post-run inspection.
func (p *Proxy) Stop() {
	if p.listener != nil {
		p.listener.Close()
		p.listener = nil
	}

	clientSocks := make([]*simnet.Socket, 0, len(p.clients))
	for _, st := range p.clients {
		clientSocks = append(clientSocks, st.sock)
	}
	for _, sock := range clientSocks {
		p.cleanupClient(sock)
	}

	for id, pend := range p.pending {
		p.strat.NotifyFinished(pend.addr)
		delete(p.pending, id)
		if bs, ok := p.backends[id]; ok {
			p.cleanupBackendSocket(bs.sock, false)
		}
	}

	clear(p.sendTimes)
	p.log.Info("load balancer stopped")
}

// Stats returns the request counters.
func (p *Proxy) Stats() Stats {
	return p.stats
}

func (p *Proxy) handleAccept(conn *simnet.Socket, peerAddr string) {
	p.log.Debug("accepted client connection",
		slog.String("peer", peerAddr),
		slog.Uint64("socket", uint64(conn.ID())))

	conn.SetRecvCallback(p.handleClientRead)
	conn.SetSendCallback(p.handleWritable)
	conn.SetCloseCallbacks(p.handleClientClose, p.handleClientError)

	p.clients[conn.ID()] = &clientState{
		sock:     conn,
		backends: make(map[string]*simnet.Socket),
	}
	p.stats.Accepted++
}

func (p *Proxy) handleClientRead(sock *simnet.Socket) {
	st, ok := p.clients[sock.ID()]
	if !ok {
		p.log.Debug("read for untracked client socket, ignoring",
			slog.Uint64("socket", uint64(sock.ID())))
		return
	}

	for chunk := sock.Recv(); chunk != nil; chunk = sock.Recv() {
		st.rx.Append(chunk)
	}

	for {
		h, msg, ok := st.rx.Next()
		if !ok {
			break
		}
		p.forwardRequest(st, h, msg)
	}

	if errno := sock.Errno(); readFailed(errno) {
		p.log.Warn("error reading from client",
			slog.Uint64("socket", uint64(sock.ID())),
			slog.String("errno", errno.String()))
		p.cleanupClient(sock)
	}
}

func (p *Proxy) forwardRequest(st *clientState, h wire.Header, msg []byte) {
	addr, chosen := p.strat.Choose(h.L7ID)
	if !chosen {
		p.stats.Dropped++
		p.log.Warn("no backend chosen, dropping request",
			slog.Uint64("seq", uint64(h.Seq)),
			slog.Uint64("l7_id", h.L7ID))
		return
	}

	p.log.Debug("request assigned",
		slog.Uint64("seq", uint64(h.Seq)),
		slog.Uint64("l7_id", h.L7ID),
		slog.String("backend", addr))

	bsock, exists := st.backends[addr]
	if exists && bsock.Errno() != simnet.ErrnoOK {
		// Stale entry left by an errored connection. Purge it and dial
		// fresh.
		p.cleanupBackendSocket(bsock, true)
		delete(st.backends, addr)
		exists = false
	}

	p.stats.Routed++

	if exists {
		p.strat.NotifySent(addr)
		p.sendTimes[requestKey{bsock.ID(), h.Seq}] = p.sched.Now()
		p.sendToBackend(bsock, msg)
		return
	}

	nb := p.net.Dial(p.addr, addr)
	// The in-flight count includes the pending connect; a failed connect
	// reverses it through NotifyFinished.
	p.strat.NotifySent(addr)

	p.pending[nb.ID()] = &pendingRequest{client: st.sock, message: msg, addr: addr}
	p.backends[nb.ID()] = &backendState{sock: nb, client: st.sock, addr: addr}
	st.backends[addr] = nb

	nb.SetConnectCallbacks(p.handleBackendConnectSuccess, p.handleBackendConnectFail)
	nb.SetCloseCallbacks(p.handleBackendClose, p.handleBackendError)
}

func (p *Proxy) handleBackendConnectSuccess(sock *simnet.Socket) {
	pend, ok := p.pending[sock.ID()]
	if !ok {
		p.log.Warn("backend connected with no pending request, closing",
			slog.Uint64("socket", uint64(sock.ID())))
		p.cleanupBackendSocket(sock, false)
		return
	}
	delete(p.pending, sock.ID())

	if pend.client == nil || pend.client.Errno() != simnet.ErrnoOK {
		p.log.Warn("client vanished before backend connected, dropping request",
			slog.String("backend", pend.addr))
		p.strat.NotifyFinished(pend.addr)
		p.cleanupBackendSocket(sock, false)
		return
	}

	bs, ok := p.backends[sock.ID()]
	if !ok {
		bs = &backendState{sock: sock, client: pend.client, addr: pend.addr}
		p.backends[sock.ID()] = bs
	}
	bs.ready = true

	sock.SetRecvCallback(p.handleBackendRead)
	sock.SetSendCallback(p.handleWritable)

	h, err := wire.PeekHeader(pend.message)
	if err != nil {
		p.log.Error("pending request shorter than a header, dropping",
			slog.String("backend", pend.addr))
		p.strat.NotifyFinished(pend.addr)
		p.cleanupBackendSocket(sock, false)
		return
	}
	p.sendTimes[requestKey{sock.ID(), h.Seq}] = p.sched.Now()
	p.sendToBackend(sock, pend.message)
}

func (p *Proxy) handleBackendConnectFail(sock *simnet.Socket) {
	if pend, ok := p.pending[sock.ID()]; ok {
		p.log.Warn("backend connect failed, dropping request",
			slog.String("backend", pend.addr),
			slog.String("errno", sock.Errno().String()))
		p.strat.NotifyFinished(pend.addr)
		delete(p.pending, sock.ID())
	} else {
		p.log.Warn("backend connect failed with no pending request",
			slog.Uint64("socket", uint64(sock.ID())))
	}
	p.cleanupBackendSocket(sock, false)
}

func (p *Proxy) handleBackendRead(sock *simnet.Socket) {
	bs, ok := p.backends[sock.ID()]
	if !ok {
		p.log.Debug("read from untracked backend socket, ignoring",
			slog.Uint64("socket", uint64(sock.ID())))
		return
	}
	if !bs.ready {
		p.log.Error("read from backend before connect completed, tearing down",
			slog.String("backend", bs.addr))
		p.cleanupBackendSocket(sock, false)
		return
	}

	client := bs.client
	if client == nil || client.Errno() != simnet.ErrnoOK {
		p.log.Debug("client gone for backend socket, cleaning up",
			slog.String("backend", bs.addr))
		p.cleanupBackendSocket(sock, false)
		return
	}

	for chunk := sock.Recv(); chunk != nil; chunk = sock.Recv() {
		bs.rx.Append(chunk)
	}

	for {
		h, msg, ok := bs.rx.Next()
		if !ok {
			break
		}

		key := requestKey{sock.ID(), h.Seq}
		if sendTime, ok := p.sendTimes[key]; ok {
			rtt := p.sched.Now().Sub(sendTime)
			p.strat.RecordLatency(bs.addr, rtt)
			delete(p.sendTimes, key)
		} else {
			p.log.Warn("no send time recorded for response",
				slog.Uint64("seq", uint64(h.Seq)),
				slog.String("backend", bs.addr))
		}
		p.strat.NotifyFinished(bs.addr)

		p.sendToClient(client, msg)
	}

	if errno := sock.Errno(); readFailed(errno) {
		p.log.Warn("error reading from backend",
			slog.String("backend", bs.addr),
			slog.String("errno", errno.String()))
		p.cleanupBackendSocket(sock, false)
	}
}

func (p *Proxy) sendToClient(client *simnet.Socket, msg []byte) {
	if client.Errno() != simnet.ErrnoOK {
		p.log.Warn("dropping response for unusable client socket",
			slog.Uint64("socket", uint64(client.ID())))
		return
	}

	sent := client.Send(msg)
	switch {
	case sent < 0:
		p.log.Warn("error relaying response to client",
			slog.Uint64("socket", uint64(client.ID())),
			slog.String("errno", client.Errno().String()))
	case sent < len(msg):
		// Client-side congestion. Stop reading from this client's
		// backends until the client socket drains.
		p.log.Debug("client send buffer full, pausing backend reads",
			slog.Int("sent", sent),
			slog.Int("size", len(msg)))
		if st, ok := p.clients[client.ID()]; ok {
			for _, bsock := range st.backends {
				if bsock.Errno() == simnet.ErrnoOK {
					bsock.SetRecvCallback(nil)
				}
			}
		}
	}
}

func (p *Proxy) sendToBackend(sock *simnet.Socket, msg []byte) {
	bs := p.backends[sock.ID()]

	if sock.Errno() != simnet.ErrnoOK {
		p.log.Warn("backend socket unusable before send",
			slog.Uint64("socket", uint64(sock.ID())),
			slog.String("errno", sock.Errno().String()))
		if bs != nil {
			p.strat.NotifyFinished(bs.addr)
		}
		p.cleanupBackendSocket(sock, false)
		return
	}

	sent := sock.Send(msg)
	switch {
	case sent < 0:
		p.log.Warn("error forwarding request to backend",
			slog.String("errno", sock.Errno().String()))
		if bs != nil {
			p.strat.NotifyFinished(bs.addr)
		}
	case sent < len(msg):
		// Backend-side congestion. Stop reading from the owning client
		// until the backend socket drains.
		p.log.Debug("backend send buffer full, pausing client reads",
			slog.Int("sent", sent),
			slog.Int("size", len(msg)))
		if bs != nil && bs.client != nil && bs.client.Errno() == simnet.ErrnoOK {
			bs.client.SetRecvCallback(nil)
		}
	}
}

// handleWritable restores the reads paused by send pushback on the
// opposite side of the congested flow and schedules an immediate poll so
// buffered bytes are picked up.
func (p *Proxy) handleWritable(sock *simnet.Socket, avail int) {
	if bs, ok := p.backends[sock.ID()]; ok {
		client := bs.client
		if client != nil && client.Errno() == simnet.ErrnoOK {
			client.SetRecvCallback(p.handleClientRead)
			p.sched.Schedule(0, func() { p.handleClientRead(client) })
		}
		return
	}

	if st, ok := p.clients[sock.ID()]; ok {
		for _, bsock := range st.backends {
			if bsock.Errno() == simnet.ErrnoOK {
				bsock.SetRecvCallback(p.handleBackendRead)
				b := bsock
				p.sched.Schedule(0, func() { p.handleBackendRead(b) })
			}
		}
		return
	}

	p.log.Debug("writable callback for untracked socket",
		slog.Uint64("socket", uint64(sock.ID())))
}

func (p *Proxy) handleClientClose(sock *simnet.Socket) {
	p.log.Debug("client closed connection", slog.Uint64("socket", uint64(sock.ID())))
	p.cleanupClient(sock)
}

func (p *Proxy) handleClientError(sock *simnet.Socket) {
	p.log.Warn("client socket error",
		slog.Uint64("socket", uint64(sock.ID())),
		slog.String("errno", sock.Errno().String()))
	p.cleanupClient(sock)
}

func (p *Proxy) handleBackendClose(sock *simnet.Socket) {
	p.log.Debug("backend closed connection", slog.Uint64("socket", uint64(sock.ID())))
	p.cleanupBackendSocket(sock, false)
}

func (p *Proxy) handleBackendError(sock *simnet.Socket) {
	p.log.Warn("backend socket error",
		slog.Uint64("socket", uint64(sock.ID())),
		slog.String("errno", sock.Errno().String()))

	if pend, ok := p.pending[sock.ID()]; ok {
		p.strat.NotifyFinished(pend.addr)
		delete(p.pending, sock.ID())
	}
	p.cleanupBackendSocket(sock, false)
}

// cleanupClient tears down a client and everything attached to it: pending
// connects it originated (accounted through NotifyFinished), every backend
// socket it owns, and its own state.
func (p *Proxy) cleanupClient(sock *simnet.Socket) {
	if sock == nil {
		return
	}

	for id, pend := range p.pending {
		if pend.client != sock {
			continue
		}
		p.log.Warn("dropping pending request for closing client",
			slog.String("backend", pend.addr))
		p.strat.NotifyFinished(pend.addr)
		delete(p.pending, id)
	}

	if st, ok := p.clients[sock.ID()]; ok {
		socks := make([]*simnet.Socket, 0, len(st.backends))
		for _, bsock := range st.backends {
			socks = append(socks, bsock)
		}
		for _, bsock := range socks {
			p.cleanupBackendSocket(bsock, false)
		}
		delete(p.clients, sock.ID())
	}

	sock.SetRecvCallback(nil)
	sock.SetSendCallback(nil)
	sock.SetCloseCallbacks(nil, nil)
	sock.Close()
}

// cleanupBackendSocket removes one backend socket from every map,
// accounting a finish for each request still awaiting a response on it.
// With mapEraseOnly the socket itself is left alone, used when purging a
// stale map entry whose socket already died.
func (p *Proxy) cleanupBackendSocket(sock *simnet.Socket, mapEraseOnly bool) {
	if sock == nil {
		return
	}
	id := sock.ID()

	var addr string
	bs, tracked := p.backends[id]
	if tracked {
		addr = bs.addr
		if bs.client != nil {
			if cst, ok := p.clients[bs.client.ID()]; ok {
				if cst.backends[addr] == sock {
					delete(cst.backends, addr)
				}
			}
		}
		delete(p.backends, id)
	}

	if pend, ok := p.pending[id]; ok {
		if addr == "" {
			addr = pend.addr
		}
		delete(p.pending, id)
	}

	for key := range p.sendTimes {
		if key.sock != id {
			continue
		}
		if addr != "" {
			p.strat.NotifyFinished(addr)
		} else {
			p.log.Warn("outstanding request on backend socket with unknown address",
				slog.Uint64("socket", uint64(id)))
		}
		delete(p.sendTimes, key)
	}

	if !mapEraseOnly {
		sock.SetRecvCallback(nil)
		sock.SetSendCallback(nil)
		sock.SetCloseCallbacks(nil, nil)
		sock.SetConnectCallbacks(nil, nil)
		sock.Close()
	}
}

// readFailed reports whether a post-read errno is terminal for the socket.
func readFailed(errno simnet.Errno) bool {
	switch errno {
	case simnet.ErrnoOK, simnet.ErrnoWouldBlock, simnet.ErrnoShutdown, simnet.ErrnoNotConnected:
		return false
	default:
		return true
	}
}
