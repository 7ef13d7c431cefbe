package app

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/anvall/lbsim/internal/simnet"
	"github.com/anvall/lbsim/internal/wire"
)

// closeGrace is how long a client lingers after its last request before
// closing, leaving room for trailing responses.
const closeGrace = 500 * time.Millisecond

// ClientConfig parameterizes a LatencyClient.
type ClientConfig struct {
	LocalAddr       string
	RemoteAddr      string
	RequestCount    int // 0 means continuous until Stop
	RequestInterval time.Duration
	RequestSize     int
}

// LatencyClient sends framed requests to the load balancer at a fixed
// interval and records the round-trip latency of every response, matched
// by sequence number.
type LatencyClient struct {
	log   *slog.Logger
	net   *simnet.Network
	sched *simnet.Scheduler
	cfg   ClientConfig
	rng   *rand.Rand

	sock      *simnet.Socket
	rx        wire.Buffer
	sentTimes map[uint32]time.Time
	latencies []time.Duration

	seq       uint32
	sent      int
	received  int
	running   bool
	connected bool
	sendEvent simnet.EventID
	hasEvent  bool
}

func NewLatencyClient(net *simnet.Network, cfg ClientConfig, rng *rand.Rand, log *slog.Logger) *LatencyClient {
	return &LatencyClient{
		log:       log,
		net:       net,
		sched:     net.Scheduler(),
		cfg:       cfg,
		rng:       rng,
		sentTimes: make(map[uint32]time.Time),
	}
}

// Start connects to the remote address and begins sending once the
// connection is established.
func (c *LatencyClient) Start() {
	c.running = true
	c.log.Debug("client starting", slog.String("remote", c.cfg.RemoteAddr))

	c.sock = c.net.Dial(c.cfg.LocalAddr, c.cfg.RemoteAddr)
	c.sock.SetConnectCallbacks(c.handleConnected, c.handleConnectFailed)
	c.sock.SetCloseCallbacks(c.handleClose, c.handleError)
	c.sock.SetRecvCallback(c.handleRead)
}

// Stop halts sending and closes the connection.
func (c *LatencyClient) Stop() {
	c.running = false
	c.cancelSend()
	if c.sock != nil {
		c.sock.Close()
	}
	c.log.Debug("client stopped",
		slog.Int("sent", c.sent),
		slog.Int("received", c.received))
}

// Latencies returns every recorded response latency in arrival order.
func (c *LatencyClient) Latencies() []time.Duration {
	return c.latencies
}

// RequestsSent reports how many requests left this client.
func (c *LatencyClient) RequestsSent() int {
	return c.sent
}

// ResponsesReceived reports how many responses were matched to a request.
func (c *LatencyClient) ResponsesReceived() int {
	return c.received
}

func (c *LatencyClient) handleConnected(*simnet.Socket) {
	c.connected = true
	if c.running {
		c.sendRequest()
	}
}

func (c *LatencyClient) handleConnectFailed(*simnet.Socket) {
	c.log.Error("client connect failed",
		slog.String("remote", c.cfg.RemoteAddr),
		slog.String("errno", c.sock.Errno().String()))
	c.connected = false
}

func (c *LatencyClient) handleClose(*simnet.Socket) {
	c.connected = false
	c.cancelSend()
}

func (c *LatencyClient) handleError(*simnet.Socket) {
	c.log.Warn("client socket error", slog.String("errno", c.sock.Errno().String()))
	c.connected = false
	c.cancelSend()
}

func (c *LatencyClient) cancelSend() {
	if c.hasEvent {
		c.sched.Cancel(c.sendEvent)
		c.hasEvent = false
	}
}

func (c *LatencyClient) sendRequest() {
	c.hasEvent = false
	if !c.running || !c.connected {
		return
	}
	if c.cfg.RequestCount > 0 && c.sent >= c.cfg.RequestCount {
		return
	}

	c.sent++
	c.seq++

	now := c.sched.Now()
	h := wire.Header{
		Seq:         c.seq,
		TimestampNs: now.UnixNano(),
		L7ID:        c.rng.Uint64(),
	}
	c.sentTimes[c.seq] = now

	msg := wire.EncodeMessage(h, make([]byte, c.cfg.RequestSize))
	if sent := c.sock.Send(msg); sent < 0 {
		c.log.Error("client send failed",
			slog.Uint64("seq", uint64(c.seq)),
			slog.String("errno", c.sock.Errno().String()))
		return
	}

	c.scheduleNext()
}

func (c *LatencyClient) scheduleNext() {
	if c.cfg.RequestCount == 0 || c.sent < c.cfg.RequestCount {
		c.sendEvent = c.sched.Schedule(c.cfg.RequestInterval, c.sendRequest)
		c.hasEvent = true
		return
	}

	c.log.Debug("client finished sending, closing shortly",
		slog.Int("sent", c.sent))
	c.sched.Schedule(closeGrace, func() {
		if c.sock != nil {
			c.sock.Close()
		}
	})
}

func (c *LatencyClient) handleRead(sock *simnet.Socket) {
	for chunk := sock.Recv(); chunk != nil; chunk = sock.Recv() {
		c.rx.Append(chunk)
	}

	for {
		h, _, ok := c.rx.Next()
		if !ok {
			break
		}

		sendTime, known := c.sentTimes[h.Seq]
		if !known {
			c.log.Warn("response for unknown or duplicate sequence",
				slog.Uint64("seq", uint64(h.Seq)))
			continue
		}
		delete(c.sentTimes, h.Seq)
		c.latencies = append(c.latencies, c.sched.Now().Sub(sendTime))
		c.received++
	}
}
