// Package siyi speaks the SIYI gimbal camera protocol over TCP or UART.
package siyi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"

	"gimbal-tracker/internal/metrics"
	"gimbal-tracker/internal/monitoring"
)

// ErrNotConnected is returned by Send and Request once the link is closed
// or the connection has dropped.
var ErrNotConnected = errors.New("siyi: not connected")

// LinkConfig tunes the session background tasks.
type LinkConfig struct {
	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
	// ReadTimeout bounds each transport read so the listener notices Close.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// JoinTimeout bounds how long Close waits for the background tasks.
	JoinTimeout time.Duration
	Metrics     *metrics.Metrics
}

// DefaultLinkConfig returns a one second heartbeat and short I/O timeouts.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		DialTimeout:       5 * time.Second,
		HeartbeatInterval: time.Second,
		ReadTimeout:       500 * time.Millisecond,
		WriteTimeout:      time.Second,
		JoinTimeout:       2 * time.Second,
	}
}

func (c LinkConfig) withDefaults() LinkConfig {
	d := DefaultLinkConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	c.Metrics = metrics.OrDiscard(c.Metrics)
	return c
}

// Transport is the byte stream under a Link: a TCP connection or a
// serial port.
type Transport interface {
	io.ReadWriteCloser
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Link owns one session with the gimbal: the transport, the sequence
// counter, a heartbeat task and an inbound listener task.
type Link struct {
	transport Transport
	codec     Codec
	cfg       LinkConfig
	m         *metrics.Metrics

	// writeMu keeps sequence order equal to wire order across the
	// heartbeat task and every other sender.
	writeMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	err     error
	waiters map[Command][]chan Packet
	last    map[Command]Packet

	stopCh    chan struct{}
	lost      chan struct{}
	lostOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// Dial connects to the gimbal over TCP, e.g. "192.168.144.25:37260".
func Dial(ctx context.Context, addr string, cfg LinkConfig) (*Link, error) {
	cfg = cfg.withDefaults()

	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gimbal at %s: %w", addr, err)
	}
	monitoring.Logf("SIYI: Connected to %s", addr)
	return NewLink(conn, cfg), nil
}

// OpenSerial opens the gimbal UART. The protocol is identical to TCP.
func OpenSerial(device string, baud int, cfg LinkConfig) (*Link, error) {
	cfg = cfg.withDefaults()

	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open gimbal serial port %s: %w", device, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", device, err)
	}
	monitoring.Logf("SIYI: Opened %s at %d baud", device, baud)
	return NewLink(port, cfg), nil
}

// NewLink wraps an open transport and starts the heartbeat and listener
// tasks. The Link owns t from now on.
func NewLink(t Transport, cfg LinkConfig) *Link {
	cfg = cfg.withDefaults()
	l := &Link{
		transport: t,
		cfg:       cfg,
		m:         cfg.Metrics,
		waiters:   make(map[Command][]chan Packet),
		last:      make(map[Command]Packet),
		stopCh:    make(chan struct{}),
		lost:      make(chan struct{}),
	}

	l.wg.Add(2)
	go l.listen()
	go l.heartbeat()
	return l
}

// Send builds and writes one packet without waiting for a response.
func (l *Link) Send(cmd Command, payload []byte, needAck bool) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if !l.Connected() {
		return ErrNotConnected
	}

	pkt := l.codec.Build(cmd, payload, needAck)
	if wd, ok := l.transport.(writeDeadliner); ok {
		wd.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	}
	if _, err := l.transport.Write(pkt); err != nil {
		return fmt.Errorf("siyi: write %s: %w", cmd, err)
	}
	l.m.PacketsSent.WithLabelValues(cmd.String()).Inc()
	return nil
}

// Request sends cmd with need-ack set and waits up to timeout for a packet
// carrying the same command id. ok is false when nothing arrived in time;
// that is not an error.
//
// The wire format has no correlation token, so responses are matched by
// command id alone, first request first. Two requests for the same id in
// flight at once may each receive the other's response.
func (l *Link) Request(ctx context.Context, cmd Command, payload []byte, timeout time.Duration) (Packet, bool, error) {
	ch := make(chan Packet, 1)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return Packet{}, false, ErrNotConnected
	}
	l.waiters[cmd] = append(l.waiters[cmd], ch)
	l.mu.Unlock()
	defer l.removeWaiter(cmd, ch)

	if err := l.Send(cmd, payload, true); err != nil {
		return Packet{}, false, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pkt := <-ch:
		return pkt, true, nil
	case <-timer.C:
		l.m.RequestTimeouts.WithLabelValues(cmd.String()).Inc()
		return Packet{}, false, nil
	case <-l.lost:
		return Packet{}, false, ErrNotConnected
	case <-ctx.Done():
		return Packet{}, false, ctx.Err()
	}
}

// Last returns the most recent packet received for cmd, answered or not.
func (l *Link) Last(cmd Command) (Packet, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pkt, ok := l.last[cmd]
	return pkt, ok
}

// Connected reports whether the link can still send.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

// Done is closed when the connection drops or Close is called.
func (l *Link) Done() <-chan struct{} {
	return l.lost
}

// Err returns the error that ended the listener, if any.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close stops both tasks, waits for them up to JoinTimeout, then closes
// the transport. It is safe to call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.stopCh)
		l.markLost()

		joined := make(chan struct{})
		go func() {
			l.wg.Wait()
			close(joined)
		}()
		select {
		case <-joined:
		case <-time.After(l.cfg.JoinTimeout):
			monitoring.Logf("SIYI: Background tasks did not stop within %v", l.cfg.JoinTimeout)
		}

		l.closeErr = l.transport.Close()
		monitoring.Logf("SIYI: Disconnected")
	})
	return l.closeErr
}

func (l *Link) heartbeat() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if err := l.Send(CmdHeartbeat, heartbeatPayload, false); err != nil && !errors.Is(err, ErrNotConnected) {
			monitoring.Logf("SIYI: Heartbeat failed: %v", err)
		}
		select {
		case <-l.stopCh:
			return
		case <-l.lost:
			return
		case <-ticker.C:
		}
	}
}

func (l *Link) listen() {
	defer l.wg.Done()

	var sc Scanner
	buf := make([]byte, 1024)
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		if rd, ok := l.transport.(readDeadliner); ok {
			rd.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		}
		n, err := l.transport.Read(buf)
		if n > 0 {
			sc.Feed(buf[:n])
			l.drain(&sc)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			continue
		}

		select {
		case <-l.stopCh:
		default:
			monitoring.Logf("SIYI: Connection lost: %v", err)
			l.mu.Lock()
			l.err = err
			l.closed = true
			l.mu.Unlock()
			l.markLost()
		}
		return
	}
}

func (l *Link) drain(sc *Scanner) {
	for {
		pkt, ok, err := sc.Next()
		if err != nil {
			// Link noise: count it and keep going.
			l.m.MalformedPackets.Inc()
			continue
		}
		if !ok {
			return
		}
		l.m.PacketsReceived.WithLabelValues(pkt.Cmd.String()).Inc()
		l.dispatch(pkt)
	}
}

func (l *Link) dispatch(pkt Packet) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.last[pkt.Cmd] = pkt
	if q := l.waiters[pkt.Cmd]; len(q) > 0 {
		// Each waiter channel has room for exactly one packet and leaves
		// the queue here, so this send never blocks.
		q[0] <- pkt
		l.waiters[pkt.Cmd] = q[1:]
	}
}

func (l *Link) removeWaiter(cmd Command, ch chan Packet) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.waiters[cmd]
	for i, w := range q {
		if w == ch {
			l.waiters[cmd] = append(q[:i:i], q[i+1:]...)
			break
		}
	}
	if len(l.waiters[cmd]) == 0 {
		delete(l.waiters, cmd)
	}
}

func (l *Link) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}
