/*
Copyright 2023 The usp-agent-stomp Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package stompclient drives one STOMP broker connection: TCP/TLS connect,
// CONNECT handshake, agent queue subscription, receipted sends, and the
// reconnect schedule. Frame encoding is go-stomp's; the state machine is the
// agent's own because USP needs explicit control of every transition.
package stompclient

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/retry"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

// State is the connection state machine position.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingConnected
	StateSubscribing
	StateRunning
	StateRetryWait
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateAwaitingConnected:
		return "AwaitingConnected"
	case StateSubscribing:
		return "Subscribing"
	case StateRunning:
		return "Running"
	case StateRetryWait:
		return "RetryWait"
	case StateDisconnecting:
		return "Disconnecting"
	}
	return "Unknown"
}

// ConnectTimeout bounds the TCP/TLS dial plus the CONNECTED frame wait.
const ConnectTimeout = 30 * time.Second

const (
	headerEndpointID    = "usp-endpoint-id"
	headerReplyToDest   = "reply-to-dest"
	headerSubscribeDest = "subscribe-dest"
)

// errReconnect marks a session torn down on request rather than on failure.
var errReconnect = errors.New("reconnect requested")

// Dialer opens the transport socket. Injectable for tests.
type Dialer func(host string, port int, useTLS bool, timeout time.Duration) (net.Conn, error)

func defaultDialer(host string, port int, useTLS bool, timeout time.Duration) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if useTLS {
		d := &net.Dialer{Timeout: timeout}
		return tls.DialWithDialer(d, "tcp", addr, &tls.Config{ServerName: host})
	}
	return net.DialTimeout("tcp", addr, timeout)
}

// Options configure a connection beyond its data model row.
type Options struct {
	AgentEndpointID string
	// AgentQueue is the queue subscribed for inbound records. When empty
	// the broker supplied subscribe-dest header is adopted.
	AgentQueue string
	// MtpInstance is the owning Device.LocalAgent.MTP row.
	MtpInstance int
	// AllowAutodiscovery marks inbound records from unknown controllers as
	// acceptable.
	AllowAutodiscovery bool

	Inbound func(types.InboundUspRecord)
	Status  func(connInstance int, status string)

	Dialer Dialer
}

type sendReq struct {
	dest    string
	payload []byte
}

// Conn is one STOMP connection runtime. It runs a private goroutine started
// by Start; Send, Reconnect and Stop may be called from the mtpmanager
// goroutine at any time.
type Conn struct {
	cfg  types.StompConnConfig
	opts Options

	state int32

	sendCh      chan sendReq
	reconnectCh chan struct{}
	stopCh      chan struct{}
	doneCh      chan struct{}

	// adoptedQueue is the subscribe destination in use, either the
	// configured agent queue or the broker supplied one.
	adoptedQueue string
	queueMu      sync.Mutex

	retryCount int
}

// NewConn builds a connection runtime for one Device.STOMP.Connection row.
func NewConn(cfg types.StompConnConfig, opts Options) *Conn {
	if opts.Dialer == nil {
		opts.Dialer = defaultDialer
	}
	return &Conn{
		cfg:         cfg,
		opts:        opts,
		sendCh:      make(chan sendReq, 64),
		reconnectCh: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// State reports the current state machine position.
func (c *Conn) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Conn) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Queue reports the destination currently subscribed.
func (c *Conn) Queue() string {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return c.adoptedQueue
}

func (c *Conn) setQueue(q string) {
	c.queueMu.Lock()
	c.adoptedQueue = q
	c.queueMu.Unlock()
}

// Start launches the connection loop.
func (c *Conn) Start() {
	go c.run()
}

// Stop disconnects gracefully and terminates the loop.
func (c *Conn) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Reconnect tears the session down and dials again with the retry count
// reset. Idempotent between loop iterations: multiple calls collapse into
// one attempt.
func (c *Conn) Reconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

// Send queues an outbound USP record for the given destination. A failing
// receipt later promotes the connection to RetryWait.
func (c *Conn) Send(dest string, payload []byte) error {
	select {
	case c.sendCh <- sendReq{dest: dest, payload: payload}:
		return nil
	default:
		return fmt.Errorf("stomp connection %d send queue full", c.cfg.Instance)
	}
}

func (c *Conn) reportStatus(status string) {
	if c.opts.Status != nil {
		c.opts.Status(c.cfg.Instance, status)
	}
}

// run is the connection loop: one full session per iteration, with backoff
// between failed attempts.
func (c *Conn) run() {
	defer close(c.doneCh)
	defer c.setState(StateIdle)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		err := c.session()
		if err == nil {
			// graceful stop
			return
		}
		if errors.Is(err, errReconnect) {
			c.retryCount = 0
			continue
		}
		klog.Warningf("stomp connection %d failed: %v", c.cfg.Instance, err)
		c.reportStatus(types.MtpStatusError)
		c.setState(StateRetryWait)

		delay := c.retryDelay()
		c.retryCount++
		klog.Infof("stomp connection %d retrying in %s (attempt %d)", c.cfg.Instance, delay, c.retryCount)
		select {
		case <-c.stopCh:
			return
		case <-c.reconnectCh:
			c.retryCount = 0
		case <-time.After(delay):
		}
	}
}

// retryDelay applies the per-row ServerRetry parameters from the data
// model row.
func (c *Conn) retryDelay() time.Duration {
	base := time.Duration(c.cfg.Retry.InitialInterval) * time.Second
	if base <= 0 {
		base = time.Second
	}
	mult := float64(c.cfg.Retry.IntervalMultiplier) / 1000.0
	if mult < 1.0 {
		mult = 2.0
	}
	limit := time.Duration(c.cfg.Retry.MaxInterval) * time.Second
	if limit <= 0 {
		limit = 10 * time.Minute
	}
	return retry.Compute(base, mult, limit, 0.5, c.retryCount)
}

// session runs one connected session to completion. A nil return means a
// graceful stop; any error routes through RetryWait.
func (c *Conn) session() error {
	c.setState(StateConnecting)
	sock, err := c.opts.Dialer(c.cfg.Host, c.cfg.Port, c.cfg.EnableEncryption, ConnectTimeout)
	if err != nil {
		return fmt.Errorf("dial %s:%d: %w", c.cfg.Host, c.cfg.Port, err)
	}
	defer sock.Close()

	rd := frame.NewReader(sock)
	wr := frame.NewWriter(sock)

	if err := c.sendConnectFrame(wr); err != nil {
		return err
	}

	c.setState(StateAwaitingConnected)
	if err := sock.SetReadDeadline(time.Now().Add(ConnectTimeout)); err != nil {
		return err
	}
	connected, err := c.awaitFrame(rd, frame.CONNECTED)
	if err != nil {
		return fmt.Errorf("awaiting CONNECTED: %w", err)
	}
	if err := sock.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	queue := c.opts.AgentQueue
	if queue == "" {
		// adopt the broker supplied destination
		queue = connected.Header.Get(headerSubscribeDest)
	}
	if queue == "" {
		return fmt.Errorf("no agent queue configured and broker supplied no %s header", headerSubscribeDest)
	}
	c.setQueue(queue)

	c.setState(StateSubscribing)
	subReceipt := "sub-" + strconv.Itoa(c.cfg.Instance)
	sub := frame.New(frame.SUBSCRIBE,
		frame.Id, "0",
		frame.Destination, queue,
		frame.Ack, "auto",
		frame.Receipt, subReceipt)
	if err := wr.Write(sub); err != nil {
		return fmt.Errorf("writing SUBSCRIBE: %w", err)
	}

	// frames arrive on their own pump so the main select can multiplex
	// sends, reconnect requests and stop
	frames := make(chan *frame.Frame, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			f, rerr := rd.Read()
			if rerr != nil {
				readErr <- rerr
				return
			}
			if f == nil {
				// heartbeat
				continue
			}
			frames <- f
		}
	}()

	subscribed := false
	receiptSeq := 0
	pendingReceipts := map[string]time.Time{}
	heartbeat := c.heartbeatTicker()
	defer heartbeat.Stop()

	for {
		select {
		case <-c.stopCh:
			c.setState(StateDisconnecting)
			_ = wr.Write(frame.New(frame.DISCONNECT, frame.Receipt, "bye"))
			c.reportStatus(types.MtpStatusDown)
			return nil

		case <-c.reconnectCh:
			return errReconnect

		case rerr := <-readErr:
			return fmt.Errorf("read: %w", rerr)

		case f := <-frames:
			switch f.Command {
			case frame.RECEIPT:
				id := f.Header.Get(frame.ReceiptId)
				if id == subReceipt && !subscribed {
					subscribed = true
					c.enterRunning()
					continue
				}
				delete(pendingReceipts, id)
			case frame.MESSAGE:
				if !subscribed {
					// first message on the agent queue also proves the
					// subscription took effect
					subscribed = true
					c.enterRunning()
				}
				c.handleMessage(f)
			case frame.ERROR:
				return fmt.Errorf("broker ERROR frame: %s", string(f.Body))
			}

		case req := <-c.sendCh:
			if !subscribed {
				// hold the record until the session is running
				go func() {
					time.Sleep(100 * time.Millisecond)
					_ = c.Send(req.dest, req.payload)
				}()
				continue
			}
			receiptSeq++
			receiptID := "send-" + strconv.Itoa(receiptSeq)
			send := frame.New(frame.SEND,
				frame.Destination, req.dest,
				frame.ContentType, uspproto.ContentType,
				frame.Receipt, receiptID,
				headerEndpointID, c.opts.AgentEndpointID,
				headerReplyToDest, c.Queue())
			send.Body = req.payload
			if err := wr.Write(send); err != nil {
				return fmt.Errorf("writing SEND: %w", err)
			}
			pendingReceipts[receiptID] = time.Now()

		case <-heartbeat.C:
			if c.cfg.EnableHeartbeats {
				if err := wr.Write(nil); err != nil {
					return fmt.Errorf("writing heartbeat: %w", err)
				}
			}
			// a receipt outstanding for a full minute counts as failed
			for id, issued := range pendingReceipts {
				if time.Since(issued) > time.Minute {
					return fmt.Errorf("receipt %s not acknowledged", id)
				}
			}
		}
	}
}

func (c *Conn) enterRunning() {
	c.retryCount = 0
	c.setState(StateRunning)
	c.reportStatus(types.MtpStatusUp)
	klog.Infof("stomp connection %d running, queue %s", c.cfg.Instance, c.Queue())
}

func (c *Conn) sendConnectFrame(wr *frame.Writer) error {
	headers := []string{
		frame.AcceptVersion, "1.2",
		frame.Host, c.cfg.VirtualHost,
		headerEndpointID, c.opts.AgentEndpointID,
	}
	if c.cfg.Username != "" {
		headers = append(headers, frame.Login, c.cfg.Username, frame.Passcode, c.cfg.Password)
	}
	if c.cfg.EnableHeartbeats {
		hb := fmt.Sprintf("%d,%d", c.cfg.OutgoingHeartbeat, c.cfg.IncomingHeartbeat)
		headers = append(headers, frame.HeartBeat, hb)
	}
	f := frame.New(frame.STOMP, headers...)
	if err := wr.Write(f); err != nil {
		return fmt.Errorf("writing CONNECT: %w", err)
	}
	return nil
}

// awaitFrame reads until the wanted command arrives, failing on ERROR.
func (c *Conn) awaitFrame(rd *frame.Reader, command string) (*frame.Frame, error) {
	for {
		f, err := rd.Read()
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue
		}
		if f.Command == frame.ERROR {
			return nil, fmt.Errorf("broker ERROR frame: %s", string(f.Body))
		}
		if f.Command == command {
			return f, nil
		}
	}
}

// handleMessage forwards one inbound MESSAGE frame to the dispatcher.
func (c *Conn) handleMessage(f *frame.Frame) {
	if ct := f.Header.Get(frame.ContentType); ct != "" && ct != uspproto.ContentType {
		klog.Warningf("stomp connection %d: dropping message with content-type %q", c.cfg.Instance, ct)
		return
	}
	if len(f.Body) > uspproto.MaxUspMsgLen {
		klog.Warningf("stomp connection %d: dropping %d byte message over limit", c.cfg.Instance, len(f.Body))
		return
	}
	if c.opts.Inbound == nil {
		return
	}
	c.opts.Inbound(types.InboundUspRecord{
		Payload: append([]byte(nil), f.Body...),
		ReplyTo: types.ReplyDest{
			Protocol:          types.ProtocolSTOMP,
			StompConnInstance: c.cfg.Instance,
			StompDest:         f.Header.Get(headerReplyToDest),
		},
		MtpInstance:        c.opts.MtpInstance,
		AllowAutodiscovery: c.opts.AllowAutodiscovery,
	})
}

func (c *Conn) heartbeatTicker() *time.Ticker {
	interval := time.Duration(c.cfg.OutgoingHeartbeat) * time.Millisecond
	if !c.cfg.EnableHeartbeats || interval <= 0 {
		interval = 10 * time.Second
	}
	return time.NewTicker(interval)
}
