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

package stompclient

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

// fakeBroker speaks just enough STOMP over net.Pipe to drive the state
// machine: CONNECTED on connect, RECEIPT on subscribe and send.
type fakeBroker struct {
	connectCount  int32
	subscribeDest string

	mu     sync.Mutex
	writer *frame.Writer

	sends chan *frame.Frame
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{sends: make(chan *frame.Frame, 16)}
}

func (b *fakeBroker) dialer(host string, port int, useTLS bool, timeout time.Duration) (net.Conn, error) {
	client, server := net.Pipe()
	go b.serve(server)
	return client, nil
}

func (b *fakeBroker) write(c net.Conn, f *frame.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.writer.Write(f)
}

// push injects a frame towards the client outside the serve loop.
func (b *fakeBroker) push(f *frame.Frame) {
	b.mu.Lock()
	wr := b.writer
	b.mu.Unlock()
	if wr != nil {
		b.mu.Lock()
		_ = wr.Write(f)
		b.mu.Unlock()
	}
}

func (b *fakeBroker) serve(c net.Conn) {
	rd := frame.NewReader(c)
	b.mu.Lock()
	b.writer = frame.NewWriter(c)
	b.mu.Unlock()

	for {
		f, err := rd.Read()
		if err != nil {
			c.Close()
			return
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.STOMP, frame.CONNECT:
			atomic.AddInt32(&b.connectCount, 1)
			headers := []string{frame.Version, "1.2"}
			if b.subscribeDest != "" {
				headers = append(headers, "subscribe-dest", b.subscribeDest)
			}
			b.write(c, frame.New(frame.CONNECTED, headers...))
		case frame.SUBSCRIBE:
			if receipt := f.Header.Get(frame.Receipt); receipt != "" {
				b.write(c, frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
			}
		case frame.SEND:
			select {
			case b.sends <- f:
			default:
			}
			if receipt := f.Header.Get(frame.Receipt); receipt != "" {
				b.write(c, frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
			}
		case frame.DISCONNECT:
			c.Close()
			return
		}
	}
}

func (b *fakeBroker) connects() int {
	return int(atomic.LoadInt32(&b.connectCount))
}

func testConfig() types.StompConnConfig {
	return types.StompConnConfig{
		Instance:    1,
		Enable:      true,
		Host:        "broker.example",
		Port:        61613,
		VirtualHost: "/",
		Retry: types.StompRetryParams{
			InitialInterval:    1,
			IntervalMultiplier: 2000,
			MaxInterval:        5,
		},
	}
}

func waitForState(t *testing.T, c *Conn, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State() == want
	}, 3*time.Second, 5*time.Millisecond, "state = %s, want %s", c.State(), want)
}

func TestHandshakeReachesRunning(t *testing.T) {
	broker := newFakeBroker()
	var statuses []string
	var statusMu sync.Mutex

	c := NewConn(testConfig(), Options{
		AgentEndpointID: "os::000000-test-1",
		AgentQueue:      "/agent/q",
		Dialer:          broker.dialer,
		Status: func(_ int, status string) {
			statusMu.Lock()
			statuses = append(statuses, status)
			statusMu.Unlock()
		},
	})
	c.Start()
	defer c.Stop()

	waitForState(t, c, StateRunning)
	assert.Equal(t, 1, broker.connects())
	assert.Equal(t, "/agent/q", c.Queue())

	statusMu.Lock()
	defer statusMu.Unlock()
	require.NotEmpty(t, statuses)
	assert.Equal(t, types.MtpStatusUp, statuses[len(statuses)-1])
}

func TestBrokerSuppliedDestinationAdopted(t *testing.T) {
	broker := newFakeBroker()
	broker.subscribeDest = "/queue/agent-assigned"

	c := NewConn(testConfig(), Options{
		AgentEndpointID: "os::000000-test-1",
		Dialer:          broker.dialer,
	})
	c.Start()
	defer c.Stop()

	waitForState(t, c, StateRunning)
	assert.Equal(t, "/queue/agent-assigned", c.Queue())
}

func TestReconnectEstablishesOneNewSession(t *testing.T) {
	broker := newFakeBroker()
	c := NewConn(testConfig(), Options{
		AgentEndpointID: "os::000000-test-1",
		AgentQueue:      "/agent/q",
		Dialer:          broker.dialer,
	})
	c.Start()
	defer c.Stop()

	waitForState(t, c, StateRunning)
	require.Equal(t, 1, broker.connects())

	c.Reconnect()
	require.Eventually(t, func() bool {
		return broker.connects() == 2 && c.State() == StateRunning
	}, 3*time.Second, 5*time.Millisecond)

	// no further sessions once settled
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, broker.connects())
}

func TestSendCarriesReceiptAndContentType(t *testing.T) {
	broker := newFakeBroker()
	c := NewConn(testConfig(), Options{
		AgentEndpointID: "os::000000-test-1",
		AgentQueue:      "/agent/q",
		Dialer:          broker.dialer,
	})
	c.Start()
	defer c.Stop()
	waitForState(t, c, StateRunning)

	payload := []byte{0x01, 0x02, 0x03}
	require.NoError(t, c.Send("/controller/q", payload))

	select {
	case f := <-broker.sends:
		assert.Equal(t, "/controller/q", f.Header.Get(frame.Destination))
		assert.Equal(t, uspproto.ContentType, f.Header.Get(frame.ContentType))
		assert.NotEmpty(t, f.Header.Get(frame.Receipt))
		assert.Equal(t, "/agent/q", f.Header.Get("reply-to-dest"))
		assert.Equal(t, payload, f.Body)
	case <-time.After(3 * time.Second):
		t.Fatal("broker saw no SEND frame")
	}
}

func TestInboundMessageForwarded(t *testing.T) {
	broker := newFakeBroker()
	inbound := make(chan types.InboundUspRecord, 1)

	c := NewConn(testConfig(), Options{
		AgentEndpointID: "os::000000-test-1",
		AgentQueue:      "/agent/q",
		MtpInstance:     7,
		Dialer:          broker.dialer,
		Inbound: func(rec types.InboundUspRecord) {
			inbound <- rec
		},
	})
	c.Start()
	defer c.Stop()
	waitForState(t, c, StateRunning)

	msg := frame.New(frame.MESSAGE,
		frame.Destination, "/agent/q",
		frame.ContentType, uspproto.ContentType,
		"reply-to-dest", "/controller/q")
	msg.Body = []byte{0x0a, 0x01, 0x02}
	broker.push(msg)

	select {
	case rec := <-inbound:
		assert.Equal(t, types.ProtocolSTOMP, rec.ReplyTo.Protocol)
		assert.Equal(t, 1, rec.ReplyTo.StompConnInstance)
		assert.Equal(t, "/controller/q", rec.ReplyTo.StompDest)
		assert.Equal(t, 7, rec.MtpInstance)
		assert.Equal(t, []byte{0x0a, 0x01, 0x02}, rec.Payload)
	case <-time.After(3 * time.Second):
		t.Fatal("inbound message not forwarded")
	}
}

func TestDialFailureEntersRetryWait(t *testing.T) {
	c := NewConn(testConfig(), Options{
		AgentEndpointID: "os::000000-test-1",
		AgentQueue:      "/agent/q",
		Dialer: func(string, int, bool, time.Duration) (net.Conn, error) {
			return nil, assert.AnError
		},
	})
	c.Start()
	defer c.Stop()

	waitForState(t, c, StateRetryWait)
}
