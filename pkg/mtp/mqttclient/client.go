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

// Package mqttclient drives one MQTT broker client mirroring a
// Device.MQTT.Client row: subscribe to the agent response topic, publish
// records to controller topics, reconnect through the agent's own retry
// schedule (paho auto-reconnect stays off so backoff policy is ours).
package mqttclient

import (
	"fmt"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/retry"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

const (
	connectTokenTimeout = 30 * time.Second
	publishTokenTimeout = 10 * time.Second
	defaultQos          = 1
)

// Options configure a client beyond its data model row.
type Options struct {
	// ResponseTopic is the topic subscribed for inbound records.
	ResponseTopic string
	// MtpInstance is the owning Device.LocalAgent.MTP row.
	MtpInstance int
	// AllowAutodiscovery marks inbound records from unknown controllers as
	// acceptable.
	AllowAutodiscovery bool

	Inbound func(types.InboundUspRecord)
	Status  func(clientInstance int, status string)
}

// Client is one MQTT client runtime.
type Client struct {
	cfg  types.MqttClientConfig
	opts Options

	cli   MQTT.Client
	sched *retry.Scheduler

	reconnectCh chan struct{}
	stopCh      chan struct{}
	doneCh      chan struct{}
	connLost    chan error

	up int32
}

// NewClient builds a client runtime for one Device.MQTT.Client row.
func NewClient(cfg types.MqttClientConfig, sched *retry.Scheduler, opts Options) *Client {
	return &Client{
		cfg:         cfg,
		opts:        opts,
		sched:       sched,
		reconnectCh: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		connLost:    make(chan error, 1),
	}
}

// Start launches the connect loop.
func (c *Client) Start() {
	go c.run()
}

// Stop disconnects and terminates the loop.
func (c *Client) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Reconnect ends the running session. The run loop treats that session end
// like a failure: it reports Error status, waits the next retry delay and
// does not reset the retry count. A Reconnect that arrives during the wait
// between attempts ends the wait at once and resets the retry count.
func (c *Client) Reconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

// Publish sends an encoded USP Record to a controller topic.
func (c *Client) Publish(topic string, payload []byte) error {
	if atomic.LoadInt32(&c.up) == 0 {
		return fmt.Errorf("mqtt client %d is not connected", c.cfg.Instance)
	}
	token := c.cli.Publish(topic, defaultQos, false, payload)
	if !token.WaitTimeout(publishTokenTimeout) {
		return fmt.Errorf("mqtt client %d publish to %s timed out", c.cfg.Instance, topic)
	}
	return token.Error()
}

func (c *Client) reportStatus(status string) {
	if c.opts.Status != nil {
		c.opts.Status(c.cfg.Instance, status)
	}
}

func (c *Client) run() {
	defer close(c.doneCh)
	attempt := 0
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		err := c.connectAndServe()
		if err == nil {
			return
		}
		atomic.StoreInt32(&c.up, 0)
		c.reportStatus(types.MtpStatusError)
		klog.Warningf("mqtt client %d failed: %v", c.cfg.Instance, err)

		delay := c.sched.NextDelay(retry.CategoryMqttConnect, attempt)
		attempt++
		select {
		case <-c.stopCh:
			return
		case <-c.reconnectCh:
			attempt = 0
		case <-time.After(delay):
		}
	}
}

// connectAndServe runs one session. A nil return means graceful stop.
func (c *Client) connectAndServe() error {
	broker := fmt.Sprintf("tcp://%s:%d", c.cfg.BrokerAddress, c.cfg.BrokerPort)
	clientID := c.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("usp-agent-%d", c.cfg.Instance)
	}

	opts := MQTT.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetUsername(c.cfg.Username).
		SetPassword(c.cfg.Password).
		SetAutoReconnect(false).
		SetCleanSession(true)
	if c.cfg.KeepAliveTime > 0 {
		opts.SetKeepAlive(time.Duration(c.cfg.KeepAliveTime) * time.Second)
	}
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		select {
		case c.connLost <- err:
		default:
		}
	})

	c.cli = MQTT.NewClient(opts)
	token := c.cli.Connect()
	if !token.WaitTimeout(connectTokenTimeout) {
		return fmt.Errorf("connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", broker, err)
	}

	if c.opts.ResponseTopic != "" {
		sub := c.cli.Subscribe(c.opts.ResponseTopic, defaultQos, c.onMessage)
		if !sub.WaitTimeout(connectTokenTimeout) || sub.Error() != nil {
			c.cli.Disconnect(250)
			return fmt.Errorf("subscribe to %s failed: %v", c.opts.ResponseTopic, sub.Error())
		}
	}

	atomic.StoreInt32(&c.up, 1)
	c.reportStatus(types.MtpStatusUp)
	klog.Infof("mqtt client %d connected to %s", c.cfg.Instance, broker)

	select {
	case <-c.stopCh:
		atomic.StoreInt32(&c.up, 0)
		c.cli.Disconnect(250)
		c.reportStatus(types.MtpStatusDown)
		return nil
	case <-c.reconnectCh:
		atomic.StoreInt32(&c.up, 0)
		c.cli.Disconnect(250)
		return fmt.Errorf("reconnect requested")
	case err := <-c.connLost:
		return fmt.Errorf("connection lost: %w", err)
	}
}

func (c *Client) onMessage(_ MQTT.Client, msg MQTT.Message) {
	payload := msg.Payload()
	if len(payload) > uspproto.MaxUspMsgLen {
		klog.Warningf("mqtt client %d: dropping %d byte record over limit", c.cfg.Instance, len(payload))
		return
	}
	if c.opts.Inbound == nil {
		return
	}
	c.opts.Inbound(types.InboundUspRecord{
		Payload: append([]byte(nil), payload...),
		ReplyTo: types.ReplyDest{
			Protocol:           types.ProtocolMQTT,
			MqttClientInstance: c.cfg.Instance,
		},
		MtpInstance:        c.opts.MtpInstance,
		AllowAutodiscovery: c.opts.AllowAutodiscovery,
	})
}
