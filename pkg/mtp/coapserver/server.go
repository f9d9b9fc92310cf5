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

// Package coapserver runs the CoAP side of the agent: one UDP listener per
// CoAP enabled MTP row accepting USP Records as POSTs, and a client for
// posting records back to controllers. Block-wise transfer, token and
// message-id handling come with go-coap.
package coapserver

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	coapnet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpserver "github.com/plgd-dev/go-coap/v3/udp/server"
	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

// sendTimeout bounds one outbound POST including block-wise rounds.
const sendTimeout = 30 * time.Second

// Options configure a listener beyond its data model row.
type Options struct {
	// MtpInstance is the owning Device.LocalAgent.MTP row.
	MtpInstance int
	// AllowAutodiscovery marks inbound records from unknown controllers as
	// acceptable.
	AllowAutodiscovery bool

	Inbound func(types.InboundUspRecord)
	Status  func(mtpInstance int, status string)
}

// Server is one CoAP listener runtime mirroring a CoAP enabled MTP row.
type Server struct {
	port int
	path string
	opts Options

	srv     *udpserver.Server
	lis     *coapnet.UDPConn
	status  atomic.Value // string
	stopped chan struct{}
}

// NewServer builds a listener runtime for one MTP row.
func NewServer(port int, resourcePath string, opts Options) *Server {
	s := &Server{
		port:    port,
		path:    resourcePath,
		opts:    opts,
		stopped: make(chan struct{}),
	}
	s.status.Store(types.MtpStatusDown)
	return s
}

// Status reports Up, Down or Error.
func (s *Server) Status() string {
	return s.status.Load().(string)
}

func (s *Server) setStatus(status string) {
	s.status.Store(status)
	if s.opts.Status != nil {
		s.opts.Status(s.opts.MtpInstance, status)
	}
}

// Start binds the UDP listener and serves until Stop. A bind failure leaves
// the server in Error status.
func (s *Server) Start() error {
	r := mux.NewRouter()
	if err := r.Handle(s.resource(), mux.HandlerFunc(s.handle)); err != nil {
		s.setStatus(types.MtpStatusError)
		return err
	}

	lis, err := coapnet.NewListenUDP("udp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		s.setStatus(types.MtpStatusError)
		return fmt.Errorf("coap bind on port %d: %w", s.port, err)
	}
	s.lis = lis
	s.srv = udp.NewServer(options.WithMux(r))

	go func() {
		defer close(s.stopped)
		s.setStatus(types.MtpStatusUp)
		if serr := s.srv.Serve(lis); serr != nil {
			select {
			case <-s.stopped:
			default:
				klog.Errorf("coap server on port %d stopped: %v", s.port, serr)
				s.setStatus(types.MtpStatusError)
			}
		}
	}()
	return nil
}

// Stop tears the listener down.
func (s *Server) Stop() {
	if s.srv != nil {
		s.srv.Stop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
	s.setStatus(types.MtpStatusDown)
}

func (s *Server) resource() string {
	p := s.path
	if p == "" {
		p = "usp"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return p
}

// handle accepts one POSTed USP Record and replies 2.04 Changed.
func (s *Server) handle(w mux.ResponseWriter, r *mux.Message) {
	if r.Code() != codes.POST {
		_ = w.SetResponse(codes.MethodNotAllowed, 0, nil)
		return
	}
	body, err := r.ReadBody()
	if err != nil {
		klog.Warningf("coap port %d: failed to read body: %v", s.port, err)
		_ = w.SetResponse(codes.BadRequest, 0, nil)
		return
	}
	if len(body) > uspproto.MaxUspMsgLen {
		klog.Warningf("coap port %d: dropping %d byte record over limit", s.port, len(body))
		_ = w.SetResponse(codes.RequestEntityTooLarge, 0, nil)
		return
	}

	host := ""
	if addr := w.Conn().RemoteAddr(); addr != nil {
		host = addr.String()
	}

	if s.opts.Inbound != nil {
		s.opts.Inbound(types.InboundUspRecord{
			Payload: append([]byte(nil), body...),
			ReplyTo: types.ReplyDest{
				Protocol:     types.ProtocolCoAP,
				CoapHost:     host,
				CoapResource: s.resource(),
			},
			MtpInstance:        s.opts.MtpInstance,
			AllowAutodiscovery: s.opts.AllowAutodiscovery,
		})
	}
	_ = w.SetResponse(codes.Changed, 0, nil)
}

// Post sends a USP Record to a controller's CoAP endpoint.
func Post(hostPort, resource string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	co, err := udp.Dial(hostPort)
	if err != nil {
		return fmt.Errorf("coap dial %s: %w", hostPort, err)
	}
	defer co.Close()

	resp, err := co.Post(ctx, resource, message.AppOctets, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("coap post to %s%s: %w", hostPort, resource, err)
	}
	if resp.Code() != codes.Changed && resp.Code() != codes.Created && resp.Code() != codes.Content {
		return fmt.Errorf("coap post to %s%s answered %v", hostPort, resource, resp.Code())
	}
	return nil
}
