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

// Package cliserver is the module serving the local command surface: a line
// oriented protocol over a unix domain stream socket. Each connection
// carries one command; the reply is the result lines followed by a
// terminating status line.
package cliserver

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/common/modules"
	"github.com/h820614/usp-agent-stomp/pkg/common/types"
	"github.com/h820614/usp-agent-stomp/pkg/core"
	coreContext "github.com/h820614/usp-agent-stomp/pkg/core/context"
	"github.com/h820614/usp-agent-stomp/pkg/core/model"
)

const requestTimeout = 30 * time.Second

// Status lines terminating every reply.
const (
	StatusOK  = "OK"
	StatusErr = "ERR"
)

type cliServer struct {
	enable     bool
	socketPath string
}

// Register registers the cliserver module.
func Register(enable bool, socketPath string) {
	core.Register(&cliServer{enable: enable, socketPath: socketPath})
}

func (s *cliServer) Name() string {
	return modules.CLIServerModuleName
}

func (s *cliServer) Group() string {
	return modules.LocalGroup
}

func (s *cliServer) Enable() bool {
	return s.enable
}

// Start listens on the unix socket until shutdown.
func (s *cliServer) Start() {
	_ = os.Remove(s.socketPath)
	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		klog.Errorf("cli server failed to listen on %s: %v", s.socketPath, err)
		return
	}
	defer lis.Close()
	defer os.Remove(s.socketPath)
	klog.Infof("cli server listening on %s", s.socketPath)

	go func() {
		<-coreContext.Done()
		lis.Close()
	}()

	for {
		conn, aerr := lis.Accept()
		if aerr != nil {
			select {
			case <-coreContext.Done():
				return
			default:
			}
			klog.Warningf("cli accept failed: %v", aerr)
			continue
		}
		go s.serveConn(conn)
	}
}

// serveConn handles one command line on one connection.
func (s *cliServer) serveConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(requestTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		klog.Warningf("cli read failed: %v", err)
		return
	}
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		fmt.Fprintf(conn, "%s empty command\n", StatusErr)
		return
	}

	req := types.CliRequest{Command: fields[0], Args: fields[1:]}
	msg := model.NewMessage("").
		BuildRouter(modules.CLIServerModuleName, modules.DataModelModuleName, "cli", types.OpCliRequest).
		FillBody(req)

	resp, serr := coreContext.SendSync(modules.DataModelModuleName, *msg, requestTimeout)
	if serr != nil {
		fmt.Fprintf(conn, "%s %s\n", StatusErr, serr.Error())
		return
	}
	result, ok := resp.Content.(types.CliResponse)
	if !ok {
		fmt.Fprintf(conn, "%s malformed response\n", StatusErr)
		return
	}
	for _, out := range result.Lines {
		fmt.Fprintln(conn, out)
	}
	if result.Err != "" {
		fmt.Fprintf(conn, "%s %s\n", StatusErr, result.Err)
		return
	}
	fmt.Fprintln(conn, StatusOK)
}
