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

// uspcli is the local client for the agent's command socket. It sends one
// command per invocation and prints the reply. Exit code 0 on success,
// non-zero on transport or handler failure.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultSocketPath = "/tmp/usp_cli"

func main() {
	var socketPath string
	cmd := &cobra.Command{
		Use:   "uspcli <command> [args...]",
		Short: "Send a command to the local usp agent",
		Long: `uspcli talks to a running uspagent over its unix domain command socket.
Commands: get <expr>, set <path> <value>, add <table>, del <path>,
instances <table>, dump, dbget <key>, dbset <key> <value>, ver, endpoint.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(socketPath, args)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&socketPath, "socket", defaultSocketPath, "Path to the agent command socket")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(socketPath string, args []string) error {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to agent at %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(30 * time.Second))

	if _, err := fmt.Fprintln(conn, strings.Join(args, " ")); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "OK":
			return nil
		case strings.HasPrefix(line, "ERR"):
			return fmt.Errorf("%s", strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
		default:
			fmt.Println(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}
	return fmt.Errorf("connection closed without status")
}
