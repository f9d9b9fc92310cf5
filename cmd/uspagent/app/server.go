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

// Package app assembles and runs the uspagent daemon.
package app

import (
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/cmd/uspagent/app/options"
	"github.com/h820614/usp-agent-stomp/pkg/apis/config/v1alpha1"
	"github.com/h820614/usp-agent-stomp/pkg/cliserver"
	"github.com/h820614/usp-agent-stomp/pkg/common/dbm"
	"github.com/h820614/usp-agent-stomp/pkg/core"
	"github.com/h820614/usp-agent-stomp/pkg/database"
	"github.com/h820614/usp-agent-stomp/pkg/dmmanager"
	"github.com/h820614/usp-agent-stomp/pkg/mtpmanager"
)

// NewAgentCommand creates the uspagent command.
func NewAgentCommand() *cobra.Command {
	opts := options.NewAgentOptions()
	cmd := &cobra.Command{
		Use: "uspagent",
		Long: `uspagent is a USP (TR-369) agent. It exposes a TR-181 device data model
to remote controllers over STOMP, CoAP and MQTT transports, persists its
state in a single key value database, and serves a local command socket
for diagnostics.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := v1alpha1.Parse(opts.ConfigFile)
			if err != nil {
				klog.Fatalf("failed to load configuration: %v", err)
			}
			if opts.DatabaseFile != "" {
				cfg.Database.File = opts.DatabaseFile
			}

			registerModules(cfg, opts.ResetDatabase)
			core.Run()
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// registerModules opens the database, applies a factory reset when needed,
// and registers all the modules started by core.Run. Registration is the
// single-threaded startup phase; a failure here terminates the process.
func registerModules(cfg *v1alpha1.AgentConfiguration, resetDB bool) {
	needSeed := resetDB || !dbm.DataSourceExists(cfg.Database.File)
	if resetDB {
		if err := os.Remove(cfg.Database.File); err != nil && !os.IsNotExist(err) {
			klog.Fatalf("failed to remove database for reset: %v", err)
		}
	}
	dbm.InitDBManager(cfg.Database.File)

	store := database.NewParamStore()
	bootCause := "LocalReboot"
	if needSeed {
		bootCause = "FactoryReset"
		if err := database.FactoryReset(store, cfg.Database.FactoryResetFile); err != nil {
			klog.Fatalf("factory reset failed: %v", err)
		}
	}

	dmmanager.Register(cfg, store, bootCause)
	mtpmanager.Register(cfg.MTP.AllowAutodiscovery)
	cliserver.Register(cfg.CLI.Enable, cfg.CLI.SocketPath)
}
