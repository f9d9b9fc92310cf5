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

package database

import (
	"os"
	"sort"

	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

// defaultSeed is the compiled-in factory configuration used when no seed
// file is configured. It gives the agent a single disabled STOMP MTP to be
// filled in by the first controller that provisions the device.
var defaultSeed = map[string]string{
	"Device.LocalAgent.MTP.1.Enable":            "false",
	"Device.LocalAgent.MTP.1.Protocol":          "STOMP",
	"Device.LocalAgent.MTP.1.STOMP.Reference":   "Device.STOMP.Connection.1",
	"Device.LocalAgent.MTP.1.STOMP.Destination": "",
	"Device.STOMP.Connection.1.Enable":          "false",
	"Device.STOMP.Connection.1.Host":            "",
	"Device.STOMP.Connection.1.Port":            "61613",
	"Device.STOMP.Connection.1.VirtualHost":     "/",
}

// FactoryReset populates an empty store from the seed source: a YAML file
// holding a flat key to value map when seedFile is set, otherwise the
// compiled-in defaults. Called at startup when the database file was absent
// or a reset was requested.
func FactoryReset(store Store, seedFile string) error {
	seed := defaultSeed
	if seedFile != "" {
		data, err := os.ReadFile(seedFile)
		if err != nil {
			return err
		}
		fileSeed := map[string]string{}
		if err := yaml.Unmarshal(data, &fileSeed); err != nil {
			return err
		}
		seed = fileSeed
	}

	keys := make([]string, 0, len(seed))
	for k := range seed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	edits := make([]Edit, 0, len(keys))
	for _, k := range keys {
		edits = append(edits, Edit{Key: k, Value: seed[k]})
	}
	if err := store.Commit(edits); err != nil {
		return err
	}
	klog.Infof("factory reset applied, %d parameters seeded", len(edits))
	return nil
}
