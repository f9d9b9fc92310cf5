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
	"path/filepath"
	"testing"
)

func TestObfuscateRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		clear string
	}{
		{name: "simple", clear: "hunter2"},
		{name: "empty", clear: ""},
		{name: "binaryish", clear: "p@ss\x00word\xff"},
		{name: "long", clear: "a value considerably longer than the obfuscation key itself"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			stored := Obfuscate(test.clear)
			if stored == test.clear && test.clear != "" {
				t.Errorf("Obfuscate(%q) did not change the value", test.clear)
			}
			back, ok := Deobfuscate(stored)
			if !ok {
				t.Fatalf("Deobfuscate(%q) reported corrupt", stored)
			}
			if back != test.clear {
				t.Errorf("round trip = %q, want %q", back, test.clear)
			}
		})
	}
}

func TestDeobfuscateCorrupt(t *testing.T) {
	if _, ok := Deobfuscate("not hex!"); ok {
		t.Error("corrupt value not detected")
	}
}

func TestMemStoreCommitAndPrefix(t *testing.T) {
	s := NewMemStore()
	err := s.Commit([]Edit{
		{Key: "Device.A.1.Name", Value: "one"},
		{Key: "Device.A.2.Name", Value: "two"},
		{Key: "Device.B.Other", Value: "three"},
	})
	if err != nil {
		t.Fatal(err)
	}

	rows, err := s.GetByPrefix("Device.A.")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("prefix scan found %d rows, want 2", len(rows))
	}

	// delete wins inside a batch application
	err = s.Commit([]Edit{
		{Key: "Device.A.1.Name", Value: "changed"},
		{Key: "Device.A.2.Name", Delete: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	v, ok, _ := s.Get("Device.A.1.Name")
	if !ok || v != "changed" {
		t.Errorf("Device.A.1.Name = %q/%v", v, ok)
	}
	if _, ok, _ := s.Get("Device.A.2.Name"); ok {
		t.Error("deleted row still present")
	}
}

func TestFactoryResetDefaults(t *testing.T) {
	s := NewMemStore()
	if err := FactoryReset(s, ""); err != nil {
		t.Fatal(err)
	}
	v, ok, _ := s.Get("Device.LocalAgent.MTP.1.Protocol")
	if !ok || v != "STOMP" {
		t.Errorf("seeded protocol = %q/%v, want STOMP", v, ok)
	}
	if s.Len() != len(defaultSeed) {
		t.Errorf("seeded %d rows, want %d", s.Len(), len(defaultSeed))
	}
}

func TestFactoryResetFromFile(t *testing.T) {
	dir := t.TempDir()
	seedFile := filepath.Join(dir, "seed.yaml")
	seed := "Device.LocalAgent.MTP.1.Enable: \"true\"\nDevice.STOMP.Connection.1.Host: broker.example\n"
	if err := os.WriteFile(seedFile, []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewMemStore()
	if err := FactoryReset(s, seedFile); err != nil {
		t.Fatal(err)
	}
	v, ok, _ := s.Get("Device.STOMP.Connection.1.Host")
	if !ok || v != "broker.example" {
		t.Errorf("seeded host = %q/%v", v, ok)
	}
	if s.Len() != 2 {
		t.Errorf("seeded %d rows, want 2", s.Len())
	}
}

func TestFactoryResetMissingFile(t *testing.T) {
	s := NewMemStore()
	if err := FactoryReset(s, "/does/not/exist.yaml"); err == nil {
		t.Error("missing seed file not reported")
	}
}
