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
	"strings"
	"sync"
)

// MemStore is an in-memory Store. It backs package tests and the transient
// database mode used by conformance tooling; semantics match ParamStore.
type MemStore struct {
	mu   sync.Mutex
	rows map[string]string
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]string)}
}

// Get looks one key up.
func (s *MemStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[key]
	return v, ok, nil
}

// GetByPrefix returns all rows under a path prefix.
func (s *MemStore) GetByPrefix(prefix string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for k, v := range s.rows {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

// Commit applies the batch. The in-memory map cannot partially fail, which
// preserves the all-or-nothing contract trivially.
func (s *MemStore) Commit(edits []Edit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edits {
		if e.Delete {
			delete(s.rows, e.Key)
		} else {
			s.rows[e.Key] = e.Value
		}
	}
	return nil
}

// DeleteByPrefix removes every row under a path prefix.
func (s *MemStore) DeleteByPrefix(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.rows {
		if strings.HasPrefix(k, prefix) {
			delete(s.rows, k)
		}
	}
	return nil
}

// Len reports the number of stored rows.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
