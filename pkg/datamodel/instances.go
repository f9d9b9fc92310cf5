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

package datamodel

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/database"
	"github.com/h820614/usp-agent-stomp/pkg/usperr"
)

// instanceSet tracks the live instance numbers of one concrete table.
type instanceSet struct {
	nums        []int
	refreshedAt time.Time
	loaded      bool
	// nextInst is the monotone allocation counter. Zero means not yet read
	// from the database.
	nextInst int
}

func (s *instanceSet) contains(n int) bool {
	for _, v := range s.nums {
		if v == n {
			return true
		}
	}
	return false
}

func (s *instanceSet) insert(n int) {
	if s.contains(n) {
		return
	}
	s.nums = append(s.nums, n)
	sort.Ints(s.nums)
}

func (s *instanceSet) remove(n int) {
	for i, v := range s.nums {
		if v == n {
			s.nums = append(s.nums[:i], s.nums[i+1:]...)
			return
		}
	}
}

// instanceCache tracks live object instances per concrete table path and
// issues unique instance numbers. Vendor enumerated tables are refreshed
// through their callback when their TTL lapses.
type instanceCache struct {
	reg  *Registry
	sets map[string]*instanceSet
}

func newInstanceCache(reg *Registry) *instanceCache {
	return &instanceCache{reg: reg, sets: make(map[string]*instanceSet)}
}

func (c *instanceCache) set(tablePath string) *instanceSet {
	s, ok := c.sets[tablePath]
	if !ok {
		s = &instanceSet{}
		c.sets[tablePath] = s
	}
	return s
}

// liveInstances returns a copy of the live instance numbers of a concrete
// table path, refreshing vendor tables first when stale. The refresh diff
// fires add and delete notifies for appeared and vanished instances.
func (c *instanceCache) liveInstances(table *Node, tablePath string) ([]int, error) {
	s := c.set(tablePath)
	obj := table.Object
	if obj != nil && obj.RefreshInstances != nil {
		stale := !s.loaded || time.Since(s.refreshedAt) >= obj.RefreshTTL
		if stale {
			if err := c.refresh(table, tablePath, s); err != nil {
				return nil, err
			}
		}
	}
	out := make([]int, len(s.nums))
	copy(out, s.nums)
	return out, nil
}

// refresh re-queries a vendor table and diffs the result against the cache.
func (c *instanceCache) refresh(table *Node, tablePath string, s *instanceSet) error {
	parent := parentPathOf(tablePath)
	fresh, err := table.Object.RefreshInstances(parent)
	if err != nil {
		return usperr.Internal(err)
	}
	sort.Ints(fresh)

	freshSet := make(map[int]bool, len(fresh))
	for _, n := range fresh {
		freshSet[n] = true
	}
	var vanished []int
	for _, n := range s.nums {
		if !freshSet[n] {
			vanished = append(vanished, n)
		}
	}
	var appeared []int
	for _, n := range fresh {
		if !s.contains(n) {
			appeared = append(appeared, n)
		}
	}

	s.nums = fresh
	s.refreshedAt = time.Now()
	s.loaded = true

	for _, n := range appeared {
		c.fireObjectNotify(table, tablePath, n, table.Object.AddNotify)
	}
	for _, n := range vanished {
		c.fireObjectNotify(table, tablePath, n, table.Object.DeleteNotify)
	}
	return nil
}

func (c *instanceCache) fireObjectNotify(table *Node, tablePath string, inst int, fn ObjectNotify) {
	if fn == nil {
		return
	}
	path := tablePath + "." + strconv.Itoa(inst)
	req := Request{Path: path, Instances: instancesOfPath(path)}
	if err := fn(req); err != nil {
		klog.Warningf("object notify for %s failed: %v", path, err)
	}
}

// exists reports whether an instance is live.
func (c *instanceCache) exists(table *Node, tablePath string, inst int) (bool, error) {
	nums, err := c.liveInstances(table, tablePath)
	if err != nil {
		return false, err
	}
	for _, n := range nums {
		if n == inst {
			return true, nil
		}
	}
	return false, nil
}

// allocate reserves the next instance number for a table and inserts it into
// the live set. Numbers are monotone per table and never reused.
func (c *instanceCache) allocate(tablePath string) (int, error) {
	s := c.set(tablePath)
	if s.nextInst == 0 {
		// lazily recover the counter from the database, falling back to one
		// past the highest live instance
		stored, ok, err := c.reg.store.Get(nextInstKeyPrefix + tablePath)
		if err != nil {
			return 0, usperr.Internal(err)
		}
		if ok {
			if n, perr := strconv.Atoi(stored); perr == nil && n > 0 {
				s.nextInst = n
			}
		}
		if s.nextInst == 0 {
			s.nextInst = 1
			if len(s.nums) > 0 {
				s.nextInst = s.nums[len(s.nums)-1] + 1
			}
		}
	}
	n := s.nextInst
	s.nextInst++
	s.insert(n)
	return n, nil
}

// unallocate undoes an allocate that was rolled back.
func (c *instanceCache) unallocate(tablePath string, inst int) {
	s := c.set(tablePath)
	s.remove(inst)
	if s.nextInst == inst+1 {
		s.nextInst = inst
	}
}

// drop removes an instance from the live set.
func (c *instanceCache) drop(tablePath string, inst int) {
	c.set(tablePath).remove(inst)
}

// reinsert restores an instance dropped by an aborted transaction.
func (c *instanceCache) reinsert(tablePath string, inst int) {
	c.set(tablePath).insert(inst)
}

// nextInstEdit returns the database edit persisting a table's counter.
func (c *instanceCache) nextInstEdit(tablePath string) database.Edit {
	s := c.set(tablePath)
	return database.Edit{Key: nextInstKeyPrefix + tablePath, Value: strconv.Itoa(s.nextInst)}
}

// instancesOfPath extracts the instance numbers of a concrete path.
func instancesOfPath(path string) []int {
	var out []int
	for _, seg := range strings.Split(strings.TrimSuffix(path, "."), ".") {
		if n, err := strconv.Atoi(seg); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// LoadInstances enumerates the database and populates the instance cache for
// DB backed tables. Rows that no longer match the schema are deleted with a
// warning; startup tolerates partial configuration.
func (r *Registry) LoadInstances() error {
	rows, err := r.store.GetByPrefix("Device.")
	if err != nil {
		return err
	}
	var corrupt []database.Edit
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		node, instances, lerr := r.lookup(key)
		if lerr != nil || node.Kind != KindParam {
			klog.Warningf("deleting corrupt database row %q: %v", key, lerr)
			corrupt = append(corrupt, database.Edit{Key: key, Delete: true})
			continue
		}
		r.recordInstancesFromPath(node, instances)
	}
	if len(corrupt) > 0 {
		if err := r.store.Commit(corrupt); err != nil {
			return err
		}
	}
	return nil
}

// recordInstancesFromPath registers every (table, instance) pair appearing
// in a concrete parameter path.
func (r *Registry) recordInstancesFromPath(node *Node, instances []int) {
	// collect table ancestors leaf-to-root, then walk root-to-leaf
	var tables []*Node
	for n := node; n != nil; n = n.Parent {
		if n.IsTable() {
			tables = append(tables, n)
		}
	}
	for i, j := 0, len(tables)-1; i < j; i, j = i+1, j-1 {
		tables[i], tables[j] = tables[j], tables[i]
	}
	for _, t := range tables {
		if t.Order > len(instances) {
			break
		}
		tablePath := concretePath(t, instances[:t.Order-1])
		c := r.insts.set(tablePath)
		c.insert(instances[t.Order-1])
		c.loaded = true
	}
}
