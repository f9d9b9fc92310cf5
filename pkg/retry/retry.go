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

// Package retry computes reconnect and re-notify delays: truncated
// exponential backoff with jitter, per category, bounded by a maximum
// elapsed time after which the item permanently fails.
package retry

import (
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// Category selects a backoff policy.
type Category string

const (
	// CategoryStompConnect paces STOMP broker reconnects.
	CategoryStompConnect Category = "stomp-connect"
	// CategoryMqttConnect paces MQTT broker reconnects.
	CategoryMqttConnect Category = "mqtt-connect"
	// CategoryNotify paces re-sends of unacknowledged notifications.
	CategoryNotify Category = "notify"
)

// Policy describes one backoff curve.
type Policy struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
	// Jitter is the wait.Jitter maxFactor applied to each delay.
	Jitter float64
	// MaxElapsed bounds the total retry window. Zero means unbounded.
	MaxElapsed time.Duration
}

var defaultPolicies = map[Category]Policy{
	CategoryStompConnect: {Base: 1 * time.Second, Multiplier: 2.0, Cap: 10 * time.Minute, Jitter: 0.5},
	CategoryMqttConnect:  {Base: 1 * time.Second, Multiplier: 2.0, Cap: 10 * time.Minute, Jitter: 0.5},
	CategoryNotify:       {Base: 5 * time.Second, Multiplier: 2.0, Cap: 5 * time.Minute, Jitter: 0.3, MaxElapsed: 24 * time.Hour},
}

// Scheduler hands out delays. It is stateless apart from its policy table;
// callers carry their own attempt counters.
type Scheduler struct {
	policies map[Category]Policy
}

// NewScheduler returns a scheduler with the default policy table.
func NewScheduler() *Scheduler {
	p := make(map[Category]Policy, len(defaultPolicies))
	for k, v := range defaultPolicies {
		p[k] = v
	}
	return &Scheduler{policies: p}
}

// SetPolicy overrides one category's curve.
func (s *Scheduler) SetPolicy(cat Category, p Policy) {
	s.policies[cat] = p
}

// NextDelay returns the jittered delay before attempt number attempt
// (counting from 0).
func (s *Scheduler) NextDelay(cat Category, attempt int) time.Duration {
	p, ok := s.policies[cat]
	if !ok {
		p = Policy{Base: time.Second, Multiplier: 2.0, Cap: time.Minute}
	}
	return Compute(p.Base, p.Multiplier, p.Cap, p.Jitter, attempt)
}

// Expired reports whether an item that started retrying at started has used
// up its category's retry window.
func (s *Scheduler) Expired(cat Category, started time.Time) bool {
	p, ok := s.policies[cat]
	if !ok || p.MaxElapsed == 0 {
		return false
	}
	return time.Since(started) > p.MaxElapsed
}

// Compute is the raw backoff curve: base*multiplier^attempt truncated at
// limit, then jittered. Exposed so STOMP connections can apply the per-row
// ServerRetry parameters from the data model.
func Compute(base time.Duration, multiplier float64, limit time.Duration, jitter float64, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if multiplier < 1.0 {
		multiplier = 1.0
	}
	d := time.Duration(float64(base) * math.Pow(multiplier, float64(attempt)))
	if d <= 0 || (limit > 0 && d > limit) {
		d = limit
	}
	if jitter > 0 {
		d = wait.Jitter(d, jitter)
		if limit > 0 && d > limit {
			d = limit
		}
	}
	return d
}
