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

package retry

import (
	"testing"
	"time"
)

func TestComputeGrowthAndCap(t *testing.T) {
	base := 1 * time.Second
	limit := 60 * time.Second

	prevMax := time.Duration(0)
	for attempt := 0; attempt < 6; attempt++ {
		d := Compute(base, 2.0, limit, 0, attempt)
		want := base * (1 << uint(attempt))
		if want > limit {
			want = limit
		}
		if d != want {
			t.Errorf("attempt %d: got %s, want %s", attempt, d, want)
		}
		if d < prevMax {
			t.Errorf("attempt %d: delay %s shrank below %s", attempt, d, prevMax)
		}
		prevMax = d
	}

	// far out on the curve the cap holds
	if d := Compute(base, 2.0, limit, 0, 30); d != limit {
		t.Errorf("capped delay = %s, want %s", d, limit)
	}
}

func TestComputeJitterBounds(t *testing.T) {
	base := 10 * time.Second
	limit := 10 * time.Minute
	for i := 0; i < 50; i++ {
		d := Compute(base, 2.0, limit, 0.5, 0)
		if d < base || d > base+base/2 {
			t.Fatalf("jittered delay %s outside [%s, %s]", d, base, base+base/2)
		}
	}
}

func TestComputeDegenerateInputs(t *testing.T) {
	tests := []struct {
		name       string
		base       time.Duration
		multiplier float64
	}{
		{name: "zero base", base: 0, multiplier: 2.0},
		{name: "multiplier below one", base: time.Second, multiplier: 0.5},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d := Compute(test.base, test.multiplier, time.Minute, 0, 3)
			if d <= 0 || d > time.Minute {
				t.Errorf("delay %s out of range", d)
			}
		})
	}
}

func TestSchedulerExpiry(t *testing.T) {
	s := NewScheduler()
	s.SetPolicy(CategoryNotify, Policy{
		Base:       time.Second,
		Multiplier: 2.0,
		Cap:        time.Minute,
		MaxElapsed: time.Hour,
	})

	if s.Expired(CategoryNotify, time.Now()) {
		t.Error("fresh item reported expired")
	}
	if !s.Expired(CategoryNotify, time.Now().Add(-2*time.Hour)) {
		t.Error("old item not reported expired")
	}
	// categories without MaxElapsed never expire
	if s.Expired(CategoryStompConnect, time.Now().Add(-1000*time.Hour)) {
		t.Error("stomp reconnects must not expire")
	}
}

func TestSchedulerUnknownCategory(t *testing.T) {
	s := NewScheduler()
	d := s.NextDelay(Category("mystery"), 0)
	if d <= 0 {
		t.Errorf("unknown category delay %s", d)
	}
}
