// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataflow

import (
	"sort"
	"sync"

	"go.uber.org/atomic"
)

// Counters are named event counters shared by the tasks of a stage.
type Counters struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
}

func NewCounters() *Counters {
	return &Counters{counters: make(map[string]*atomic.Int64)}
}

func (c *Counters) counter(name string) *atomic.Int64 {
	c.mu.RLock()
	counter, ok := c.counters[name]
	c.mu.RUnlock()
	if ok {
		return counter
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if counter, ok = c.counters[name]; !ok {
		counter = atomic.NewInt64(0)
		c.counters[name] = counter
	}
	return counter
}

// Inc adds delta to a counter.
func (c *Counters) Inc(name string, delta int64) {
	c.counter(name).Add(delta)
}

// Get returns the value of a counter, zero if it was never incremented.
func (c *Counters) Get(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if counter, ok := c.counters[name]; ok {
		return counter.Load()
	}
	return 0
}

// Names returns counter names in order.
func (c *Counters) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.counters))
	for name := range c.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot copies current values.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]int64, len(c.counters))
	for name, counter := range c.counters {
		snapshot[name] = counter.Load()
	}
	return snapshot
}
