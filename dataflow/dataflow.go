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
	"context"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/gorse-io/itemcf/common/parallel"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Emitter receives keyed messages from a map task.
type Emitter[K comparable, V any] interface {
	Emit(key K, value V)
}

// Input is one record source of a job. Map is called once for every index in [0, Len).
type Input[K comparable, V any] struct {
	Name string
	Len  int
	Map  func(i int, emit Emitter[K, V]) error
}

// Slice creates an input mapping over records.
func Slice[I any, K comparable, V any](name string, records []I, mapper func(record I, emit Emitter[K, V]) error) Input[K, V] {
	return Input[K, V]{
		Name: name,
		Len:  len(records),
		Map: func(i int, emit Emitter[K, V]) error {
			return mapper(records[i], emit)
		},
	}
}

// Job is one map/shuffle/reduce pass. All messages sharing a key are delivered to a single
// reduce call in the order they were emitted (by input, then by record). Keys of a partition
// are reduced in Compare order.
type Job[K comparable, V, O any] struct {
	Name       string
	Inputs     []Input[K, V]
	Reduce     func(key K, values []V, emit func(O)) error
	Compare    func(a, b K) int
	Hash       func(key K) uint64
	Partitions int
	Workers    int
}

type message[K comparable, V any] struct {
	key   K
	value V
}

// shuffleWriter buffers messages of a map task by partition.
type shuffleWriter[K comparable, V any] struct {
	buffers [][]message[K, V]
	hash    func(K) uint64
}

func (w *shuffleWriter[K, V]) Emit(key K, value V) {
	p := w.hash(key) % uint64(len(w.buffers))
	w.buffers[p] = append(w.buffers[p], message[K, V]{key: key, value: value})
}

type mapTask struct {
	input      int
	begin, end int
}

// Run executes the job and returns outputs of every partition. The map phase completes for all
// inputs before any reduce starts.
func (job *Job[K, V, O]) Run(ctx context.Context) ([][]O, error) {
	if job.Reduce == nil || job.Compare == nil {
		return nil, errors.NotValidf("job %s without reduce or compare", job.Name)
	}
	numPartitions := max(job.Partitions, 1)
	numWorkers := max(job.Workers, 1)
	hash := job.Hash
	if hash == nil {
		hash = Hash[K]
	}

	// map
	var tasks []mapTask
	for i, input := range job.Inputs {
		for _, r := range parallel.Ranges(input.Len, numWorkers) {
			tasks = append(tasks, mapTask{input: i, begin: r.A, end: r.B})
		}
	}
	writers := make([]*shuffleWriter[K, V], len(tasks))
	err := parallel.Parallel(ctx, len(tasks), numWorkers, func(_, jobId int) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("panic in map task of %s: %v", job.Name, r)
			}
		}()
		task := tasks[jobId]
		input := job.Inputs[task.input]
		writer := &shuffleWriter[K, V]{buffers: make([][]message[K, V], numPartitions), hash: hash}
		for i := task.begin; i < task.end; i++ {
			if err := input.Map(i, writer); err != nil {
				return errors.Annotatef(err, "map %s", input.Name)
			}
		}
		writers[jobId] = writer
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	// reduce
	outputs := make([][]O, numPartitions)
	err = parallel.Parallel(ctx, numPartitions, numWorkers, func(_, partition int) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("panic in reduce task of %s: %v", job.Name, r)
			}
		}()
		groups := make(map[K][]V)
		for _, writer := range writers {
			for _, msg := range writer.buffers[partition] {
				groups[msg.key] = append(groups[msg.key], msg.value)
			}
		}
		keys := lo.Keys(groups)
		slices.SortFunc(keys, job.Compare)
		var output []O
		emit := func(o O) {
			output = append(output, o)
		}
		for _, key := range keys {
			if err := job.Reduce(key, groups[key], emit); err != nil {
				return errors.Annotatef(err, "reduce %v", key)
			}
		}
		outputs[partition] = output
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return outputs, nil
}

// Hash is the default partitioner hash. Strings are hashed directly, other keys by their
// default formatting.
func Hash[K comparable](key K) uint64 {
	switch k := any(key).(type) {
	case string:
		return xxhash.Sum64String(k)
	case fmt.Stringer:
		return xxhash.Sum64String(k.String())
	default:
		return xxhash.Sum64String(fmt.Sprint(k))
	}
}
