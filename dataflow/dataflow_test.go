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
	"cmp"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wordCount(lines []string, partitions, workers int) Job[string, int, string] {
	return Job[string, int, string]{
		Name: "word_count",
		Inputs: []Input[string, int]{
			Slice("lines", lines, func(line string, emit Emitter[string, int]) error {
				for _, word := range strings.Fields(line) {
					emit.Emit(word, 1)
				}
				return nil
			}),
		},
		Reduce: func(key string, values []int, emit func(string)) error {
			emit(fmt.Sprintf("%s=%d", key, lo.Sum(values)))
			return nil
		},
		Compare:    cmp.Compare[string],
		Partitions: partitions,
		Workers:    workers,
	}
}

func TestJob(t *testing.T) {
	lines := []string{"a b c", "b c", "c", "d a"}
	job := wordCount(lines, 3, 4)
	outputs, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, outputs, 3)
	assert.ElementsMatch(t, []string{"a=2", "b=2", "c=3", "d=1"}, lo.Flatten(outputs))
	for _, output := range outputs {
		assert.IsIncreasing(t, output)
	}
}

func TestJobDeterministic(t *testing.T) {
	var lines []string
	for i := 0; i < 1000; i++ {
		lines = append(lines, fmt.Sprintf("w%d w%d w%d", i%17, i%31, i%7))
	}
	job := wordCount(lines, 4, 1)
	expected, err := job.Run(context.Background())
	require.NoError(t, err)
	for _, workers := range []int{2, 3, 8} {
		job = wordCount(lines, 4, workers)
		outputs, err := job.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, expected, outputs)
	}
}

func TestJobValueOrder(t *testing.T) {
	// values of a key arrive by input, then by record
	job := Job[string, string, string]{
		Name: "concat",
		Inputs: []Input[string, string]{
			Slice("left", []string{"l0", "l1", "l2", "l3"}, func(record string, emit Emitter[string, string]) error {
				emit.Emit("k", record)
				return nil
			}),
			Slice("right", []string{"r0", "r1", "r2"}, func(record string, emit Emitter[string, string]) error {
				emit.Emit("k", record)
				return nil
			}),
		},
		Reduce: func(key string, values []string, emit func(string)) error {
			emit(strings.Join(values, ","))
			return nil
		},
		Compare:    cmp.Compare[string],
		Partitions: 2,
		Workers:    3,
	}
	outputs, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"l0,l1,l2,l3,r0,r1,r2"}, lo.Flatten(outputs))
}

func TestJobEmpty(t *testing.T) {
	job := wordCount(nil, 2, 2)
	outputs, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{nil, nil}, outputs)
}

func TestJobMapError(t *testing.T) {
	job := wordCount([]string{"a", "b"}, 2, 2)
	job.Inputs = append(job.Inputs, Slice("broken", []int{1}, func(int, Emitter[string, int]) error {
		return errors.New("broken record")
	}))
	_, err := job.Run(context.Background())
	assert.ErrorContains(t, err, "broken record")
}

func TestJobReduceError(t *testing.T) {
	job := wordCount([]string{"a", "b"}, 2, 2)
	job.Reduce = func(key string, _ []int, _ func(string)) error {
		if key == "b" {
			return errors.New("broken key")
		}
		return nil
	}
	_, err := job.Run(context.Background())
	assert.ErrorContains(t, err, "broken key")
}

func TestJobPanic(t *testing.T) {
	job := wordCount([]string{"a", "b"}, 2, 1)
	job.Reduce = func(string, []int, func(string)) error {
		panic("boom")
	}
	_, err := job.Run(context.Background())
	assert.ErrorContains(t, err, "boom")
}

func TestJobInvalid(t *testing.T) {
	job := wordCount([]string{"a"}, 1, 1)
	job.Compare = nil
	_, err := job.Run(context.Background())
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestJobCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := wordCount([]string{"a"}, 1, 1)
	_, err := job.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type pair struct {
	a, b int
}

func (p pair) String() string {
	return fmt.Sprintf("%d:%d", p.a, p.b)
}

func TestHash(t *testing.T) {
	assert.Equal(t, Hash("1:2"), Hash(pair{1, 2}))
	assert.Equal(t, Hash("42"), Hash(42))
	assert.NotEqual(t, Hash("a"), Hash("b"))
}
