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

package logics

import (
	"cmp"
	"context"

	"github.com/gorse-io/itemcf/common/log"
	"github.com/gorse-io/itemcf/dataflow"
	"github.com/gorse-io/itemcf/dataset"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Counter names reported by stages.
const (
	CounterInput          = "input"
	CounterOutput         = "output"
	CounterMalformed      = "malformed"
	CounterPruned         = "pruned"
	CounterExcluded       = "excluded"
	CounterMissingUser    = "missing_user"
	CounterInvalidEdge    = "invalid_edge"
	CounterZeroWeight     = "zero_weight"
	CounterBelowThreshold = "below_threshold"
)

const maxLoggedRowLength = 256

// Options controls the parallelism of a stage.
type Options struct {
	Workers    int
	Partitions int
}

// userItem keys a (user, item) pair.
type userItem struct {
	userId string
	itemId string
}

func (k userItem) String() string {
	return k.userId + ":" + k.itemId
}

func compareUserItem(a, b userItem) int {
	return cmp.Or(cmp.Compare(a.userId, b.userId), cmp.Compare(a.itemId, b.itemId))
}

// ratingInput maps raw rating lines. Malformed lines are counted and skipped.
func ratingInput[K comparable, V any](name string, lines []string, counters *dataflow.Counters,
	mapper func(rating dataset.Rating, emit dataflow.Emitter[K, V])) dataflow.Input[K, V] {
	return dataflow.Slice(name, lines, func(line string, emit dataflow.Emitter[K, V]) error {
		counters.Inc(CounterInput, 1)
		rating, err := dataset.ParseRating(line)
		if err != nil {
			counters.Inc(CounterMalformed, 1)
			log.Logger().Debug("skip malformed rating",
				zap.String("line", log.Truncate(line, maxLoggedRowLength)), zap.Error(err))
			return nil
		}
		mapper(rating, emit)
		return nil
	})
}

func run[K comparable, V, O any](ctx context.Context, job dataflow.Job[K, V, O], opts Options, counters *dataflow.Counters) ([][]O, error) {
	job.Workers = opts.Workers
	job.Partitions = opts.Partitions
	outputs, err := job.Run(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, output := range outputs {
		counters.Inc(CounterOutput, int64(len(output)))
	}
	return outputs, nil
}
