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
	"context"
	"slices"

	"github.com/gorse-io/itemcf/common/log"
	"github.com/gorse-io/itemcf/common/util"
	"github.com/gorse-io/itemcf/dataflow"
	"github.com/gorse-io/itemcf/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const scorePrecision = 3

type AggregateOptions struct {
	Options
	// Threshold is the exclusive lower bound of emitted scores.
	Threshold float64
	// ExcludeSeen drops (user, item) keys present in the raw ratings.
	ExcludeSeen bool
}

type aggregateKind uint8

const (
	aggregatePartial aggregateKind = iota
	aggregateSeen
)

type aggregateRecord struct {
	kind         aggregateKind
	contribution float64
	weight       int
}

// Aggregate normalizes partial scores of each (user, item) into the weighted average
// sum(contribution)/sum(weight), rounded half up to 3 decimal places. Only scores greater than the
// threshold are emitted. With ExcludeSeen, ratings are joined as markers that drop their key.
func Aggregate(ctx context.Context, partials []dataset.PartialScore, ratings []string, opts AggregateOptions, counters *dataflow.Counters) ([][]dataset.Score, error) {
	inputs := []dataflow.Input[userItem, aggregateRecord]{
		dataflow.Slice("partial_scores", partials, func(partial dataset.PartialScore, emit dataflow.Emitter[userItem, aggregateRecord]) error {
			counters.Inc(CounterInput, 1)
			emit.Emit(userItem{userId: partial.UserId, itemId: partial.ItemId},
				aggregateRecord{kind: aggregatePartial, contribution: partial.Contribution, weight: partial.Weight})
			return nil
		}),
	}
	if opts.ExcludeSeen {
		inputs = append(inputs, ratingInput("ratings", ratings, counters, func(rating dataset.Rating, emit dataflow.Emitter[userItem, aggregateRecord]) {
			emit.Emit(userItem{userId: rating.UserId, itemId: rating.ItemId}, aggregateRecord{kind: aggregateSeen})
		}))
	}
	job := dataflow.Job[userItem, aggregateRecord, dataset.Score]{
		Name:   "aggregate",
		Inputs: inputs,
		Reduce: func(key userItem, records []aggregateRecord, emit func(dataset.Score)) error {
			var (
				contributions []float64
				sumWeight     int
				seen          bool
			)
			for _, record := range records {
				switch record.kind {
				case aggregateSeen:
					seen = true
				case aggregatePartial:
					contributions = append(contributions, record.contribution)
					sumWeight += record.weight
				}
			}
			if len(contributions) == 0 {
				return nil
			}
			if seen {
				counters.Inc(CounterExcluded, 1)
				return nil
			}
			// the sum must not depend on the arrival order of partial scores
			slices.Sort(contributions)
			sumContribution := lo.Sum(contributions)
			if sumWeight == 0 {
				counters.Inc(CounterZeroWeight, 1)
				log.Logger().Warn("skip partial scores with zero weight",
					zap.String("user_id", key.userId), zap.String("item_id", key.itemId))
				return nil
			}
			score := util.RoundHalfUp(sumContribution/float64(sumWeight), scorePrecision)
			if score <= opts.Threshold {
				counters.Inc(CounterBelowThreshold, 1)
				return nil
			}
			emit(dataset.Score{UserId: key.userId, ItemId: key.itemId, Score: score})
			return nil
		},
		Compare: compareUserItem,
	}
	scores, err := run(ctx, job, opts.Options, counters)
	return scores, errors.Trace(err)
}
