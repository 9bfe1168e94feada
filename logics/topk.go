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

	"github.com/gorse-io/itemcf/common/heap"
	"github.com/gorse-io/itemcf/dataflow"
	"github.com/gorse-io/itemcf/dataset"
	"github.com/juju/errors"
)

// lessItemScore orders by score, then by item id descending so that the smaller id ranks higher
// among equal scores.
func lessItemScore(a, b dataset.ItemScore) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ItemId > b.ItemId
}

// SelectTopK keeps the k best scored items of each user, sorted by score descending then by item
// id ascending. A user with scores always gets a record, which is empty if k is zero.
func SelectTopK(ctx context.Context, scores []dataset.Score, k int, opts Options, counters *dataflow.Counters) ([][]dataset.Recommendation, error) {
	job := dataflow.Job[string, dataset.ItemScore, dataset.Recommendation]{
		Name: "topk",
		Inputs: []dataflow.Input[string, dataset.ItemScore]{
			dataflow.Slice("aggregated_scores", scores, func(score dataset.Score, emit dataflow.Emitter[string, dataset.ItemScore]) error {
				counters.Inc(CounterInput, 1)
				emit.Emit(score.UserId, dataset.ItemScore{ItemId: score.ItemId, Score: score.Score})
				return nil
			}),
		},
		Reduce: func(userId string, items []dataset.ItemScore, emit func(dataset.Recommendation)) error {
			filter := heap.NewTopKFilter(k, lessItemScore)
			for _, item := range items {
				filter.Push(item)
			}
			recommendation := dataset.Recommendation{UserId: userId}
			if filter.Len() > 0 {
				recommendation.Items = filter.PopAll()
			}
			emit(recommendation)
			return nil
		},
		Compare: cmp.Compare[string],
	}
	recommendations, err := run(ctx, job, opts, counters)
	return recommendations, errors.Trace(err)
}
