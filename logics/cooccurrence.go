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
	"sort"

	"github.com/gorse-io/itemcf/dataflow"
	"github.com/gorse-io/itemcf/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

type itemPair struct {
	itemA string
	itemB string
}

func (p itemPair) String() string {
	return p.itemA + ":" + p.itemB
}

func compareItemPair(a, b itemPair) int {
	return cmp.Or(cmp.Compare(a.itemA, b.itemA), cmp.Compare(a.itemB, b.itemB))
}

// BuildCoOccurrence counts, for every ordered pair of items including self pairs, the users who
// rated both. A pair is kept only if its count exceeds minSupport. Items rated twice by a user
// count once for that user.
func BuildCoOccurrence(ctx context.Context, vectors []dataset.UserVector, minSupport int, opts Options, counters *dataflow.Counters) ([][]dataset.CoOccurrence, error) {
	job := dataflow.Job[itemPair, int, dataset.CoOccurrence]{
		Name: "cooccurrence",
		Inputs: []dataflow.Input[itemPair, int]{
			dataflow.Slice("user_vectors", vectors, func(vector dataset.UserVector, emit dataflow.Emitter[itemPair, int]) error {
				counters.Inc(CounterInput, 1)
				items := lo.Uniq(lo.Map(vector.Items, func(item dataset.ItemRating, _ int) string {
					return item.ItemId
				}))
				for _, itemA := range items {
					for _, itemB := range items {
						emit.Emit(itemPair{itemA: itemA, itemB: itemB}, 1)
					}
				}
				return nil
			}),
		},
		Reduce: func(pair itemPair, counts []int, emit func(dataset.CoOccurrence)) error {
			weight := lo.Sum(counts)
			if weight <= minSupport {
				counters.Inc(CounterPruned, 1)
				return nil
			}
			emit(dataset.CoOccurrence{ItemA: pair.itemA, ItemB: pair.itemB, Weight: weight})
			return nil
		},
		Compare: compareItemPair,
	}
	pairs, err := run(ctx, job, opts, counters)
	return pairs, errors.Trace(err)
}

// VerifySymmetry checks weight(a, b) == weight(b, a) for every pair. A pair whose mirror is missing
// is asymmetric as well.
func VerifySymmetry(pairs []dataset.CoOccurrence) error {
	weights := make(map[itemPair]int, len(pairs))
	for _, pair := range pairs {
		key := itemPair{itemA: pair.ItemA, itemB: pair.ItemB}
		if _, exist := weights[key]; exist {
			return errors.NotValidf("duplicated co-occurrence %v", key)
		}
		weights[key] = pair.Weight
	}
	var asymmetric []itemPair
	for key, weight := range weights {
		mirror, exist := weights[itemPair{itemA: key.itemB, itemB: key.itemA}]
		if !exist || mirror != weight {
			asymmetric = append(asymmetric, key)
		}
	}
	if len(asymmetric) > 0 {
		sort.Slice(asymmetric, func(i, j int) bool {
			return compareItemPair(asymmetric[i], asymmetric[j]) < 0
		})
		return errors.NotValidf("%d asymmetric co-occurrences (first %v)", len(asymmetric), asymmetric[0])
	}
	return nil
}
