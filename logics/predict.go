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

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/itemcf/common/log"
	"github.com/gorse-io/itemcf/dataflow"
	"github.com/gorse-io/itemcf/dataset"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// SeenItems is a read-only snapshot of the items rated by each user. It is built once before a
// stage starts and then shared by all reduce workers.
type SeenItems struct {
	items map[string]mapset.Set[string]
}

func NewSeenItems(vectors []dataset.UserVector) *SeenItems {
	seen := &SeenItems{items: make(map[string]mapset.Set[string], len(vectors))}
	for _, vector := range vectors {
		set, exist := seen.items[vector.UserId]
		if !exist {
			set = mapset.NewThreadUnsafeSetWithSize[string](len(vector.Items))
			seen.items[vector.UserId] = set
		}
		for _, item := range vector.Items {
			set.Add(item.ItemId)
		}
	}
	return seen
}

// Rated reports whether a user rated an item. found is false if the user is absent from the
// snapshot, in which case the user is treated as having rated nothing.
func (s *SeenItems) Rated(userId, itemId string) (rated, found bool) {
	set, found := s.items[userId]
	if !found {
		return false, false
	}
	return set.Contains(itemId), true
}

func (s *SeenItems) Len() int {
	return len(s.items)
}

type joinKind uint8

const (
	joinEdge joinKind = iota
	joinRating
)

// joinRecord is either a co-occurrence edge (itemA, weight) or a rating (user, rating) of the
// join item.
type joinRecord struct {
	kind   joinKind
	itemId string
	weight int
	userId string
	rating float64
}

// Predict joins co-occurrence edges with raw ratings on the item, emitting the contribution
// weight*rating to (user, itemA) for every edge (itemA, itemB) and rating of itemB by the user,
// unless the user has already rated itemA.
func Predict(ctx context.Context, pairs []dataset.CoOccurrence, ratings []string, seen *SeenItems, opts Options, counters *dataflow.Counters) ([][]dataset.PartialScore, error) {
	job := dataflow.Job[string, joinRecord, dataset.PartialScore]{
		Name: "predict",
		Inputs: []dataflow.Input[string, joinRecord]{
			dataflow.Slice("cooccurrence", pairs, func(pair dataset.CoOccurrence, emit dataflow.Emitter[string, joinRecord]) error {
				counters.Inc(CounterInput, 1)
				if pair.Weight <= 0 {
					counters.Inc(CounterInvalidEdge, 1)
					return nil
				}
				emit.Emit(pair.ItemB, joinRecord{kind: joinEdge, itemId: pair.ItemA, weight: pair.Weight})
				return nil
			}),
			ratingInput("ratings", ratings, counters, func(rating dataset.Rating, emit dataflow.Emitter[string, joinRecord]) {
				emit.Emit(rating.ItemId, joinRecord{kind: joinRating, userId: rating.UserId, rating: rating.Rating})
			}),
		},
		Reduce: func(itemB string, records []joinRecord, emit func(dataset.PartialScore)) error {
			var edges, ratings []joinRecord
			for _, record := range records {
				switch record.kind {
				case joinEdge:
					edges = append(edges, record)
				case joinRating:
					ratings = append(ratings, record)
				default:
					return errors.NotValidf("join record kind %d", record.kind)
				}
			}
			for _, rating := range ratings {
				if _, found := seen.Rated(rating.userId, itemB); !found {
					counters.Inc(CounterMissingUser, 1)
					log.Logger().Warn("user missing from user vectors",
						zap.String("user_id", rating.userId), zap.String("item_id", itemB))
				}
				for _, edge := range edges {
					if rated, _ := seen.Rated(rating.userId, edge.itemId); rated {
						counters.Inc(CounterExcluded, 1)
						continue
					}
					emit(dataset.PartialScore{
						UserId:       rating.userId,
						ItemId:       edge.itemId,
						Contribution: float64(edge.weight) * rating.rating,
						Weight:       edge.weight,
					})
				}
			}
			return nil
		},
		Compare: cmp.Compare[string],
	}
	scores, err := run(ctx, job, opts, counters)
	return scores, errors.Trace(err)
}
