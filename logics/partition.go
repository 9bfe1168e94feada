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

	"github.com/gorse-io/itemcf/dataflow"
	"github.com/gorse-io/itemcf/dataset"
	"github.com/juju/errors"
)

// PartitionByUser groups raw ratings by user. Items of a vector keep the input order and duplicated
// (user, item) ratings are kept.
func PartitionByUser(ctx context.Context, lines []string, opts Options, counters *dataflow.Counters) ([][]dataset.UserVector, error) {
	job := dataflow.Job[string, dataset.ItemRating, dataset.UserVector]{
		Name: "partition",
		Inputs: []dataflow.Input[string, dataset.ItemRating]{
			ratingInput("ratings", lines, counters, func(rating dataset.Rating, emit dataflow.Emitter[string, dataset.ItemRating]) {
				emit.Emit(rating.UserId, dataset.ItemRating{ItemId: rating.ItemId, Rating: rating.Rating})
			}),
		},
		Reduce: func(userId string, items []dataset.ItemRating, emit func(dataset.UserVector)) error {
			emit(dataset.UserVector{UserId: userId, Items: items})
			return nil
		},
		Compare: cmp.Compare[string],
	}
	vectors, err := run(ctx, job, opts, counters)
	return vectors, errors.Trace(err)
}
