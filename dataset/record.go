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

package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gorse-io/itemcf/common/util"
	"github.com/juju/errors"
)

// Rating is a raw observation `user,item,rating`.
type Rating struct {
	UserId string
	ItemId string
	Rating float64
}

// ParseRating parses a raw rating line. Fields after the rating are ignored.
func ParseRating(line string) (Rating, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		return Rating{}, errors.NotValidf("rating %q with %d fields", line, len(fields))
	}
	userId, itemId := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
	if err := util.ValidateId(userId); err != nil {
		return Rating{}, errors.NewNotValid(err, "user id")
	}
	if err := util.ValidateId(itemId); err != nil {
		return Rating{}, errors.NewNotValid(err, "item id")
	}
	rating, err := util.ParseFloat(fields[2])
	if err != nil {
		return Rating{}, errors.NewNotValid(err, "rating")
	}
	if rating < 0 {
		return Rating{}, errors.NotValidf("negative rating %v", rating)
	}
	return Rating{UserId: userId, ItemId: itemId, Rating: rating}, nil
}

func (r Rating) String() string {
	return r.UserId + "," + r.ItemId + "," + util.FormatFloat(r.Rating)
}

type ItemRating struct {
	ItemId string
	Rating float64
}

// UserVector holds every rating of a user: `user<TAB>item:rating,item:rating,...`.
type UserVector struct {
	UserId string
	Items  []ItemRating
}

func ParseUserVector(line string) (UserVector, error) {
	key, value, err := splitKeyValue(line)
	if err != nil {
		return UserVector{}, errors.Trace(err)
	}
	vector := UserVector{UserId: key}
	for _, field := range strings.Split(value, ",") {
		itemId, rating, err := splitPair(field, ":")
		if err != nil {
			return UserVector{}, errors.Trace(err)
		}
		r, err := util.ParseFloat(rating)
		if err != nil {
			return UserVector{}, errors.Annotatef(err, "user vector %q", line)
		}
		vector.Items = append(vector.Items, ItemRating{ItemId: itemId, Rating: r})
	}
	return vector, nil
}

func (v UserVector) String() string {
	var builder strings.Builder
	builder.WriteString(v.UserId)
	builder.WriteByte('\t')
	for i, item := range v.Items {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(item.ItemId)
		builder.WriteByte(':')
		builder.WriteString(util.FormatFloat(item.Rating))
	}
	return builder.String()
}

// CoOccurrence is the number of users who rated both items: `itemA:itemB<TAB>weight`.
type CoOccurrence struct {
	ItemA  string
	ItemB  string
	Weight int
}

func ParseCoOccurrence(line string) (CoOccurrence, error) {
	key, value, err := splitKeyValue(line)
	if err != nil {
		return CoOccurrence{}, errors.Trace(err)
	}
	itemA, itemB, err := splitPair(key, ":")
	if err != nil {
		return CoOccurrence{}, errors.Trace(err)
	}
	weight, err := strconv.Atoi(value)
	if err != nil {
		return CoOccurrence{}, errors.NewNotValid(err, fmt.Sprintf("co-occurrence %q", line))
	}
	return CoOccurrence{ItemA: itemA, ItemB: itemB, Weight: weight}, nil
}

func (c CoOccurrence) String() string {
	return c.ItemA + ":" + c.ItemB + "\t" + strconv.Itoa(c.Weight)
}

// PartialScore is one weighted contribution to the prediction of an item for a user:
// `user:item<TAB>contribution,weight`.
type PartialScore struct {
	UserId       string
	ItemId       string
	Contribution float64
	Weight       int
}

func ParsePartialScore(line string) (PartialScore, error) {
	key, value, err := splitKeyValue(line)
	if err != nil {
		return PartialScore{}, errors.Trace(err)
	}
	userId, itemId, err := splitPair(key, ":")
	if err != nil {
		return PartialScore{}, errors.Trace(err)
	}
	contribution, weight, err := splitPair(value, ",")
	if err != nil {
		return PartialScore{}, errors.Trace(err)
	}
	score := PartialScore{UserId: userId, ItemId: itemId}
	if score.Contribution, err = util.ParseFloat(contribution); err != nil {
		return PartialScore{}, errors.Annotatef(err, "partial score %q", line)
	}
	if score.Weight, err = strconv.Atoi(weight); err != nil {
		return PartialScore{}, errors.NewNotValid(err, fmt.Sprintf("partial score %q", line))
	}
	return score, nil
}

func (s PartialScore) String() string {
	return s.UserId + ":" + s.ItemId + "\t" + util.FormatFloat(s.Contribution) + "," + strconv.Itoa(s.Weight)
}

// Score is the normalized prediction of an item for a user: `user<TAB>item:score`.
type Score struct {
	UserId string
	ItemId string
	Score  float64
}

func ParseScore(line string) (Score, error) {
	key, value, err := splitKeyValue(line)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	itemId, score, err := splitPair(value, ":")
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	s, err := util.ParseFloat(score)
	if err != nil {
		return Score{}, errors.Annotatef(err, "score %q", line)
	}
	return Score{UserId: key, ItemId: itemId, Score: s}, nil
}

func (s Score) String() string {
	return s.UserId + "\t" + s.ItemId + ":" + util.FormatFloat(s.Score)
}

type ItemScore struct {
	ItemId string
	Score  float64
}

// Recommendation is the ranked list of a user: `user<TAB>item:score,item:score,...`. The list may
// be empty.
type Recommendation struct {
	UserId string
	Items  []ItemScore
}

func ParseRecommendation(line string) (Recommendation, error) {
	userId, value, found := strings.Cut(line, "\t")
	if !found || userId == "" {
		return Recommendation{}, errors.NotValidf("recommendation %q", line)
	}
	recommendation := Recommendation{UserId: userId}
	if value == "" {
		return recommendation, nil
	}
	for _, field := range strings.Split(value, ",") {
		itemId, score, err := splitPair(field, ":")
		if err != nil {
			return Recommendation{}, errors.Trace(err)
		}
		s, err := util.ParseFloat(score)
		if err != nil {
			return Recommendation{}, errors.Annotatef(err, "recommendation %q", line)
		}
		recommendation.Items = append(recommendation.Items, ItemScore{ItemId: itemId, Score: s})
	}
	return recommendation, nil
}

func (r Recommendation) String() string {
	var builder strings.Builder
	builder.WriteString(r.UserId)
	builder.WriteByte('\t')
	for i, item := range r.Items {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(item.ItemId)
		builder.WriteByte(':')
		builder.WriteString(util.FormatFloat(item.Score))
	}
	return builder.String()
}

// splitKeyValue splits `key<TAB>value`, both non-empty.
func splitKeyValue(line string) (string, string, error) {
	key, value, found := strings.Cut(line, "\t")
	if !found || key == "" || value == "" {
		return "", "", errors.NotValidf("line %q", line)
	}
	return key, value, nil
}

func splitPair(text, sep string) (string, string, error) {
	a, b, found := strings.Cut(text, sep)
	if !found || a == "" || b == "" {
		return "", "", errors.NotValidf("pair %q", text)
	}
	return a, b, nil
}
