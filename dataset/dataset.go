// Copyright 2025 gorse Project Authors
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
	"sort"

	"github.com/gorse-io/mfrating/common/floats"
	"github.com/samber/lo"
)

const (
	MinRating float32 = 1
	MaxRating float32 = 5
)

// MaxEntities is the largest number of users or items of a dataset. Parameter
// tables are dense, so ids beyond it are rejected instead of being allocated.
const MaxEntities = 1 << 20

// Movie is an item. ID is 0-based, OriginalID is the 1-based id of the source records.
type Movie struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	OriginalID int    `json:"original_id"`
}

// Rating is an observed rating of an item by a user. Ids are 0-based.
type Rating struct {
	UserID int     `json:"user_id"`
	ItemID int     `json:"item_id"`
	Value  float32 `json:"value"`
}

// Dataset holds items and ratings. Users and items occupy the dense id ranges
// [0, NumUsers) and [0, NumItems).
type Dataset struct {
	Items    []Movie
	Ratings  []Rating
	NumUsers int
	NumItems int
}

// DataError reports malformed, empty or inconsistent input data.
type DataError struct {
	Reason string
}

func (e *DataError) Error() string {
	return "invalid dataset: " + e.Reason
}

func newDataError(format string, args ...any) *DataError {
	return &DataError{Reason: fmt.Sprintf(format, args...)}
}

// NewDataset derives the number of users and items from the ratings and
// validates the result.
func NewDataset(items []Movie, ratings []Rating) (*Dataset, error) {
	d := &Dataset{Items: items, Ratings: ratings}
	if len(ratings) > 0 {
		d.NumUsers = lo.MaxBy(ratings, func(a, b Rating) bool { return a.UserID > b.UserID }).UserID + 1
		d.NumItems = lo.MaxBy(ratings, func(a, b Rating) bool { return a.ItemID > b.ItemID }).ItemID + 1
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the invariants of a dataset.
func (d *Dataset) Validate() error {
	if len(d.Ratings) == 0 {
		return newDataError("no ratings")
	}
	if d.NumUsers <= 0 {
		return newDataError("number of users must be positive, but got %d", d.NumUsers)
	}
	if d.NumItems <= 0 {
		return newDataError("number of items must be positive, but got %d", d.NumItems)
	}
	if d.NumUsers > MaxEntities {
		return newDataError("number of users %d exceeds %d", d.NumUsers, MaxEntities)
	}
	if d.NumItems > MaxEntities {
		return newDataError("number of items %d exceeds %d", d.NumItems, MaxEntities)
	}
	maxUserId, maxItemId := -1, -1
	for i, r := range d.Ratings {
		if r.UserID < 0 || r.UserID >= d.NumUsers {
			return newDataError("rating %d: user id %d out of range [0, %d)", i, r.UserID, d.NumUsers)
		}
		if r.ItemID < 0 || r.ItemID >= d.NumItems {
			return newDataError("rating %d: item id %d out of range [0, %d)", i, r.ItemID, d.NumItems)
		}
		if !(r.Value >= MinRating && r.Value <= MaxRating) {
			return newDataError("rating %d: value %v out of range [%v, %v]", i, r.Value, MinRating, MaxRating)
		}
		maxUserId = max(maxUserId, r.UserID)
		maxItemId = max(maxItemId, r.ItemID)
	}
	if d.NumUsers != maxUserId+1 {
		return newDataError("number of users %d does not match max user id %d", d.NumUsers, maxUserId)
	}
	if d.NumItems != maxItemId+1 {
		return newDataError("number of items %d does not match max item id %d", d.NumItems, maxItemId)
	}
	return nil
}

func (d *Dataset) Count() int {
	return len(d.Ratings)
}

// Mean returns the mean rating.
func (d *Dataset) Mean() float32 {
	return floats.Mean(lo.Map(d.Ratings, func(r Rating, _ int) float32 {
		return r.Value
	}))
}

// GetItem looks up an item by 0-based id. Items are sorted by id.
func (d *Dataset) GetItem(id int) (Movie, bool) {
	i := sort.Search(len(d.Items), func(i int) bool { return d.Items[i].ID >= id })
	if i < len(d.Items) && d.Items[i].ID == id {
		return d.Items[i], true
	}
	return Movie{}, false
}
