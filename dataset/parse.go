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
	"bufio"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/mfrating/base/log"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	itemSeparator   = "|"
	ratingSeparator = "\t"
	maxLineSize     = 1024 * 1024
)

// Source tells where a dataset came from.
type Source string

const (
	SourceInput     Source = "input"
	SourceSynthetic Source = "synthetic"
)

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return scanner
}

// ReadItems reads pipe-delimited item records: "<source id>|<title>|...". Source ids
// are positive integers and become 0-based ids. Records with invalid ids are skipped
// and a later record with the same id replaces the earlier one. The result is sorted
// by id.
func ReadItems(r io.Reader) ([]Movie, error) {
	items := make(map[int]Movie)
	scanner := newScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, itemSeparator)
		if len(fields) < 2 {
			continue
		}
		sourceId, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || sourceId <= 0 {
			continue
		}
		items[sourceId-1] = Movie{
			ID:         sourceId - 1,
			Title:      strings.TrimSpace(fields[1]),
			OriginalID: sourceId,
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	movies := lo.Values(items)
	sort.Slice(movies, func(i, j int) bool {
		return movies[i].ID < movies[j].ID
	})
	return movies, nil
}

// ReadRatings reads tab-delimited rating records: "<user id>\t<item id>\t<rating>\t...".
// A record is kept only if both ids are positive integers and the rating is a number
// in [1, 5]. Ids become 0-based.
func ReadRatings(r io.Reader) ([]Rating, error) {
	var ratings []Rating
	scanner := newScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ratingSeparator)
		if len(fields) < 3 {
			continue
		}
		userId, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || userId <= 0 {
			continue
		}
		itemId, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || itemId <= 0 {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 32)
		if err != nil || !(float32(value) >= MinRating && float32(value) <= MaxRating) {
			continue
		}
		ratings = append(ratings, Rating{
			UserID: userId - 1,
			ItemID: itemId - 1,
			Value:  float32(value),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return ratings, nil
}

// ParseItems parses item records held in memory.
func ParseItems(text string) []Movie {
	// reading from a string never fails
	items, _ := ReadItems(strings.NewReader(text))
	return items
}

// ParseRatings parses rating records held in memory.
func ParseRatings(text string) []Rating {
	ratings, _ := ReadRatings(strings.NewReader(text))
	return ratings
}

// Build drops ratings of unknown items and builds a validated dataset.
func Build(items []Movie, ratings []Rating) (*Dataset, error) {
	if len(items) == 0 {
		return nil, newDataError("no items")
	}
	if len(ratings) == 0 {
		return nil, newDataError("no ratings")
	}
	itemSet := mapset.NewThreadUnsafeSet(lo.Map(items, func(item Movie, _ int) int {
		return item.ID
	})...)
	retained := lo.Filter(ratings, func(r Rating, _ int) bool {
		return itemSet.Contains(r.ItemID)
	})
	if dropped := len(ratings) - len(retained); dropped > 0 {
		log.Logger().Warn("drop ratings of unknown items", zap.Int("n_dropped", dropped))
	}
	return NewDataset(items, retained)
}

// Load parses item and rating records into a dataset. It fails with *DataError if
// either is empty or the result violates dataset invariants.
func Load(itemsText, ratingsText string) (*Dataset, error) {
	return Build(ParseItems(itemsText), ParseRatings(ratingsText))
}

// LoadFiles reads item and rating records from files.
func LoadFiles(itemsPath, ratingsPath string) (*Dataset, error) {
	itemsFile, err := os.Open(itemsPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer itemsFile.Close()
	items, err := ReadItems(itemsFile)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratingsFile, err := os.Open(ratingsPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer ratingsFile.Close()
	ratings, err := ReadRatings(ratingsFile)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return Build(items, ratings)
}

// LoadOrGenerate loads a dataset from records and falls back to synthetic data if
// the records are unusable. It never fails.
func LoadOrGenerate(itemsText, ratingsText string, generator *Generator) (*Dataset, Source) {
	d, err := Load(itemsText, ratingsText)
	if err != nil {
		return Fallback(err, generator), SourceSynthetic
	}
	return d, SourceInput
}

// Fallback logs the reason why records were rejected and generates a synthetic dataset.
func Fallback(err error, generator *Generator) *Dataset {
	log.Logger().Warn("fall back to synthetic data", zap.Error(err))
	if generator == nil {
		generator = NewGenerator(nil)
	}
	return generator.Generate()
}
