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

package cf

import (
	"strings"

	"github.com/chewxy/math32"
	"github.com/gorse-io/mfrating/common/floats"
	"github.com/gorse-io/mfrating/dataset"
)

const (
	LabelExcellent = "Excellent"
	LabelVeryGood  = "Very Good"
	LabelGood      = "Good"
	LabelFair      = "Fair"
	LabelPoor      = "Poor"
)

// Categorize maps a rating to a qualitative label.
func Categorize(r float32) string {
	switch {
	case r >= 4.5:
		return LabelExcellent
	case r >= 4.0:
		return LabelVeryGood
	case r >= 3.0:
		return LabelGood
	case r >= 2.0:
		return LabelFair
	default:
		return LabelPoor
	}
}

// Stars renders a rating as five stars with the rounded rating filled.
func Stars(r float32) string {
	filled := int(math32.Round(floats.Clip(r, dataset.MinRating, dataset.MaxRating)))
	return strings.Repeat("★", filled) + strings.Repeat("☆", int(dataset.MaxRating)-filled)
}
