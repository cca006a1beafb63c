// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package imaging

import (
	"fmt"
	"math"
	"strings"
)

// SentinelLabel is the classification the service reports when it has
// no valid inference for an image yet. It is matched case-insensitively.
const SentinelLabel = "UNKNOWN_CLASSIFICATION"

// Problem names one reason a result is not fit to display.
type Problem string

const (
	ProblemSentinelLabel     Problem = "sentinel label"
	ProblemNegativeIntensity Problem = "negative intensity average"
	ProblemFocusOutOfRange   Problem = "focus score outside [0,1]"
	ProblemNotANumber        Problem = "metric is NaN"
)

// Problems returns every validity rule result violates, or nil when the
// result is valid. Intensity has no upper bound.
func (result AnalysisResult) Problems() []Problem {
	var problems []Problem
	if strings.EqualFold(strings.TrimSpace(result.Label), SentinelLabel) {
		problems = append(problems, ProblemSentinelLabel)
	}
	if math.IsNaN(result.IntensityAverage) || math.IsNaN(result.FocusScore) {
		problems = append(problems, ProblemNotANumber)
	}
	if result.IntensityAverage < 0 {
		problems = append(problems, ProblemNegativeIntensity)
	}
	if result.FocusScore < 0 || result.FocusScore > 1 {
		problems = append(problems, ProblemFocusOutOfRange)
	}
	return problems
}

// Validate returns a *ValidityError when result violates any validity
// rule.
func (result AnalysisResult) Validate() error {
	if problems := result.Problems(); len(problems) > 0 {
		return &ValidityError{ImageID: result.ImageID, Problems: problems}
	}
	return nil
}

// ValidityError reports a result that is well-formed but not fit to
// display: out-of-range metrics or the sentinel label.
type ValidityError struct {
	ImageID  string
	Problems []Problem
}

func (e *ValidityError) Error() string {
	reasons := make([]string, len(e.Problems))
	for index, problem := range e.Problems {
		reasons[index] = string(problem)
	}
	return fmt.Sprintf("imaging: result for %q is not valid: %s", e.ImageID, strings.Join(reasons, ", "))
}
