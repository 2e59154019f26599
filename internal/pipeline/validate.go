// Package pipeline sanitizes caller-supplied aggregation pipelines before
// they reach the analytics engine, used only by the custom-pipeline tool.
package pipeline

import (
	"fmt"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

const maxLimit = 1000

var allowedOperators = map[string]bool{
	"match":   true,
	"group":   true,
	"sort":    true,
	"limit":   true,
	"project": true,
	"lookup":  true,
	"unwind":  true,
	"count":   true,
}

var forbiddenOperators = map[string]bool{
	"out":    true,
	"merge":  true,
	"delete": true,
}

// Validate checks each stage's top-level operator against the allow list,
// rejects forbidden operators at any nesting depth, requires every lookup to
// reference a connection the caller owns, and forces the pipeline to end
// with limit(min(userLimit, 1000)).
func Validate(stages []domain.Stage, ownedConnections map[string]bool) ([]domain.Stage, error) {
	for i, stage := range stages {
		if len(stage) != 1 {
			return nil, fmt.Errorf("op=pipeline.Validate: stage %d: %w: expected exactly one operator", i, domain.ErrForbiddenStage)
		}
		for op, arg := range stage {
			if !allowedOperators[op] {
				return nil, fmt.Errorf("op=pipeline.Validate: stage %d operator %q: %w", i, op, domain.ErrForbiddenStage)
			}
			if err := scanForbidden(arg); err != nil {
				return nil, fmt.Errorf("op=pipeline.Validate: stage %d: %w", i, err)
			}
			if op == "lookup" {
				if err := validateLookup(arg, ownedConnections); err != nil {
					return nil, fmt.Errorf("op=pipeline.Validate: stage %d: %w", i, err)
				}
			}
		}
	}

	return forceTerminalLimit(stages), nil
}

// scanForbidden walks v looking for any map key in forbiddenOperators, at any
// nesting depth (sub-pipelines embedded in $facet-style stages included).
func scanForbidden(v any) error {
	switch t := v.(type) {
	case map[string]any:
		for k, sub := range t {
			if forbiddenOperators[k] {
				return fmt.Errorf("%w: %q", domain.ErrForbiddenStage, k)
			}
			if err := scanForbidden(sub); err != nil {
				return err
			}
		}
	case domain.Stage:
		return scanForbidden(map[string]any(t))
	case []any:
		for _, sub := range t {
			if err := scanForbidden(sub); err != nil {
				return err
			}
		}
	case []domain.Stage:
		for _, sub := range t {
			if err := scanForbidden(map[string]any(sub)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateLookup(arg any, ownedConnections map[string]bool) error {
	m, ok := arg.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: lookup argument is not an object", domain.ErrForbiddenLookup)
	}
	from, _ := m["from"].(string)
	if from == "" || !ownedConnections[from] {
		return fmt.Errorf("%w: lookup references connection %q the caller does not own", domain.ErrForbiddenLookup, from)
	}
	return nil
}

// forceTerminalLimit caps an existing terminal limit stage at maxLimit, or
// appends limit(maxLimit) if the pipeline doesn't already end with one.
func forceTerminalLimit(stages []domain.Stage) []domain.Stage {
	if len(stages) > 0 {
		last := stages[len(stages)-1]
		if n, ok := last["limit"]; ok {
			clamped := clampLimit(n)
			out := make([]domain.Stage, len(stages))
			copy(out, stages)
			out[len(out)-1] = domain.Stage{"limit": clamped}
			return out
		}
	}
	out := make([]domain.Stage, len(stages), len(stages)+1)
	copy(out, stages)
	return append(out, domain.Stage{"limit": maxLimit})
}

func clampLimit(v any) int {
	n := maxLimit
	switch t := v.(type) {
	case int:
		n = t
	case int64:
		n = int(t)
	case float64:
		n = int(t)
	}
	if n <= 0 || n > maxLimit {
		return maxLimit
	}
	return n
}
