package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

func TestValidate_AllowsKnownOperators(t *testing.T) {
	stages := []domain.Stage{
		{"match": map[string]any{"status": "paid"}},
		{"group": map[string]any{"_id": "$platform", "count": map[string]any{"$sum": 1}}},
		{"sort": map[string]any{"count": -1}},
	}
	out, err := Validate(stages, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Stage{"limit": maxLimit}, out[len(out)-1])
}

func TestValidate_RejectsUnknownOperator(t *testing.T) {
	stages := []domain.Stage{{"facet": map[string]any{}}}
	_, err := Validate(stages, nil)
	require.ErrorIs(t, err, domain.ErrForbiddenStage)
}

func TestValidate_RejectsNestedOutOperator(t *testing.T) {
	stages := []domain.Stage{
		{"group": map[string]any{"_id": nil, "out": "some_collection"}},
	}
	_, err := Validate(stages, nil)
	require.ErrorIs(t, err, domain.ErrForbiddenStage)
}

func TestValidate_RejectsMergeAtAnyDepth(t *testing.T) {
	stages := []domain.Stage{
		{"project": map[string]any{
			"nested": map[string]any{"merge": map[string]any{"into": "x"}},
		}},
	}
	_, err := Validate(stages, nil)
	require.ErrorIs(t, err, domain.ErrForbiddenStage)
}

func TestValidate_LookupMustReferenceOwnedConnection(t *testing.T) {
	stages := []domain.Stage{
		{"lookup": map[string]any{"from": "conn-other", "as": "joined"}},
	}
	_, err := Validate(stages, map[string]bool{"conn-mine": true})
	require.ErrorIs(t, err, domain.ErrForbiddenLookup)
}

func TestValidate_LookupAllowedForOwnedConnection(t *testing.T) {
	stages := []domain.Stage{
		{"lookup": map[string]any{"from": "conn-mine", "as": "joined"}},
	}
	out, err := Validate(stages, map[string]bool{"conn-mine": true})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestValidate_ClampsExistingTerminalLimit(t *testing.T) {
	stages := []domain.Stage{
		{"match": map[string]any{}},
		{"limit": 50000},
	}
	out, err := Validate(stages, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Stage{"limit": maxLimit}, out[len(out)-1])
}

func TestValidate_PreservesTerminalLimitBelowCap(t *testing.T) {
	stages := []domain.Stage{
		{"match": map[string]any{}},
		{"limit": 10},
	}
	out, err := Validate(stages, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Stage{"limit": 10}, out[len(out)-1])
}

func TestValidate_AppendsLimitWhenAbsent(t *testing.T) {
	stages := []domain.Stage{{"match": map[string]any{}}}
	out, err := Validate(stages, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, domain.Stage{"limit": maxLimit}, out[1])
}

func TestValidate_RejectsMultiOperatorStage(t *testing.T) {
	stages := []domain.Stage{{"match": map[string]any{}, "sort": map[string]any{}}}
	_, err := Validate(stages, nil)
	require.ErrorIs(t, err, domain.ErrForbiddenStage)
}
