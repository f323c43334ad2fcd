package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-works/cortex/pkg/intent"
	"github.com/lattice-works/cortex/pkg/state"
)

func okPhase(name string, calls *[]string) Phase {
	return Phase{Name: name, Run: func(ctx context.Context, input map[string]interface{}) (*intent.ExecutionResult, error) {
		*calls = append(*calls, name)
		return &intent.ExecutionResult{Success: true, Metadata: map[string]interface{}{"phase": name}}, nil
	}}
}

func TestRunAllPhasesInOrder(t *testing.T) {
	surface := state.NewMemorySurface()
	coord := NewCoordinator(surface)

	var calls []string
	s, err := coord.CreateSaga("t1", "s1", "fusion", []Phase{
		okPhase(PhaseDataQuality, &calls),
		okPhase(PhaseSemanticInterpretation, &calls),
		okPhase(PhaseSemanticMapping, &calls),
		okPhase(PhaseRegistered, &calls),
	})
	require.NoError(t, err)

	result, err := s.Run(context.Background(), map[string]interface{}{"dataset": "d1"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{
		PhaseDataQuality, PhaseSemanticInterpretation, PhaseSemanticMapping, PhaseRegistered,
	}, calls)

	doc, err := surface.Get(context.Background(), "t1", "saga/"+s.SagaID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, doc["status"])
}

func TestRunShortCircuitsOnFailure(t *testing.T) {
	surface := state.NewMemorySurface()
	coord := NewCoordinator(surface)

	var calls []string
	failing := &intent.ExecutionResult{Success: false, Error: "quality check failed"}
	s, err := coord.CreateSaga("t1", "s1", "fusion", []Phase{
		okPhase(PhaseDataQuality, &calls),
		{Name: PhaseSemanticInterpretation, Run: func(ctx context.Context, input map[string]interface{}) (*intent.ExecutionResult, error) {
			calls = append(calls, PhaseSemanticInterpretation)
			return failing, nil
		}},
		okPhase(PhaseSemanticMapping, &calls),
	})
	require.NoError(t, err)

	result, err := s.Run(context.Background(), nil)
	require.NoError(t, err)
	// The failing phase result comes back untouched.
	assert.Same(t, failing, result)
	assert.Equal(t, []string{PhaseDataQuality, PhaseSemanticInterpretation}, calls)

	doc, err := surface.Get(context.Background(), "t1", "saga/"+s.SagaID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, doc["status"])
	assert.Equal(t, PhaseSemanticInterpretation, doc["failed_phase"])
}

func TestRunFeedsPhaseMetadataForward(t *testing.T) {
	coord := NewCoordinator(state.NewMemorySurface())

	var seenScore interface{}
	var seenDataset interface{}
	s, err := coord.CreateSaga("t1", "s1", "fusion", []Phase{
		{Name: PhaseDataQuality, Run: func(ctx context.Context, input map[string]interface{}) (*intent.ExecutionResult, error) {
			return &intent.ExecutionResult{
				Success:  true,
				Metadata: map[string]interface{}{"quality_score": 0.9},
			}, nil
		}},
		{Name: PhaseSemanticInterpretation, Run: func(ctx context.Context, input map[string]interface{}) (*intent.ExecutionResult, error) {
			seenScore = input["quality_score"]
			seenDataset = input["dataset"]
			return &intent.ExecutionResult{Success: true}, nil
		}},
	})
	require.NoError(t, err)

	input := map[string]interface{}{"dataset": "d1"}
	_, err = s.Run(context.Background(), input)
	require.NoError(t, err)

	// Later phases see the original input plus earlier phase metadata.
	assert.Equal(t, 0.9, seenScore)
	assert.Equal(t, "d1", seenDataset)

	// The caller's input map stays untouched.
	assert.Equal(t, map[string]interface{}{"dataset": "d1"}, input)
}

func TestRunConvertsPhaseErrorToFailure(t *testing.T) {
	coord := NewCoordinator(state.NewMemorySurface())
	s, err := coord.CreateSaga("t1", "s1", "fusion", []Phase{
		{Name: PhaseDataQuality, Run: func(ctx context.Context, input map[string]interface{}) (*intent.ExecutionResult, error) {
			return nil, errors.New("boom")
		}},
	})
	require.NoError(t, err)

	result, err := s.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, PhaseDataQuality)
	assert.Contains(t, result.Error, "boom")
}

func TestRunCheckpointsEachPhase(t *testing.T) {
	surface := state.NewMemorySurface()
	coord := NewCoordinator(surface)

	var calls []string
	s, err := coord.CreateSaga("t1", "s1", "fusion", []Phase{
		okPhase(PhaseDataQuality, &calls),
		okPhase(PhaseRegistered, &calls),
	})
	require.NoError(t, err)

	_, err = s.Run(context.Background(), nil)
	require.NoError(t, err)

	for _, phase := range []string{PhaseDataQuality, PhaseRegistered} {
		doc, err := surface.Get(context.Background(), "t1", "saga/"+s.SagaID+"/"+phase)
		require.NoError(t, err)
		assert.Equal(t, true, doc["success"])
	}
}

func TestCreateSagaValidation(t *testing.T) {
	coord := NewCoordinator(state.NewMemorySurface())

	_, err := coord.CreateSaga("", "s1", "fusion", []Phase{{Name: "x", Run: func(ctx context.Context, input map[string]interface{}) (*intent.ExecutionResult, error) {
		return nil, nil
	}}})
	assert.ErrorIs(t, err, ErrMissingIDs)

	_, err = coord.CreateSaga("t1", "s1", "fusion", nil)
	assert.ErrorIs(t, err, ErrNoPhases)

	_, err = coord.CreateSaga("t1", "s1", "fusion", []Phase{{Name: "nil-phase"}})
	assert.ErrorIs(t, err, ErrNilPhase)
}
