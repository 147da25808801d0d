package launcher_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxy-hq/oxy-engine/agent/launcher"
	"github.com/oxy-hq/oxy-engine/container"
	"github.com/oxy-hq/oxy-engine/executor"
)

func TestMajorityPicker_E4SkewedVoteSplit(t *testing.T) {
	answers := []string{"42", "42", "41", "42", "43"}
	candidates := make([]executor.AgentResult, len(answers))
	for i, a := range answers {
		candidates[i] = executor.AgentResult{Output: container.Text(a)}
	}

	picker := launcher.MajorityPicker{}
	winnerIdx, score, err := picker.Pick(context.Background(), candidates, "arithmetic", "calc-agent")
	require.NoError(t, err)
	assert.Equal(t, 0.6, score)
	assert.Equal(t, "42", candidates[winnerIdx].Output.Text)
}

func TestMajorityPicker_SingleCandidateIsUnanimous(t *testing.T) {
	candidates := []executor.AgentResult{{Output: container.Text("7")}}
	picker := launcher.MajorityPicker{}
	winnerIdx, score, err := picker.Pick(context.Background(), candidates, "task", "agent")
	require.NoError(t, err)
	assert.Equal(t, 0, winnerIdx)
	assert.Equal(t, 1.0, score)
}

func TestMajorityPicker_NoCandidatesErrors(t *testing.T) {
	picker := launcher.MajorityPicker{}
	_, _, err := picker.Pick(context.Background(), nil, "task", "agent")
	assert.Error(t, err)
}
