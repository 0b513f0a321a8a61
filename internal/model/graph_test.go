package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphClone_DeepCopy(t *testing.T) {
	g := Graph{
		"3": {ClassType: "KSampler", Inputs: map[string]interface{}{
			"seed":  float64(42),
			"model": []interface{}{"4", float64(0)},
		}},
	}

	clone, err := g.Clone()
	require.NoError(t, err)
	assert.Equal(t, g, clone)

	clone["3"].Inputs["seed"] = float64(99)
	assert.Equal(t, float64(42), g["3"].Inputs["seed"], "mutating the clone must not affect the original")
}

func TestGraphClone_EmptyGraph(t *testing.T) {
	g := Graph{}
	clone, err := g.Clone()
	require.NoError(t, err)
	assert.Empty(t, clone)
}
