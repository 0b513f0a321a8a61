package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvelope() ([]byte, *DispatchEnvelope) {
	body := []byte(`{
		"jobId": "job-1",
		"user": {"id": "u1", "username": "alice"},
		"workflow": {"localPath": "/workflows/base.json"},
		"baseModel": {"bucket": "models", "key": "base.safetensors"},
		"parameters": {"prompt": "a cat"},
		"output": {"bucket": "out", "prefix": "job-1/"}
	}`)
	var env DispatchEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		panic(err)
	}
	return body, &env
}

func TestValidateEnvelope_Valid(t *testing.T) {
	body, env := validEnvelope()
	assert.NoError(t, ValidateEnvelope(env, body))
}

func TestValidateEnvelope_MissingRequiredField(t *testing.T) {
	body := []byte(`{
		"jobId": "",
		"user": {"id": "u1", "username": "alice"},
		"workflow": {"localPath": "/workflows/base.json"},
		"baseModel": {"bucket": "models", "key": "base.safetensors"},
		"parameters": {"prompt": "a cat"},
		"output": {"bucket": "out", "prefix": "job-1/"}
	}`)
	var env DispatchEnvelope
	require.NoError(t, json.Unmarshal(body, &env))

	err := ValidateEnvelope(&env, body)
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.NotEmpty(t, verr.Problems)
}

func TestValidateEnvelope_WorkflowSourceNoneSet(t *testing.T) {
	body := []byte(`{
		"jobId": "job-1",
		"user": {"id": "u1", "username": "alice"},
		"workflow": {},
		"baseModel": {"bucket": "models", "key": "base.safetensors"},
		"parameters": {"prompt": "a cat"},
		"output": {"bucket": "out", "prefix": "job-1/"}
	}`)
	var env DispatchEnvelope
	require.NoError(t, json.Unmarshal(body, &env))

	err := ValidateEnvelope(&env, body)
	require.Error(t, err)
}

func TestValidateEnvelope_WorkflowSourceMultipleSet(t *testing.T) {
	body := []byte(`{
		"jobId": "job-1",
		"user": {"id": "u1", "username": "alice"},
		"workflow": {"localPath": "/workflows/base.json", "minioKey": "wf/base.json"},
		"baseModel": {"bucket": "models", "key": "base.safetensors"},
		"parameters": {"prompt": "a cat"},
		"output": {"bucket": "out", "prefix": "job-1/"}
	}`)
	var env DispatchEnvelope
	require.NoError(t, json.Unmarshal(body, &env))

	err := ValidateEnvelope(&env, body)
	require.Error(t, err)
}
