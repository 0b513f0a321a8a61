package joblog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

func TestRecordEvent_AppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "test-agent", zap.NewNop())

	w.RecordEvent("job-1", "accepted", nil)
	w.RecordEvent("job-1", "running", map[string]interface{}{"prompt_id": "p-1"})
	w.closeEventFile("job-1")

	data, err := os.ReadFile(filepath.Join(dir, "job-1", "events.jsonl"))
	require.NoError(t, err)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var lines []map[string]interface{}
	for scanner.Scan() {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "accepted", lines[0]["event"])
	assert.Equal(t, "running", lines[1]["event"])
	assert.NotEmpty(t, lines[0]["id"])
	assert.NotEqual(t, lines[0]["id"], lines[1]["id"])
}

func TestWriteManifest_WritesSnapshotAndClosesEventLog(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "test-agent", zap.NewNop())
	w.RecordEvent("job-2", "accepted", nil)

	envelope := &model.DispatchEnvelope{JobID: "job-2", User: model.UserContext{ID: "u1", Username: "alice"}}
	require.NoError(t, w.WriteManifest("job-2", envelope, model.StateSuccess))

	entries, err := os.ReadDir(filepath.Join(dir, "job-2"))
	require.NoError(t, err)
	var foundManifest bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			foundManifest = true
			data, err := os.ReadFile(filepath.Join(dir, "job-2", e.Name()))
			require.NoError(t, err)
			var m manifest
			require.NoError(t, json.Unmarshal(data, &m))
			assert.Equal(t, 1, m.SchemaVersion)
			assert.Equal(t, model.StateSuccess, m.FinalState)
		}
	}
	assert.True(t, foundManifest)
}

func TestWriteAppliedWorkflow_WritesPromptAndClientID(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "test-agent", zap.NewNop())

	g := model.Graph{"1": {ClassType: "KSampler"}}
	require.NoError(t, w.WriteAppliedWorkflow("job-3", g))

	data, err := os.ReadFile(filepath.Join(dir, "job-3", "applied-workflow.json"))
	require.NoError(t, err)
	var got appliedWorkflow
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "test-agent", got.ClientID)
	assert.Contains(t, got.Prompt, "1")
}
