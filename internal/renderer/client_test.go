package renderer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/config"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

func testConfig(baseURL string) config.RendererConfig {
	return config.RendererConfig{
		APIURL:              baseURL,
		TimeoutSeconds:      5,
		PollIntervalSeconds: 0.01,
		ClientID:            "agent-test",
	}
}

func TestSubmit_ReturnsPromptID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prompt", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "agent-test", body["client_id"])
		_ = json.NewEncoder(w).Encode(map[string]string{"prompt_id": "abc-123"})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	id, err := c.Submit(context.Background(), model.Graph{})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)
}

func TestSubmit_NonOKStatusIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad node"}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	_, err := c.Submit(context.Background(), model.Graph{})
	require.Error(t, err)
	var protoErr *ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestSubmit_MissingPromptIDIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	_, err := c.Submit(context.Background(), model.Graph{})
	require.Error(t, err)
	var protoErr *ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestDescribeActivity_ParsesQueueCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/queue", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"queue_pending": []interface{}{map[string]interface{}{}, map[string]interface{}{}},
			"queue_running": []interface{}{map[string]interface{}{}},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	activity := c.DescribeActivity(context.Background())
	require.NotNil(t, activity.Pending)
	require.NotNil(t, activity.Running)
	assert.Equal(t, 2, *activity.Pending)
	assert.Equal(t, 1, *activity.Running)
}

func TestDescribeActivity_SwallowsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	activity := c.DescribeActivity(context.Background())
	assert.Nil(t, activity.Pending)
	assert.Nil(t, activity.Running)
}

func TestFetchObjectInfo_ReturnsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/object_info", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"4": map[string]interface{}{}})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	info, err := c.FetchObjectInfo(context.Background())
	require.NoError(t, err)
	assert.Contains(t, info, "4")
}

func TestWaitForCompletion_Succeeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := "running"
		if calls >= 2 {
			status = "completed"
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  map[string]interface{}{"status": status},
			"outputs": map[string]interface{}{},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	cancel := model.NewCancellationHandle("token", "job-1")
	history, err := c.WaitForCompletion(context.Background(), "p-1", time.Second, cancel)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestWaitForCompletion_JobFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": map[string]interface{}{"status": "failed"},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	cancel := model.NewCancellationHandle("token", "job-1")
	_, err := c.WaitForCompletion(context.Background(), "p-1", time.Second, cancel)
	require.Error(t, err)
	var failed *JobFailed
	assert.ErrorAs(t, err, &failed)
}

func TestWaitForCompletion_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": map[string]interface{}{"status": "running"},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	cancel := model.NewCancellationHandle("token", "job-1")
	cancel.Cancel()
	_, err := c.WaitForCompletion(context.Background(), "p-1", time.Second, cancel)
	require.Error(t, err)
	var cancelled *Cancelled
	assert.ErrorAs(t, err, &cancelled)
}

func TestWaitForCompletion_TimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": map[string]interface{}{"status": "running"},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	cancel := model.NewCancellationHandle("token", "job-1")
	_, err := c.WaitForCompletion(context.Background(), "p-1", 5*time.Millisecond, cancel)
	require.Error(t, err)
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestWaitForCompletion_RetriesTransientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": map[string]interface{}{"status": "completed"},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	cancel := model.NewCancellationHandle("token", "job-1")
	_, err := c.WaitForCompletion(context.Background(), "p-1", time.Second, cancel)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 3)
}
