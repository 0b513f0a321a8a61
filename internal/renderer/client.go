// Package renderer is the HTTP client for the co-located inference engine
// ("the renderer"): workflow submission, completion polling, queue
// introspection, and object-info discovery.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/config"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// Client talks to the renderer over plain HTTP. The circuit breaker wraps
// only the introspection/queue calls (FetchObjectInfo, DescribeActivity) —
// never WaitForCompletion's poll loop, which must keep retrying transient
// errors unconditionally per spec.
type Client struct {
	http         *http.Client
	baseURL      string
	clientID     string
	pollInterval time.Duration
	breaker      *gobreaker.CircuitBreaker
	log          *zap.Logger
}

// New builds a Client from the renderer section of the agent config.
func New(cfg config.RendererConfig, log *zap.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "renderer-introspection",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Client{
		http:         &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		baseURL:      cfg.APIURL,
		clientID:     cfg.ClientID,
		pollInterval: time.Duration(cfg.PollIntervalSeconds * float64(time.Second)),
		breaker:      breaker,
		log:          log.Named("renderer"),
	}
}

// Submit posts the workflow graph, returning the renderer-assigned prompt
// id. A non-2xx response or a response missing prompt_id/id is a
// *ProtocolError.
func (c *Client) Submit(ctx context.Context, graph model.Graph) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"prompt":    graph,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("renderer: failed to encode submission: %w", err)
	}

	c.log.Info("submitting workflow")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("renderer: failed to build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("renderer: submission request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		c.log.Error("renderer rejected workflow submission", zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))
		return "", &ProtocolError{Message: fmt.Sprintf("renderer rejected workflow submission (%d): %s", resp.StatusCode, string(raw))}
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &ProtocolError{Message: fmt.Sprintf("renderer response is not valid JSON: %v", err)}
	}
	promptID := firstNonEmptyString(decoded["prompt_id"], decoded["id"])
	if promptID == "" {
		return "", &ProtocolError{Message: "renderer response missing prompt_id"}
	}
	return promptID, nil
}

func firstNonEmptyString(values ...interface{}) string {
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (c *Client) fetchHistory(ctx context.Context, promptID string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+promptID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("renderer history request failed with status %d", resp.StatusCode)
	}

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("renderer history response is not valid JSON: %w", err)
	}
	if nested, ok := decoded[promptID].(map[string]interface{}); ok {
		decoded = nested
	}
	return decoded, nil
}

// Activity is the renderer's reported queue state.
type Activity struct {
	Pending *int
	Running *int
	Raw     map[string]interface{}
}

// DescribeActivity reports queue depth; failures are swallowed into a
// zero-value Activity, matching gpuworker's non-fatal /queue probe.
func (c *Client) DescribeActivity(ctx context.Context) Activity {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchQueue(ctx)
	})
	if err != nil {
		c.log.Debug("failed to query renderer queue state", zap.Error(err))
		return Activity{}
	}
	return result.(Activity)
}

func (c *Client) fetchQueue(ctx context.Context) (Activity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/queue", nil)
	if err != nil {
		return Activity{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Activity{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Activity{}, fmt.Errorf("renderer queue request failed with status %d", resp.StatusCode)
	}

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Activity{}, err
	}
	return Activity{
		Pending: extractCount(decoded["queue_pending"]),
		Running: extractCount(decoded["queue_running"]),
		Raw:     decoded,
	}, nil
}

func extractCount(v interface{}) *int {
	switch t := v.(type) {
	case []interface{}:
		n := len(t)
		return &n
	case map[string]interface{}:
		n := len(t)
		return &n
	case float64:
		n := int(t)
		return &n
	default:
		return nil
	}
}

// FetchObjectInfo queries the renderer's /object_info introspection
// endpoint, satisfying allowlist.ObjectInfoFetcher.
func (c *Client) FetchObjectInfo(ctx context.Context) (map[string]interface{}, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchObjectInfoRaw(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]interface{}), nil
}

func (c *Client) fetchObjectInfoRaw(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/object_info", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("renderer object_info request failed with status %d", resp.StatusCode)
	}

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}
