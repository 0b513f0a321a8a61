package renderer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// WaitForCompletion polls history at the configured poll interval until the
// renderer reports a terminal status, the cancellation handle is set, or
// the deadline elapses. Transient per-tick HTTP errors are logged and
// retried — they never abort the loop, per spec.md §4.5.
func (c *Client) WaitForCompletion(ctx context.Context, promptID string, timeout time.Duration, cancel *model.CancellationHandle) (map[string]interface{}, error) {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-cancel.Done():
			return nil, &Cancelled{PromptID: promptID}
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return nil, &TimeoutError{PromptID: promptID}
		}

		history, err := c.fetchHistory(ctx, promptID)
		if err != nil {
			c.log.Warn("failed to query renderer history", zap.String("promptId", promptID), zap.Error(err))
			if waitErr := c.waitNextTick(ctx, cancel); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		switch status(history) {
		case "completed", "success":
			c.log.Info("renderer job completed", zap.String("promptId", promptID))
			return history, nil
		case "failed", "error":
			return nil, &JobFailed{Message: "renderer job " + promptID + " failed", History: history}
		}

		if waitErr := c.waitNextTick(ctx, cancel); waitErr != nil {
			return nil, waitErr
		}
	}
}

func (c *Client) waitNextTick(ctx context.Context, cancel *model.CancellationHandle) error {
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()
	select {
	case <-cancel.Done():
		return &Cancelled{}
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func status(history map[string]interface{}) string {
	statusSection, ok := history["status"].(map[string]interface{})
	if !ok {
		return ""
	}
	s, _ := statusSection["status"].(string)
	return s
}
