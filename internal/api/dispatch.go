package api

import (
	"context"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/renderer"
)

// Dispatcher is the subset of jobengine.Engine the HTTP layer drives.
type Dispatcher interface {
	TryReserve() bool
	RunReserved(ctx context.Context, job *model.DispatchEnvelope)
	RequestCancel(token string) bool
	DescribeActivity(ctx context.Context) (bool, renderer.Activity)
}
