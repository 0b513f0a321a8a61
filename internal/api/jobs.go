package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// JobHandler implements the dispatch endpoint: accept an envelope, reserve
// the admission gate, and hand the job to a background goroutine — the
// HTTP request never blocks on job execution.
type JobHandler struct {
	dispatcher Dispatcher
	log        *zap.Logger
}

func NewJobHandler(dispatcher Dispatcher, log *zap.Logger) *JobHandler {
	return &JobHandler{dispatcher: dispatcher, log: log.Named("api")}
}

type dispatchResponse struct {
	JobID string `json:"jobId"`
}

// Dispatch handles POST /jobs. spec.md §4.8: accept the envelope, call
// try_reserve(); 409 on failure, 202 + job id on success, with the job
// actually running on a background task the handler never waits on.
func (h *JobHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var envelope model.DispatchEnvelope
	raw, ok := decodeJSON(w, r, &envelope)
	if !ok {
		return
	}
	if err := model.ValidateEnvelope(&envelope, raw); err != nil {
		ErrUnprocessable(w, err.Error())
		return
	}

	if !h.dispatcher.TryReserve() {
		ErrConflict(w, "agent is busy processing another job")
		return
	}

	go h.dispatcher.RunReserved(context.Background(), &envelope)

	h.log.Info("job accepted", zap.String("jobId", envelope.JobID))
	Accepted(w, dispatchResponse{JobID: envelope.JobID})
}

type cancelRequest struct {
	CancelToken      string `json:"cancelToken"`
	CancelTokenSnake string `json:"cancel_token"`
}

func (c cancelRequest) token() string {
	if c.CancelToken != "" {
		return c.CancelToken
	}
	return c.CancelTokenSnake
}

type cancelResponse struct {
	Accepted bool `json:"accepted"`
}

// Cancel handles POST /jobs/{jobId}/cancel. The jobId path segment is for
// REST shape only — spec.md §4.6.6 matches purely on the cancellation
// token the controller was given at dispatch time, so a mismatched jobId
// with the right token still succeeds and vice versa.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			ErrBadRequest(w, "invalid request body: "+err.Error())
			return
		}
	}
	token := req.token()
	if token == "" {
		ErrBadRequest(w, "cancelToken is required")
		return
	}

	accepted := h.dispatcher.RequestCancel(token)
	Ok(w, cancelResponse{Accepted: accepted})
}
