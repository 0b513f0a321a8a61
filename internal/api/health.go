package api

import "net/http"

// HealthHandler backs GET /healthz and GET /, both describing current
// activity per spec.md §4.8 and the supplemented describe_activity feature
// (original_source's main.py exposed the same snapshot on both routes).
type HealthHandler struct {
	dispatcher Dispatcher
	service    string
}

func NewHealthHandler(dispatcher Dispatcher, service string) *HealthHandler {
	return &HealthHandler{dispatcher: dispatcher, service: service}
}

type activityPayload struct {
	Pending *int                   `json:"pending"`
	Running *int                   `json:"running"`
	Raw     map[string]interface{} `json:"raw"`
}

type healthResponse struct {
	Status   string          `json:"status"`
	Service  string          `json:"service,omitempty"`
	Busy     bool            `json:"busy"`
	Activity activityPayload `json:"activity"`
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "")
}

func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.service)
}

func (h *HealthHandler) respond(w http.ResponseWriter, r *http.Request, service string) {
	busy, activity := h.dispatcher.DescribeActivity(r.Context())
	resp := healthResponse{Status: "ok", Service: service, Busy: busy, Activity: activityPayload{
		Pending: activity.Pending,
		Running: activity.Running,
		Raw:     activity.Raw,
	}}
	JSON(w, http.StatusOK, resp)
}
