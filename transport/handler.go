package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/orchestrator"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/trigger"
)

// Handler exposes the orchestrator over http
type Handler struct {
	orchestratorService orchestrator.Service
}

// NewHandler returns a handler delegating to orchestratorService
func NewHandler(orchestratorService orchestrator.Service) *Handler {
	return &Handler{
		orchestratorService: orchestratorService,
	}
}

// ConfigureRoutes registers all endpoints on the router
func (h *Handler) ConfigureRoutes(router *mux.Router) {
	router.HandleFunc("/api/triggers", h.PostTrigger).Methods(http.MethodPost)
	router.HandleFunc("/api/requests/{buildRequestID}", h.GetRequestStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/outcomes/{buildOutcomeID}/approvals", h.PostApproval).Methods(http.MethodPost)
	router.HandleFunc("/liveness", h.GetLiveness).Methods(http.MethodGet)
	router.HandleFunc("/readiness", h.GetReadiness).Methods(http.MethodGet)
}

type triggerPayload struct {
	SourceRepo   string   `json:"source_repo"`
	CommitSHA    string   `json:"commit_sha"`
	EventKind    string   `json:"event_kind"`
	Ref          string   `json:"ref"`
	ChangedPaths []string `json:"changed_paths"`
	AuthToken    string   `json:"auth_token"`
}

type approvalPayload struct {
	Action   string `json:"action"`
	Approver string `json:"approver"`
}

func (h *Handler) PostTrigger(w http.ResponseWriter, r *http.Request) {

	var payload triggerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Warn().Err(err).Msg("Failed decoding trigger payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// the Authorization header is the preferred transport encoding of the token,
	// the payload field serves emitters that cannot set headers
	authToken := bearerToken(r)
	if authToken == "" {
		authToken = payload.AuthToken
	}

	event := trigger.RawEvent{
		SourceRepo:   payload.SourceRepo,
		CommitSHA:    payload.CommitSHA,
		EventKind:    api.EventKind(payload.EventKind),
		Ref:          payload.Ref,
		ChangedPaths: payload.ChangedPaths,
		AuthToken:    authToken,
	}

	result, err := h.orchestratorService.Submit(r.Context(), event)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if !result.Accepted {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *Handler) GetRequestStatus(w http.ResponseWriter, r *http.Request) {

	buildRequestID := mux.Vars(r)["buildRequestID"]

	status, err := h.orchestratorService.RequestStatus(r.Context(), buildRequestID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) PostApproval(w http.ResponseWriter, r *http.Request) {

	buildOutcomeID := mux.Vars(r)["buildOutcomeID"]

	var payload approvalPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Warn().Err(err).Msg("Failed decoding approval payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	var record api.PromotionRecord
	var err error
	switch payload.Action {
	case "approve":
		record, err = h.orchestratorService.Approve(r.Context(), buildOutcomeID, payload.Approver)
	case "reject":
		record, err = h.orchestratorService.Reject(r.Context(), buildOutcomeID, payload.Approver)
	default:
		http.Error(w, "action must be approve or reject", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) GetLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) GetReadiness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func bearerToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if strings.HasPrefix(authorization, "Bearer ") {
		return strings.TrimPrefix(authorization, "Bearer ")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Failed encoding response body")
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, api.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, api.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, api.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, api.ErrNotAwaitingApproval), errors.Is(err, api.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case api.IsTransient(err):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
