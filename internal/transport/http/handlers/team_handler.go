package handlers

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/vedran77/ideahub/internal/domain"
	"github.com/vedran77/ideahub/internal/metrics"
	"github.com/vedran77/ideahub/internal/ratelimit"
	"github.com/vedran77/ideahub/internal/service"
	"github.com/vedran77/ideahub/internal/transport/http/middleware"
	"github.com/vedran77/ideahub/pkg/validator"
)

type TeamHandler struct {
	teams       *service.TeamService
	joinLimiter ratelimit.Limiter
	metrics     *metrics.Metrics
	log         *slog.Logger
}

func NewTeamHandler(teams *service.TeamService, joinLimiter ratelimit.Limiter, m *metrics.Metrics, log *slog.Logger) *TeamHandler {
	return &TeamHandler{teams: teams, joinLimiter: joinLimiter, metrics: m, log: log}
}

type capacityRequest struct {
	Enabled bool `json:"enabled"`
	MaxSize int  `json:"max_size"`
}

type createProjectRequest struct {
	Title    string          `json:"title"`
	Capacity capacityRequest `json:"capacity"`
}

func (h *TeamHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if errs := validator.ValidateProject(input.Title, input.Capacity.Enabled, input.Capacity.MaxSize); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	project, err := h.teams.CreateProject(r.Context(), userID, service.CreateProjectInput{
		Title:    input.Title,
		Capacity: capacityRule(input.Capacity),
	})
	if err != nil {
		writeServiceError(w, h.log, "create project", err)
		return
	}

	writeJSON(w, http.StatusCreated, project)
}

func (h *TeamHandler) UpdateCapacity(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	projectID, ok := pathUUID(w, r, "id", "project")
	if !ok {
		return
	}

	var input capacityRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if errs := validator.ValidateCapacity(input.Enabled, input.MaxSize); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	project, err := h.teams.UpdateCapacity(r.Context(), projectID, userID, capacityRule(input))
	if err != nil {
		writeServiceError(w, h.log, "update capacity", err)
		return
	}

	writeJSON(w, http.StatusOK, project)
}

// SubmitJoinRequest answers 201 for a new request and 200 when a rejected
// request was reopened.
func (h *TeamHandler) SubmitJoinRequest(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	projectID, ok := pathUUID(w, r, "id", "project")
	if !ok {
		return
	}

	if d := h.joinLimiter.Allow(r.Context(), userID.String()); !d.Allowed {
		h.metrics.RateLimited("join_request")
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many join requests, try again later")
		return
	}

	req, created, err := h.teams.Submit(r.Context(), projectID, userID)
	if err != nil {
		writeServiceError(w, h.log, "submit join request", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, req)
}

func (h *TeamHandler) ListJoinRequests(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	projectID, ok := pathUUID(w, r, "id", "project")
	if !ok {
		return
	}

	reqs, err := h.teams.ListPending(r.Context(), projectID, userID)
	if err != nil {
		writeServiceError(w, h.log, "list join requests", err)
		return
	}

	writeJSON(w, http.StatusOK, reqs)
}

func (h *TeamHandler) AcceptJoinRequest(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	projectID, ok := pathUUID(w, r, "id", "project")
	if !ok {
		return
	}
	requestID, ok := pathUUID(w, r, "reqId", "request")
	if !ok {
		return
	}

	project, err := h.teams.Accept(r.Context(), projectID, requestID, userID)
	if err != nil {
		writeServiceError(w, h.log, "accept join request", err)
		return
	}

	writeJSON(w, http.StatusOK, project)
}

func (h *TeamHandler) RejectJoinRequest(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	projectID, ok := pathUUID(w, r, "id", "project")
	if !ok {
		return
	}
	requestID, ok := pathUUID(w, r, "reqId", "request")
	if !ok {
		return
	}

	if err := h.teams.Reject(r.Context(), projectID, requestID, userID); err != nil {
		writeServiceError(w, h.log, "reject join request", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]domain.JoinRequestStatus{"status": domain.JoinRequestRejected})
}

func (h *TeamHandler) MyJoinRequest(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	projectID, ok := pathUUID(w, r, "id", "project")
	if !ok {
		return
	}

	status, err := h.teams.Status(r.Context(), projectID, userID)
	if err != nil {
		writeServiceError(w, h.log, "join request status", err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *TeamHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	projectID, ok := pathUUID(w, r, "id", "project")
	if !ok {
		return
	}
	memberID, ok := pathUUID(w, r, "userId", "user")
	if !ok {
		return
	}

	project, err := h.teams.RemoveMember(r.Context(), projectID, memberID, userID)
	if err != nil {
		writeServiceError(w, h.log, "remove member", err)
		return
	}

	writeJSON(w, http.StatusOK, project)
}

func (h *TeamHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	projectID, ok := pathUUID(w, r, "id", "project")
	if !ok {
		return
	}

	project, err := h.teams.Leave(r.Context(), projectID, userID)
	if err != nil {
		writeServiceError(w, h.log, "leave team", err)
		return
	}

	writeJSON(w, http.StatusOK, project)
}

func (h *TeamHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	projectID, ok := pathUUID(w, r, "id", "project")
	if !ok {
		return
	}

	details, err := h.teams.TeamDetails(r.Context(), projectID, userID)
	if err != nil {
		writeServiceError(w, h.log, "team dashboard", err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

func (h *TeamHandler) MyTeams(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	overview, err := h.teams.MyTeams(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.log, "my teams", err)
		return
	}

	writeJSON(w, http.StatusOK, overview)
}

func capacityRule(in capacityRequest) domain.CapacityRule {
	if !in.Enabled {
		return domain.CapacityRule{}
	}
	return domain.CapacityRule{Enabled: true, MaxSize: in.MaxSize}
}
