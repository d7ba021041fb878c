// Package handler exposes the tenant deletion endpoints. Authentication and
// admin authorization are enforced upstream; actor identities arrive in the
// request body.
package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staffbridge/staffbridge-saas/domains/deletion/be/service"
)

const (
	problemTypeValidation = "https://staffbridge.io/problems/validation-error"
	problemTypeNotFound   = "https://staffbridge.io/problems/not-found"
	problemTypeConflict   = "https://staffbridge.io/problems/conflict"
	problemTypeForbidden  = "https://staffbridge.io/problems/forbidden"
	problemTypeInternal   = "https://staffbridge.io/problems/internal-error"
)

// ProblemDetails is the RFC 7807 error body.
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler wires the deletion service to HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("deletion service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the deletion endpoints on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/deletion-requests", h.RequestDeletion)
	r.Post("/deletion-requests/{queueID}/approve", h.Approve)
	r.Post("/deletion-requests/{queueID}/reject", h.Reject)
	r.Post("/deletion-requests/{queueID}/emergency-stop", h.EmergencyStop)
	r.Post("/deletion-queue/{queueID}/retry", h.Retry)
	r.Get("/tenants/{tenantID}/deletion-status", h.Status)
	return r
}

type requestDeletionBody struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	RequestedBy uuid.UUID `json:"requested_by"`
	Reason      string    `json:"reason"`
}

type queueItemResponse struct {
	ID                    uuid.UUID  `json:"id"`
	TenantID              uuid.UUID  `json:"tenant_id"`
	Status                string     `json:"status"`
	ApprovalStatus        string     `json:"approval_status"`
	Reason                string     `json:"reason"`
	CoolingOffHours       int        `json:"cooling_off_hours"`
	ScheduledDeletionDate time.Time  `json:"scheduled_deletion_date"`
	Progress              int        `json:"progress"`
	CurrentStep           string     `json:"current_step,omitempty"`
	RetryCount            int        `json:"retry_count"`
	EmergencyStop         bool       `json:"emergency_stop"`
	ErrorMessage          *string    `json:"error_message,omitempty"`
	RequestedAt           time.Time  `json:"requested_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

type statusResponse struct {
	TenantID        uuid.UUID `json:"tenant_id"`
	DeletionStatus  string    `json:"deletion_status"`
	QueueStatus     string    `json:"queue_status"`
	Progress        int       `json:"progress"`
	CurrentStep     string    `json:"current_step,omitempty"`
	GracePeriodDays int       `json:"grace_period_days"`
	DaysRemaining   int       `json:"days_remaining"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
}

// RequestDeletion implements POST /deletion-requests.
func (h *Handler) RequestDeletion(w http.ResponseWriter, r *http.Request) {
	var body requestDeletionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeProblem(w, http.StatusBadRequest, problemTypeValidation, "Invalid request body", err.Error())
		return
	}
	if body.TenantID == uuid.Nil || body.RequestedBy == uuid.Nil {
		h.writeProblem(w, http.StatusBadRequest, problemTypeValidation, "Invalid request body", "tenant_id and requested_by are required")
		return
	}

	item, err := h.svc.RequestDeletion(r.Context(), service.RequestInput{
		TenantID:    body.TenantID,
		RequestedBy: body.RequestedBy,
		Reason:      body.Reason,
		IPAddress:   clientIP(r),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toQueueItemResponse(item))
}

type approvalBody struct {
	ApproverID uuid.UUID `json:"approver_id"`
	Comment    string    `json:"comment"`
}

// Approve implements POST /deletion-requests/{queueID}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	queueID, ok := h.pathUUID(w, r, "queueID")
	if !ok {
		return
	}
	var body approvalBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeProblem(w, http.StatusBadRequest, problemTypeValidation, "Invalid request body", err.Error())
		return
	}
	if body.ApproverID == uuid.Nil {
		h.writeProblem(w, http.StatusBadRequest, problemTypeValidation, "Invalid request body", "approver_id is required")
		return
	}

	item, err := h.svc.Approve(r.Context(), queueID, body.ApproverID, body.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toQueueItemResponse(item))
}

// Reject implements POST /deletion-requests/{queueID}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	queueID, ok := h.pathUUID(w, r, "queueID")
	if !ok {
		return
	}
	var body approvalBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeProblem(w, http.StatusBadRequest, problemTypeValidation, "Invalid request body", err.Error())
		return
	}
	if body.ApproverID == uuid.Nil {
		h.writeProblem(w, http.StatusBadRequest, problemTypeValidation, "Invalid request body", "approver_id is required")
		return
	}

	item, err := h.svc.Reject(r.Context(), queueID, body.ApproverID, body.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toQueueItemResponse(item))
}

type emergencyStopBody struct {
	StoppedBy uuid.UUID `json:"stopped_by"`
}

// EmergencyStop implements POST /deletion-requests/{queueID}/emergency-stop.
func (h *Handler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	queueID, ok := h.pathUUID(w, r, "queueID")
	if !ok {
		return
	}
	var body emergencyStopBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeProblem(w, http.StatusBadRequest, problemTypeValidation, "Invalid request body", err.Error())
		return
	}
	if body.StoppedBy == uuid.Nil {
		h.writeProblem(w, http.StatusBadRequest, problemTypeValidation, "Invalid request body", "stopped_by is required")
		return
	}

	item, err := h.svc.EmergencyStop(r.Context(), queueID, body.StoppedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toQueueItemResponse(item))
}

// Retry implements POST /deletion-queue/{queueID}/retry.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	queueID, ok := h.pathUUID(w, r, "queueID")
	if !ok {
		return
	}
	item, err := h.svc.RetryDeletion(r.Context(), queueID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toQueueItemResponse(item))
}

// Status implements GET /tenants/{tenantID}/deletion-status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.pathUUID(w, r, "tenantID")
	if !ok {
		return
	}
	report, err := h.svc.Status(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{
		TenantID:        report.TenantID,
		DeletionStatus:  string(report.DeletionStatus),
		QueueStatus:     string(report.QueueStatus),
		Progress:        report.Progress,
		CurrentStep:     report.CurrentStep,
		GracePeriodDays: report.GracePeriodDays,
		DaysRemaining:   report.DaysRemaining,
		ErrorMessage:    report.ErrorMessage,
	})
}

func toQueueItemResponse(item service.QueueItem) queueItemResponse {
	return queueItemResponse{
		ID:                    item.ID,
		TenantID:              item.TenantID,
		Status:                string(item.Status),
		ApprovalStatus:        string(item.ApprovalStatus),
		Reason:                item.Reason,
		CoolingOffHours:       item.CoolingOffHours,
		ScheduledDeletionDate: item.ScheduledDeletionDate,
		Progress:              item.Progress,
		CurrentStep:           item.CurrentStep,
		RetryCount:            item.RetryCount,
		EmergencyStop:         item.EmergencyStop,
		ErrorMessage:          item.ErrorMessage,
		RequestedAt:           item.RequestedAt,
		CompletedAt:           item.CompletedAt,
	}
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.writeProblem(w, http.StatusBadRequest, problemTypeValidation, "Invalid identifier", name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		h.writeProblem(w, http.StatusNotFound, problemTypeNotFound, "Not found", err.Error())
	case errors.Is(err, service.ErrSelfApproval):
		h.writeProblem(w, http.StatusForbidden, problemTypeForbidden, "Forbidden", err.Error())
	case errors.Is(err, service.ErrDeletionInProgress),
		errors.Is(err, service.ErrBlockedLegalHold),
		errors.Is(err, service.ErrBlockedSharedResources),
		errors.Is(err, service.ErrCoolingOffNotElapsed),
		errors.Is(err, service.ErrInvalidState):
		h.writeProblem(w, http.StatusConflict, problemTypeConflict, "Conflict", err.Error())
	default:
		h.logger.Error("deletion operation failed", zap.Error(err))
		h.writeProblem(w, http.StatusInternalServerError, problemTypeInternal, "Internal error", "internal error")
	}
}

func (h *Handler) writeProblem(w http.ResponseWriter, status int, problemType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ProblemDetails{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
	}); err != nil {
		h.logger.Error("writing problem response failed", zap.Error(err))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("writing response failed", zap.Error(err))
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
