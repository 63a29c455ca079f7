// Package handler provides HTTP request handlers for the submission service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	apierrors "github.com/tzomaik-art/form-builder/internal/errors"
	"github.com/tzomaik-art/form-builder/internal/middleware"
	"github.com/tzomaik-art/form-builder/internal/model"
	"github.com/tzomaik-art/form-builder/internal/service"
)

// Submitter runs the submission pipeline
type Submitter interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*model.SubmissionResult, error)
}

// FormResolver loads active forms
type FormResolver interface {
	Resolve(ctx context.Context, tenantID, slug string) (*model.Form, *model.Tenant, error)
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string              `json:"error"`
	Code      apierrors.ErrorCode `json:"code"`
	Details   any                 `json:"details,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
}

// FormResponse is the public view of a form.
type FormResponse struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Slug     string             `json:"slug"`
	Fields   []model.Field      `json:"fields"`
	Settings model.FormSettings `json:"settings"`
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	submitter  Submitter
	forms      FormResolver
	retryAfter time.Duration
	logger     *zap.Logger
}

// NewHandlers creates a new Handlers instance. retryAfter is advertised on
// throttled responses and should match the rate window.
func NewHandlers(submitter Submitter, forms FormResolver, retryAfter time.Duration, logger *zap.Logger) *Handlers {
	return &Handlers{
		submitter:  submitter,
		forms:      forms,
		retryAfter: retryAfter,
		logger:     logger,
	}
}

// Submit handles POST /v1/tenants/{tenant_id}/forms/{slug}/submissions.
// The body is a flat field-name to value map.
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		h.writeError(w, r, apierrors.Validation("Request body must be a JSON object", nil))
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}

	result, err := h.submitter.Submit(r.Context(), service.SubmitRequest{
		TenantID:      vars["tenant_id"],
		FormSlug:      vars["slug"],
		Fields:        fields,
		ClientAddress: middleware.ClientAddress(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, result)
}

// GetForm handles GET /v1/tenants/{tenant_id}/forms/{slug}.
func (h *Handlers) GetForm(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	form, _, err := h.forms.Resolve(r.Context(), vars["tenant_id"], vars["slug"])
	if errors.Is(err, service.ErrFormUnavailable) {
		h.writeError(w, r, apierrors.NotFound("Form not found or inactive"))
		return
	}
	if err != nil {
		h.writeError(w, r, apierrors.Internal("Failed to load form", err))
		return
	}

	h.writeJSONResponse(w, http.StatusOK, FormResponse{
		ID:       form.ID,
		Name:     form.Name,
		Slug:     form.Slug,
		Fields:   form.Fields,
		Settings: form.Settings,
	})
}

// writeError maps err onto the error taxonomy. Causes are logged, never returned.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())

	se, ok := apierrors.AsSubmissionError(err)
	if !ok {
		h.logger.Error("unclassified handler error",
			zap.String("request_id", requestID),
			zap.Error(err))
		se = apierrors.Internal("Internal server error", err)
	}

	if se.Code == apierrors.ErrCodeRateLimited && h.retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter.Seconds())))
	}

	h.writeJSONResponse(w, se.HTTPStatus(), ErrorResponse{
		Error:     se.Message,
		Code:      se.Code,
		Details:   se.Details,
		RequestID: requestID,
	})
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
