package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/service"
)

const maxBodyBytes = 1 << 20

// Service is the online surface the handlers call.
type Service interface {
	Retrieve(ctx context.Context, query, nctID string, k int) ([]service.RetrievedChunk, error)
	Answer(ctx context.Context, query, nctID string) (domain.Answer, error)
	EvaluateEligibility(ctx context.Context, nctID string, patient domain.PatientProfile) (domain.EligibilityAssessment, error)
	Trial(ctx context.Context, nctID string) (service.TrialView, error)
	IngestionSummary(ctx context.Context) (service.IngestionSummary, error)
}

type APIHandler struct {
	svc Service
	log *zap.Logger
}

func NewAPIHandler(svc Service, log *zap.Logger) *APIHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIHandler{svc: svc, log: log}
}

type AskRequest struct {
	Query string `json:"query"`
	NCTID string `json:"nct_id"`
}

func (h *APIHandler) AskHandler(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	ans, err := h.svc.Answer(r.Context(), req.Query, req.NCTID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("ask failed", zap.String("nct_id", req.NCTID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ans)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

type RetrieveRequest struct {
	Query string `json:"query"`
	NCTID string `json:"nct_id"`
	K     int    `json:"k"`
}

type RetrieveResponse struct {
	Chunks []service.RetrievedChunk `json:"chunks"`
}

func (h *APIHandler) RetrieveHandler(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.K < 0 {
		writeError(w, http.StatusBadRequest, "k must not be negative")
		return
	}
	chunks, err := h.svc.Retrieve(r.Context(), req.Query, req.NCTID, req.K)
	if err != nil {
		h.fail(w, "retrieve", err)
		return
	}
	writeJSON(w, http.StatusOK, RetrieveResponse{Chunks: chunks})
}

type EligibilityRequest struct {
	NCTID   string                `json:"nct_id"`
	Patient domain.PatientProfile `json:"patient"`
}

func (h *APIHandler) EligibilityHandler(w http.ResponseWriter, r *http.Request) {
	var req EligibilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	got, err := h.svc.EvaluateEligibility(r.Context(), req.NCTID, req.Patient)
	if err != nil {
		h.fail(w, "check eligibility", err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (h *APIHandler) TrialHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Trial(r.Context(), chi.URLParam(r, "nctID"))
	if err != nil {
		h.fail(w, "trial", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *APIHandler) IngestionSummaryHandler(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.IngestionSummary(r.Context())
	if err != nil {
		h.fail(w, "ingestion summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *APIHandler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(op+" failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var perr *domain.ProviderError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrGenerationFailed), errors.As(err, &perr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
