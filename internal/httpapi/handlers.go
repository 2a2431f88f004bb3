package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"possync/internal/central"
	"possync/internal/domain"
)

type Handler struct {
	svc *central.Service
}

func NewHandler(svc *central.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type syncUsersRequest struct {
	Users []domain.User `json:"users"`
}

func (h *Handler) SyncUsers(w http.ResponseWriter, r *http.Request) {
	var req syncUsersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stored, err := h.svc.IngestUsers(r.Context(), req.Users)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stored": stored})
}

type syncInventoryRequest struct {
	Products []domain.Product `json:"products"`
}

func (h *Handler) SyncInventory(w http.ResponseWriter, r *http.Request) {
	var req syncInventoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stored, err := h.svc.IngestInventory(r.Context(), req.Products)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stored": stored})
}

type syncSalesRequest struct {
	Sales []domain.Sale `json:"sales"`
}

func (h *Handler) SyncSales(w http.ResponseWriter, r *http.Request) {
	var req syncSalesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.svc.IngestSales(r.Context(), req.Sales)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CleanupPlaceholders(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.CleanupPlaceholders(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HideCorrupt(w http.ResponseWriter, r *http.Request) {
	var filter central.CorrectionFilter
	if err := decodeJSON(r, &filter); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.svc.HideCorrupt(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) RestoreCorrupt(w http.ResponseWriter, r *http.Request) {
	var filter central.CorrectionFilter
	if err := decodeJSON(r, &filter); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.svc.RestoreCorrupt(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type maintenanceResetRequest struct {
	Secret  string `json:"secret"`
	Confirm bool   `json:"confirm"`
}

func (h *Handler) MaintenanceReset(w http.ResponseWriter, r *http.Request) {
	var req maintenanceResetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.svc.MaintenanceReset(r.Context(), req.Secret, req.Confirm)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeServiceError maps service failures onto HTTP statuses. Batch
// validation failures are the caller's fault (400) so the sync agent
// dead-letters the entry instead of retrying it forever.
func writeServiceError(w http.ResponseWriter, err error) {
	var vErr *central.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, central.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, central.ErrConfirmationRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, central.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
