package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/None-later/end-to-end/internal/models"
	"github.com/None-later/end-to-end/internal/repository"
	"github.com/None-later/end-to-end/internal/service"
)

// AdminService defines the interface for key review operations
// required by the AdminHandler.
type AdminService interface {
	// PendingKeys lists submitted keys awaiting verification.
	PendingKeys(ctx context.Context) ([]models.KeyRecord, error)
	// VerifyKey marks the key with the given fingerprint as verified.
	VerifyKey(ctx context.Context, fingerprint string) error
	// RemoveKey withdraws the key with the given fingerprint from lookups.
	RemoveKey(ctx context.Context, fingerprint string) error
}

// AdminHandler handles HTTP requests for reviewing submitted keys.
// The router guards all of its endpoints with the admin token middleware.
type AdminHandler struct {
	Admin AdminService
}

// Pending handles GET /api/v1/admin/keys/pending requests and lists
// the submissions awaiting review.
func (h *AdminHandler) Pending(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Admin.PendingKeys(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []models.KeyRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"keys": recs})
}

// Verify handles POST /api/v1/admin/keys/{fingerprint}/verify requests.
// Once verified, the key becomes visible to lookups.
func (h *AdminHandler) Verify(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, "verified", h.Admin.VerifyKey)
}

// Remove handles DELETE /api/v1/admin/keys/{fingerprint} requests.
// The key is withdrawn from lookups but its record is kept.
func (h *AdminHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, "removed", h.Admin.RemoveKey)
}

func (h *AdminHandler) update(w http.ResponseWriter, r *http.Request, status string, op func(context.Context, string) error) {
	fingerprint := chi.URLParam(r, "fingerprint")
	if err := op(r.Context(), fingerprint); err != nil {
		switch {
		case errors.Is(err, service.ErrBadFingerprint):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrNotFound):
			http.Error(w, "key not found", http.StatusNotFound)
		default:
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":      status,
		"fingerprint": fingerprint,
	})
}
