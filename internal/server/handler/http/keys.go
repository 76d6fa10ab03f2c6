// Package http provides HTTP handlers for key lookup and submission.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/None-later/end-to-end/internal/models"
	"github.com/None-later/end-to-end/internal/service"
)

// DirectoryService defines the interface for key directory operations
// required by the KeysHandler.
type DirectoryService interface {
	// TrustedKeys returns the verified keys bound to an email address.
	TrustedKeys(ctx context.Context, email string) ([]models.Key, error)
	// VerificationKeys returns the verified keys that hold the given
	// 16-digit hex key ID, primary or subkey.
	VerificationKeys(ctx context.Context, keyID string) ([]models.Key, error)
	// SubmitKeys validates and stores armored public keys submitted for
	// an identity, returning the recorded submission.
	SubmitKeys(ctx context.Context, identity string, armoredKeys []string) (*service.SubmissionResult, error)
}

// KeysHandler handles HTTP requests for key lookup and submission.
type KeysHandler struct {
	Directory DirectoryService
}

// KeysResponse is the JSON envelope for lookup results.
type KeysResponse struct {
	Keys []models.Key `json:"keys"`
}

// SubmitRequest represents the JSON payload for a key submission.
type SubmitRequest struct {
	// Identity is the email or "Name <email>" the keys belong to.
	Identity string `json:"identity"`
	// Keys holds the armored public key blocks.
	Keys []string `json:"keys"`
}

// ByEmail handles GET /api/v1/keys/email/{email} requests.
// It returns the verified keys bound to the address, as an always-present
// (possibly empty) "keys" array.
func (h *KeysHandler) ByEmail(w http.ResponseWriter, r *http.Request) {
	keys, err := h.Directory.TrustedKeys(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeKeys(w, keys)
}

// ByKeyID handles GET /api/v1/keys/id/{keyID} requests. The key ID is a
// 16-digit hex string in either case; malformed IDs are rejected with 400.
func (h *KeysHandler) ByKeyID(w http.ResponseWriter, r *http.Request) {
	keys, err := h.Directory.VerificationKeys(r.Context(), chi.URLParam(r, "keyID"))
	if err != nil {
		if errors.Is(err, service.ErrBadKeyID) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeKeys(w, keys)
}

// Submit handles POST /api/v1/keys requests.
// It decodes a JSON body with "identity" and "keys", invokes the directory
// service and answers 202 Accepted with the submission record. Submissions
// the service refuses (secret material, identity mismatch, unparseable
// blocks) come back as 400 with the reason.
func (h *KeysHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	result, err := h.Directory.SubmitKeys(r.Context(), req.Identity, req.Keys)
	if err != nil {
		if isRejected(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(result)
}

// isRejected reports whether the submission failed validation rather than
// storage.
func isRejected(err error) bool {
	return errors.Is(err, service.ErrInvalidIdentity) ||
		errors.Is(err, service.ErrNoKeys) ||
		errors.Is(err, service.ErrBadKey) ||
		errors.Is(err, service.ErrSecretMaterial) ||
		errors.Is(err, service.ErrIdentityMismatch)
}

func writeKeys(w http.ResponseWriter, keys []models.Key) {
	if keys == nil {
		keys = []models.Key{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(KeysResponse{Keys: keys})
}
