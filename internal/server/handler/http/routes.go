// Package http provides HTTP routing and middleware configuration
// for the key directory service.
package http

import (
	"net/http"

	"github.com/None-later/end-to-end/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves
// the key directory API. It applies JSON content-type enforcement and
// request logging, and mounts the lookup, submission and admin endpoints
// under /api/v1.
//
// Parameters:
//
//	keysHandler  - handler for key lookup and submission endpoints
//	adminHandler - handler for key review endpoints
//	adminToken   - shared bearer token guarding the admin endpoints
//	logger       - structured logger for request logging middleware
//
// Routes:
//
//	GET    /api/v1/keys/email/{email}              → keysHandler.ByEmail
//	GET    /api/v1/keys/id/{keyID}                 → keysHandler.ByKeyID
//	POST   /api/v1/keys                            → keysHandler.Submit
//	GET    /api/v1/admin/keys/pending              → adminHandler.Pending  (token)
//	POST   /api/v1/admin/keys/{fingerprint}/verify → adminHandler.Verify   (token)
//	DELETE /api/v1/admin/keys/{fingerprint}        → adminHandler.Remove   (token)
//
// Middleware chain (applied in order):
//  1. AllowContentType("application/json") — rejects non-JSON request bodies
//  2. WithRequestLogging(logger)           — logs incoming requests
//  3. TokenAuth(adminToken)                — admin group only
func NewRouter(
	keysHandler *KeysHandler,
	adminHandler *AdminHandler,
	adminToken string,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Only allow requests with Content-Type: application/json
	r.Use(chiMiddleware.AllowContentType("application/json"))

	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))

	// Mount API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints
		r.Get("/keys/email/{email}", keysHandler.ByEmail)
		r.Get("/keys/id/{keyID}", keysHandler.ByKeyID)
		r.Post("/keys", keysHandler.Submit)

		// Protected group: requires the admin bearer token
		r.Group(func(r chi.Router) {
			r.Use(middleware.TokenAuth(adminToken))
			r.Get("/admin/keys/pending", adminHandler.Pending)
			r.Post("/admin/keys/{fingerprint}/verify", adminHandler.Verify)
			r.Delete("/admin/keys/{fingerprint}", adminHandler.Remove)
		})
	})

	return r
}
