/**
 * @description
 * This file sets up the HTTP router for the billing-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// BillingRoutes creates and returns a new router for the billing service.
func BillingRoutes(h *BillingHandlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		// Ledger mutations
		r.Post("/clients/{clientID}/credits", h.AddCreditHandler)
		r.Post("/appointments/{appointmentID}/deduct", h.DeductSessionHandler)

		// Invoice lifecycle
		r.Post("/clients/{clientID}/top-up-invoice", h.GenerateTopUpInvoiceHandler)
		r.Post("/invoices/{invoiceID}/void", h.VoidInvoiceHandler)
		r.Post("/invoices/retry-drafts", h.RetryDraftInvoicesHandler)

		// Read models
		r.Get("/clients/{clientID}/transactions", h.ListTransactionsHandler)
		r.Get("/trainers/{trainerID}/prepaid-summary", h.PrepaidSummaryHandler)
	})

	return r
}
