/**
 * @description
 * This file sets up the HTTP router for the donation-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * middleware stack: real client IPs, access logging, panic recovery, timeouts, CORS
 * and JWT authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: router and standard middleware.
 * - github.com/go-chi/cors: CORS handling for the browser checkout.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DonationRoutes creates and returns the router for the donation service.
func DonationRoutes(h *DonationHandlers, auth *Authenticator, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// RealIP must run first: velocity and fraud signals key on the client address.
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Guest-capable donation flows.
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth)
		r.Post("/donations/commitments", h.CreateCommitmentHandler)
		r.Post("/payments/orders", h.CreateOrderHandler)
	})
	r.Post("/payments/verify", h.VerifyPaymentHandler)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/donations/mine", h.ListMyDonationsHandler)
		r.Get("/donations/{id}/status", h.GetDonationStatusHandler)

		r.Route("/campaigns/{id}", func(r chi.Router) {
			r.Get("/wallet", h.GetWalletHandler)
			r.Get("/wallet/transactions", h.ListWalletTransactionsHandler)
			r.Post("/withdrawals", h.RequestWithdrawalHandler)
			r.Get("/withdrawals", h.ListWithdrawalsHandler)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/donations/{id}", h.AdminGetDonationHandler)
			r.Patch("/donations/{id}", h.AdminReviewDonationHandler)
			r.Post("/donations/{id}/refund", h.AdminRefundDonationHandler)
			r.Post("/withdrawals/{id}/approve", h.AdminApproveWithdrawalHandler)
			r.Post("/withdrawals/{id}/reject", h.AdminRejectWithdrawalHandler)
			r.Post("/withdrawals/{id}/process", h.AdminProcessWithdrawalHandler)
			r.Post("/reconcile", h.AdminReconcileHandler)
			r.Get("/wallets/{campaignID}/audit", h.AdminAuditWalletHandler)
		})
	})

	return r
}
