/**
 * @description
 * HTTP handlers for the donation-service. Handlers parse the request, resolve the
 * caller, call the application service and translate its errors into status codes.
 *
 * @dependencies
 * - internal/app, internal/domain, internal/store: service logic, models and sentinel errors.
 * - pkg/gatewayclient: gateway error types surfaced as 502/503.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/fundbridge/donation-service/internal/app"
	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/fundbridge/donation-service/internal/store"
	"github.com/fundbridge/donation-service/pkg/gatewayclient"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DonationService is the application surface the handlers call.
type DonationService interface {
	ResolveInternalUserID(ctx context.Context, subject string) (uuid.UUID, error)

	CreateCommitment(ctx context.Context, donorID *uuid.UUID, req domain.CommitmentRequest) (*domain.Donation, error)
	CreateOrder(ctx context.Context, donorID *uuid.UUID, req domain.OrderRequest) (*domain.OrderResult, error)
	VerifyPayment(ctx context.Context, req domain.VerifyPaymentRequest) (*domain.VerificationResult, error)
	GetDonationStatus(ctx context.Context, donationID, donorID uuid.UUID) (*domain.DonationStatusView, error)
	ListDonorDonations(ctx context.Context, donorID uuid.UUID, limit, offset int) ([]domain.Donation, error)

	GetDonation(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error)
	ReviewDonation(ctx context.Context, donationID, adminID uuid.UUID, update domain.AdminUpdate) (*domain.Donation, error)
	RefundDonation(ctx context.Context, donationID, adminID uuid.UUID, reason string) (*domain.Donation, error)

	GetWallet(ctx context.Context, campaignID uuid.UUID, requester app.Requester) (*domain.CampaignWallet, error)
	ListWalletTransactions(ctx context.Context, campaignID uuid.UUID, requester app.Requester, limit, offset int) ([]domain.WalletTransaction, error)
	AuditWallet(ctx context.Context, campaignID uuid.UUID) (*domain.LedgerAudit, error)

	RequestWithdrawal(ctx context.Context, campaignID, ownerID uuid.UUID, amount decimal.Decimal, note string) (*domain.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, campaignID uuid.UUID, requester app.Requester) ([]domain.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, withdrawalID, adminID uuid.UUID) (*domain.WithdrawalRequest, error)
	RejectWithdrawal(ctx context.Context, withdrawalID, adminID uuid.UUID, reason string) (*domain.WithdrawalRequest, error)
	ProcessWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*domain.WithdrawalRequest, error)

	ReconcileSettlements(ctx context.Context, limit int) (app.ReconcileReport, error)
}

// DonationHandlers holds the application service that handlers will use.
type DonationHandlers struct {
	service DonationService
}

// NewDonationHandlers creates a new instance of DonationHandlers.
func NewDonationHandlers(service DonationService) *DonationHandlers {
	return &DonationHandlers{service: service}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type withdrawalRequestBody struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

// CreateCommitmentHandler records a pledge for a guest or a signed-in donor.
func (h *DonationHandlers) CreateCommitmentHandler(w http.ResponseWriter, r *http.Request) {
	donorID, ok := h.optionalDonor(w, r, "create_commitment")
	if !ok {
		return
	}
	var req domain.CommitmentRequest
	if !decodeBody(w, r, "create_commitment", &req) {
		return
	}
	req.IPAddress = clientIP(r)

	donation, err := h.service.CreateCommitment(r.Context(), donorID, req)
	if err != nil {
		writeServiceError(w, "create_commitment", err)
		return
	}
	writeJSON(w, http.StatusCreated, donation)
}

// CreateOrderHandler opens a gateway order for a new donation.
func (h *DonationHandlers) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	donorID, ok := h.optionalDonor(w, r, "create_order")
	if !ok {
		return
	}
	var req domain.OrderRequest
	if !decodeBody(w, r, "create_order", &req) {
		return
	}
	req.IPAddress = clientIP(r)

	result, err := h.service.CreateOrder(r.Context(), donorID, req)
	if err != nil {
		writeServiceError(w, "create_order", err)
		return
	}
	log.Printf("level=info component=api endpoint=create_order outcome=accepted donation_id=%s order_id=%s amount=%d", result.DonationID, result.OrderID, result.Amount)
	writeJSON(w, http.StatusCreated, result)
}

// VerifyPaymentHandler settles a donation from the gateway checkout callback.
func (h *DonationHandlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyPaymentRequest
	if !decodeBody(w, r, "verify_payment", &req) {
		return
	}
	result, err := h.service.VerifyPayment(r.Context(), req)
	if err != nil {
		writeServiceError(w, "verify_payment", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetDonationStatusHandler returns the status of one of the caller's donations.
func (h *DonationHandlers) GetDonationStatusHandler(w http.ResponseWriter, r *http.Request) {
	donorID, ok := h.requireUser(w, r, "donation_status")
	if !ok {
		return
	}
	donationID, ok := urlUUID(w, r, "id", "donation")
	if !ok {
		return
	}
	view, err := h.service.GetDonationStatus(r.Context(), donationID, donorID)
	if err != nil {
		writeServiceError(w, "donation_status", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListMyDonationsHandler pages through the caller's donations, newest first.
func (h *DonationHandlers) ListMyDonationsHandler(w http.ResponseWriter, r *http.Request) {
	donorID, ok := h.requireUser(w, r, "list_my_donations")
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	donations, err := h.service.ListDonorDonations(r.Context(), donorID, limit, offset)
	if err != nil {
		writeServiceError(w, "list_my_donations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"donations": donations,
		"limit":     limit,
		"offset":    offset,
	})
}

// GetWalletHandler returns the campaign wallet summary to its owner or an admin.
func (h *DonationHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	requester, campaignID, ok := h.campaignRequest(w, r, "get_wallet")
	if !ok {
		return
	}
	wallet, err := h.service.GetWallet(r.Context(), campaignID, requester)
	if err != nil {
		writeServiceError(w, "get_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// ListWalletTransactionsHandler pages through a campaign wallet's ledger.
func (h *DonationHandlers) ListWalletTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	requester, campaignID, ok := h.campaignRequest(w, r, "wallet_transactions")
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	entries, err := h.service.ListWalletTransactions(r.Context(), campaignID, requester, limit, offset)
	if err != nil {
		writeServiceError(w, "wallet_transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": entries,
		"limit":        limit,
		"offset":       offset,
	})
}

// RequestWithdrawalHandler lets a campaign owner request a payout.
func (h *DonationHandlers) RequestWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	requester, campaignID, ok := h.campaignRequest(w, r, "request_withdrawal")
	if !ok {
		return
	}
	var body withdrawalRequestBody
	if !decodeBody(w, r, "request_withdrawal", &body) {
		return
	}
	request, err := h.service.RequestWithdrawal(r.Context(), campaignID, requester.UserID, body.Amount, body.Note)
	if err != nil {
		writeServiceError(w, "request_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

// ListWithdrawalsHandler lists a campaign's withdrawal requests.
func (h *DonationHandlers) ListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	requester, campaignID, ok := h.campaignRequest(w, r, "list_withdrawals")
	if !ok {
		return
	}
	requests, err := h.service.ListWithdrawals(r.Context(), campaignID, requester)
	if err != nil {
		writeServiceError(w, "list_withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"withdrawals": requests})
}

// AdminGetDonationHandler returns a donation with its audit trail.
func (h *DonationHandlers) AdminGetDonationHandler(w http.ResponseWriter, r *http.Request) {
	donationID, ok := urlUUID(w, r, "id", "donation")
	if !ok {
		return
	}
	donation, err := h.service.GetDonation(r.Context(), donationID)
	if err != nil {
		writeServiceError(w, "admin_get_donation", err)
		return
	}
	writeJSON(w, http.StatusOK, donation)
}

// AdminReviewDonationHandler applies an admin review update to a donation.
func (h *DonationHandlers) AdminReviewDonationHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.requireUser(w, r, "admin_review")
	if !ok {
		return
	}
	donationID, ok := urlUUID(w, r, "id", "donation")
	if !ok {
		return
	}
	var update domain.AdminUpdate
	if !decodeBody(w, r, "admin_review", &update) {
		return
	}
	donation, err := h.service.ReviewDonation(r.Context(), donationID, adminID, update)
	if err != nil {
		writeServiceError(w, "admin_review", err)
		return
	}
	writeJSON(w, http.StatusOK, donation)
}

// AdminRefundDonationHandler fully refunds a settled donation.
func (h *DonationHandlers) AdminRefundDonationHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.requireUser(w, r, "admin_refund")
	if !ok {
		return
	}
	donationID, ok := urlUUID(w, r, "id", "donation")
	if !ok {
		return
	}
	var body reasonRequest
	if !decodeBody(w, r, "admin_refund", &body) {
		return
	}
	donation, err := h.service.RefundDonation(r.Context(), donationID, adminID, body.Reason)
	if err != nil {
		writeServiceError(w, "admin_refund", err)
		return
	}
	writeJSON(w, http.StatusOK, donation)
}

// AdminApproveWithdrawalHandler approves a pending withdrawal request.
func (h *DonationHandlers) AdminApproveWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.requireUser(w, r, "approve_withdrawal")
	if !ok {
		return
	}
	withdrawalID, ok := urlUUID(w, r, "id", "withdrawal")
	if !ok {
		return
	}
	request, err := h.service.ApproveWithdrawal(r.Context(), withdrawalID, adminID)
	if err != nil {
		writeServiceError(w, "approve_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// AdminRejectWithdrawalHandler rejects a pending withdrawal request.
func (h *DonationHandlers) AdminRejectWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.requireUser(w, r, "reject_withdrawal")
	if !ok {
		return
	}
	withdrawalID, ok := urlUUID(w, r, "id", "withdrawal")
	if !ok {
		return
	}
	var body reasonRequest
	if !decodeBody(w, r, "reject_withdrawal", &body) {
		return
	}
	request, err := h.service.RejectWithdrawal(r.Context(), withdrawalID, adminID, body.Reason)
	if err != nil {
		writeServiceError(w, "reject_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// AdminProcessWithdrawalHandler pays out an approved withdrawal request.
func (h *DonationHandlers) AdminProcessWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	withdrawalID, ok := urlUUID(w, r, "id", "withdrawal")
	if !ok {
		return
	}
	request, err := h.service.ProcessWithdrawal(r.Context(), withdrawalID)
	if err != nil {
		writeServiceError(w, "process_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// AdminReconcileHandler runs one settlement reconciliation pass.
func (h *DonationHandlers) AdminReconcileHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	report, err := h.service.ReconcileSettlements(r.Context(), limit)
	if err != nil {
		writeServiceError(w, "admin_reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// AdminAuditWalletHandler replays one campaign wallet's ledger.
func (h *DonationHandlers) AdminAuditWalletHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := urlUUID(w, r, "campaignID", "campaign")
	if !ok {
		return
	}
	audit, err := h.service.AuditWallet(r.Context(), campaignID)
	if err != nil {
		writeServiceError(w, "admin_audit_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

// requireUser resolves the authenticated caller to an internal user id.
func (h *DonationHandlers) requireUser(w http.ResponseWriter, r *http.Request, endpoint string) (uuid.UUID, bool) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return uuid.Nil, false
	}
	userID, err := h.service.ResolveInternalUserID(r.Context(), identity.Subject)
	if err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=user_resolution_failed subject=%s err=%v", endpoint, identity.Subject, err)
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusBadRequest, "User not found")
			return uuid.Nil, false
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return uuid.Nil, false
	}
	return userID, true
}

// optionalDonor resolves the caller when a token was presented, and returns nil for guests.
func (h *DonationHandlers) optionalDonor(w http.ResponseWriter, r *http.Request, endpoint string) (*uuid.UUID, bool) {
	if _, ok := IdentityFromContext(r.Context()); !ok {
		return nil, true
	}
	userID, ok := h.requireUser(w, r, endpoint)
	if !ok {
		return nil, false
	}
	return &userID, true
}

func (h *DonationHandlers) campaignRequest(w http.ResponseWriter, r *http.Request, endpoint string) (app.Requester, uuid.UUID, bool) {
	userID, ok := h.requireUser(w, r, endpoint)
	if !ok {
		return app.Requester{}, uuid.Nil, false
	}
	campaignID, ok := urlUUID(w, r, "id", "campaign")
	if !ok {
		return app.Requester{}, uuid.Nil, false
	}
	identity, _ := IdentityFromContext(r.Context())
	return app.Requester{UserID: userID, IsAdmin: identity.IsAdmin}, campaignID, true
}

func urlUUID(w http.ResponseWriter, r *http.Request, param, label string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	if raw == "" {
		writeError(w, http.StatusBadRequest, label+" id is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+label+" id format")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, endpoint string, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=invalid_json err=%v", endpoint, err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func pageParams(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// clientIP reads the address RealIP has already resolved from forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// writeServiceError maps service errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var (
		velocityErr *app.VelocityError
		fraudErr    *app.FraudBlockedError
		headroomErr *domain.HeadroomError
		configErr   *gatewayclient.ConfigError
		apiErr      *gatewayclient.APIError
	)

	switch {
	case errors.As(err, &velocityErr):
		w.Header().Set("Retry-After", strconv.Itoa(velocityErr.RetryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":               "Please wait before donating again",
			"retry_after_seconds": velocityErr.RetryAfterSeconds,
		})
	case errors.As(err, &fraudErr):
		log.Printf("level=warn component=api endpoint=%s outcome=blocked reason=fraud score=%d", endpoint, fraudErr.Assessment.Score)
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":      "Donation blocked by fraud screening",
			"risk_score": fraudErr.Assessment.Score,
			"risk_level": fraudErr.Assessment.RiskLevel,
			"reasons":    fraudErr.Assessment.Reasons,
		})
	case errors.As(err, &headroomErr):
		status := http.StatusBadRequest
		if headroomErr.GoalReached {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]interface{}{
			"error":       headroomErr.Error(),
			"max_allowed": headroomErr.MaxAllowed,
		})
	case errors.Is(err, domain.ErrCampaignGoalReached):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &configErr):
		log.Printf("level=error component=api endpoint=%s outcome=failed reason=gateway_not_configured key_id_set=%t key_secret_set=%t", endpoint, configErr.KeyIDSet, configErr.KeySecretSet)
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":          "Payment gateway is not configured",
			"key_id_set":     configErr.KeyIDSet,
			"key_secret_set": configErr.KeySecretSet,
		})
	case errors.Is(err, gatewayclient.ErrSignatureMismatch):
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=signature_mismatch", endpoint)
		writeError(w, http.StatusBadRequest, "Payment signature verification failed")
	case errors.As(err, &apiErr):
		log.Printf("level=error component=api endpoint=%s outcome=failed reason=gateway_error status=%d code=%s", endpoint, apiErr.StatusCode, apiErr.Code)
		writeError(w, http.StatusBadGateway, "Payment gateway request failed")
	case errors.Is(err, store.ErrDonationNotFound), errors.Is(err, store.ErrCampaignNotFound),
		errors.Is(err, store.ErrWithdrawalNotFound), errors.Is(err, store.ErrWalletNotFound),
		errors.Is(err, store.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, app.ErrWithdrawalExceedsFunds),
		errors.Is(err, store.ErrConcurrentUpdate), errors.Is(err, store.ErrDonationNotCredited),
		errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrInvalidWithdrawalTransition),
		errors.Is(err, domain.ErrDonationImmutable), errors.Is(err, app.ErrDonationNotPayable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidLedgerAmount),
		errors.Is(err, domain.ErrRejectionReason), errors.Is(err, app.ErrMissingCampaign),
		errors.Is(err, app.ErrDonorContactRequired), errors.Is(err, app.ErrMissingPaymentFields),
		errors.Is(err, app.ErrOrderMismatch), errors.Is(err, app.ErrEmptyUpdate),
		errors.Is(err, app.ErrRefundReasonRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
